package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/config"
	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/prompt"
	"github.com/jmerrifield20/hostscope/internal/summarize"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	verbose bool
	logger  = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hostscope",
		Short: "Inspect and summarize host scan datasets",
		Long: `hostscope validates host scan datasets, renders per-host risk
views and prompts, and produces analyst summaries.

Summaries use the provider configured through configs/hostscope.yaml or the
LLM_* environment variables. Without an API key every host receives the
deterministic fallback summary.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log validation and provider activity to stderr")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newHostsCmd())
	root.AddCommand(newPromptCmd())
	root.AddCommand(newSummarizeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadFile validates and normalizes the dataset at path.
func loadFile(path string) (*dataset.Result, []*normalize.Host, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	res, err := dataset.NewValidator(logger).Validate(raw)
	if err != nil {
		return nil, nil, err
	}
	return res, normalize.FromDataset(res.Dataset), nil
}

func findHost(hosts []*normalize.Host, ip string) (*normalize.Host, error) {
	for _, h := range hosts {
		if h.IP == ip {
			return h, nil
		}
	}
	return nil, fmt.Errorf("host %s not found in dataset", ip)
}

// ── validate ─────────────────────────────────────────────────────────────────

func newValidateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a dataset and report degraded hosts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := dataset.NewValidator(logger).Validate(raw)
			if err != nil {
				var loadErr *dataset.LoadError
				if errors.As(err, &loadErr) {
					printLoadError(cmd.ErrOrStderr(), loadErr)
				}
				return err
			}
			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"hosts":  len(res.Dataset.Hosts),
					"issues": res.Issues,
				})
			}
			printIssues(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}

// ── hosts ────────────────────────────────────────────────────────────────────

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts <file>",
		Short: "List normalized hosts with their risk badges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, hosts, err := loadFile(args[0])
			if err != nil {
				return err
			}
			printHosts(cmd.OutOrStdout(), hosts)
			return nil
		},
	}
}

// ── prompt ───────────────────────────────────────────────────────────────────

func newPromptCmd() *cobra.Command {
	var opts prompt.Options
	cmd := &cobra.Command{
		Use:   "prompt <file> <ip>",
		Short: "Render the summarization prompt for one host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, hosts, err := loadFile(args[0])
			if err != nil {
				return err
			}
			h, err := findHost(hosts, args[1])
			if err != nil {
				return err
			}
			printPrompt(cmd.OutOrStdout(), prompt.Build(h, opts))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", 512, "token budget used to size the prompt")
	cmd.Flags().IntVar(&opts.MaxCharacters, "max-chars", 0, "explicit character budget (0 derives it from --max-tokens)")
	cmd.Flags().IntVar(&opts.MaxBanners, "max-banners", 2, "banners to include")
	cmd.Flags().IntVar(&opts.MaxCVEs, "max-cves", 5, "CVEs to include")
	return cmd
}

// ── summarize ────────────────────────────────────────────────────────────────

func newSummarizeCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "summarize <file> [ip...]",
		Short: "Summarize hosts and stream results as JSON lines",
		Long: `Summarize runs every host (or only the listed ips) through the
summarization engine with at most --concurrency calls in flight. Results are
printed as newline-delimited JSON in completion order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.FromEnvironment()
			if err != nil {
				return err
			}
			_, hosts, err := loadFile(args[0])
			if err != nil {
				return err
			}
			if len(args) > 1 {
				selected := make([]*normalize.Host, 0, len(args)-1)
				for _, ip := range args[1:] {
					h, err := findHost(hosts, ip)
					if err != nil {
						return err
					}
					selected = append(selected, h)
				}
				hosts = selected
			}

			engine := summarize.NewEngine(summarize.NewProvider(cfg.LLM, logger), cfg.LLM, logger)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for item, err := range summarize.SummarizeAll(cmd.Context(), engine, hosts, concurrency) {
				if err != nil {
					return err
				}
				if err := enc.Encode(item); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 3, "maximum summaries in flight")
	return cmd
}

// ── version ──────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hostscope version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hostscope %s (prompt %s)\n", version, prompt.Version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
