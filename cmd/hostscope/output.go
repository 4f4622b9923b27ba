package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/prompt"
	"github.com/jmerrifield20/hostscope/internal/risk"
)

func borderlessTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func badgeColor(level risk.Level) *color.Color {
	switch level {
	case risk.Critical:
		return color.New(color.FgRed, color.Bold)
	case risk.High:
		return color.New(color.FgRed)
	case risk.Medium:
		return color.New(color.FgYellow)
	case risk.Low:
		return color.New(color.FgGreen)
	default:
		return color.New(color.Reset)
	}
}

func printHosts(w io.Writer, hosts []*normalize.Host) {
	table := borderlessTable(w)
	table.SetHeader([]string{"IP", "Location", "ASN", "Services", "Open ports", "CVEs", "Risk"})
	for _, h := range hosts {
		table.Append([]string{
			h.IP,
			h.GeoSummary,
			h.ASNSummary,
			strconv.Itoa(h.ServiceCount),
			joinPorts(h.OpenPorts, 6),
			strconv.Itoa(h.Vulnerabilities.UniqueCVECount),
			badgeColor(h.RiskBadge.Level).Sprint(h.RiskBadge.Label),
		})
	}
	table.Render()
}

func joinPorts(ports []int, n int) string {
	parts := make([]string, 0, min(len(ports), n)+1)
	for i, p := range ports {
		if i == n {
			parts = append(parts, fmt.Sprintf("+%d", len(ports)-n))
			break
		}
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

func printIssues(w io.Writer, res *dataset.Result) {
	fmt.Fprintf(w, "%d hosts, %d degraded\n", len(res.Dataset.Hosts), len(res.Issues))
	if len(res.Issues) == 0 {
		color.New(color.FgGreen).Fprintln(w, "dataset is valid")
		return
	}

	table := borderlessTable(w)
	table.SetHeader([]string{"Host", "Issue"})
	for _, issue := range res.Issues {
		ref := "(no ip)"
		if issue.IP != nil {
			ref = *issue.IP
		}
		for _, msg := range issue.Issues {
			table.Append([]string{ref, msg})
		}
	}
	table.Render()
}

func printLoadError(w io.Writer, err *dataset.LoadError) {
	color.New(color.FgRed).Fprintln(w, "ERROR: "+err.Message)
	for _, issue := range err.Issues {
		fmt.Fprintln(w, "  - "+issue)
	}
}

func printPrompt(w io.Writer, p prompt.Payload) {
	fmt.Fprintln(w, p.Prompt)
	fmt.Fprintln(w)

	var cut []string
	if p.Truncated.Banners {
		cut = append(cut, "banners")
	}
	if p.Truncated.CVEs {
		cut = append(cut, "cves")
	}
	if p.Truncated.SecurityLabels {
		cut = append(cut, "security labels")
	}
	if p.Truncated.MalwareFamilies {
		cut = append(cut, "malware families")
	}
	summary := fmt.Sprintf("version %s, %d characters", p.Version, p.Characters)
	if len(cut) > 0 {
		summary += "; truncated: " + strings.Join(cut, ", ")
	}
	color.New(color.Faint).Fprintln(w, summary)
}
