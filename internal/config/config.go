// Package config loads process configuration through viper.
//
// Values come from an optional configs/hostscope.yaml, then from the
// environment. Every key also answers to the flat environment names the
// service has always used (LLM_API_KEY, MODEL_NAME, TIMEOUT_MS, ...).
// Configuration is read once at startup and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// LLM configures the summarisation provider.
type LLM struct {
	Provider  string
	APIKey    string // empty means live summaries are disabled
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	Retries   int
}

// Server configures the HTTP front end.
type Server struct {
	Port               int
	CORSOrigins        []string
	RateLimitRPS       int
	SummaryConcurrency int
	SummaryCacheTTL    time.Duration
}

// Config is the full process configuration.
type Config struct {
	LLM        LLM
	Server     Server
	SamplePath string
}

// envAliases maps config keys to extra environment variable names.
var envAliases = map[string][]string{
	"llm.provider":   {"LLM_PROVIDER"},
	"llm.api_key":    {"LLM_API_KEY"},
	"llm.model":      {"LLM_MODEL", "MODEL_NAME"},
	"llm.timeout_ms": {"LLM_TIMEOUT_MS", "TIMEOUT_MS"},
	"llm.max_tokens": {"LLM_MAX_TOKENS", "MAX_TOKENS"},
	"llm.retries":    {"LLM_RETRIES", "RETRIES"},
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout_ms", 15000)
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.retries", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.summary_concurrency", 3)
	v.SetDefault("server.summary_cache_ttl_seconds", 300)
	v.SetDefault("dataset.sample_path", "sampledata/hosts_dataset.json")

	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...)
	}
}

// ReadFile reads configs/hostscope.yaml (or ./hostscope.yaml) when present.
// A missing file is not an error; the returned bool reports whether one was
// found.
func ReadFile(v *viper.Viper) (bool, error) {
	v.SetConfigName("hostscope")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &cfgNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read config: %w", err)
	}
	return true, nil
}

// Load validates and converts the values held by v. Strings are trimmed and
// blank strings fall back to their defaults.
func Load(v *viper.Viper) (*Config, error) {
	var errs []error

	str := func(key, def string) string {
		if s := strings.TrimSpace(cast.ToString(v.Get(key))); s != "" {
			return s
		}
		return def
	}
	integer := func(key string, def, floor int) int {
		var (
			n   int
			err error
		)
		if s, ok := v.Get(key).(string); ok {
			// Environment values are always decimal.
			s = strings.TrimSpace(s)
			if s == "" {
				return def
			}
			n, err = strconv.Atoi(s)
		} else {
			n, err = cast.ToIntE(v.Get(key))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, cast.ToString(v.Get(key))))
			return def
		}
		if n < floor {
			errs = append(errs, fmt.Errorf("%s: must be >= %d, got %d", key, floor, n))
			return def
		}
		return n
	}

	origins := make([]string, 0)
	for _, o := range v.GetStringSlice("server.cors_origins") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := &Config{
		LLM: LLM{
			Provider:  str("llm.provider", "openai"),
			APIKey:    strings.TrimSpace(cast.ToString(v.Get("llm.api_key"))),
			Model:     str("llm.model", "gpt-4o-mini"),
			BaseURL:   str("llm.base_url", "https://api.openai.com/v1"),
			Timeout:   time.Duration(integer("llm.timeout_ms", 15000, 1)) * time.Millisecond,
			MaxTokens: integer("llm.max_tokens", 512, 1),
			Retries:   integer("llm.retries", 2, 0),
		},
		Server: Server{
			Port:               integer("server.port", 8080, 1),
			CORSOrigins:        origins,
			RateLimitRPS:       integer("server.rate_limit_rps", 20, 0),
			SummaryConcurrency: integer("server.summary_concurrency", 3, 1),
			SummaryCacheTTL:    time.Duration(integer("server.summary_cache_ttl_seconds", 300, 0)) * time.Second,
		},
		SamplePath: str("dataset.sample_path", "sampledata/hosts_dataset.json"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// FromEnvironment is SetDefaults, ReadFile and Load on a fresh viper instance.
func FromEnvironment() (*Config, bool, error) {
	v := viper.New()
	SetDefaults(v)
	found, err := ReadFile(v)
	if err != nil {
		return nil, false, err
	}
	cfg, err := Load(v)
	return cfg, found, err
}
