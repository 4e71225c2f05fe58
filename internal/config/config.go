package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

const (
	defaultPATEnv               = "AZURE_DEVOPS_EXT_PAT"
	defaultPredecessorDelimiter = ";"
	defaultCSVDelimiter         = ','
	defaultDateFormat           = "2006-01-02"
	defaultMaxOutlineHops       = 10
	defaultRequestTimeout       = 30 * time.Second
	defaultBatchSize            = 200
	defaultFetchConcurrency     = 4
	defaultRetryMaxElapsed      = time.Minute
	defaultLogLevel             = "info"
	defaultSheetName            = "Tasks"

	maxBatchSize = 200
	dirName      = ".adompp"
	fileName     = "config.toml"
)

// ErrMissingPAT is returned when the personal access token variable is unset.
var ErrMissingPAT = errors.New("personal access token not set")

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Organization string
	Project      string
	Endpoint     string
	PATEnv       string

	Query   string
	QueryID string
	Output  string
	Format  string

	PredecessorDelimiter string
	CSVDelimiter         rune
	DateFormat           string
	SheetName            string
	MaxOutlineHops       int

	RequestTimeout   time.Duration
	BatchSize        int
	FetchConcurrency int
	RetryMaxElapsed  time.Duration

	LogLevel     string
	OTelEndpoint string
}

type fileConfig struct {
	Organization         *string     `toml:"organization"`
	Project              *string     `toml:"project"`
	Endpoint             *string     `toml:"endpoint"`
	PATEnv               *string     `toml:"pat_env"`
	Query                *string     `toml:"query"`
	QueryID              *string     `toml:"query_id"`
	Output               *string     `toml:"output"`
	Format               *string     `toml:"format"`
	PredecessorDelimiter *string     `toml:"predecessor_delimiter"`
	CSVDelimiter         *string     `toml:"csv_delimiter"`
	DateFormat           *string     `toml:"date_format"`
	SheetName            *string     `toml:"sheet_name"`
	MaxOutlineHops       *int        `toml:"max_outline_hops"`
	RequestTimeout       *string     `toml:"request_timeout"`
	BatchSize            *int        `toml:"batch_size"`
	FetchConcurrency     *int        `toml:"fetch_concurrency"`
	RetryMaxElapsed      *string     `toml:"retry_max_elapsed"`
	LogLevel             *string     `toml:"log_level"`
	OTel                 *otelConfig `toml:"otel"`
}

type otelConfig struct {
	Endpoint *string `toml:"endpoint"`
}

// Load reads config from ~/.adompp/config.toml and overlays a project-local .adompp/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, dirName, fileName),
		filepath.Join(workingDir, dirName, fileName),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

// LoadFile behaves like Load and then overlays path, which must exist.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	cfg, err := Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config file %q: %w", path, err)
	}
	if err := overlayFromFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		PATEnv:               defaultPATEnv,
		PredecessorDelimiter: defaultPredecessorDelimiter,
		CSVDelimiter:         defaultCSVDelimiter,
		DateFormat:           defaultDateFormat,
		SheetName:            defaultSheetName,
		MaxOutlineHops:       defaultMaxOutlineHops,
		RequestTimeout:       defaultRequestTimeout,
		BatchSize:            defaultBatchSize,
		FetchConcurrency:     defaultFetchConcurrency,
		RetryMaxElapsed:      defaultRetryMaxElapsed,
		LogLevel:             defaultLogLevel,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse %s in %q: unsupported key", undecoded[0].String(), path)
	}

	applyStringOverrides(cfg, decoded)
	if err := applyOutputOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyLimitOverrides(cfg, decoded, path); err != nil {
		return err
	}
	return nil
}

func applyStringOverrides(cfg *Config, decoded fileConfig) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&cfg.Organization, decoded.Organization)
	set(&cfg.Project, decoded.Project)
	set(&cfg.Endpoint, decoded.Endpoint)
	set(&cfg.Query, decoded.Query)
	set(&cfg.QueryID, decoded.QueryID)
	set(&cfg.Output, decoded.Output)
	set(&cfg.DateFormat, decoded.DateFormat)
	set(&cfg.SheetName, decoded.SheetName)
	if decoded.PATEnv != nil && strings.TrimSpace(*decoded.PATEnv) != "" {
		cfg.PATEnv = strings.TrimSpace(*decoded.PATEnv)
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = normalizeKey(*decoded.LogLevel)
	}
	if decoded.OTel != nil && decoded.OTel.Endpoint != nil {
		cfg.OTelEndpoint = strings.TrimSpace(*decoded.OTel.Endpoint)
	}
}

func applyOutputOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.PredecessorDelimiter != nil {
		if *decoded.PredecessorDelimiter == "" {
			return fmt.Errorf("parse predecessor_delimiter in %q: must not be empty", path)
		}
		cfg.PredecessorDelimiter = *decoded.PredecessorDelimiter
	}
	if decoded.CSVDelimiter != nil {
		value, err := ParseDelimiter(*decoded.CSVDelimiter)
		if err != nil {
			return fmt.Errorf("parse csv_delimiter in %q: %w", path, err)
		}
		cfg.CSVDelimiter = value
	}
	if decoded.Format != nil {
		switch normalizeKey(*decoded.Format) {
		case "", "csv", "xlsx":
			cfg.Format = normalizeKey(*decoded.Format)
		default:
			return fmt.Errorf("parse format in %q: must be csv or xlsx", path)
		}
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.RequestTimeout != nil {
		value, err := parseDuration(*decoded.RequestTimeout, "request_timeout", path)
		if err != nil {
			return err
		}
		cfg.RequestTimeout = value
	}
	if decoded.RetryMaxElapsed != nil {
		value, err := parseDuration(*decoded.RetryMaxElapsed, "retry_max_elapsed", path)
		if err != nil {
			return err
		}
		cfg.RetryMaxElapsed = value
	}
	return nil
}

func applyLimitOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.MaxOutlineHops != nil {
		if *decoded.MaxOutlineHops <= 0 {
			return fmt.Errorf("parse max_outline_hops in %q: must be > 0", path)
		}
		cfg.MaxOutlineHops = *decoded.MaxOutlineHops
	}
	if decoded.BatchSize != nil {
		if *decoded.BatchSize <= 0 || *decoded.BatchSize > maxBatchSize {
			return fmt.Errorf("parse batch_size in %q: must be between 1 and %d", path, maxBatchSize)
		}
		cfg.BatchSize = *decoded.BatchSize
	}
	if decoded.FetchConcurrency != nil {
		if *decoded.FetchConcurrency <= 0 {
			return fmt.Errorf("parse fetch_concurrency in %q: must be > 0", path)
		}
		cfg.FetchConcurrency = *decoded.FetchConcurrency
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("parse %s in %q: must not be negative", key, path)
	}
	return parsed, nil
}

// ParseDelimiter accepts a single character, or "tab" / `\t` for a tab.
func ParseDelimiter(value string) (rune, error) {
	switch strings.ToLower(value) {
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("delimiter %q must be a single character", value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("delimiter %q is not allowed", value)
	}
	return r, nil
}

// PAT reads the personal access token from the variable named by PATEnv.
func (c *Config) PAT(lookup func(string) (string, bool)) (string, error) {
	if c == nil {
		return "", errors.New("config must not be nil")
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(c.PATEnv)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: export %s", ErrMissingPAT, c.PATEnv)
	}
	return strings.TrimSpace(value), nil
}

// RequireConnection reports the connection keys that are still empty.
func (c *Config) RequireConnection() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	var missing []string
	if c.Organization == "" {
		missing = append(missing, "organization")
	}
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config: %s (set in %s or via flags)",
			strings.Join(missing, ", "), filepath.Join("~", dirName, fileName))
	}
	return nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
