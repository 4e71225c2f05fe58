package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/giagar5/ADO-MPP/internal/ado"
	"github.com/giagar5/ADO-MPP/internal/config"
	"github.com/giagar5/ADO-MPP/internal/hierarchy"
	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/pipeline"
	"github.com/giagar5/ADO-MPP/internal/rows"
	"github.com/giagar5/ADO-MPP/internal/telemetry"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

var lookupEnvFn = os.LookupEnv

type exportFlags struct {
	configPath string
	query      string
	queryID    string
	input      string
	output     string
	format     string
	delimiter  string
	saveDump   string
}

func newExportCommand(cfg *config.Config, logger *log.Logger, runID string) *cobra.Command {
	flags := exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export work items as an MS Project task list (CSV or XLSX)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), cfg, flags, runID, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to an extra config.toml overlay")
	cmd.Flags().StringVar(&flags.query, "query", "", "WIQL query selecting the work items")
	cmd.Flags().StringVar(&flags.queryID, "query-id", "", "GUID of a saved query")
	cmd.Flags().StringVar(&flags.input, "input", "", "Read work items from a JSON dump instead of Azure DevOps")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&flags.format, "format", "", "Output format: csv or xlsx (default from extension)")
	cmd.Flags().StringVar(&flags.delimiter, "delimiter", "", "Separator between predecessor task numbers")
	cmd.Flags().StringVar(&flags.saveDump, "save-dump", "", "Also write the fetched work items to a JSON dump")
	cmd.MarkFlagsMutuallyExclusive("query", "query-id", "input")
	return cmd
}

func newQueryCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	flags := exportFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a WIQL or saved query and print the matched work item ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := resolveSettings(cmd.Context(), cfg, flags)
			if err != nil {
				return err
			}
			if settings.query == "" && settings.queryID == "" {
				return errors.New("one of --query or --query-id is required")
			}
			var coreLogger logging.Logger = logging.Discard()
			if logger != nil {
				coreLogger = logger
			}
			client, err := newClient(settings.cfg, coreLogger)
			if err != nil {
				return err
			}
			ids, err := queryIDs(cmd.Context(), client, settings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				if _, err := fmt.Fprintln(out, id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to an extra config.toml overlay")
	cmd.Flags().StringVar(&flags.query, "query", "", "WIQL query")
	cmd.Flags().StringVar(&flags.queryID, "query-id", "", "GUID of a saved query")
	cmd.MarkFlagsMutuallyExclusive("query", "query-id")
	return cmd
}

// exportSettings is the merged view of config files and flags for one run.
type exportSettings struct {
	cfg       *config.Config
	query     string
	queryID   string
	input     string
	output    string
	format    rows.Format
	delimiter string
	saveDump  string
}

func resolveSettings(ctx context.Context, cfg *config.Config, flags exportFlags) (exportSettings, error) {
	if flags.configPath != "" {
		loaded, err := config.LoadFile(ctx, flags.configPath)
		if err != nil {
			return exportSettings{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if cfg == nil {
		return exportSettings{}, errors.New("config is required")
	}

	settings := exportSettings{
		cfg:       cfg,
		input:     strings.TrimSpace(flags.input),
		output:    firstNonEmpty(flags.output, cfg.Output),
		delimiter: firstNonEmpty(flags.delimiter, cfg.PredecessorDelimiter),
		saveDump:  strings.TrimSpace(flags.saveDump),
	}
	switch {
	case flags.query != "" || flags.queryID != "" || settings.input != "":
		settings.query = strings.TrimSpace(flags.query)
		settings.queryID = strings.TrimSpace(flags.queryID)
	case cfg.Query != "":
		settings.query = cfg.Query
	default:
		settings.queryID = cfg.QueryID
	}

	return settings, nil
}

func runExport(
	ctx context.Context,
	cfg *config.Config,
	flags exportFlags,
	runID string,
	logger *log.Logger,
	stdout io.Writer,
	stderr io.Writer,
) (err error) {
	settings, err := resolveSettings(ctx, cfg, flags)
	if err != nil {
		return err
	}
	if settings.query == "" && settings.queryID == "" && settings.input == "" {
		return errors.New("one of --query, --query-id or --input is required")
	}
	format, err := rows.FormatFor(settings.output, firstNonEmpty(flags.format, settings.cfg.Format))
	if err != nil {
		return err
	}
	settings.format = format
	var coreLogger logging.Logger = logging.Discard()
	if logger != nil {
		coreLogger = logger
	}

	source := "wiql"
	switch {
	case settings.input != "":
		source = "dump"
	case settings.queryID != "":
		source = "saved_query"
	}
	ctx, tracker := telemetry.StartRun(ctx, telemetry.RunRequest{
		Source:       source,
		Organization: settings.cfg.Organization,
		Project:      settings.cfg.Project,
		Query:        firstNonEmpty(settings.query, settings.queryID),
		RunID:        runID,
	})
	exported := 0
	defer func() { tracker.End(exported, err) }()

	items, ids, fetcher, err := loadItems(ctx, settings, tracker, coreLogger)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return pipeline.ErrNoItems
	}

	result, err := pipeline.Run(ctx, items, fetcher, pipeline.Options{
		Delimiter:      settings.delimiter,
		MaxOutlineHops: settings.cfg.MaxOutlineHops,
	}, coreLogger)
	if err != nil {
		return err
	}
	report := newReporter(stderr)
	for _, warning := range result.Warnings {
		tracker.RecordWarning(warning)
		if err := report.warning(warning); err != nil {
			return err
		}
	}

	if settings.saveDump != "" {
		if err := saveDump(settings.saveDump, ids, result); err != nil {
			return err
		}
	}

	if err := writeRows(settings, rows.Build(result, settings.cfg.DateFormat), stdout); err != nil {
		return err
	}
	exported = result.Len()
	target := firstNonEmpty(settings.output, "-")
	coreLogger.Info("export written", "items", exported, "format", settings.format, "output", target)
	if target == "-" {
		return nil
	}
	return report.summary(exported, target, result.UsedHierarchy)
}

// loadItems returns the query items, the ids the query named, and the
// fetcher used for missing ancestors.
func loadItems(
	ctx context.Context,
	settings exportSettings,
	tracker *telemetry.Run,
	logger logging.Logger,
) ([]workitem.WorkItem, []int, hierarchy.Fetcher, error) {
	if settings.input != "" {
		dump, err := ado.LoadDump(settings.input)
		if err != nil {
			return nil, nil, nil, err
		}
		items := dump.QueryItems()
		ids := dump.QueryIDs
		if len(ids) == 0 {
			ids = make([]int, len(items))
			for i, item := range items {
				ids[i] = item.ID
			}
		}
		return items, ids, trackedFetcher{fetcher: ado.NewDumpSource(dump), tracker: tracker}, nil
	}

	client, err := newClient(settings.cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	ids, err := queryIDs(ctx, client, settings)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(ids) == 0 {
		return nil, ids, nil, nil
	}

	start := time.Now()
	items, err := client.GetWorkItems(ctx, ids)
	tracker.RecordFetch("query", len(ids), len(items), time.Since(start))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch work items: %w", err)
	}
	return items, ids, trackedFetcher{fetcher: client, tracker: tracker}, nil
}

func newClient(cfg *config.Config, logger logging.Logger) (*ado.Client, error) {
	if err := cfg.RequireConnection(); err != nil {
		return nil, err
	}
	pat, err := cfg.PAT(lookupEnvFn)
	if err != nil {
		return nil, err
	}

	opts := []ado.Option{
		ado.WithEndpoint(cfg.Endpoint),
		ado.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		ado.WithBatchSize(cfg.BatchSize),
		ado.WithConcurrency(cfg.FetchConcurrency),
		ado.WithRetryMaxElapsed(cfg.RetryMaxElapsed),
		ado.WithLogger(logger),
	}
	return ado.NewClient(cfg.Organization, cfg.Project, pat, opts...), nil
}

func queryIDs(ctx context.Context, client *ado.Client, settings exportSettings) ([]int, error) {
	if settings.queryID != "" {
		ids, err := client.SavedQueryIDs(ctx, settings.queryID)
		if err != nil {
			return nil, fmt.Errorf("run saved query: %w", err)
		}
		return ids, nil
	}
	ids, err := client.QueryIDs(ctx, settings.query)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	return ids, nil
}

// trackedFetcher records every ancestor fetch on the run span.
type trackedFetcher struct {
	fetcher hierarchy.Fetcher
	tracker *telemetry.Run
}

func (f trackedFetcher) FetchByIDs(ctx context.Context, ids []int) ([]workitem.WorkItem, error) {
	start := time.Now()
	items, err := f.fetcher.FetchByIDs(ctx, ids)
	f.tracker.RecordFetch("ancestors", len(ids), len(items), time.Since(start))
	return items, err
}

func saveDump(path string, queryIDs []int, result *pipeline.Result) error {
	items := make([]workitem.WorkItem, 0, result.Len())
	for _, id := range result.Sequence {
		if item, ok := result.Item(id); ok {
			items = append(items, item)
		}
	}
	if err := ado.WriteDump(path, queryIDs, items); err != nil {
		return fmt.Errorf("save dump: %w", err)
	}
	return nil
}

func writeRows(settings exportSettings, table []rows.Row, stdout io.Writer) (err error) {
	out := stdout
	if settings.output != "" && settings.output != "-" {
		if mkErr := os.MkdirAll(filepath.Dir(settings.output), 0o750); mkErr != nil {
			return fmt.Errorf("create output directory: %w", mkErr)
		}
		// #nosec G304 -- output path is provided by the operator.
		file, createErr := os.Create(settings.output)
		if createErr != nil {
			return fmt.Errorf("create output: %w", createErr)
		}
		defer func() {
			if closeErr := file.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
		}()
		out = file
	}

	switch settings.format {
	case rows.FormatXLSX:
		return rows.WriteXLSX(out, table, settings.cfg.SheetName)
	default:
		return rows.WriteCSV(out, table, settings.cfg.CSVDelimiter)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
