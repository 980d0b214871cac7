package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/fileutils"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/store"
	"github.com/theimaginaryfoundation/chat-emotions/internal/cliutil"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger, err := cliutil.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("report failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "results=%d unknown=%d senders=%d out=%s\n", rep.Total, rep.Unknown, len(rep.Senders), cfg.OutputPath)
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) (annotate.EmotionReport, error) {
	if err := fileutils.CheckWritable(cfg.OutputPath, cfg.Overwrite); err != nil {
		return annotate.EmotionReport{}, err
	}

	results, err := loadResults(ctx, cfg)
	if err != nil {
		return annotate.EmotionReport{}, err
	}
	logger.Info("results loaded", zap.String("in", cfg.InputPath), zap.Int("results", len(results)))

	rep := annotate.BuildEmotionReport(results)
	if err := fileutils.WriteJSONFileAtomic(cfg.OutputPath, rep, cfg.Pretty); err != nil {
		return annotate.EmotionReport{}, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

func loadResults(ctx context.Context, cfg Config) ([]annotate.Result, error) {
	if cfg.Format != annotate.FormatSQLite {
		return annotate.ReadResults(cfg.InputPath, cfg.Format)
	}

	if !fileutils.FileExists(cfg.InputPath) {
		return nil, fmt.Errorf("open database: %s does not exist", cfg.InputPath)
	}
	db, err := store.OpenSQLite(ctx, cfg.InputPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	source := cfg.Source
	if source == "" {
		sources, err := db.Sources(ctx)
		if err != nil {
			return nil, err
		}
		switch len(sources) {
		case 0:
			return nil, fmt.Errorf("%s: %w", cfg.InputPath, store.ErrRunNotFound)
		case 1:
			source = sources[0]
		default:
			return nil, errors.New("database holds several sources; pass -source (one of: " + strings.Join(sources, ", ") + ")")
		}
	}
	return db.LatestLabels(ctx, source)
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	// Avoid mutating the global FlagSet if called from tests.
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Results file written by emotion-tagger (.csv, .jsonl or .db)")
	fs.StringVar(&cfg.OutputPath, "out", "", "Report JSON path (default: <in>.report.json)")
	fs.StringVar(&cfg.Format, "format", "", "Input format csv|jsonl|sqlite (default: from -in extension)")
	fs.StringVar(&cfg.Source, "source", "", "Export path whose run to report, for sqlite input holding several")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the report")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Overwrite an existing report")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML file of flag values; flags given on the command line win")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-report -in export/emotions.csv -pretty")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-report -in export/emotions.db -source /data/result.json -out report.json")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ConfigPath != "" {
		if err := cliutil.ApplyConfigFile(fs, cfg.ConfigPath); err != nil {
			return Config{}, err
		}
	}

	cfg.InputPath = filepath.Clean(cfg.InputPath)
	if cfg.OutputPath == "" {
		cfg.OutputPath = reportPath(cfg.InputPath)
	}
	cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = annotate.FormatFromPath(cfg.InputPath)
	}
	return cfg, nil
}
