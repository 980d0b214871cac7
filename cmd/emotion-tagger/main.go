package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/fileutils"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/langdetect"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/provider"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/segment"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/store"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/tokenize"
	"github.com/theimaginaryfoundation/chat-emotions/internal/cliutil"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cliutil.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	cfg = cfg.withEnv()
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

	stats, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "messages=%d kept=%d labelled=%d unknown=%d failed_batches=%d out=%s\n",
		stats.Messages, stats.Labelled+stats.Unknown, stats.Labelled, stats.Unknown, stats.FailedBatches, cfg.OutputPath)
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) (annotate.RunStats, error) {
	runID := store.NewRunID()
	logger = logger.With(zap.String("run_id", runID), zap.String("input", cfg.InputPath))

	if cfg.Format != annotate.FormatSQLite {
		if err := fileutils.CheckWritable(cfg.OutputPath, cfg.Overwrite); err != nil {
			return annotate.RunStats{}, err
		}
	}

	msgs, read, err := annotate.ReadExport(ctx, cfg.InputPath, annotate.ReadOptions{
		ArrayField:  cfg.ArrayField,
		MessageType: cfg.MessageType,
	})
	if err != nil {
		return annotate.RunStats{}, err
	}
	logger.Info("export loaded",
		zap.Int("messages", len(msgs)),
		zap.Int("records", read.Records),
		zap.Int("filtered", read.Filtered),
		zap.Int("skipped", read.Skipped),
	)
	if read.Skipped > 0 {
		logger.Warn("export records skipped", zap.Int("skipped", read.Skipped))
	}

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return annotate.RunStats{}, err
	}
	p.Options.RunID = runID

	rs, err := p.Run(ctx, msgs)
	if err != nil {
		return annotate.RunStats{}, err
	}
	if err := writeOutput(ctx, cfg, rs); err != nil {
		return annotate.RunStats{}, err
	}
	if err := annotate.WriteStats(cfg.OutputPath, rs.Stats(), cfg.Pretty); err != nil {
		return annotate.RunStats{}, err
	}
	logger.Info("output written", zap.String("out", cfg.OutputPath), zap.String("format", cfg.Format))
	return rs.Stats(), nil
}

func buildPipeline(cfg Config, logger *zap.Logger) (*annotate.Pipeline, error) {
	seg, err := segment.NewPunkt()
	if err != nil {
		return nil, err
	}
	det, err := langdetect.NewLingua(langdetect.Options{
		Languages:           detectorLanguages(cfg),
		MinRelativeDistance: langdetect.DefaultMinRelativeDistance,
		LowAccuracy:         cfg.LowAccuracy,
	})
	if err != nil {
		return nil, err
	}
	tok, err := newTokenizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	p := &annotate.Pipeline{
		Segmenter: seg,
		Detector:  det,
		Tokenizer: tok,
		Logger:    logger,
		Options: annotate.Options{
			BatchSize:          cfg.BatchSize,
			MaxTokens:          cfg.MaxTokens,
			MinWords:           cfg.MinWords,
			Language:           cfg.Language,
			SkipClassification: cfg.DryRun,
		},
	}
	if cfg.DryRun {
		return p, nil
	}

	c, err := buildClassifier(cfg)
	if err != nil {
		return nil, err
	}
	p.Classifier = c
	return p, nil
}

func buildClassifier(cfg Config) (annotate.Classifier, error) {
	labels := annotate.ParseLabels(cfg.Labels)
	switch cfg.Backend {
	case backendHTTP:
		// Without -labels the endpoint's own label names pass through.
		return provider.NewHTTPClassifier(cfg.Endpoint, cfg.EndpointToken, provider.WithLabels(labels))
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY (or pass -api-key)")
		}
		client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
		return provider.NewOpenAIClassifier(&client, cfg.Model, labels, provider.WithServiceTier(cfg.ServiceTier))
	}
}

// defaultEncoding is the vocabulary closest to what the backend's model sees.
// Inference endpoints truncate server-side with their own tokenizer, so for
// them the budget only bounds request size.
func defaultEncoding(backend string) string {
	if backend == backendHTTP {
		return tokenize.DefaultEncoding
	}
	return tokenize.O200KBase
}

func newTokenizer(cfg Config, logger *zap.Logger) (*tokenize.BPE, error) {
	if cfg.Encoding != "" {
		return tokenize.NewBPE(cfg.Encoding)
	}
	enc := defaultEncoding(cfg.Backend)
	tok, err := tokenize.NewBPE(enc)
	if err == nil || enc == tokenize.DefaultEncoding {
		return tok, err
	}
	logger.Warn("encoding unavailable, using fallback",
		zap.String("encoding", enc),
		zap.String("fallback", tokenize.DefaultEncoding),
		zap.Error(err),
	)
	return tokenize.NewBPE(tokenize.DefaultEncoding)
}

// detectorLanguages is the -languages candidate set with the target language
// always included. Nil selects every language the detector knows.
func detectorLanguages(cfg Config) []string {
	if strings.TrimSpace(cfg.Languages) == "" {
		return nil
	}
	return append([]string{cfg.Language}, strings.Split(cfg.Languages, ",")...)
}

func writeOutput(ctx context.Context, cfg Config, rs annotate.ResultSet) error {
	if cfg.Format != annotate.FormatSQLite {
		return annotate.WriteResults(cfg.OutputPath, cfg.Format, rs, cfg.Overwrite)
	}

	db, err := store.OpenSQLite(ctx, cfg.OutputPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.SaveRun(ctx, sourceName(cfg.InputPath), rs)
}

func sourceName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	// Avoid mutating the global FlagSet if called from tests.
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Path to the chat export JSON (Telegram result.json style)")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "Output file (.csv, .jsonl or .db)")
	fs.StringVar(&cfg.Format, "format", "", "Output format csv|jsonl|sqlite (default: from -out extension)")
	fs.StringVar(&cfg.ArrayField, "array-field", "", "If top-level JSON is an object, name of field containing the messages array (default: messages)")
	fs.StringVar(&cfg.MessageType, "message-type", cfg.MessageType, "Keep only records with this \"type\" (empty keeps all)")

	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Classifier backend: openai|http")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for the openai backend")
	fs.StringVar(&cfg.ServiceTier, "service-tier", "", "OpenAI service tier (e.g. flex)")
	fs.StringVar(&cfg.Endpoint, "endpoint", "", "Inference endpoint URL for the http backend (overrides CLASSIFIER_ENDPOINT)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.Labels, "labels", "", "Comma-separated emotion labels (default: anger,disgust,fear,joy,neutral,sadness,surprise)")

	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Texts per classifier call")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "Token budget per text")
	fs.IntVar(&cfg.MinWords, "min-words", cfg.MinWords, "Minimum words per kept sentence")
	fs.StringVar(&cfg.Language, "language", cfg.Language, "Language code sentences must be detected as")
	fs.StringVar(&cfg.Languages, "languages", "", "Comma-separated candidate languages for detection (default: all supported languages)")
	fs.BoolVar(&cfg.LowAccuracy, "low-accuracy", false, "Use the detector's low-accuracy mode (less memory, weaker on short sentences)")
	fs.StringVar(&cfg.Encoding, "encoding", "", "BPE encoding used for truncation (default: o200k_base for openai, cl100k_base for http)")

	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Overwrite an existing output file")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the stats sidecar")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Preprocess only; write results with an empty emotion")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML file of flag values; flags given on the command line win")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-tagger -in export/result.json -out export/emotions.csv")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-tagger -backend http -endpoint https://host/models/emotion -out emotions.jsonl")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-tagger -config tagger.yml -dry-run")
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
	cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = annotate.FormatFromPath(cfg.OutputPath)
	}
	return cfg, nil
}
