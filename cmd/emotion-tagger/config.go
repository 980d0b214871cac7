package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/internal/cliutil"
)

const (
	backendOpenAI = "openai"
	backendHTTP   = "http"
)

type Config struct {
	InputPath   string
	OutputPath  string
	Format      string
	ArrayField  string
	MessageType string

	Backend       string
	Model         string
	ServiceTier   string
	Endpoint      string
	EndpointToken string
	APIKey        string
	Labels        string

	BatchSize   int
	MaxTokens   int
	MinWords    int
	Language    string
	Languages   string
	LowAccuracy bool
	Encoding    string

	Overwrite bool
	Pretty    bool
	DryRun    bool
	LogLevel  string

	ConfigPath string
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing -in")
	}
	if c.OutputPath == "" {
		return errors.New("missing -out")
	}
	switch c.Format {
	case annotate.FormatCSV, annotate.FormatJSONL, annotate.FormatSQLite:
	default:
		return fmt.Errorf("invalid -format %q (want csv|jsonl|sqlite)", c.Format)
	}
	switch c.Backend {
	case backendOpenAI:
		if !c.DryRun && c.Model == "" {
			return errors.New("missing -model")
		}
	case backendHTTP:
		if !c.DryRun && c.Endpoint == "" {
			return errors.New("missing -endpoint (or CLASSIFIER_ENDPOINT)")
		}
	default:
		return fmt.Errorf("invalid -backend %q (want openai|http)", c.Backend)
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be > 0")
	}
	if c.MaxTokens <= 0 {
		return errors.New("max tokens must be > 0")
	}
	if c.MinWords <= 0 {
		return errors.New("min words must be > 0")
	}
	if c.Language == "" {
		return errors.New("missing -language")
	}
	if _, err := cliutil.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath:   filepath.FromSlash("export/result.json"),
		OutputPath:  filepath.FromSlash("export/emotions.csv"),
		MessageType: annotate.DefaultMessageType,
		Backend:     backendOpenAI,
		Model:       "gpt-5-mini",
		BatchSize:   annotate.DefaultBatchSize,
		MaxTokens:   annotate.DefaultMaxTokens,
		MinWords:    annotate.DefaultMinWords,
		Language:    annotate.DefaultLanguage,
		LogLevel:    "info",
	}
}

// withEnv fills secrets and endpoints that were not given as flags.
func (c Config) withEnv() Config {
	if c.APIKey == "" {
		c.APIKey = cliutil.Env("OPENAI_API_KEY")
	}
	if c.Endpoint == "" {
		c.Endpoint = cliutil.Env("CLASSIFIER_ENDPOINT")
	}
	if c.EndpointToken == "" {
		c.EndpointToken = cliutil.Env("CLASSIFIER_TOKEN", "HF_TOKEN")
	}
	return c
}
