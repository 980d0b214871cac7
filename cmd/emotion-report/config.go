package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/internal/cliutil"
)

type Config struct {
	InputPath  string
	OutputPath string
	Format     string
	Source     string
	Pretty     bool
	Overwrite  bool
	LogLevel   string
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
	if _, err := cliutil.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath: filepath.FromSlash("export/emotions.csv"),
		LogLevel:  "info",
	}
}

// reportPath is the default report location next to the results file.
func reportPath(in string) string {
	return in + ".report.json"
}
