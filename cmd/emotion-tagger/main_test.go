package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/store"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/tokenize"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("emotion-tagger", flag.ContinueOnError)
	cfg, err := parseFlags(fs, nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.InputPath == "" || cfg.OutputPath == "" {
		t.Fatalf("expected default paths, got in=%q out=%q", cfg.InputPath, cfg.OutputPath)
	}
	if cfg.Format != annotate.FormatCSV {
		t.Fatalf("Format=%q, want csv", cfg.Format)
	}
	if cfg.BatchSize != 32 || cfg.MaxTokens != 512 || cfg.MinWords != 4 || cfg.Language != "en" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MessageType != "message" || cfg.Backend != backendOpenAI {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Encoding != "" || cfg.Languages != "" || cfg.LowAccuracy {
		t.Fatalf("encoding=%q languages=%q low=%v, want backend/all-language defaults", cfg.Encoding, cfg.Languages, cfg.LowAccuracy)
	}
}

func TestDefaultEncoding(t *testing.T) {
	t.Parallel()

	if got := defaultEncoding(backendOpenAI); got != tokenize.O200KBase {
		t.Fatalf("openai encoding=%q, want %q", got, tokenize.O200KBase)
	}
	if got := defaultEncoding(backendHTTP); got != tokenize.DefaultEncoding {
		t.Fatalf("http encoding=%q, want %q", got, tokenize.DefaultEncoding)
	}
}

func TestNewTokenizer_ExplicitEncoding(t *testing.T) {
	t.Parallel()

	tok, err := newTokenizer(Config{Backend: backendOpenAI, Encoding: tokenize.DefaultEncoding}, zap.NewNop())
	if err != nil {
		t.Fatalf("newTokenizer: %v", err)
	}
	if len(tok.Encode("hello there")) == 0 {
		t.Fatalf("no tokens")
	}

	if _, err := newTokenizer(Config{Backend: backendHTTP, Encoding: "no_such_encoding"}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for an unknown explicit encoding")
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("emotion-tagger", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{
		"-in", "a/b/result.json",
		"-out", "x/y/labels.jsonl",
		"-backend", "HTTP",
		"-endpoint", "http://localhost:8080",
		"-batch-size", "8",
		"-max-tokens", "128",
		"-min-words", "3",
		"-labels", "joy,fear",
		"-array-field", "chats",
		"-dry-run",
		"-overwrite",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.InputPath != filepath.FromSlash("a/b/result.json") {
		t.Fatalf("InputPath=%q", cfg.InputPath)
	}
	if cfg.Format != annotate.FormatJSONL {
		t.Fatalf("Format=%q, want jsonl from extension", cfg.Format)
	}
	if cfg.Backend != backendHTTP || cfg.Endpoint != "http://localhost:8080" {
		t.Fatalf("backend=%q endpoint=%q", cfg.Backend, cfg.Endpoint)
	}
	if cfg.BatchSize != 8 || cfg.MaxTokens != 128 || cfg.MinWords != 3 {
		t.Fatalf("sizes=%d/%d/%d", cfg.BatchSize, cfg.MaxTokens, cfg.MinWords)
	}
	if cfg.Labels != "joy,fear" || cfg.ArrayField != "chats" || !cfg.DryRun || !cfg.Overwrite {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestParseFlags_ConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tagger.yml")
	yml := "model: from-file\nbatch-size: 4\nlanguages: [en, de, fr]\nformat: sqlite\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := flag.NewFlagSet("emotion-tagger", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-config", path, "-batch-size", "16"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Model != "from-file" {
		t.Fatalf("Model=%q, want from-file", cfg.Model)
	}
	if cfg.BatchSize != 16 {
		t.Fatalf("BatchSize=%d, want command-line value 16", cfg.BatchSize)
	}
	if cfg.Languages != "en,de,fr" {
		t.Fatalf("Languages=%q", cfg.Languages)
	}
	if cfg.Format != annotate.FormatSQLite {
		t.Fatalf("Format=%q, want sqlite", cfg.Format)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := defaultConfig()
	valid.Format = annotate.FormatCSV
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(*Config){
		"missing in":     func(c *Config) { c.InputPath = "" },
		"missing out":    func(c *Config) { c.OutputPath = "" },
		"bad format":     func(c *Config) { c.Format = "xml" },
		"bad backend":    func(c *Config) { c.Backend = "grpc" },
		"missing model":  func(c *Config) { c.Model = "" },
		"http no url":    func(c *Config) { c.Backend = backendHTTP },
		"zero batch":     func(c *Config) { c.BatchSize = 0 },
		"zero tokens":    func(c *Config) { c.MaxTokens = 0 },
		"zero words":     func(c *Config) { c.MinWords = 0 },
		"bad log level":  func(c *Config) { c.LogLevel = "chatty" },
		"empty language": func(c *Config) { c.Language = "" },
	}
	for name, mutate := range cases {
		c := valid
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	dry := valid
	dry.Model = ""
	dry.DryRun = true
	if err := dry.Validate(); err != nil {
		t.Fatalf("dry run without model: %v", err)
	}
}

func TestConfig_WithEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CLASSIFIER_ENDPOINT", "http://env")
	t.Setenv("CLASSIFIER_TOKEN", "tok")

	cfg := Config{APIKey: "sk-flag"}.withEnv()
	if cfg.APIKey != "sk-flag" {
		t.Fatalf("APIKey=%q, flag must win", cfg.APIKey)
	}
	if cfg.Endpoint != "http://env" || cfg.EndpointToken != "tok" {
		t.Fatalf("endpoint=%q token=%q", cfg.Endpoint, cfg.EndpointToken)
	}
}

func TestDetectorLanguages(t *testing.T) {
	t.Parallel()

	if got := detectorLanguages(Config{Language: "en"}); got != nil {
		t.Fatalf("default candidates=%q, want nil (all languages)", got)
	}

	got := detectorLanguages(Config{Language: "en", Languages: "de,fr"})
	want := []string{"en", "de", "fr"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

const testExport = `{
  "name": "Friends",
  "type": "personal_chat",
  "messages": [
    {"id": 1, "type": "service", "date": "2024-01-01T10:00:00", "text": "Alice joined the group"},
    {"id": 2, "type": "message", "date": "2024-01-01T10:01:00", "from": "Alice", "text": "I am so happy that we finally finished the project together!"},
    {"id": 3, "type": "message", "date": "2024-01-01T10:02:00", "from": "Bob", "text": "ok"},
    {"id": 4, "type": "message", "date": "2024-01-01T10:03:00", "from": "Bob",
     "text": [{"type": "plain", "text": "Look at "}, {"type": "link", "text": "https://example.com"}, " this terrible traffic jam near my house today."]}
  ]
}`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(path, []byte(testExport), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func testConfig(t *testing.T, out string) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.InputPath = writeExport(t)
	cfg.OutputPath = out
	cfg.Format = annotate.FormatFromPath(out)
	cfg.Languages = "en,de,fr"
	cfg.Encoding = tokenize.DefaultEncoding
	return cfg
}

func TestRun_DryRunCSV(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "emotions.csv")
	cfg := testConfig(t, out)
	cfg.DryRun = true

	stats, err := run(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Messages != 3 {
		t.Fatalf("Messages=%d, want 3 text messages", stats.Messages)
	}

	got, err := annotate.ReadResults(out, annotate.FormatCSV)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results=%+v, want 2", got)
	}
	if got[0].MessageID != 2 || got[1].MessageID != 4 {
		t.Fatalf("message ids=%d,%d", got[0].MessageID, got[1].MessageID)
	}
	if got[0].Emotion != "" {
		t.Fatalf("dry run emotion=%q, want empty", got[0].Emotion)
	}
	if _, err := os.Stat(annotate.StatsPath(out)); err != nil {
		t.Fatalf("stats sidecar: %v", err)
	}

	if _, err := run(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error when output exists without -overwrite")
	}
}

func TestRun_HTTPBackendSQLite(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]map[string]any, len(req.Inputs))
		for i := range req.Inputs {
			out[i] = []map[string]any{
				{"label": "Joy", "score": 0.8},
				{"label": "neutral", "score": 0.2},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "emotions.db")
	cfg := testConfig(t, out)
	cfg.Backend = backendHTTP
	cfg.Endpoint = srv.URL

	stats, err := run(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Labelled != 2 || stats.Unknown != 0 {
		t.Fatalf("labelled=%d unknown=%d", stats.Labelled, stats.Unknown)
	}

	db, err := store.OpenSQLite(context.Background(), out)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	got, err := db.LatestLabels(context.Background(), sourceName(cfg.InputPath))
	if err != nil {
		t.Fatalf("LatestLabels: %v", err)
	}
	if len(got) != 2 || got[0].Emotion != "joy" || got[1].Emotion != "joy" {
		t.Fatalf("labels=%+v", got)
	}
}

func TestRun_HTTPBackendHonoursLabels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]map[string]any, len(req.Inputs))
		for i := range req.Inputs {
			out[i] = []map[string]any{
				{"label": "admiration", "score": 0.7},
				{"label": "joy", "score": 0.2},
				{"label": "neutral", "score": 0.1},
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	out := filepath.Join(t.TempDir(), "emotions.jsonl")
	cfg := testConfig(t, out)
	cfg.Backend = backendHTTP
	cfg.Endpoint = srv.URL
	cfg.Labels = "joy,neutral"

	if _, err := run(context.Background(), cfg, zap.NewNop()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := annotate.ReadResults(out, annotate.FormatJSONL)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got) != 2 || got[0].Emotion != "joy" || got[1].Emotion != "joy" {
		t.Fatalf("results=%+v, want joy from the configured label set", got)
	}
}
