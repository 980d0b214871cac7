package annotate

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// periodSegmenter splits on '.', '!' and '?'.
type periodSegmenter struct{}

func (periodSegmenter) Segment(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// wordListDetector reports "de" when a German marker word is present, nothing
// when an "xx" marker is present, and "en" otherwise.
type wordListDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *wordListDetector) Detect(text string) Detection {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	for _, w := range strings.Fields(text) {
		switch w {
		case "der", "und", "ist":
			return Detected("de")
		case "xx":
			return Indeterminate
		}
	}
	return Detected("en")
}

func (d *wordListDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// wordTokenizer maps every whitespace-separated word to one id.
type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: make(map[string]int)}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.vocab[f]
		if !ok {
			id = len(w.words)
			w.vocab[f] = id
			w.words = append(w.words, f)
		}
		ids[i] = id
	}
	return ids
}

func (w *wordTokenizer) Decode(ids []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(w.words) {
			out = append(out, w.words[id])
		}
	}
	return strings.Join(out, " ")
}

// byteTokenizer encodes every byte as one id, so decoding a cut prefix can
// split a multi-byte rune.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids
}

func (byteTokenizer) Decode(ids []int) string {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b)
}

var errScripted = errors.New("scripted batch failure")

// scriptedClassifier labels every text with label and fails or panics on
// chosen call numbers (0-based).
type scriptedClassifier struct {
	label   Label
	fail    map[int]bool
	panicOn map[int]bool
	short   map[int]bool

	mu    sync.Mutex
	calls int
	sizes []int
}

func (s *scriptedClassifier) Classify(_ context.Context, texts []string) ([]Prediction, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.sizes = append(s.sizes, len(texts))
	s.mu.Unlock()

	if s.panicOn[n] {
		panic("model exploded")
	}
	if s.fail[n] {
		return nil, errScripted
	}
	out := make([]Prediction, len(texts))
	for i := range out {
		out[i] = Prediction{Label: s.label, Score: 0.9}
	}
	if s.short[n] && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *scriptedClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
