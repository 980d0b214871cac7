package annotate

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultMinWords is the smallest cleaned sentence length that is kept.
	DefaultMinWords = 4
	// DefaultLanguage is the language sentences must be detected as.
	DefaultLanguage = "en"
)

// SentenceFilter keeps the sentences of a text that are long enough and in
// the target language.
type SentenceFilter struct {
	Segmenter Segmenter
	Detector  LanguageDetector

	// MinWords is the minimum word count of a cleaned sentence (defaults to 4).
	MinWords int
	// Language is the required detected language code (defaults to "en").
	Language string

	Logger *zap.Logger
}

// FilterStats counts what happened to the sentences of one or more texts.
type FilterStats struct {
	Sentences     int `json:"sentences"`
	Kept          int `json:"kept"`
	TooShort      int `json:"too_short"`
	OtherLanguage int `json:"other_language"`
	Indeterminate int `json:"indeterminate_language"`
}

// Add accumulates o into s.
func (s *FilterStats) Add(o FilterStats) {
	s.Sentences += o.Sentences
	s.Kept += o.Kept
	s.TooShort += o.TooShort
	s.OtherLanguage += o.OtherLanguage
	s.Indeterminate += o.Indeterminate
}

// Filter returns the surviving cleaned sentences of text joined by single
// spaces, or "" when none survive.
func (f SentenceFilter) Filter(text string) string {
	out, _ := f.FilterWithStats(text)
	return out
}

// FilterWithStats is Filter plus per-sentence accounting.
func (f SentenceFilter) FilterWithStats(text string) (string, FilterStats) {
	var st FilterStats
	if strings.TrimSpace(text) == "" {
		return "", st
	}

	minWords := f.MinWords
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	lang := strings.ToLower(strings.TrimSpace(f.Language))
	if lang == "" {
		lang = DefaultLanguage
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kept := make([]string, 0, 4)
	for _, sentence := range f.Segmenter.Segment(text) {
		st.Sentences++

		cleaned := Clean(sentence)
		if wordCount(cleaned) < minWords {
			st.TooShort++
			continue
		}

		det := f.Detector.Detect(cleaned)
		switch {
		case !det.Known():
			st.Indeterminate++
			logger.Debug("sentence dropped", zap.String("reason", "indeterminate_language"), zap.Int("words", wordCount(cleaned)))
			continue
		case !det.Is(lang):
			st.OtherLanguage++
			logger.Debug("sentence dropped", zap.String("reason", "other_language"), zap.String("language", det.Code()))
			continue
		}

		st.Kept++
		kept = append(kept, cleaned)
	}
	return strings.Join(kept, " "), st
}
