// Package langdetect adapts the lingua language detector to annotate.LanguageDetector.
package langdetect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
)

// DefaultMinRelativeDistance keeps lingua from guessing between close candidates
// on very short input; such input comes back Indeterminate.
const DefaultMinRelativeDistance = 0.1

// Lingua detects languages with github.com/pemistahl/lingua-go.
type Lingua struct {
	detector lingua.LanguageDetector
}

// Options configures NewLingua.
type Options struct {
	// Languages are ISO 639-1 codes, BCP 47 tags or English language names.
	// Empty means every language lingua supports.
	Languages []string
	// MinRelativeDistance is lingua's minimum relative distance (0..0.99).
	MinRelativeDistance float64
	// LowAccuracy trades accuracy on short text for a smaller memory footprint.
	LowAccuracy bool
}

// NewLingua builds a detector over opts.Languages, or over all languages
// when none are given.
func NewLingua(opts Options) (*Lingua, error) {
	if opts.MinRelativeDistance < 0 || opts.MinRelativeDistance > 0.99 {
		return nil, fmt.Errorf("NewLingua: min relative distance %v out of range [0,0.99]", opts.MinRelativeDistance)
	}

	var builder lingua.LanguageDetectorBuilder
	if len(opts.Languages) == 0 {
		builder = lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	} else {
		langs, err := ParseLanguages(opts.Languages)
		if err != nil {
			return nil, fmt.Errorf("NewLingua: %w", err)
		}
		if len(langs) < 2 {
			return nil, errors.New("NewLingua: at least two candidate languages are required")
		}
		builder = lingua.NewLanguageDetectorBuilder().FromLanguages(langs...)
	}

	builder = builder.WithMinimumRelativeDistance(opts.MinRelativeDistance)
	if opts.LowAccuracy {
		builder = builder.WithLowAccuracyMode()
	}
	return &Lingua{detector: builder.Build()}, nil
}

// Detect implements annotate.LanguageDetector.
func (l *Lingua) Detect(text string) annotate.Detection {
	if strings.TrimSpace(text) == "" {
		return annotate.Indeterminate
	}
	lang, ok := l.detector.DetectLanguageOf(text)
	if !ok || lang == lingua.Unknown {
		return annotate.Indeterminate
	}
	return annotate.Detected(Code(lang))
}

// Code is the lower-case ISO 639-1 code of lang.
func Code(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_1().String())
}

// ParseLanguages resolves names to lingua languages, dropping duplicates.
func ParseLanguages(names []string) ([]lingua.Language, error) {
	var out []lingua.Language
	seen := make(map[lingua.Language]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		lang, err := parseLanguage(name)
		if err != nil {
			return nil, err
		}
		if seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out, nil
}

func parseLanguage(name string) (lingua.Language, error) {
	for _, lang := range lingua.AllLanguages() {
		if strings.EqualFold(lang.String(), name) {
			return lang, nil
		}
	}

	tag, err := language.Parse(name)
	if err != nil {
		return lingua.Unknown, fmt.Errorf("unknown language %q: %w", name, err)
	}
	base, _ := tag.Base()
	code := base.String()
	for _, lang := range lingua.AllLanguages() {
		if Code(lang) == code {
			return lang, nil
		}
	}
	return lingua.Unknown, fmt.Errorf("language %q is not supported by the detector", name)
}
