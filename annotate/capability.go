package annotate

import (
	"context"
	"errors"
)

// ErrNilCapability is returned when a Pipeline is run without one of its capabilities.
var ErrNilCapability = errors.New("annotate: capability is nil")

// Segmenter splits text into sentences.
type Segmenter interface {
	Segment(text string) []string
}

// LanguageDetector identifies the language of a piece of text.
type LanguageDetector interface {
	Detect(text string) Detection
}

// Tokenizer converts between text and model token ids.
// Decode must drop tokenizer control tokens.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// Prediction is one classifier output.
type Prediction struct {
	Label Label   `json:"label"`
	Score float64 `json:"score,omitempty"`
}

// Classifier labels a batch of texts. It returns one prediction per input, in input order.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Prediction, error)
}

// Detection is the outcome of language detection: either a detected language
// code or Indeterminate.
type Detection struct {
	code string
}

// Indeterminate is the Detection for text whose language could not be decided.
var Indeterminate = Detection{}

// Detected returns a Detection for an ISO 639-1 style code such as "en".
func Detected(code string) Detection {
	return Detection{code: code}
}

// Code returns the detected language code, or "" when indeterminate.
func (d Detection) Code() string { return d.code }

// Known reports whether a language was detected.
func (d Detection) Known() bool { return d.code != "" }

// Is reports whether a language was detected and equals code.
func (d Detection) Is(code string) bool {
	return d.code != "" && d.code == code
}

func (d Detection) String() string {
	if d.code == "" {
		return "indeterminate"
	}
	return d.code
}
