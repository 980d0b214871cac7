// Package segment splits text into sentences with a Punkt tokenizer.
package segment

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Punkt segments English text with github.com/neurosnap/sentences.
type Punkt struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

// NewPunkt loads the bundled English training data.
func NewPunkt() (*Punkt, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("NewPunkt: %w", err)
	}
	return &Punkt{tokenizer: tok}, nil
}

// Segment implements annotate.Segmenter. Blank sentences are dropped.
func (p *Punkt) Segment(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, s := range p.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
