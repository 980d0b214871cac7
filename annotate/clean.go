package annotate

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	urlPattern     = regexp.MustCompile(`(?i)\b(?:http|www)\S+`)
	nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	digitPattern   = regexp.MustCompile(`\p{Nd}+`)
)

// Clean normalizes raw message text for classification.
//
// URLs go first: stripping non-word characters before them would leave
// fragments such as "example com" behind.
func Clean(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = nonWordPattern.ReplaceAllString(s, " ")
	s = digitPattern.ReplaceAllString(s, "")
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
