package annotate

import "strings"

// ExtractText flattens a message's text payload into a single string.
// Fragments are concatenated in order with no separator.
func ExtractText(m Message) string {
	switch m.Text.Kind {
	case TextPlain:
		return m.Text.Plain
	case TextFragments:
		if len(m.Text.Fragments) == 0 {
			return ""
		}
		var b strings.Builder
		for _, f := range m.Text.Fragments {
			b.WriteString(f.Text)
		}
		return b.String()
	default:
		return ""
	}
}
