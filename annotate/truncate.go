package annotate

import "strings"

// DefaultMaxTokens is the classifier's input token budget.
const DefaultMaxTokens = 512

// Truncate clips text so that tok encodes it to at most max tokens.
// Text that already fits is returned unchanged; max <= 0 means DefaultMaxTokens.
//
// The decoded prefix is re-encoded before it is returned: BPE merges across the
// cut, or a multi-byte rune split by it, can make decode(ids[:n]) encode to more
// than n ids, so the prefix shrinks until the round trip fits.
func Truncate(tok Tokenizer, text string, max int) string {
	out, _ := truncate(tok, text, max)
	return out
}

func truncate(tok Tokenizer, text string, max int) (string, bool) {
	if max <= 0 {
		max = DefaultMaxTokens
	}
	ids := tok.Encode(text)
	if len(ids) <= max {
		return text, false
	}

	for n := max; n > 0; n-- {
		out := strings.ToValidUTF8(tok.Decode(ids[:n]), "")
		out = strings.TrimSpace(out)
		if len(tok.Encode(out)) <= max {
			return out, true
		}
	}
	return "", true
}
