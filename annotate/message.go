package annotate

import (
	"bytes"
	"encoding/json"
)

// Message is one record of a chat export. Only the fields the pipeline (and its
// outputs) need are kept; everything else in the export is ignored.
type Message struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	Date         string `json:"date,omitempty"`
	DateUnixtime string `json:"date_unixtime,omitempty"`
	From         string `json:"from,omitempty"`
	FromID       string `json:"from_id,omitempty"`
	Text         Text   `json:"text"`
}

// TextKind discriminates the shapes a message text payload can take.
type TextKind int

const (
	// TextNone means the payload was missing, null, or not a string/array.
	TextNone TextKind = iota
	// TextPlain is a single string payload.
	TextPlain
	// TextFragments is an ordered list of rich-text fragments.
	TextFragments
)

func (k TextKind) String() string {
	switch k {
	case TextPlain:
		return "plain"
	case TextFragments:
		return "fragments"
	default:
		return "none"
	}
}

// Fragment is a sub-unit of rich text. Exports mix bare strings with typed
// objects ({"type": "bold", "text": "..."}); bare strings decode with Type "plain".
type Fragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text is the message text payload, resolved once at decode time.
type Text struct {
	Kind      TextKind
	Plain     string
	Fragments []Fragment
}

// PlainText builds a TextPlain payload.
func PlainText(s string) Text {
	return Text{Kind: TextPlain, Plain: s}
}

// FragmentText builds a TextFragments payload.
func FragmentText(frags ...Fragment) Text {
	return Text{Kind: TextFragments, Fragments: frags}
}

// UnmarshalJSON resolves the payload shape. Unsupported shapes decode to
// TextNone rather than failing the enclosing message.
func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*t = PlainText(s)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		frags := make([]Fragment, 0, len(raw))
		for _, r := range raw {
			if f, ok := decodeFragment(r); ok {
				frags = append(frags, f)
			}
		}
		*t = FragmentText(frags...)
	}
	return nil
}

// MarshalJSON writes the payload back in export shape.
func (t Text) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TextPlain:
		return json.Marshal(t.Plain)
	case TextFragments:
		out := make([]any, 0, len(t.Fragments))
		for _, f := range t.Fragments {
			if f.Type == "" || f.Type == "plain" {
				out = append(out, f.Text)
				continue
			}
			out = append(out, f)
		}
		return json.Marshal(out)
	default:
		return []byte("null"), nil
	}
}

func decodeFragment(r json.RawMessage) (Fragment, bool) {
	r = bytes.TrimSpace(r)
	if len(r) == 0 {
		return Fragment{}, false
	}
	switch r[0] {
	case '"':
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return Fragment{}, false
		}
		return Fragment{Type: "plain", Text: s}, true
	case '{':
		var probe struct {
			Type string          `json:"type"`
			Text json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(r, &probe); err != nil {
			return Fragment{}, false
		}
		var s string
		if err := json.Unmarshal(probe.Text, &s); err != nil {
			// Object without a usable string text attribute contributes nothing.
			s = ""
		}
		return Fragment{Type: probe.Type, Text: s}, true
	default:
		return Fragment{}, false
	}
}
