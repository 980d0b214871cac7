package annotate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultMessageType is the discriminator value of text-bearing export records.
const DefaultMessageType = "message"

// ReadOptions controls how ReadExport locates and filters export records.
type ReadOptions struct {
	// ArrayField is the JSON field name that contains the message array,
	// when the top-level JSON value is an object.
	//
	// If empty, "messages" is preferred and otherwise the first array-valued
	// field is treated as the message array.
	ArrayField string

	// MessageType keeps only records whose "type" equals this value.
	// If empty, every record is kept.
	MessageType string
}

// ReadStats counts the records seen while decoding an export.
type ReadStats struct {
	// Records is every element of the message array.
	Records int
	// Skipped elements were not message objects and were dropped.
	Skipped int
	// Filtered elements had a different "type" than ReadOptions.MessageType.
	Filtered int
}

// ReadExport reads a chat export from path. See DecodeExport.
func ReadExport(ctx context.Context, path string, opts ReadOptions) ([]Message, ReadStats, error) {
	if path == "" {
		return nil, ReadStats{}, errors.New("ReadExport: path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("ReadExport: open input: %w", err)
	}
	defer f.Close()

	msgs, stats, err := DecodeExport(ctx, bufio.NewReaderSize(f, 1<<20), opts)
	if err != nil {
		return nil, stats, fmt.Errorf("ReadExport: %w", err)
	}
	return msgs, stats, nil
}

// DecodeExport decodes the message records of a chat export.
//
// The input is expected to be either:
// - a top-level JSON array: [ { ...message... }, ... ]
// - a top-level JSON object containing an array field (e.g. { "name": "...", "messages": [ ... ] })
//
// Records are decoded one at a time with a streaming decoder. Elements that
// are valid JSON but do not decode as a message (a bare string, an "id" that
// is not an integer, ...) are skipped and counted; only malformed JSON fails
// the read.
func DecodeExport(ctx context.Context, r io.Reader, opts ReadOptions) ([]Message, ReadStats, error) {
	if ctx == nil {
		return nil, ReadStats{}, errors.New("DecodeExport: ctx is nil")
	}
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("DecodeExport: read first token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, ReadStats{}, fmt.Errorf("DecodeExport: expected JSON array/object, got %T", tok)
	}

	switch delim {
	case '[':
		out, stats, err := decodeArrayFromOpen(ctx, dec, opts)
		if err != nil {
			return nil, stats, err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, stats, err
		}
		return out, stats, nil
	case '{':
		return decodeObject(ctx, dec, opts)
	default:
		return nil, ReadStats{}, fmt.Errorf("DecodeExport: unsupported top-level delimiter %q", delim)
	}
}

func decodeObject(ctx context.Context, dec *json.Decoder, opts ReadOptions) ([]Message, ReadStats, error) {
	field := opts.ArrayField
	if field == "" {
		field = "messages"
	}

	var (
		out      []Message
		stats    ReadStats
		found    bool // an array has been taken, named or fallback
		named    bool // the named field has been taken
		fallback bool // the taken array is a fallback with at least one message object
	)
	for dec.More() {
		select {
		case <-ctx.Done():
			return nil, stats, ctx.Err()
		default:
		}

		keyTok, err := dec.Token()
		if err != nil {
			return nil, stats, fmt.Errorf("DecodeExport: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, stats, fmt.Errorf("DecodeExport: expected string key, got %T", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, stats, fmt.Errorf("DecodeExport: read value token for key %q: %w", key, err)
		}

		d, isArray := valTok.(json.Delim)
		isArray = isArray && d == '['
		isNamed := !named && key == field
		// Without an explicit -array-field, an array holding message objects
		// stands in until a "messages" field shows up. Arrays of strings or
		// numbers ("tags", "members" ids) never win the fallback.
		isFallback := !isNamed && !named && !fallback && opts.ArrayField == "" && isArray

		if isNamed || isFallback {
			if !isArray {
				return nil, stats, fmt.Errorf("DecodeExport: key %q was chosen as array but value isn't an array", key)
			}
			msgs, st, err := decodeArrayFromOpen(ctx, dec, opts)
			if err != nil {
				return nil, st, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, st, err
			}
			if isNamed || st.Records > st.Skipped {
				out, stats, found = msgs, st, true
				named = isNamed
				fallback = !isNamed
			}
			continue
		}

		if err := skipValue(dec, valTok); err != nil {
			return nil, stats, fmt.Errorf("DecodeExport: skip key %q value: %w", key, err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, stats, err
	}
	if !found {
		return nil, stats, errors.New("DecodeExport: no message array found in top-level object")
	}
	return out, stats, nil
}

func decodeArrayFromOpen(ctx context.Context, dec *json.Decoder, opts ReadOptions) ([]Message, ReadStats, error) {
	out := []Message{}
	var stats ReadStats
	for i := 0; dec.More(); i++ {
		select {
		case <-ctx.Done():
			return nil, stats, ctx.Err()
		default:
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, stats, fmt.Errorf("DecodeExport: read element %d: %w", i, err)
		}
		stats.Records++

		var m Message
		if !isJSONObject(raw) || json.Unmarshal(raw, &m) != nil {
			stats.Skipped++
			continue
		}
		if opts.MessageType != "" && m.Type != opts.MessageType {
			stats.Filtered++
			continue
		}
		out = append(out, m)
	}
	return out, stats, nil
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("DecodeExport: read closing %q token: %w", want, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("DecodeExport: expected closing %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder, first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok {
		// Primitive (string/number/bool/null): already fully consumed.
		return nil
	}

	switch d {
	case '{', '[':
	default:
		return fmt.Errorf("skipValue: unexpected delimiter %q", d)
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
