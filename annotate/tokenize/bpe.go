// Package tokenize provides a byte-pair-encoding annotate.Tokenizer.
package tokenize

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	// DefaultEncoding is the BPE vocabulary used when none is configured.
	DefaultEncoding = "cl100k_base"
	// O200KBase is the gpt-4o / gpt-5 vocabulary. It is not embedded and is
	// downloaded on first use into tiktoken's cache (TIKTOKEN_CACHE_DIR).
	O200KBase = "o200k_base"
)

var specialTokens = []string{
	"<|endoftext|>",
	"<|fim_prefix|>",
	"<|fim_middle|>",
	"<|fim_suffix|>",
	"<|endofprompt|>",
}

var installLoader sync.Once

// embeddedFirstLoader serves the vocabularies shipped with tiktoken-go-loader
// and falls back to tiktoken's downloading, caching loader for the rest.
type embeddedFirstLoader struct {
	embedded tiktoken.BpeLoader
	remote   tiktoken.BpeLoader
}

func (l embeddedFirstLoader) LoadTiktokenBpe(file string) (map[string]int, error) {
	ranks, err := l.embedded.LoadTiktokenBpe(file)
	if err == nil {
		return ranks, nil
	}
	ranks, rerr := l.remote.LoadTiktokenBpe(file)
	if rerr != nil {
		return nil, fmt.Errorf("not embedded (%v) and download failed: %w", err, rerr)
	}
	return ranks, nil
}

// BPE wraps a tiktoken encoding. Special-token text is encoded as ordinary
// text and special-token ids are dropped on decode.
type BPE struct {
	enc     *tiktoken.Tiktoken
	special map[int]struct{}
}

// NewBPE loads encoding (DefaultEncoding when empty). Embedded vocabularies
// need no network access; others are fetched once and cached.
func NewBPE(encoding string) (*BPE, error) {
	encoding = strings.TrimSpace(encoding)
	if encoding == "" {
		encoding = DefaultEncoding
	}
	installLoader.Do(func() {
		tiktoken.SetBpeLoader(embeddedFirstLoader{
			embedded: tiktoken_loader.NewOfflineLoader(),
			remote:   tiktoken.NewDefaultBpeLoader(),
		})
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("NewBPE: %s: %w", encoding, err)
	}

	special := make(map[int]struct{})
	for _, s := range specialTokens {
		if ids := enc.Encode(s, []string{"all"}, nil); len(ids) == 1 {
			special[ids[0]] = struct{}{}
		}
	}
	return &BPE{enc: enc, special: special}, nil
}

// Encode implements annotate.Tokenizer.
func (b *BPE) Encode(text string) []int {
	return b.enc.Encode(text, nil, nil)
}

// Decode implements annotate.Tokenizer.
func (b *BPE) Decode(ids []int) string {
	kept := ids
	for i, id := range ids {
		if _, ok := b.special[id]; ok {
			kept = make([]int, 0, len(ids))
			kept = append(kept, ids[:i]...)
			for _, id := range ids[i+1:] {
				if _, ok := b.special[id]; !ok {
					kept = append(kept, id)
				}
			}
			break
		}
	}
	return b.enc.Decode(kept)
}
