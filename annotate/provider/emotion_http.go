package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/chat-emotions/annotate"
	"github.com/theimaginaryfoundation/chat-emotions/annotate/fileutils"
)

const defaultHTTPTimeout = 120 * time.Second

// HTTPClassifier calls a text-classification inference endpoint (Hugging Face
// Inference API / text-embeddings-inference style) with a batch of inputs.
type HTTPClassifier struct {
	Endpoint string
	Token    string
	Client   *http.Client
	// Labels restricts predictions to this set when non-empty.
	Labels []annotate.Label
}

// HTTPOption configures an HTTPClassifier.
type HTTPOption func(*HTTPClassifier)

// WithLabels keeps only candidates in labels; the best-scoring one wins.
func WithLabels(labels []annotate.Label) HTTPOption {
	return func(c *HTTPClassifier) { c.Labels = labels }
}

type inferenceRequest struct {
	Inputs     []string            `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	Truncation bool `json:"truncation"`
	Padding    bool `json:"padding"`
}

type scoredLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewHTTPClassifier builds an HTTPClassifier for endpoint.
func NewHTTPClassifier(endpoint, token string, opts ...HTTPOption) (*HTTPClassifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("NewHTTPClassifier: endpoint is empty")
	}
	c := &HTTPClassifier{
		Endpoint: endpoint,
		Token:    strings.TrimSpace(token),
		Client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify implements annotate.Classifier. The endpoint is asked to truncate
// and pad internally with its own tokenizer; the top-scoring label of each
// input wins.
func (c *HTTPClassifier) Classify(ctx context.Context, texts []string) ([]annotate.Prediction, error) {
	if len(texts) == 0 {
		return []annotate.Prediction{}, nil
	}

	body, err := json.Marshal(inferenceRequest{
		Inputs:     texts,
		Parameters: inferenceParameters{Truncation: true, Padding: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, fileutils.Truncate(string(b), 200))
	}

	preds, err := decodeInferenceResponse(b, c.Labels)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLabelCount, len(preds), len(texts))
	}
	return preds, nil
}

// decodeInferenceResponse accepts either one label per input
// ([{"label","score"}, ...]) or all scores per input ([[{"label","score"}, ...], ...]).
// A non-empty labels set drops every candidate outside it.
func decodeInferenceResponse(b []byte, labels []annotate.Label) ([]annotate.Prediction, error) {
	var allowed map[annotate.Label]struct{}
	if len(labels) > 0 {
		allowed = make(map[annotate.Label]struct{}, len(labels))
		for _, l := range labels {
			allowed[l] = struct{}{}
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]annotate.Prediction, 0, len(items))
	for i, raw := range items {
		raw = bytes.TrimSpace(raw)
		var candidates []scoredLabel
		switch {
		case len(raw) > 0 && raw[0] == '[':
			if err := json.Unmarshal(raw, &candidates); err != nil {
				return nil, fmt.Errorf("decode response item %d: %w", i, err)
			}
		case len(raw) > 0 && raw[0] == '{':
			var one scoredLabel
			if err := json.Unmarshal(raw, &one); err != nil {
				return nil, fmt.Errorf("decode response item %d: %w", i, err)
			}
			candidates = []scoredLabel{one}
		default:
			return nil, fmt.Errorf("decode response item %d: unexpected JSON %q", i, string(raw))
		}

		best, ok := topLabel(candidates, allowed)
		if !ok {
			if allowed != nil && len(candidates) > 0 {
				return nil, fmt.Errorf("%w: response item %d has no candidate in the label set", ErrUnknownLabel, i)
			}
			return nil, fmt.Errorf("decode response item %d: no labels", i)
		}
		out = append(out, annotate.Prediction{Label: best.label, Score: best.score})
	}
	return out, nil
}

type rankedLabel struct {
	label annotate.Label
	score float64
}

func topLabel(candidates []scoredLabel, allowed map[annotate.Label]struct{}) (rankedLabel, bool) {
	var best rankedLabel
	found := false
	for _, c := range candidates {
		l := annotate.Label(strings.ToLower(strings.TrimSpace(c.Label)))
		if l == "" {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[l]; !ok {
				continue
			}
		}
		if !found || c.Score > best.score {
			best = rankedLabel{label: l, score: c.Score}
			found = true
		}
	}
	return best, found
}
