package annotate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of texts sent to the classifier per call.
const DefaultBatchSize = 32

// Label is an emotion label.
type Label string

// LabelUnknown marks texts whose batch could not be classified.
const LabelUnknown Label = "UNKNOWN"

// DefaultLabels is the label set of the seven-class English emotion models
// (Ekman's six basic emotions plus neutral).
var DefaultLabels = []Label{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"}

// ParseLabels parses a comma-separated label list, trimming and lower-casing entries.
func ParseLabels(s string) []Label {
	var out []Label
	seen := make(map[Label]struct{})
	for _, p := range strings.Split(s, ",") {
		l := Label(strings.ToLower(strings.TrimSpace(p)))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// BatchOutcome describes how one batch went.
type BatchOutcome struct {
	Index int
	Start int
	End   int // exclusive
	Err   error
}

// ClassifyBatches labels texts in consecutive batches of size (<= 0 means
// DefaultBatchSize). A batch whose classification fails, panics, or returns the
// wrong number of predictions is labelled LabelUnknown throughout; other
// batches are unaffected. The result always has len(texts) labels.
func ClassifyBatches(ctx context.Context, c Classifier, texts []string, size int, logger *zap.Logger) []Label {
	labels, _ := classifyBatches(ctx, c, texts, size, logger)
	return labels
}

func classifyBatches(ctx context.Context, c Classifier, texts []string, size int, logger *zap.Logger) ([]Label, []BatchOutcome) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	labels := make([]Label, len(texts))
	outcomes := make([]BatchOutcome, 0, (len(texts)+size-1)/size)
	for start, bi := 0, 0; start < len(texts); start, bi = start+size, bi+1 {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			var preds []Prediction
			preds, err = classifyOne(ctx, c, batch)
			if err == nil {
				for i, p := range preds {
					labels[start+i] = p.Label
				}
			}
		}

		if err != nil {
			for i := start; i < end; i++ {
				labels[i] = LabelUnknown
			}
			logger.Warn("batch classification failed",
				zap.Int("batch", bi),
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Error(err),
			)
		} else {
			logger.Debug("batch classified", zap.Int("batch", bi), zap.Int("size", len(batch)))
		}
		outcomes = append(outcomes, BatchOutcome{Index: bi, Start: start, End: end, Err: err})
	}
	return labels, outcomes
}

func classifyOne(ctx context.Context, c Classifier, batch []string) (preds []Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			preds = nil
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	preds, err = c.Classify(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(batch) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d texts", len(preds), len(batch))
	}
	for i, p := range preds {
		if strings.TrimSpace(string(p.Label)) == "" {
			return nil, fmt.Errorf("classifier returned empty label at position %d", i)
		}
	}
	return preds, nil
}
