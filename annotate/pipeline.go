package annotate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options tunes a Pipeline. Zero values select the defaults.
type Options struct {
	BatchSize int
	MaxTokens int
	MinWords  int
	Language  string

	// MessageType keeps only messages of this type; "" keeps all. Callers that
	// already filtered at read time can leave it empty.
	MessageType string

	// SkipClassification stops after truncation and leaves Emotion empty.
	SkipClassification bool

	// RunID is copied into the run stats.
	RunID string
}

// TextRecord pairs a working string with its source message.
type TextRecord struct {
	Index   int
	Message Message
	Text    string
}

// Pipeline runs extract, filter, truncate and classify over a set of messages.
// Capabilities are constructed by the caller and only read here.
type Pipeline struct {
	Segmenter  Segmenter
	Detector   LanguageDetector
	Tokenizer  Tokenizer
	Classifier Classifier
	Logger     *zap.Logger
	Options    Options
}

// Run labels msgs and returns the surviving messages in input order.
// Data problems never fail a run: empty texts are dropped and failed batches
// are labelled LabelUnknown.
func (p *Pipeline) Run(ctx context.Context, msgs []Message) (ResultSet, error) {
	if ctx == nil {
		return ResultSet{}, fmt.Errorf("Pipeline.Run: ctx is nil")
	}
	if err := p.check(); err != nil {
		return ResultSet{}, err
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := p.Options
	stats := RunStats{RunID: opts.RunID, StartedAt: time.Now().UTC(), Messages: len(msgs)}

	records := make([]TextRecord, 0, len(msgs))
	for i, m := range msgs {
		if opts.MessageType != "" && m.Type != opts.MessageType {
			stats.SkippedType++
			continue
		}
		text := ExtractText(m)
		if text == "" {
			stats.EmptyAfterExtract++
			continue
		}
		records = append(records, TextRecord{Index: i, Message: m, Text: text})
	}

	filter := SentenceFilter{
		Segmenter: p.Segmenter,
		Detector:  p.Detector,
		MinWords:  opts.MinWords,
		Language:  opts.Language,
		Logger:    logger,
	}
	filtered := make([]TextRecord, 0, len(records))
	for _, r := range records {
		text, st := filter.FilterWithStats(r.Text)
		stats.Sentences.Add(st)
		if text == "" {
			stats.EmptyAfterFilter++
			continue
		}
		r.Text = text
		filtered = append(filtered, r)
	}

	texts := make([]string, len(filtered))
	for i := range filtered {
		out, cut := truncate(p.Tokenizer, filtered[i].Text, opts.MaxTokens)
		if cut {
			stats.Truncated++
		}
		filtered[i].Text = out
		texts[i] = out
	}

	logger.Info("preprocessing complete",
		zap.Int("messages", stats.Messages),
		zap.Int("extracted", len(records)),
		zap.Int("kept", len(filtered)),
		zap.Int("sentences", stats.Sentences.Sentences),
		zap.Int("sentences_kept", stats.Sentences.Kept),
		zap.Int("truncated", stats.Truncated),
	)

	var labels []Label
	if opts.SkipClassification {
		labels = make([]Label, len(texts))
	} else {
		var outcomes []BatchOutcome
		labels, outcomes = classifyBatches(ctx, p.Classifier, texts, opts.BatchSize, logger)
		stats.Batches = len(outcomes)
		for _, o := range outcomes {
			if o.Err != nil {
				stats.FailedBatches++
			}
		}
	}

	results := make([]Result, len(filtered))
	for i, r := range filtered {
		results[i] = Result{
			Index:     r.Index,
			MessageID: r.Message.ID,
			Date:      messageDate(r.Message),
			From:      r.Message.From,
			Text:      r.Text,
			Emotion:   labels[i],
		}
		switch labels[i] {
		case LabelUnknown:
			stats.Unknown++
		case "":
		default:
			stats.Labelled++
		}
	}
	stats.FinishedAt = time.Now().UTC()

	logger.Info("pipeline complete",
		zap.Int("results", len(results)),
		zap.Int("batches", stats.Batches),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Int("unknown", stats.Unknown),
		zap.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)),
	)
	return NewResultSet(results, stats), nil
}

func (p *Pipeline) check() error {
	switch {
	case p.Segmenter == nil:
		return fmt.Errorf("Pipeline.Run: segmenter: %w", ErrNilCapability)
	case p.Detector == nil:
		return fmt.Errorf("Pipeline.Run: language detector: %w", ErrNilCapability)
	case p.Tokenizer == nil:
		return fmt.Errorf("Pipeline.Run: tokenizer: %w", ErrNilCapability)
	case p.Classifier == nil && !p.Options.SkipClassification:
		return fmt.Errorf("Pipeline.Run: classifier: %w", ErrNilCapability)
	}
	return nil
}
