package annotate

import (
	"context"
	"errors"
	"testing"
)

func newTestPipeline(c Classifier, opts Options) *Pipeline {
	return &Pipeline{
		Segmenter:  periodSegmenter{},
		Detector:   &wordListDetector{},
		Tokenizer:  newWordTokenizer(),
		Classifier: c,
		Options:    opts,
	}
}

func testMessages() []Message {
	return []Message{
		{ID: 1, Type: "message", From: "Ann", Date: "d1", Text: PlainText("I am so glad you came to the party!")},
		{ID: 2, Type: "service", Text: PlainText("Ann pinned a message in the chat")},
		{ID: 3, Type: "message", From: "Bob", Text: PlainText("ok")},
		{ID: 4, Type: "message", From: "Bob", Text: FragmentText(Fragment{Text: "This is "}, Fragment{Type: "bold", Text: "absolutely"}, Fragment{Text: " terrible news."})},
		{ID: 5, Type: "message", From: "Cy", Text: Text{}},
		{ID: 6, Type: "message", From: "Cy", Text: PlainText("Das ist der beste Tag.")},
		{ID: 7, Type: "message", From: "Ann", Text: PlainText("See you all at the station tomorrow morning.")},
	}
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	c := &scriptedClassifier{label: "joy"}
	p := newTestPipeline(c, Options{MessageType: "message", BatchSize: 2})
	rs, err := p.Run(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantIDs := []int64{1, 4, 7}
	if rs.Len() != len(wantIDs) {
		t.Fatalf("results=%+v", rs.Results())
	}
	for i, id := range wantIDs {
		r := rs.At(i)
		if r.MessageID != id || r.Emotion != "joy" {
			t.Fatalf("result %d=%+v, want message %d labelled joy", i, r, id)
		}
	}
	if rs.At(0).Index != 0 || rs.At(1).Index != 3 || rs.At(2).Index != 6 {
		t.Fatalf("indices=%d,%d,%d", rs.At(0).Index, rs.At(1).Index, rs.At(2).Index)
	}
	if rs.At(1).Text != "this is absolutely terrible news" {
		t.Fatalf("text=%q", rs.At(1).Text)
	}

	st := rs.Stats()
	if st.Messages != 7 || st.SkippedType != 1 || st.EmptyAfterExtract != 1 || st.EmptyAfterFilter != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Batches != 2 || st.FailedBatches != 0 || st.Labelled != 3 || st.Unknown != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Sentences.OtherLanguage != 1 || st.Sentences.TooShort != 1 {
		t.Fatalf("sentence stats=%+v", st.Sentences)
	}
	if st.FinishedAt.Before(st.StartedAt) {
		t.Fatalf("finished before started: %+v", st)
	}
}

func TestPipeline_EmptyAfterFilterIsAbsent(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&scriptedClassifier{label: "joy"}, Options{})
	rs, err := p.Run(context.Background(), []Message{
		{ID: 1, Type: "message", Text: PlainText("Hi there.")},
		{ID: 2, Type: "message", Text: PlainText("We are finally going on holiday next week.")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Len() != 1 || rs.At(0).MessageID != 2 {
		t.Fatalf("results=%+v", rs.Results())
	}
}

func TestPipeline_FailedBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	msgs := make([]Message, 6)
	for i := range msgs {
		msgs[i] = Message{ID: int64(i + 1), Type: "message", Text: PlainText("this sentence is long enough to keep")}
	}
	c := &scriptedClassifier{label: "sadness", fail: map[int]bool{0: true}}
	p := newTestPipeline(c, Options{BatchSize: 3})
	rs, err := p.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < rs.Len(); i++ {
		r := rs.At(i)
		if r.MessageID != int64(i+1) {
			t.Fatalf("order broken at %d: %+v", i, r)
		}
		want := Label("sadness")
		if i < 3 {
			want = LabelUnknown
		}
		if r.Emotion != want {
			t.Fatalf("result %d emotion=%q, want %q", i, r.Emotion, want)
		}
	}
	if st := rs.Stats(); st.FailedBatches != 1 || st.Unknown != 3 || st.Labelled != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestPipeline_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&scriptedClassifier{label: "joy"}, Options{MaxTokens: 4})
	rs, err := p.Run(context.Background(), []Message{
		{ID: 1, Type: "message", Text: PlainText("this message has many more words than the budget allows")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Len() != 1 || rs.At(0).Text != "this message has many" {
		t.Fatalf("results=%+v", rs.Results())
	}
	if rs.Stats().Truncated != 1 {
		t.Fatalf("truncated=%d", rs.Stats().Truncated)
	}
}

func TestPipeline_SkipClassification(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(nil, Options{SkipClassification: true, RunID: "run-1"})
	rs, err := p.Run(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range rs.Results() {
		if r.Emotion != "" {
			t.Fatalf("emotion=%q, want empty", r.Emotion)
		}
	}
	if rs.Stats().RunID != "run-1" || rs.Stats().Batches != 0 {
		t.Fatalf("stats=%+v", rs.Stats())
	}
}

func TestPipeline_NilCapabilities(t *testing.T) {
	t.Parallel()

	cases := map[string]*Pipeline{
		"segmenter":  {Detector: &wordListDetector{}, Tokenizer: newWordTokenizer(), Classifier: &scriptedClassifier{}},
		"detector":   {Segmenter: periodSegmenter{}, Tokenizer: newWordTokenizer(), Classifier: &scriptedClassifier{}},
		"tokenizer":  {Segmenter: periodSegmenter{}, Detector: &wordListDetector{}, Classifier: &scriptedClassifier{}},
		"classifier": {Segmenter: periodSegmenter{}, Detector: &wordListDetector{}, Tokenizer: newWordTokenizer()},
	}
	for name, p := range cases {
		if _, err := p.Run(context.Background(), nil); !errors.Is(err, ErrNilCapability) {
			t.Fatalf("%s: err=%v, want ErrNilCapability", name, err)
		}
	}
}

func TestPipeline_NoMessages(t *testing.T) {
	t.Parallel()

	c := &scriptedClassifier{label: "joy"}
	rs, err := newTestPipeline(c, Options{}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rs.Len() != 0 || c.Calls() != 0 {
		t.Fatalf("len=%d calls=%d", rs.Len(), c.Calls())
	}
}

func TestResultSet_IsACopy(t *testing.T) {
	t.Parallel()

	in := []Result{{Index: 0, Emotion: "joy"}}
	rs := NewResultSet(in, RunStats{})
	in[0].Emotion = "anger"
	if rs.At(0).Emotion != "joy" {
		t.Fatalf("ResultSet shares caller slice")
	}
	out := rs.Results()
	out[0].Emotion = "fear"
	if rs.At(0).Emotion != "joy" {
		t.Fatalf("Results() exposes internal slice")
	}
}
