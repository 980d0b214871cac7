package annotate

import "time"

// Result is one labelled message.
type Result struct {
	// Index is the message's position in the pipeline input.
	Index     int    `json:"index"`
	MessageID int64  `json:"message_id"`
	Date      string `json:"date,omitempty"`
	From      string `json:"from,omitempty"`
	Text      string `json:"text"`
	Emotion   Label  `json:"emotion"`
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Messages          int `json:"messages"`
	SkippedType       int `json:"skipped_type"`
	EmptyAfterExtract int `json:"empty_after_extract"`
	EmptyAfterFilter  int `json:"empty_after_filter"`
	Truncated         int `json:"truncated"`

	Sentences FilterStats `json:"sentences"`

	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Unknown       int `json:"unknown"`
	Labelled      int `json:"labelled"`
}

// ResultSet is the immutable output of a pipeline run.
type ResultSet struct {
	results []Result
	stats   RunStats
}

// NewResultSet copies results into a new ResultSet.
func NewResultSet(results []Result, stats RunStats) ResultSet {
	cp := make([]Result, len(results))
	copy(cp, results)
	return ResultSet{results: cp, stats: stats}
}

// Len returns the number of results.
func (rs ResultSet) Len() int { return len(rs.results) }

// At returns the i-th result.
func (rs ResultSet) At(i int) Result { return rs.results[i] }

// Results returns a copy of the results in input order.
func (rs ResultSet) Results() []Result {
	cp := make([]Result, len(rs.results))
	copy(cp, rs.results)
	return cp
}

// Stats returns the run statistics.
func (rs ResultSet) Stats() RunStats { return rs.stats }
