package annotate

import (
	"sort"
	"strings"
)

// LabelCount is how often one label occurred.
type LabelCount struct {
	Label Label   `json:"label"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// SenderEmotions is the label breakdown of one sender.
type SenderEmotions struct {
	From     string       `json:"from"`
	Total    int          `json:"total"`
	Dominant Label        `json:"dominant,omitempty"`
	Labels   []LabelCount `json:"labels"`
}

// EmotionReport summarizes the labels of a result set.
type EmotionReport struct {
	Total        int              `json:"total"`
	Unknown      int              `json:"unknown"`
	UnknownShare float64          `json:"unknown_share"`
	Labels       []LabelCount     `json:"labels"`
	Senders      []SenderEmotions `json:"senders,omitempty"`
}

// BuildEmotionReport counts labels overall and per sender. Label counts are
// ordered by count (descending) then label; senders by total then name.
// Unlabelled results are ignored.
func BuildEmotionReport(results []Result) EmotionReport {
	overall := make(map[Label]int)
	perSender := make(map[string]map[Label]int)
	var rep EmotionReport

	for _, r := range results {
		if r.Emotion == "" {
			continue
		}
		rep.Total++
		if r.Emotion == LabelUnknown {
			rep.Unknown++
		}
		overall[r.Emotion]++

		from := strings.TrimSpace(r.From)
		if from == "" {
			from = "unknown"
		}
		m := perSender[from]
		if m == nil {
			m = make(map[Label]int)
			perSender[from] = m
		}
		m[r.Emotion]++
	}
	if rep.Total > 0 {
		rep.UnknownShare = float64(rep.Unknown) / float64(rep.Total)
	}
	rep.Labels = sortedCounts(overall, rep.Total)

	for from, m := range perSender {
		total := 0
		for _, n := range m {
			total += n
		}
		se := SenderEmotions{From: from, Total: total, Labels: sortedCounts(m, total)}
		for _, lc := range se.Labels {
			if lc.Label != LabelUnknown {
				se.Dominant = lc.Label
				break
			}
		}
		rep.Senders = append(rep.Senders, se)
	}
	sort.Slice(rep.Senders, func(i, j int) bool {
		if rep.Senders[i].Total != rep.Senders[j].Total {
			return rep.Senders[i].Total > rep.Senders[j].Total
		}
		return rep.Senders[i].From < rep.Senders[j].From
	})
	return rep
}

func sortedCounts(m map[Label]int, total int) []LabelCount {
	out := make([]LabelCount, 0, len(m))
	for l, n := range m {
		lc := LabelCount{Label: l, Count: n}
		if total > 0 {
			lc.Share = float64(n) / float64(total)
		}
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
