package trace

import "time"

// Summary aggregates statistics from a Trace.
type Summary struct {
	Total               int
	Succeeded           int
	Failed              int
	TotalBytes          int64
	MeanDuration        time.Duration
	MaxDuration         time.Duration
	BackendDistribution map[string]int // backend name → conversions attempted
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	summary := &Summary{
		BackendDistribution: make(map[string]int),
	}
	records := t.Records()
	if len(records) == 0 {
		return summary
	}

	var total time.Duration
	for _, r := range records {
		summary.Total++
		summary.BackendDistribution[r.Backend]++
		if r.OK() {
			summary.Succeeded++
			summary.TotalBytes += r.Bytes
		} else {
			summary.Failed++
		}
		total += r.Duration
		if r.Duration > summary.MaxDuration {
			summary.MaxDuration = r.Duration
		}
	}
	summary.MeanDuration = total / time.Duration(len(records))

	return summary
}
