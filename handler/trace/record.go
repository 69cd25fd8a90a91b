// Package trace records the outcome of each photo conversion for run summaries.
// This package has no dependencies on handler/ or handler/backend/ — it stores pure data types.
package trace

import "time"

// Record captures a single Make3DImage call.
type Record struct {
	JobID    string
	Photo    string
	Backend  string
	Output   string
	Bytes    int64 // size of the written output; 0 on failure
	Started  time.Time
	Duration time.Duration
	Err      string // empty on success
}

// OK reports whether the conversion succeeded.
func (r Record) OK() bool {
	return r.Err == ""
}
