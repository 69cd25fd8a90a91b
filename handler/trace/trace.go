package trace

import "sync"

// Trace collects conversion records. Safe for concurrent use.
type Trace struct {
	mu      sync.Mutex
	records []Record
}

// New creates a Trace ready for recording.
func New() *Trace {
	return &Trace{records: make([]Record, 0)}
}

// Record appends a conversion record. Recording on a nil Trace is a no-op.
func (t *Trace) Record(r Record) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
}

// Records returns a copy of the collected records in recording order.
func (t *Trace) Records() []Record {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}
