// Package stats accumulates per-request generation counters and derives
// completion statistics: token count, tokens per second and time to first
// token.
package stats

import "time"

// Stats is the summary attached to a stream's terminal end event.
type Stats struct {
	Tokens  int     `json:"tokens"`
	TPS     float64 `json:"tps"`
	TTFTMs  int64   `json:"ttft_ms"`
	TotalMs int64   `json:"total_ms"`
}

// Tracker times a single generation from dispatch to completion.
type Tracker struct {
	now        func() time.Time
	dispatched time.Time
	firstToken time.Time
	tokens     int
}

// NewTracker starts the clock at request dispatch.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.dispatched = t.now()
	return t
}

// Token records one delivered token; the first call pins the TTFT mark.
func (t *Tracker) Token() {
	if t.tokens == 0 {
		t.firstToken = t.now()
	}
	t.tokens++
}

// Tokens returns the number of tokens recorded so far.
func (t *Tracker) Tokens() int { return t.tokens }

// Finish computes the final statistics. Zero-token or zero-duration
// completions yield a TPS of 0 rather than an error.
func (t *Tracker) Finish() Stats {
	end := t.now()
	s := Stats{
		Tokens:  t.tokens,
		TotalMs: end.Sub(t.dispatched).Milliseconds(),
	}
	genStart := t.dispatched
	if !t.firstToken.IsZero() {
		s.TTFTMs = t.firstToken.Sub(t.dispatched).Milliseconds()
		genStart = t.firstToken
	}
	if window := end.Sub(genStart).Seconds(); window > 0 && t.tokens > 0 {
		s.TPS = float64(t.tokens) / window
	}
	return s
}
