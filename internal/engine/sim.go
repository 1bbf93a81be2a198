package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

const simDefaultMaxTokens = 64

// Sim is a model-free engine used by the default binary and in tests. It
// echoes the prompt back one whitespace token at a time, sleeping StepDelay
// per decode step to approximate model latency.
type Sim struct {
	StepDelay time.Duration
	Slots     int // max concurrent generations; 0 means unlimited

	mu   sync.Mutex
	used int
}

func NewSim(stepDelay time.Duration, slots int) *Sim {
	return &Sim{StepDelay: stepDelay, Slots: slots}
}

func (e *Sim) Prepare(_ context.Context, prompt string, p Params) (Generation, error) {
	e.mu.Lock()
	if e.Slots > 0 && e.used >= e.Slots {
		e.mu.Unlock()
		return nil, ErrExhausted
	}
	e.used++
	e.mu.Unlock()

	words := strings.Fields(prompt)
	max := p.MaxTokens
	if max <= 0 || max > len(words) {
		max = len(words)
	}
	if max > simDefaultMaxTokens {
		max = simDefaultMaxTokens
	}
	return &simGeneration{engine: e, words: words[:max], delay: e.StepDelay}, nil
}

type simGeneration struct {
	engine *Sim
	words  []string
	pos    int
	delay  time.Duration
	closed bool
}

func (g *simGeneration) Step(ctx context.Context) (string, bool, error) {
	if g.pos >= len(g.words) {
		return "", true, nil
	}
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(g.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return "", false, err
	}
	tok := g.words[g.pos]
	if g.pos > 0 {
		tok = " " + tok
	}
	g.pos++
	return tok, g.pos >= len(g.words), nil
}

func (g *simGeneration) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.engine.mu.Lock()
	g.engine.used--
	g.engine.mu.Unlock()
}
