// Package engine defines the boundary to the shared token generation
// backend. The gateway never reaches into engine state directly; the
// scheduler owns the handle and drives decoding step by step.
package engine

import (
	"context"
	"errors"
)

// ErrExhausted is returned by Prepare when the engine has no capacity
// (context slots, batch memory) for another generation.
var ErrExhausted = errors.New("engine: resources exhausted")

// Params carries generation options. They are opaque to the gateway and
// passed through to the backend.
type Params struct {
	Temp      float64 `json:"temp,omitempty"`
	MaxTokens int     `json:"max_tokens,omitempty"`
}

// Generation is one in-progress decode. Step is called repeatedly by the
// scheduler; it must honor ctx cancellation at step boundaries.
type Generation interface {
	Step(ctx context.Context) (token string, done bool, err error)
	Close()
}

// Engine prepares new generations against the shared backend.
type Engine interface {
	Prepare(ctx context.Context, prompt string, p Params) (Generation, error)
}
