package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSimEchoesPrompt(t *testing.T) {
	e := NewSim(0, 0)
	g, err := e.Prepare(context.Background(), "hola mundo otra vez", Params{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer g.Close()

	var b strings.Builder
	for {
		tok, done, err := g.Step(context.Background())
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		b.WriteString(tok)
		if done {
			break
		}
	}
	if b.String() != "hola mundo otra vez" {
		t.Fatalf("unexpected output %q", b.String())
	}
}

func TestSimHonorsMaxTokens(t *testing.T) {
	e := NewSim(0, 0)
	g, err := e.Prepare(context.Background(), "uno dos tres cuatro", Params{MaxTokens: 2})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer g.Close()

	count := 0
	for {
		tok, done, err := g.Step(context.Background())
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if tok != "" {
			count++
		}
		if done {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 tokens, got %d", count)
	}
}

func TestSimSlotExhaustion(t *testing.T) {
	e := NewSim(0, 1)
	g, err := e.Prepare(context.Background(), "a b", Params{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := e.Prepare(context.Background(), "c d", Params{}); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	g.Close()
	g2, err := e.Prepare(context.Background(), "c d", Params{})
	if err != nil {
		t.Fatalf("prepare after release: %v", err)
	}
	g2.Close()
}

func TestSimStepCancellation(t *testing.T) {
	e := NewSim(0, 0)
	g, err := e.Prepare(context.Background(), "a b c", Params{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
