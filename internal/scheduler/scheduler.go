// Package scheduler owns the shared inference engine and interleaves
// decoding across concurrently running sessions. All access to the engine
// goes through Submit; nothing else touches engine state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jotalabs/infergate/internal/engine"
	"github.com/jotalabs/infergate/internal/logx"
	"github.com/jotalabs/infergate/internal/stats"
)

// ErrQueueFull is returned when the bounded admission queue is at capacity.
var ErrQueueFull = errors.New("scheduler: admission queue full")

// defaultStallTimeout bounds how long the decode loop waits on one stream
// whose buffer is full before treating the consumer as gone. Without the
// bound, a single reader that stops draining would park the loop and starve
// every other active generation.
const defaultStallTimeout = 5 * time.Second

// EventType discriminates stream events.
type EventType int

const (
	EventToken EventType = iota
	EventError
	EventEnd
)

// Event is one item on a request's output stream. A stream is zero or more
// token events, at most one error event, and exactly one terminal end event
// carrying the request's statistics, in that order. A stream abandoned
// because its consumer stopped draining is closed without the events it
// could not accept.
type Event struct {
	Type      EventType
	SessionID string
	Token     string
	Stats     stats.Stats
	Code      string
	Err       error
}

// Error codes carried on error events.
const (
	CodeEngineExhausted = "engine_exhausted"
	CodeEngineFailure   = "engine_failure"
)

type task struct {
	ctx       context.Context
	sessionID string
	prompt    string
	params    engine.Params
	out       chan Event
	gen       engine.Generation
	tracker   *stats.Tracker
	stalled   bool
}

// Scheduler runs a single goroutine that round-robins one decode step per
// active generation per pass, so every session makes visible progress while
// the engine executes only one step at a time.
type Scheduler struct {
	eng          engine.Engine
	submitCh     chan *task
	stopCh       chan struct{}
	doneCh       chan struct{}
	stopOnce     sync.Once
	stallTimeout time.Duration

	mu          sync.Mutex
	activeCount int
	totalTokens int64
	lastStats   stats.Stats
}

// New creates a scheduler with the given bounded admission queue depth.
// Start must be called before Submit.
func New(eng engine.Engine, queueDepth int) *Scheduler {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &Scheduler{
		eng:          eng,
		submitCh:     make(chan *task, queueDepth),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		stallTimeout: defaultStallTimeout,
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop terminates the loop. In-flight generations receive their end event.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Submit enqueues a generation request and returns its event stream. The
// stream is closed after the terminal end event. Submit fails fast with
// ErrQueueFull instead of queueing without bound.
func (s *Scheduler) Submit(ctx context.Context, sessionID, prompt string, p engine.Params) (<-chan Event, error) {
	t := &task{
		ctx:       ctx,
		sessionID: sessionID,
		prompt:    prompt,
		params:    p,
		out:       make(chan Event, 32),
		tracker:   stats.NewTracker(),
	}
	select {
	case s.submitCh <- t:
		return t.out, nil
	default:
		return nil, ErrQueueFull
	}
}

// ActiveGenerations reports the number of generations currently decoding.
func (s *Scheduler) ActiveGenerations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// TotalTokens reports tokens generated since startup.
func (s *Scheduler) TotalTokens() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTokens
}

// LastStats returns the statistics of the most recently finished generation.
func (s *Scheduler) LastStats() stats.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	var active []*task
	for {
		if len(active) == 0 {
			select {
			case <-s.stopCh:
				s.shutdown(active)
				return
			case t := <-s.submitCh:
				if at := s.admit(t); at != nil {
					active = append(active, at)
				}
			}
			continue
		}

		// Pick up pending submissions without blocking the decode loop.
	drain:
		for {
			select {
			case <-s.stopCh:
				s.shutdown(active)
				return
			case t := <-s.submitCh:
				if at := s.admit(t); at != nil {
					active = append(active, at)
				}
			default:
				break drain
			}
		}

		// One decode step per active generation, round robin.
		remaining := active[:0]
		for _, t := range active {
			if s.step(t) {
				remaining = append(remaining, t)
			}
		}
		active = remaining
	}
}

// shutdown terminates every active generation and any submission still
// queued, so no stream is left open.
func (s *Scheduler) shutdown(active []*task) {
	for _, t := range active {
		s.finish(t, "", nil)
	}
	for {
		select {
		case t := <-s.submitCh:
			s.finish(t, "", nil)
		default:
			return
		}
	}
}

// admit prepares engine state for a task. It returns nil when the task
// terminated at admission (cancelled or engine out of capacity).
func (s *Scheduler) admit(t *task) *task {
	if err := t.ctx.Err(); err != nil {
		s.finish(t, "", nil)
		return nil
	}
	gen, err := s.eng.Prepare(t.ctx, t.prompt, t.params)
	if err != nil {
		code := CodeEngineFailure
		if errors.Is(err, engine.ErrExhausted) {
			code = CodeEngineExhausted
		}
		logx.Log.Warn().Str("session_id", t.sessionID).Err(err).Msg("generation rejected at admission")
		s.finish(t, code, err)
		return nil
	}
	t.gen = gen
	s.mu.Lock()
	s.activeCount++
	s.mu.Unlock()
	return t
}

// step advances one generation by a single token. It reports whether the
// task remains active.
func (s *Scheduler) step(t *task) bool {
	tok, done, err := t.gen.Step(t.ctx)
	if err != nil {
		if t.ctx.Err() != nil {
			// Cooperative cancellation: terminate with stats, no error.
			s.finish(t, "", nil)
		} else {
			logx.Log.Error().Str("session_id", t.sessionID).Err(err).Msg("decode step failed")
			s.finish(t, CodeEngineFailure, err)
		}
		return false
	}
	if tok != "" {
		t.tracker.Token()
		s.mu.Lock()
		s.totalTokens++
		s.mu.Unlock()
		s.emit(t, Event{Type: EventToken, SessionID: t.sessionID, Token: tok})
		if t.stalled {
			logx.Log.Warn().Str("session_id", t.sessionID).Msg("stream consumer stalled, abandoning generation")
			s.finish(t, "", nil)
			return false
		}
	}
	if done {
		s.finish(t, "", nil)
		return false
	}
	return true
}

// finish emits the optional error event and the terminal end event, then
// closes the stream and releases engine state.
func (s *Scheduler) finish(t *task, code string, err error) {
	if t.gen != nil {
		t.gen.Close()
		s.mu.Lock()
		s.activeCount--
		s.mu.Unlock()
	}
	if err != nil {
		s.emit(t, Event{Type: EventError, SessionID: t.sessionID, Code: code, Err: err})
	}
	st := t.tracker.Finish()
	s.mu.Lock()
	s.lastStats = st
	s.mu.Unlock()
	s.emit(t, Event{Type: EventEnd, SessionID: t.sessionID, Stats: st})
	close(t.out)
}

// emit delivers an event in stream order without wedging the decode loop.
// A consumer that cancelled drops token events and observes the end at the
// next step boundary; a consumer whose buffer stays full past stallTimeout
// is marked stalled and its generation is abandoned. Terminal events get the
// same bounded wait, so one dead reader can never park every other session.
func (s *Scheduler) emit(t *task, ev Event) {
	select {
	case t.out <- ev:
		return
	default:
	}
	if t.stalled {
		return
	}
	timer := time.NewTimer(s.stallTimeout)
	defer timer.Stop()
	if ev.Type == EventToken {
		select {
		case t.out <- ev:
		case <-t.ctx.Done():
			// Dropped; the task observes cancellation at the next step
			// boundary.
		case <-timer.C:
			t.stalled = true
		}
		return
	}
	select {
	case t.out <- ev:
	case <-timer.C:
		t.stalled = true
	}
}
