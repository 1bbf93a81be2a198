package gateway

import (
	"sync"
	"time"

	"github.com/jotalabs/infergate/internal/telemetry"
)

// publisher drives the per-connection metrics push. It is armed by
// subscribe_metrics and disarmed by unsubscribe_metrics or connection
// teardown. Ticks and disarm race by design; the mutex around delivery
// guarantees that once Unsubscribe returns, no further metrics message is
// enqueued, even one already in flight.
type publisher struct {
	sampler  telemetry.Sampler
	interval time.Duration
	build    func() MetricsMessage

	mu      sync.Mutex
	armed   bool
	stop    chan struct{}
	stopped sync.WaitGroup
}

func newPublisher(sampler telemetry.Sampler, interval time.Duration, build func() MetricsMessage) *publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &publisher{sampler: sampler, interval: interval, build: build}
}

// Subscribe arms the timer. It reports false when already armed.
func (p *publisher) Subscribe(c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		return false
	}
	p.armed = true
	p.stop = make(chan struct{})
	stop := p.stop
	p.stopped.Add(1)
	go p.run(c, stop)
	return true
}

// Unsubscribe disarms the timer. After it returns no metrics message is
// delivered until the next Subscribe.
func (p *publisher) Unsubscribe() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return false
	}
	p.armed = false
	close(p.stop)
	return true
}

// Stop disarms on connection teardown and waits for the tick goroutine.
func (p *publisher) Stop() {
	p.mu.Lock()
	if p.armed {
		p.armed = false
		close(p.stop)
	}
	p.mu.Unlock()
	p.stopped.Wait()
}

func (p *publisher) run(c *conn, stop chan struct{}) {
	defer p.stopped.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg := p.build()
			msg.Op = OpMetrics
			msg.Timestamp = time.Now().UnixMilli()
			if p.sampler != nil {
				snap := p.sampler.Sample()
				msg.GPU = snap.GPU
				msg.Host = snap.Host
			}
			// Deliver under the lock so a disarm processed between the tick
			// and this point suppresses the message.
			p.mu.Lock()
			if p.armed {
				c.enqueue(msg)
			}
			p.mu.Unlock()
		}
	}
}
