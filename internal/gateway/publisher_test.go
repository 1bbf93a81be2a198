package gateway

import (
	"testing"
	"time"

	"github.com/jotalabs/infergate/internal/telemetry"
)

type fixedSampler struct {
	snap telemetry.Snapshot
}

func (s *fixedSampler) Sample() telemetry.Snapshot { return s.snap }

func testBuild() MetricsMessage {
	return MetricsMessage{Inference: InferenceMetrics{TotalSessions: 3}}
}

// drainMetrics reads messages from the conn's send channel until timeout,
// returning the metrics messages seen.
func drainMetrics(c *conn, d time.Duration) []MetricsMessage {
	var out []MetricsMessage
	deadline := time.After(d)
	for {
		select {
		case msg := <-c.send:
			if m, ok := msg.(MetricsMessage); ok {
				out = append(out, m)
			}
		case <-deadline:
			return out
		}
	}
}

func TestPublisherDeliversOnInterval(t *testing.T) {
	c := newConn("c1")
	sampler := &fixedSampler{snap: telemetry.Snapshot{
		GPU:  telemetry.GPUStats{Temp: 61, VRAMTotalMB: 8192},
		Host: telemetry.HostStats{MemTotalMB: 4096, MemUsedMB: 1024},
	}}
	p := newPublisher(sampler, 10*time.Millisecond, testBuild)
	defer p.Stop()

	if !p.Subscribe(c) {
		t.Fatalf("first Subscribe returned false")
	}
	if p.Subscribe(c) {
		t.Fatalf("second Subscribe should report already armed")
	}

	got := drainMetrics(c, 100*time.Millisecond)
	if len(got) < 2 {
		t.Fatalf("expected at least 2 metrics messages, got %d", len(got))
	}
	m := got[0]
	if m.Op != OpMetrics {
		t.Fatalf("op = %q, want %q", m.Op, OpMetrics)
	}
	if m.Timestamp <= 0 {
		t.Fatalf("timestamp not set: %d", m.Timestamp)
	}
	if m.GPU.VRAMTotalMB != 8192 || m.Host.MemTotalMB != 4096 {
		t.Fatalf("sampler snapshot not carried: %+v", m)
	}
	if m.Inference.TotalSessions != 3 {
		t.Fatalf("inference block not carried: %+v", m.Inference)
	}
}

func TestPublisherUnsubscribeSuppressesDelivery(t *testing.T) {
	c := newConn("c1")
	p := newPublisher(&fixedSampler{}, 10*time.Millisecond, testBuild)
	defer p.Stop()

	if !p.Subscribe(c) {
		t.Fatalf("Subscribe returned false")
	}
	if len(drainMetrics(c, 50*time.Millisecond)) == 0 {
		t.Fatalf("no metrics delivered while armed")
	}
	if !p.Unsubscribe() {
		t.Fatalf("Unsubscribe returned false while armed")
	}
	if p.Unsubscribe() {
		t.Fatalf("Unsubscribe should report already disarmed")
	}
	// Anything already queued was enqueued before Unsubscribe returned.
	drainMetrics(c, 5*time.Millisecond)
	if got := drainMetrics(c, 60*time.Millisecond); len(got) != 0 {
		t.Fatalf("metrics delivered after Unsubscribe: %d", len(got))
	}
}

func TestPublisherResubscribe(t *testing.T) {
	c := newConn("c1")
	p := newPublisher(&fixedSampler{}, 10*time.Millisecond, testBuild)
	defer p.Stop()

	p.Subscribe(c)
	p.Unsubscribe()
	if !p.Subscribe(c) {
		t.Fatalf("re-Subscribe after Unsubscribe returned false")
	}
	if len(drainMetrics(c, 60*time.Millisecond)) == 0 {
		t.Fatalf("no metrics delivered after re-subscribe")
	}
}

func TestPublisherStopWaitsForTicker(t *testing.T) {
	c := newConn("c1")
	p := newPublisher(&fixedSampler{}, 5*time.Millisecond, testBuild)
	p.Subscribe(c)
	p.Stop()
	drainMetrics(c, 5*time.Millisecond)
	if got := drainMetrics(c, 30*time.Millisecond); len(got) != 0 {
		t.Fatalf("metrics delivered after Stop: %d", len(got))
	}
}
