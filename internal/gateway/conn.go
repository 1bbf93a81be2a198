package gateway

import (
	"sync"

	"github.com/jotalabs/infergate/internal/auth"
	"github.com/jotalabs/infergate/internal/session"
)

// conn is the per-socket state. The connection's writer goroutine is the
// sole writer to the socket; every other goroutine enqueues through send.
type conn struct {
	id string

	send chan any
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	principal *auth.Principal
	implicit  *session.Session
}

func newConn(id string) *conn {
	return &conn{
		id:   id,
		send: make(chan any, 64),
		done: make(chan struct{}),
	}
}

// enqueue hands a message to the writer. It never blocks past connection
// teardown, so stream consumers cannot wedge on a dead socket.
func (c *conn) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

// shutdown releases every goroutine blocked on the connection.
func (c *conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) bind(p auth.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal != nil {
		return false
	}
	c.principal = &p
	return true
}

// authed returns the bound principal, or nil before authentication.
func (c *conn) authed() *auth.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// setImplicit records the connection's default session, used when infer is
// issued without a session_id. The session is registry-backed so it counts
// against the principal's quota like any other.
func (c *conn) setImplicit(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.implicit = s
}

// takeImplicit returns the implicit session if it exists, without creating
// one.
func (c *conn) takeImplicit() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.implicit
}
