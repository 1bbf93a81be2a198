package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jotalabs/infergate/internal/auth"
	"github.com/jotalabs/infergate/internal/logx"
	"github.com/jotalabs/infergate/internal/metrics"
	"github.com/jotalabs/infergate/internal/scheduler"
	"github.com/jotalabs/infergate/internal/session"
	"github.com/jotalabs/infergate/internal/telemetry"
)

// writeTimeout bounds a single outbound socket write.
const writeTimeout = 10 * time.Second

// Server wires the per-connection protocol to the shared authenticator,
// session registry, scheduler and telemetry sampler.
type Server struct {
	auth     *auth.Authenticator
	registry *session.Registry
	sched    *scheduler.Scheduler
	sampler  telemetry.Sampler
	interval time.Duration
	start    time.Time
}

func NewServer(a *auth.Authenticator, reg *session.Registry, sched *scheduler.Scheduler, sampler telemetry.Sampler, metricsInterval time.Duration) *Server {
	return &Server{
		auth:     a,
		registry: reg,
		sched:    sched,
		sampler:  sampler,
		interval: metricsInterval,
		start:    time.Now(),
	}
}

// WSHandler handles incoming client websocket connections.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := newConn(uuid.NewString())
		metrics.ConnectionOpened()
		logx.Log.Info().Str("conn_id", c.id).Str("remote_addr", r.RemoteAddr).Msg("client connected")

		pub := newPublisher(s.sampler, s.interval, s.inferenceMetrics)

		defer func() {
			cancel()
			c.shutdown()
			s.registry.CloseConn(c.id)
			metrics.SetActiveSessions(s.registry.Total())
			pub.Stop()
			metrics.ConnectionClosed()
			_ = sock.Close(websocket.StatusNormalClosure, "")
			logx.Log.Info().Str("conn_id", c.id).Msg("client disconnected")
		}()

		// Sole socket writer. Everything outbound funnels through c.send.
		// Each write carries a deadline: a peer that keeps the socket open
		// but stops reading fails the write and tears the connection down
		// instead of backing up every producer behind it.
		go func() {
			for {
				select {
				case <-c.done:
					return
				case msg := <-c.send:
					b, err := json.Marshal(msg)
					if err != nil {
						continue
					}
					wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
					err = sock.Write(wctx, websocket.MessageText, b)
					wcancel()
					if err != nil {
						c.shutdown()
						return
					}
				}
			}
		}()

		// Unsolicited greeting; servable before authentication.
		c.enqueue(s.hello())

		for {
			_, data, err := sock.Read(ctx)
			if err != nil {
				var ce websocket.CloseError
				if errors.As(err, &ce) && ce.Code != websocket.StatusNormalClosure {
					logx.Log.Warn().Str("conn_id", c.id).Str("reason", ce.Reason).Msg("connection closed abnormally")
				}
				return
			}
			s.dispatch(ctx, c, pub, data)
		}
	}
}

func (s *Server) hello() HelloMessage {
	return HelloMessage{
		Op:            OpHello,
		Status:        "ready",
		Message:       "Server is available",
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
		RequiresAuth:  true,
	}
}

func (s *Server) inferenceMetrics() MetricsMessage {
	last := s.sched.LastStats()
	return MetricsMessage{
		Inference: InferenceMetrics{
			ActiveGenerations:    s.sched.ActiveGenerations(),
			TotalSessions:        s.registry.Total(),
			LastTPS:              last.TPS,
			LastTTFTMs:           last.TTFTMs,
			TotalTokensGenerated: s.sched.TotalTokens(),
		},
	}
}

// dispatch routes one inbound message by its op field. hello and auth are
// the only ops servable before authentication.
func (s *Server) dispatch(ctx context.Context, c *conn, pub *publisher, data []byte) {
	var env struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeBadRequest, Error: "invalid JSON"})
		return
	}
	if env.Op == "" {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeBadRequest, Error: "missing 'op' field"})
		return
	}

	switch env.Op {
	case OpHello:
		c.enqueue(s.hello())
		return
	case OpAuth:
		s.handleAuth(ctx, c, data)
		return
	}

	if c.authed() == nil {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeUnauthenticated, Error: "not authenticated"})
		return
	}

	switch env.Op {
	case OpCreateSession:
		s.handleCreateSession(c)
	case OpCloseSession:
		s.handleCloseSession(c, data)
	case OpInfer:
		s.handleInfer(ctx, c, data)
	case OpAbort:
		s.handleAbort(c, data)
	case OpSubscribeMetrics:
		if pub.Subscribe(c) {
			c.enqueue(AckMessage{Op: OpMetricsSubscribed, Message: "Subscribed to metrics updates"})
		} else {
			c.enqueue(AckMessage{Op: OpMetricsSubscribed, Message: "Already subscribed"})
		}
	case OpUnsubscribeMetrics:
		pub.Unsubscribe()
		c.enqueue(AckMessage{Op: OpMetricsUnsubscribed, Message: "Unsubscribed from metrics updates"})
	default:
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeUnknownOp, Error: "unknown operation: " + env.Op})
	}
}

func (s *Server) handleAuth(ctx context.Context, c *conn, data []byte) {
	var req AuthRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ClientID == "" || req.APIKey == "" {
		c.enqueue(AuthFailedMessage{Op: OpAuthFailed, Reason: "missing client_id or api_key"})
		return
	}
	if c.authed() != nil {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeAlreadyAuthenticated, Error: "connection already authenticated"})
		return
	}
	p, err := s.auth.Authenticate(ctx, req.ClientID, req.APIKey)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		c.enqueue(AuthFailedMessage{Op: OpAuthFailed, Reason: "invalid credentials"})
		return
	}
	if !c.bind(p) {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeAlreadyAuthenticated, Error: "connection already authenticated"})
		return
	}
	metrics.RecordAuthAttempt(true)
	logx.Log.Info().Str("conn_id", c.id).Str("client_id", p.ClientID).Int("max_sessions", p.MaxSessions).Msg("authenticated")
	c.enqueue(AuthSuccessMessage{Op: OpAuthSuccess, ClientID: p.ClientID, MaxSessions: p.MaxSessions})
}

func (s *Server) handleCreateSession(c *conn) {
	p := c.authed()
	sess, err := s.registry.Create(p.ClientID, c.id, p.MaxSessions)
	if err != nil {
		if errors.Is(err, session.ErrQuotaExceeded) {
			c.enqueue(SessionErrorMessage{Op: OpSessionError, Code: CodeQuotaExceeded, Error: "session limit reached"})
		} else {
			c.enqueue(SessionErrorMessage{Op: OpSessionError, Error: err.Error()})
		}
		return
	}
	metrics.SetActiveSessions(s.registry.Total())
	c.enqueue(SessionCreatedMessage{Op: OpSessionCreated, SessionID: sess.ID})
}

func (s *Server) handleCloseSession(c *conn, data []byte) {
	var req SessionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeBadRequest, Error: "missing session_id"})
		return
	}
	if err := s.registry.Close(req.SessionID, c.id); err != nil {
		c.enqueue(sessionError(err))
		return
	}
	metrics.SetActiveSessions(s.registry.Total())
	c.enqueue(SessionClosedMessage{Op: OpSessionClosed, SessionID: req.SessionID})
}

func (s *Server) handleAbort(c *conn, data []byte) {
	var req SessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeBadRequest, Error: "invalid abort request"})
		return
	}
	var sess *session.Session
	if req.SessionID == "" {
		sess = c.takeImplicit()
		if sess == nil {
			c.enqueue(ErrorMessage{Op: OpError, Code: CodeSessionNotFound, Error: "no generation to abort"})
			return
		}
	} else {
		var err error
		sess, err = s.registry.Resolve(req.SessionID, c.id)
		if err != nil {
			c.enqueue(sessionError(err))
			return
		}
	}
	sess.Abort()
}

func (s *Server) handleInfer(ctx context.Context, c *conn, data []byte) {
	var req InferRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Prompt == "" {
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeBadRequest, Error: "missing prompt"})
		return
	}

	var sess *session.Session
	if req.SessionID == "" {
		// Stateless single-shot usage: the connection carries one implicit
		// default session. It is registry-backed, so it occupies a quota
		// slot like an explicitly created one.
		if sess = c.takeImplicit(); sess == nil {
			p := c.authed()
			var err error
			sess, err = s.registry.Create(p.ClientID, c.id, p.MaxSessions)
			if err != nil {
				metrics.RecordInferRequest("rejected")
				if errors.Is(err, session.ErrQuotaExceeded) {
					c.enqueue(ErrorMessage{Op: OpError, Code: CodeQuotaExceeded, Error: "session limit reached"})
				} else {
					c.enqueue(ErrorMessage{Op: OpError, Error: err.Error()})
				}
				return
			}
			c.setImplicit(sess)
			metrics.SetActiveSessions(s.registry.Total())
		}
	} else {
		var err error
		sess, err = s.registry.Resolve(req.SessionID, c.id)
		if err != nil {
			metrics.RecordInferRequest("rejected")
			c.enqueue(sessionError(err))
			return
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	if err := sess.Begin(cancel); err != nil {
		cancel()
		metrics.RecordInferRequest("rejected")
		c.enqueue(sessionError(err))
		return
	}

	stream, err := s.sched.Submit(reqCtx, req.SessionID, req.Prompt, req.Params)
	if err != nil {
		cancel()
		sess.Finish()
		metrics.RecordInferRequest("rejected")
		c.enqueue(ErrorMessage{Op: OpError, Code: CodeEngineExhausted, Error: "inference queue full, retry later"})
		return
	}

	clientID := c.authed().ClientID
	started := time.Now()
	go func() {
		defer cancel()
		outcome := "success"
		tokens := 0
		for ev := range stream {
			switch ev.Type {
			case scheduler.EventToken:
				tokens++
				c.enqueue(TokenMessage{Op: OpToken, SessionID: ev.SessionID, Content: ev.Token})
			case scheduler.EventError:
				outcome = "error"
				c.enqueue(ErrorMessage{Op: OpError, Code: ev.Code, Error: ev.Err.Error()})
			case scheduler.EventEnd:
				c.enqueue(EndMessage{Op: OpEnd, SessionID: ev.SessionID, Stats: ev.Stats})
			}
		}
		sess.Finish()
		metrics.RecordInferRequest(outcome)
		metrics.RecordTokens(clientID, tokens)
		metrics.ObserveGenerationDuration(time.Since(started))
	}()
}

// sessionError maps registry and lifecycle errors to wire errors.
func sessionError(err error) ErrorMessage {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrorMessage{Op: OpError, Code: CodeSessionNotFound, Error: "session not found"}
	case errors.Is(err, session.ErrForbidden):
		return ErrorMessage{Op: OpError, Code: CodeSessionForbidden, Error: "session not owned by this connection"}
	case errors.Is(err, session.ErrBusy):
		return ErrorMessage{Op: OpError, Code: CodeSessionBusy, Error: "session already has a request in flight"}
	case errors.Is(err, session.ErrClosed):
		return ErrorMessage{Op: OpError, Code: CodeSessionNotFound, Error: "session closed"}
	default:
		return ErrorMessage{Op: OpError, Error: err.Error()}
	}
}
