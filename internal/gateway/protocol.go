// Package gateway implements the client-facing socket protocol: one
// websocket per client, JSON messages selected by an "op" field, several
// logical sessions multiplexed over the connection.
package gateway

import (
	"github.com/jotalabs/infergate/internal/engine"
	"github.com/jotalabs/infergate/internal/stats"
	"github.com/jotalabs/infergate/internal/telemetry"
)

// Client -> server ops.
const (
	OpHello              = "hello"
	OpAuth               = "auth"
	OpCreateSession      = "create_session"
	OpCloseSession       = "close_session"
	OpInfer              = "infer"
	OpAbort              = "abort"
	OpSubscribeMetrics   = "subscribe_metrics"
	OpUnsubscribeMetrics = "unsubscribe_metrics"
)

// Server -> client ops. OpHello is reused for the unsolicited greeting and
// the reply to an inbound hello.
const (
	OpAuthSuccess         = "auth_success"
	OpAuthFailed          = "auth_failed"
	OpSessionCreated      = "session_created"
	OpSessionClosed       = "session_closed"
	OpSessionError        = "session_error"
	OpToken               = "token"
	OpEnd                 = "end"
	OpError               = "error"
	OpMetrics             = "metrics"
	OpMetricsSubscribed   = "metrics_subscribed"
	OpMetricsUnsubscribed = "metrics_unsubscribed"
)

// Machine-readable error codes carried on error and session_error events.
const (
	CodeUnauthenticated      = "unauthenticated"
	CodeAlreadyAuthenticated = "already_authenticated"
	CodeBadRequest           = "bad_request"
	CodeUnknownOp            = "unknown_op"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeSessionNotFound      = "session_not_found"
	CodeSessionForbidden     = "session_forbidden"
	CodeSessionBusy          = "session_busy"
	CodeEngineExhausted      = "engine_exhausted"
	CodeEngineFailure        = "engine_failure"
)

type AuthRequest struct {
	Op       string `json:"op"`
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

type InferRequest struct {
	Op        string        `json:"op"`
	SessionID string        `json:"session_id,omitempty"`
	Prompt    string        `json:"prompt"`
	Params    engine.Params `json:"params,omitempty"`
}

type SessionRequest struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id"`
}

type HelloMessage struct {
	Op            string `json:"op"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RequiresAuth  bool   `json:"requires_auth"`
}

type AuthSuccessMessage struct {
	Op          string `json:"op"`
	ClientID    string `json:"client_id"`
	MaxSessions int    `json:"max_sessions"`
}

type AuthFailedMessage struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

type SessionCreatedMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id"`
}

type SessionClosedMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id"`
}

type SessionErrorMessage struct {
	Op    string `json:"op"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type TokenMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

type EndMessage struct {
	Op        string      `json:"op"`
	SessionID string      `json:"session_id,omitempty"`
	Stats     stats.Stats `json:"stats"`
}

type ErrorMessage struct {
	Op    string `json:"op"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type AckMessage struct {
	Op      string `json:"op"`
	Message string `json:"message,omitempty"`
}

// InferenceMetrics is the inference block of a metrics push.
type InferenceMetrics struct {
	ActiveGenerations    int     `json:"active_generations"`
	TotalSessions        int     `json:"total_sessions"`
	LastTPS              float64 `json:"last_tps"`
	LastTTFTMs           int64   `json:"last_ttft_ms"`
	TotalTokensGenerated int64   `json:"total_tokens_generated"`
}

type MetricsMessage struct {
	Op        string              `json:"op"`
	Timestamp int64               `json:"timestamp"`
	GPU       telemetry.GPUStats  `json:"gpu"`
	Host      telemetry.HostStats `json:"host"`
	Inference InferenceMetrics    `json:"inference"`
}
