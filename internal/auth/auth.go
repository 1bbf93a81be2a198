package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/jotalabs/infergate/internal/logx"
)

var (
	// ErrUnknownClient is returned when no credential exists for a client id.
	ErrUnknownClient = errors.New("auth: unknown client")
	// ErrInvalidKey is returned when the presented api key does not match.
	ErrInvalidKey = errors.New("auth: invalid api key")
)

// Credential is a stored client record: identity, secret and entitlements.
type Credential struct {
	ClientID    string `json:"client_id" yaml:"client_id"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	MaxSessions int    `json:"max_sessions" yaml:"max_sessions"`
	Priority    string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Principal is the authenticated identity bound to a connection.
type Principal struct {
	ClientID    string
	MaxSessions int
	Priority    string
}

// Store resolves a client id to its stored credential.
type Store interface {
	Lookup(ctx context.Context, clientID string) (Credential, error)
}

// Authenticator validates presented credentials against a Store.
type Authenticator struct {
	store Store
}

func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate checks client_id/api_key and returns the bound Principal.
// Key comparison is constant time; the keys are long-lived secrets.
func (a *Authenticator) Authenticate(ctx context.Context, clientID, apiKey string) (Principal, error) {
	cred, err := a.store.Lookup(ctx, clientID)
	if err != nil {
		return Principal{}, err
	}
	if subtle.ConstantTimeCompare([]byte(cred.APIKey), []byte(apiKey)) != 1 {
		// A cached credential may be stale after key rotation; retry once
		// against the backing store before rejecting.
		if inv, ok := a.store.(interface{ Invalidate(string) }); ok {
			inv.Invalidate(clientID)
			if cred, err = a.store.Lookup(ctx, clientID); err == nil &&
				subtle.ConstantTimeCompare([]byte(cred.APIKey), []byte(apiKey)) == 1 {
				return principalOf(cred), nil
			}
		}
		logx.Log.Warn().Str("client_id", clientID).Msg("authentication rejected")
		return Principal{}, ErrInvalidKey
	}
	return principalOf(cred), nil
}

func principalOf(c Credential) Principal {
	max := c.MaxSessions
	if max <= 0 {
		max = 1
	}
	return Principal{ClientID: c.ClientID, MaxSessions: max, Priority: c.Priority}
}
