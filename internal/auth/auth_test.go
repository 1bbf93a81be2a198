package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	data := `clients:
  - client_id: laptop_principal
    api_key: sk_laptop_abc
    max_sessions: 2
  - client_id: desktop_oficina
    api_key: sk_desktop_xyz
    max_sessions: 4
    priority: high
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", s.Len())
	}
	c, err := s.Lookup(context.Background(), "desktop_oficina")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.MaxSessions != 4 || c.Priority != "high" {
		t.Fatalf("unexpected credential: %#v", c)
	}
	if _, err := s.Lookup(context.Background(), "nadie"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}
}

func TestLoadFileRejectsIncompleteEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	if err := os.WriteFile(path, []byte("clients:\n  - client_id: nokey\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for entry without api_key")
	}
}

func TestAuthenticate(t *testing.T) {
	store := NewStaticStore(Credential{ClientID: "c1", APIKey: "sk_one", MaxSessions: 3})
	a := NewAuthenticator(store)

	p, err := a.Authenticate(context.Background(), "c1", "sk_one")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ClientID != "c1" || p.MaxSessions != 3 {
		t.Fatalf("unexpected principal: %#v", p)
	}

	if _, err := a.Authenticate(context.Background(), "c1", "sk_wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := a.Authenticate(context.Background(), "ghost", "sk_one"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}
}

func TestAuthenticateDefaultsQuota(t *testing.T) {
	store := NewStaticStore(Credential{ClientID: "c1", APIKey: "sk_one"})
	a := NewAuthenticator(store)
	p, err := a.Authenticate(context.Background(), "c1", "sk_one")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.MaxSessions != 1 {
		t.Fatalf("expected default quota 1, got %d", p.MaxSessions)
	}
}

// countingStore records how many lookups reach the backing store.
type countingStore struct {
	inner   Store
	lookups int
}

func (s *countingStore) Lookup(ctx context.Context, id string) (Credential, error) {
	s.lookups++
	return s.inner.Lookup(ctx, id)
}

func TestCachedStoreTTL(t *testing.T) {
	backing := &countingStore{inner: NewStaticStore(Credential{ClientID: "c1", APIKey: "sk", MaxSessions: 1})}
	cs := NewCachedStore(backing, 15*time.Minute)
	now := time.Unix(1000, 0)
	cs.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := cs.Lookup(context.Background(), "c1"); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}
	if backing.lookups != 1 {
		t.Fatalf("expected 1 backing lookup, got %d", backing.lookups)
	}

	now = now.Add(16 * time.Minute)
	if _, err := cs.Lookup(context.Background(), "c1"); err != nil {
		t.Fatalf("Lookup after expiry: %v", err)
	}
	if backing.lookups != 2 {
		t.Fatalf("expected re-validation after TTL, got %d lookups", backing.lookups)
	}
}

func TestAuthenticateSeesRotatedKeyThroughCache(t *testing.T) {
	rotating := NewStaticStore(Credential{ClientID: "c1", APIKey: "sk_old", MaxSessions: 1})
	cs := NewCachedStore(rotating, time.Hour)
	a := NewAuthenticator(cs)

	if _, err := a.Authenticate(context.Background(), "c1", "sk_old"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// Rotate the key in the backing store; the cache still holds sk_old.
	rotating.creds["c1"] = Credential{ClientID: "c1", APIKey: "sk_new", MaxSessions: 1}
	if _, err := a.Authenticate(context.Background(), "c1", "sk_new"); err != nil {
		t.Fatalf("expected rotated key to authenticate, got %v", err)
	}
	if _, err := a.Authenticate(context.Background(), "c1", "sk_old"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected old key rejected, got %v", err)
	}
}
