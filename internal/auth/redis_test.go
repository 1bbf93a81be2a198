package auth

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rs, err := NewRedisStore(mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs.Close() }()

	ctx := context.Background()
	if _, err := rs.Lookup(ctx, "laptop_principal"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}

	cred := Credential{ClientID: "laptop_principal", APIKey: "sk_laptop", MaxSessions: 2}
	if err := rs.Put(ctx, cred); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := rs.Lookup(ctx, "laptop_principal")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != cred {
		t.Fatalf("Lookup = %#v; want %#v", got, cred)
	}

	// A second store sees the same document.
	rs2, err := NewRedisStore(mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs2.Close() }()
	if got, err := rs2.Lookup(ctx, "laptop_principal"); err != nil || got.APIKey != "sk_laptop" {
		t.Fatalf("second store lookup = %#v, %v", got, err)
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url   string
		addrs int
		db    int
		tls   bool
		err   bool
	}{
		{"localhost:6379", 1, 0, false, false},
		{"redis://:pass@localhost:6379/1", 1, 1, false, false},
		{"redis://host1:6379,host2:6379", 2, 0, false, false},
		{"rediss://localhost:6380/2", 1, 2, true, false},
		{"http://localhost:6379", 0, 0, false, true},
		{"redis://localhost:6379/notanum", 0, 0, false, true},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if tt.err {
			if err == nil {
				t.Fatalf("%s: expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs {
			t.Fatalf("%s: addrs = %d; want %d", tt.url, len(opts.Addrs), tt.addrs)
		}
		if opts.DB != tt.db {
			t.Fatalf("%s: db = %d; want %d", tt.url, opts.DB, tt.db)
		}
		if (opts.TLSConfig != nil) != tt.tls {
			t.Fatalf("%s: tls = %v; want %v", tt.url, opts.TLSConfig != nil, tt.tls)
		}
	}
}
