package auth

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileStore is a read-only credential store loaded from a YAML file.
type FileStore struct {
	creds map[string]Credential
}

type credentialsFile struct {
	Clients []Credential `yaml:"clients"`
}

// LoadFile reads a credentials YAML file of the form:
//
//	clients:
//	  - client_id: laptop_principal
//	    api_key: sk_...
//	    max_sessions: 2
func LoadFile(path string) (*FileStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read credentials file: %w", err)
	}
	var f credentialsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("auth: parse credentials file: %w", err)
	}
	s := &FileStore{creds: make(map[string]Credential, len(f.Clients))}
	for _, c := range f.Clients {
		if c.ClientID == "" || c.APIKey == "" {
			return nil, fmt.Errorf("auth: credentials file entry missing client_id or api_key")
		}
		s.creds[c.ClientID] = c
	}
	return s, nil
}

// NewStaticStore builds a store from in-memory credentials.
func NewStaticStore(creds ...Credential) *FileStore {
	s := &FileStore{creds: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		s.creds[c.ClientID] = c
	}
	return s
}

func (s *FileStore) Lookup(_ context.Context, clientID string) (Credential, error) {
	c, ok := s.creds[clientID]
	if !ok {
		return Credential{}, ErrUnknownClient
	}
	return c, nil
}

// Len reports the number of configured clients.
func (s *FileStore) Len() int { return len(s.creds) }
