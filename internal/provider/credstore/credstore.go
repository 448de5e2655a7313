// Package credstore is the credential boundary: the only component that
// reads or writes raw provider secrets. Everything above it handles
// auth state as status snapshots, never token material.
package credstore

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/omnidex/omnidex/internal/errors"
	"github.com/omnidex/omnidex/internal/model"
)

// Store holds provider credentials keyed by provider ID.
type Store interface {
	// Get returns the credentials for a provider and whether any exist.
	Get(providerID string) (model.Credentials, bool, error)

	// Put stores credentials for a provider, replacing prior ones.
	Put(providerID string, creds model.Credentials) error

	// Delete removes a provider's credentials.
	Delete(providerID string) error
}

// Memory is a non-persistent Store for tests and ephemeral setups.
type Memory struct {
	mu    sync.RWMutex
	creds map[string]model.Credentials
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{creds: make(map[string]model.Credentials)}
}

func (m *Memory) Get(providerID string) (model.Credentials, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[providerID]
	if !ok {
		return nil, false, nil
	}
	out := make(model.Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, true, nil
}

func (m *Memory) Put(providerID string, creds model.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := make(model.Credentials, len(creds))
	for k, v := range creds {
		c[k] = v
	}
	m.creds[providerID] = c
	return nil
}

func (m *Memory) Delete(providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, providerID)
	return nil
}

// File is a YAML-backed Store. The file is written with 0600 and read
// fully on open; writes rewrite the whole file.
type File struct {
	mu    sync.Mutex
	path  string
	creds map[string]model.Credentials
}

// OpenFile loads (or initializes) a file-backed store at path.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, creds: make(map[string]model.Credentials)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeAuthFailed, "read credential store", err)
	}
	if err := yaml.Unmarshal(data, &f.creds); err != nil {
		return nil, errors.New(errors.ErrCodeAuthFailed, "parse credential store", err)
	}
	if f.creds == nil {
		f.creds = make(map[string]model.Credentials)
	}
	return f, nil
}

func (f *File) Get(providerID string) (model.Credentials, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[providerID]
	if !ok {
		return nil, false, nil
	}
	out := make(model.Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, true, nil
}

func (f *File) Put(providerID string, creds model.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[providerID] = creds
	return f.flush()
}

func (f *File) Delete(providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, providerID)
	return f.flush()
}

func (f *File) flush() error {
	data, err := yaml.Marshal(f.creds)
	if err != nil {
		return errors.New(errors.ErrCodeAuthFailed, "encode credential store", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return errors.New(errors.ErrCodeAuthFailed, "create credential directory", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return errors.New(errors.ErrCodeAuthFailed, "write credential store", err)
	}
	return nil
}
