// Package statestore persists the server's durable facts. Each fact lives in
// its own file under the state directory and has exactly one writer.
package statestore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Well-known files under the state directory.
const (
	// ServerStateFile holds the last persisted application state.
	ServerStateFile = "server-state"
	// EarlyCommandsStamp marks that early commands already ran.
	EarlyCommandsStamp = "early-commands"
	// InstallerUserFile holds the provisioned live-session credential as
	// "username:password".
	InstallerUserFile = "installer-user-passwd"
	// AutoinstallFile is the canonical copy of the winning autoinstall
	// source.
	AutoinstallFile = "autoinstall.yaml"
	// UpdatedStamp marks that the installer updated itself this boot.
	UpdatedStamp = "updated"
)

// Store reads and writes files in the state directory.
type Store struct {
	mu  sync.RWMutex
	fs  afero.Fs
	dir string
}

type Option func(*Store)

// WithFs replaces the backing filesystem, for tests.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) {
		s.fs = fsys
	}
}

func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:  afero.NewOsFs(),
		dir: dir,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return s, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of a named fact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := afero.Exists(s.fs, s.Path(name))
	return err == nil && ok
}

func (s *Store) ReadText(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := afero.ReadFile(s.fs, s.Path(name))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *Store) WriteText(name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := afero.WriteFile(s.fs, s.Path(name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteSecret is WriteText with owner-only permissions.
func (s *Store) WriteSecret(name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := afero.WriteFile(s.fs, s.Path(name), []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) ReadJSON(name string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := afero.ReadFile(s.fs, s.Path(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

func (s *Store) WriteJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := afero.WriteFile(s.fs, s.Path(name), b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Stamp creates an empty marker file. Stamps are never rewritten once
// present.
func (s *Store) Stamp(name string) error {
	return s.WriteText(name, "")
}

func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.Path(name)); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}
