// Package session holds the process-wide session state shared by the request
// gateway and the command layer: the credential pair, the in-flight request
// counter and the single loader observer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrIncompleteCredentials is returned when only one half of a credential
// pair is supplied.
var ErrIncompleteCredentials = errors.New("access and refresh credentials must both be set")

// ErrNotPersisted reports that the in-memory pair changed but the store did
// not accept it.
var ErrNotPersisted = errors.New("credentials were not persisted")

// Credentials is the access/refresh token pair issued at login.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Complete reports whether both credentials are present.
func (c Credentials) Complete() bool {
	return c.Access != "" && c.Refresh != ""
}

// Store persists a credential pair. Load returns nil when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// LoaderObserver receives true when the first request starts and false when
// the last outstanding request settles.
type LoaderObserver func(busy bool)

// State is the shared session object. Construct it once with New and pass the
// same instance to everything that needs it.
type State struct {
	store Store

	credMu sync.RWMutex
	creds  Credentials

	loadMu   sync.Mutex
	inFlight int
	observer LoaderObserver
}

// New creates a State. store may be nil for a memory-only session.
func New(store Store) *State {
	return &State{store: store}
}

// Restore loads previously stored credentials. An incomplete stored pair is
// treated as absent and cleared.
func (s *State) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	stored, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored credentials: %w", err)
	}

	if stored == nil {
		return nil
	}

	if !stored.Complete() {
		log.Warn().Msg("Stored credentials are incomplete, clearing them")
		return s.Logout(ctx)
	}

	s.credMu.Lock()
	s.creds = *stored
	s.credMu.Unlock()
	return nil
}

// Login replaces the credential pair. Both values are required.
func (s *State) Login(ctx context.Context, access, refresh string) error {
	creds := Credentials{Access: access, Refresh: refresh}
	if !creds.Complete() {
		return ErrIncompleteCredentials
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, creds); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
	}
	s.creds = creds
	return nil
}

// Logout clears both credentials. Memory is cleared even when the store
// fails, so the process never keeps a half-valid session.
func (s *State) Logout(ctx context.Context) error {
	s.credMu.Lock()
	defer s.credMu.Unlock()

	s.creds = Credentials{}
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear stored credentials: %w", err)
		}
	}
	return nil
}

// Rotate stores a refreshed access credential. refresh replaces the refresh
// credential only when the server issued a new one. When the store rejects
// the pair, memory keeps it and the error wraps ErrNotPersisted.
func (s *State) Rotate(ctx context.Context, access, refresh string) error {
	if access == "" {
		return ErrIncompleteCredentials
	}

	s.credMu.Lock()
	defer s.credMu.Unlock()

	next := s.creds
	next.Access = access
	if refresh != "" {
		next.Refresh = refresh
	}

	if !next.Complete() {
		return ErrIncompleteCredentials
	}

	s.creds = next
	if s.store != nil {
		if err := s.store.Save(ctx, next); err != nil {
			return fmt.Errorf("%w: %w", ErrNotPersisted, err)
		}
	}
	return nil
}

// Credentials returns the current pair and whether it is complete.
func (s *State) Credentials() (Credentials, bool) {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.creds, s.creds.Complete()
}

// AccessToken returns the current access credential or "".
func (s *State) AccessToken() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.creds.Access
}

// RefreshToken returns the current refresh credential or "".
func (s *State) RefreshToken() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.creds.Refresh
}

// Authenticated reports whether a complete credential pair is held.
func (s *State) Authenticated() bool {
	_, ok := s.Credentials()
	return ok
}

// SetLoaderObserver replaces the active observer. Passing nil removes it.
func (s *State) SetLoaderObserver(fn LoaderObserver) {
	s.loadMu.Lock()
	s.observer = fn
	s.loadMu.Unlock()
}

// Begin records a dispatched request. The observer runs under the counter
// lock so transitions are reported in order; it must not call Begin or End.
func (s *State) Begin() {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.inFlight++
	if s.inFlight == 1 && s.observer != nil {
		s.observer(true)
	}
}

// End records a settled request. Calls without a matching Begin are ignored.
func (s *State) End() {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.inFlight == 0 {
		log.Debug().Msg("Unbalanced request settle ignored")
		return
	}

	s.inFlight--
	if s.inFlight == 0 && s.observer != nil {
		s.observer(false)
	}
}

// InFlight returns the number of outstanding requests.
func (s *State) InFlight() int {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.inFlight
}
