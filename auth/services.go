package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/db"
	"github.com/habedi/apsq/session"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingCredentials means an email or password was empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrPasswordMismatch means the password confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Service orchestrates login, registration and logout on top of the shared
// session state.
type Service struct {
	Session  *session.State
	API      Authenticator
	Profiles db.ProfileRepository
	Projects db.ProjectRepository
}

// Status is a snapshot of the local authentication state.
type Status struct {
	Authenticated bool        `json:"authenticated"`
	Profile       *db.Profile `json:"profile,omitempty"`
}

// NewService is the constructor for the auth service. The repositories may be
// nil when no local cache is kept.
func NewService(st *session.State, api Authenticator, profiles db.ProfileRepository, projects db.ProjectRepository) *Service {
	return &Service{
		Session:  st,
		API:      api,
		Profiles: profiles,
		Projects: projects,
	}
}

// Login exchanges email and password for a credential pair and stores it
// together with the returned profile.
func (s *Service) Login(ctx context.Context, email, password string) (*db.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	res, err := s.API.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if err := s.Session.Login(ctx, res.Tokens.Access, res.Tokens.Refresh); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	profile := &db.Profile{
		UserID:     res.User.ID,
		Email:      res.User.Email,
		FullName:   res.User.FullName,
		LoggedInAt: time.Now().UTC(),
	}
	if s.Profiles != nil {
		if err := s.Profiles.Upsert(ctx, profile); err != nil {
			log.Warn().Err(err).Msg("Failed to store the profile")
		}
	}

	log.Info().Str("email", profile.Email).Msg("Logged in")
	return profile, nil
}

// Register creates an account. It does not log in.
func (s *Service) Register(ctx context.Context, email, fullName, password, confirm string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}

	msg, err := s.API.Register(ctx, email, strings.TrimSpace(fullName), password, confirm)
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}
	return msg.Text(), nil
}

// Logout clears the credentials and every locally cached user datum. The
// credentials are cleared first and their failure is reported.
func (s *Service) Logout(ctx context.Context) error {
	err := s.Session.Logout(ctx)
	s.clearLocal(ctx)
	if err != nil {
		return err
	}
	log.Info().Msg("Logged out")
	return nil
}

// Status reports whether a session is held and who it belongs to.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{Authenticated: s.Session.Authenticated()}
	if !st.Authenticated || s.Profiles == nil {
		return st, nil
	}
	profile, err := s.Profiles.Get(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to read the profile: %w", err)
	}
	st.Profile = profile
	return st, nil
}

// HandleSessionExpired drops local user data after the gateway cleared an
// unrecoverable session.
func (s *Service) HandleSessionExpired(ev client.SessionExpiredEvent) {
	log.Warn().Str("path", ev.Path).Msg("Session expired, clearing local data")
	s.clearLocal(context.Background())
}

func (s *Service) clearLocal(ctx context.Context) {
	if s.Profiles != nil {
		if err := s.Profiles.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear the profile")
		}
	}
	if s.Projects != nil {
		if err := s.Projects.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear the project cache")
		}
	}
}
