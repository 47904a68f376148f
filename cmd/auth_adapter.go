package cmd

import (
	"context"

	"github.com/habedi/apsq/db"
	"github.com/habedi/apsq/session"
)

// credentialStore adapts a CredentialRepository to the session.Store interface.
type credentialStore struct{ repo db.CredentialRepository }

func (s *credentialStore) Load(ctx context.Context) (*session.Credentials, error) {
	c, err := s.repo.Get(ctx)
	if err != nil || c == nil {
		return nil, err
	}
	return &session.Credentials{Access: c.AccessToken, Refresh: c.RefreshToken}, nil
}

func (s *credentialStore) Save(ctx context.Context, creds session.Credentials) error {
	return s.repo.Upsert(ctx, &db.Credential{AccessToken: creds.Access, RefreshToken: creds.Refresh})
}

func (s *credentialStore) Clear(ctx context.Context) error {
	return s.repo.Clear(ctx)
}
