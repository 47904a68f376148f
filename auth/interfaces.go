package auth

//go:generate mockgen -source=interfaces.go -destination=mock_interfaces_test.go -package=auth_test

import (
	"context"

	"github.com/habedi/apsq/client"
)

// Authenticator performs the account endpoints.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*client.LoginResult, error)
	Register(ctx context.Context, email, fullName, password, confirm string) (client.Message, error)
}

// PasswordVerifier checks a project password with the backend.
type PasswordVerifier interface {
	VerifyProjectPassword(ctx context.Context, projectID, password string) error
}

// Replayer dispatches a recorded call again.
type Replayer interface {
	Request(ctx context.Context, call client.Call, out any) error
}

// SecretPrompter asks the user for the password of a project. attempt starts
// at 1. Returning ErrPromptCanceled abandons the challenge.
type SecretPrompter interface {
	PromptSecret(ctx context.Context, projectID string, attempt int) (string, error)
}
