package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/db"
	"github.com/habedi/apsq/pkg/clierr"
)

var errNotLoggedIn = clierr.New(clierr.Auth, "You are not logged in. Run `apsq login` first.", nil)

// cliError turns err into a *clierr.Error with a message fit for the user.
func cliError(err error) *clierr.Error {
	var ce *clierr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, context.Canceled), errors.Is(err, auth.ErrChallengeCanceled):
		return clierr.New(clierr.Canceled, "Canceled.", err)
	case errors.Is(err, client.ErrSessionExpired):
		return clierr.New(clierr.Auth, "Your session has expired. Run `apsq login` again.", err)
	case errors.Is(err, auth.ErrVerificationFailed):
		return clierr.New(clierr.Auth, "The project password was rejected.", err)
	case errors.Is(err, client.ErrSecretRequired):
		return clierr.New(clierr.Auth, "This project requires its password. Run `apsq projects unlock` first.", err)
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrPasswordMismatch):
		return clierr.New(clierr.Validation, capitalize(err.Error())+".", err)
	case errors.Is(err, db.ErrLockTimeout):
		return clierr.New(clierr.Internal, "Another apsq process is holding the credential store.", err)
	case errors.Is(err, client.ErrRequestFailed):
		return requestError(err)
	default:
		return clierr.New(clierr.Internal, err.Error(), err)
	}
}

func requestError(err error) *clierr.Error {
	msg := client.MessageOf(err)
	switch status := client.StatusOf(err); {
	case status == 0:
		return clierr.New(clierr.Request, "Could not reach the server: "+msg, err)
	case status == http.StatusNotFound:
		return clierr.New(clierr.NotFound, msg, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return clierr.New(clierr.Auth, msg, err)
	case status == http.StatusBadRequest:
		return clierr.New(clierr.Validation, msg, err)
	default:
		return clierr.New(clierr.Request, msg, err)
	}
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	return clierr.New(clierr.Validation, capitalize(err.Error())+".", err)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
