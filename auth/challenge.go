package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/events"
	"github.com/rs/zerolog/log"
)

// DefaultChallengeAttempts is how many passwords a user may try per challenge.
const DefaultChallengeAttempts = 3

var (
	// ErrPromptCanceled is returned by a SecretPrompter when the user gives up.
	ErrPromptCanceled = errors.New("password prompt canceled")
	// ErrNoPendingChallenge means there is nothing to resolve.
	ErrNoPendingChallenge = errors.New("no pending project password challenge")
	// ErrChallengeCanceled means the user abandoned the challenge.
	ErrChallengeCanceled = errors.New("project password challenge canceled")
	// ErrUnknownResource means the challenged path did not name a project.
	ErrUnknownResource = errors.New("cannot verify a password for a request without a project id")
	// ErrVerificationFailed means every attempt was rejected.
	ErrVerificationFailed = errors.New("project password verification failed")
)

type pendingChallenge struct {
	seq          uint64
	notification client.ChallengeNotification
}

// ChallengeResolver completes project password challenges. It keeps the most
// recent challenge published by the gateway, asks the user for the password,
// verifies it and replays the original call once.
type ChallengeResolver struct {
	verifier PasswordVerifier
	replayer Replayer
	prompter SecretPrompter
	attempts int

	mu      sync.Mutex
	pending *pendingChallenge
	seq     uint64

	unsubscribe func()
}

// NewChallengeResolver subscribes to topic. attempts below 1 fall back to
// DefaultChallengeAttempts.
func NewChallengeResolver(
	topic *events.Topic[client.ChallengeNotification],
	verifier PasswordVerifier,
	replayer Replayer,
	prompter SecretPrompter,
	attempts int,
) *ChallengeResolver {
	if attempts < 1 {
		attempts = DefaultChallengeAttempts
	}
	r := &ChallengeResolver{
		verifier:    verifier,
		replayer:    replayer,
		prompter:    prompter,
		attempts:    attempts,
		unsubscribe: func() {},
	}
	if topic != nil {
		r.unsubscribe = topic.Subscribe(r.handle)
	}
	return r
}

// Close stops listening for challenges.
func (r *ChallengeResolver) Close() { r.unsubscribe() }

func (r *ChallengeResolver) handle(n client.ChallengeNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if r.pending != nil {
		log.Debug().Str("project", r.pending.notification.ResourceID).Msg("Replacing pending challenge")
	}
	r.pending = &pendingChallenge{seq: r.seq, notification: n}
}

// Pending returns the challenge waiting to be resolved.
func (r *ChallengeResolver) Pending() (client.ChallengeNotification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return client.ChallengeNotification{}, false
	}
	return r.pending.notification, true
}

// Cancel drops the pending challenge.
func (r *ChallengeResolver) Cancel() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

// clear drops the pending challenge only if it is still seq, so a newer
// challenge that arrived meanwhile survives.
func (r *ChallengeResolver) clear(seq uint64) {
	r.mu.Lock()
	if r.pending != nil && r.pending.seq == seq {
		r.pending = nil
	}
	r.mu.Unlock()
}

// Resolve prompts for the password of the pending challenge, verifies it and
// replays the challenged call, decoding its response into out. The challenge
// stays pending when verification or the replay fails.
func (r *ChallengeResolver) Resolve(ctx context.Context, out any) error {
	r.mu.Lock()
	p := r.pending
	r.mu.Unlock()
	if p == nil {
		return ErrNoPendingChallenge
	}

	n := p.notification
	if n.ResourceID == "" {
		r.clear(p.seq)
		return fmt.Errorf("%w: %s", ErrUnknownResource, n.Call.Path)
	}

	if err := r.verify(ctx, n.ResourceID); err != nil {
		if errors.Is(err, ErrChallengeCanceled) {
			r.clear(p.seq)
		}
		return err
	}

	if err := r.replayer.Request(ctx, n.Call, out); err != nil {
		log.Error().Err(err).Str("path", n.Call.Path).Msg("Replay after password verification failed")
		return err
	}

	r.clear(p.seq)
	log.Info().Str("project", n.ResourceID).Msg("Challenge resolved")
	return nil
}

func (r *ChallengeResolver) verify(ctx context.Context, projectID string) error {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		secret, err := r.prompter.PromptSecret(ctx, projectID, attempt)
		if errors.Is(err, ErrPromptCanceled) {
			return ErrChallengeCanceled
		}
		if err != nil {
			return fmt.Errorf("failed to read project password: %w", err)
		}

		err = r.verifier.VerifyProjectPassword(ctx, projectID, secret)
		if err == nil {
			return nil
		}
		if !rejected(err) {
			return err
		}
		log.Warn().Int("attempt", attempt).Str("project", projectID).Msg("Project password rejected")
	}
	return ErrVerificationFailed
}

// rejected reports whether err is the backend refusing the password, as
// opposed to a transport or session failure.
func rejected(err error) bool {
	if !errors.Is(err, client.ErrRequestFailed) {
		return false
	}
	switch client.StatusOf(err) {
	case http.StatusBadRequest, http.StatusForbidden:
		return true
	}
	return false
}

// Protected runs fn and, when it hits a project password challenge, resolves
// the challenge and returns the replayed response instead. fn should issue a
// single API call whose response decodes into T.
func Protected[T any](ctx context.Context, r *ChallengeResolver, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || r == nil || !errors.Is(err, client.ErrSecretRequired) {
		return v, err
	}

	var out T
	if err := r.Resolve(ctx, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ProtectedExec is Protected for calls without a response body.
func ProtectedExec(ctx context.Context, r *ChallengeResolver, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || r == nil || !errors.Is(err, client.ErrSecretRequired) {
		return err
	}
	return r.Resolve(ctx, nil)
}
