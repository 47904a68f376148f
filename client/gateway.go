package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/habedi/apsq/events"
	"github.com/habedi/apsq/session"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL is used when no API base URL is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultRefreshPath is the token refresh endpoint.
	DefaultRefreshPath = "/api/auth/token/refresh/"

	// SecretRequiredDetail is the 403 detail the API returns when a project
	// password has to be verified before the resource can be used.
	SecretRequiredDetail = "Project password required"

	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

var errNoRefreshCredential = errors.New("no refresh credential available")

// RetryState records which recovery path a call has already consumed.
// A call leaves NotRetried at most once, so it is recovered at most once.
type RetryState int

const (
	NotRetried RetryState = iota
	AuthRetried
	SecretRetried
)

func (r RetryState) String() string {
	switch r {
	case NotRetried:
		return "not_retried"
	case AuthRetried:
		return "auth_retried"
	case SecretRetried:
		return "secret_retried"
	default:
		return fmt.Sprintf("retry_state(%d)", int(r))
	}
}

// Call describes one API request. It is a plain value so it can be replayed
// exactly; Body is JSON-encoded on every dispatch.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Retry  RetryState
}

// WithRetry returns a copy of c in retry state r.
func (c Call) WithRetry(r RetryState) Call {
	c.Retry = r
	return c
}

// ChallengeNotification is published when a call hits a project password
// challenge. Call has already consumed its challenge retry, so replaying it
// through Request cannot trigger another challenge.
type ChallengeNotification struct {
	ResourceID string
	Call       Call
}

// SessionExpiredEvent is published after an unrecoverable refresh failure.
type SessionExpiredEvent struct {
	Path string
	Err  error
}

// Events groups the topics the gateway publishes on.
type Events struct {
	Challenges     *events.Topic[ChallengeNotification]
	SessionExpired *events.Topic[SessionExpiredEvent]
}

// NewEvents creates a fresh set of topics.
func NewEvents() *Events {
	return &Events{
		Challenges:     events.NewTopic[ChallengeNotification]("project_password_required"),
		SessionExpired: events.NewTopic[SessionExpiredEvent]("session_expired"),
	}
}

// Gateway sends authenticated requests to the API. It attaches the bearer
// token, keeps the shared in-flight counter balanced, refreshes an expired
// access credential once and turns password challenges into notifications.
type Gateway struct {
	baseURL     string
	refreshPath string
	httpClient  *http.Client
	session     *session.State
	events      *Events
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithTimeout sets the timeout of the default transport client.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithRefreshPath overrides the token refresh endpoint.
func WithRefreshPath(p string) Option {
	return func(g *Gateway) {
		if p != "" {
			g.refreshPath = p
		}
	}
}

// WithEvents publishes on ev instead of a private set of topics.
func WithEvents(ev *Events) Option {
	return func(g *Gateway) {
		if ev != nil {
			g.events = ev
		}
	}
}

// NewGateway creates a Gateway for baseURL sharing st.
func NewGateway(baseURL string, st *session.State, opts ...Option) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if st == nil {
		st = session.New(nil)
	}

	g := &Gateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		refreshPath: DefaultRefreshPath,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		session:     st,
		events:      NewEvents(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Events returns the topics the gateway publishes on.
func (g *Gateway) Events() *Events { return g.events }

// Session returns the shared session state.
func (g *Gateway) Session() *session.State { return g.session }

// BaseURL returns the API base URL.
func (g *Gateway) BaseURL() string { return g.baseURL }

// Get is a shorthand for a GET call.
func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Request(ctx, Call{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post is a shorthand for a POST call.
func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Request(ctx, Call{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Patch is a shorthand for a PATCH call.
func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.Request(ctx, Call{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete is a shorthand for a DELETE call; body may be nil.
func (g *Gateway) Delete(ctx context.Context, path string, body, out any) error {
	return g.Request(ctx, Call{Method: http.MethodDelete, Path: path, Body: body}, out)
}

// Request dispatches call and decodes a successful JSON body into out (a nil
// out discards it). Failures are *Error values of kind KindSessionExpired,
// KindSecretRequired or KindRequestFailed.
func (g *Gateway) Request(ctx context.Context, call Call, out any) error {
	res := g.attempt(ctx, call, g.session.AccessToken())
	if res.succeeded() {
		return res.decode(out)
	}

	if call.Retry == NotRetried {
		// The challenge check must run before the 401 check.
		if res.secretRequired() {
			return g.challenge(call.WithRetry(SecretRetried), res)
		}
		if res.err == nil && res.status == http.StatusUnauthorized {
			return g.refreshAndRetry(ctx, call.WithRetry(AuthRetried), out)
		}
	}

	return res.failure()
}

// outcome is the settled result of one physical dispatch.
type outcome struct {
	status int
	body   []byte
	err    error
}

func (o outcome) succeeded() bool {
	return o.err == nil && o.status >= 200 && o.status < 300
}

func (o outcome) secretRequired() bool {
	return o.err == nil &&
		o.status == http.StatusForbidden &&
		gjson.GetBytes(o.body, "detail").String() == SecretRequiredDetail
}

func (o outcome) failure() error {
	if o.status == 0 {
		return &Error{Kind: KindRequestFailed, Err: o.err}
	}
	return &Error{Kind: KindRequestFailed, Status: o.status, Message: extractMessage(o.body), Err: o.err}
}

func (o outcome) decode(out any) error {
	if out == nil || len(bytes.TrimSpace(o.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(o.body, out); err != nil {
		log.Error().Err(err).Msg("Failed to decode response body")
		return &Error{Kind: KindRequestFailed, Status: o.status, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// attempt runs one full request lifecycle. The counter is released before
// the caller looks at the outcome, so a retry is counted as a fresh request.
func (g *Gateway) attempt(ctx context.Context, call Call, token string) outcome {
	g.session.Begin()
	defer g.session.End()

	req, err := g.newRequest(ctx, call, token)
	if err != nil {
		return outcome{err: err}
	}

	log.Debug().Str("method", req.Method).Str("path", call.Path).Str("retry", call.Retry.String()).
		Bool("authenticated", token != "").Msg("Dispatching request")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("path", call.Path).Msg("Request failed without a response")
		return outcome{err: err}
	}
	defer closeResponseBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read response body")
		return outcome{status: resp.StatusCode, err: err}
	}

	log.Debug().Int("status", resp.StatusCode).Str("path", call.Path).Msg("Request settled")
	return outcome{status: resp.StatusCode, body: body}
}

func (g *Gateway) newRequest(ctx context.Context, call Call, token string) (*http.Request, error) {
	u := g.baseURL + call.Path
	if len(call.Query) > 0 {
		u += "?" + call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := call.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create request")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req, nil
}

func (g *Gateway) challenge(call Call, res outcome) error {
	id := ExtractProjectID(call.Path)
	log.Info().Str("project", id).Str("path", call.Path).Msg("Project password required")

	g.events.Challenges.Publish(ChallengeNotification{ResourceID: id, Call: call})

	return &Error{Kind: KindSecretRequired, Status: res.status, Message: extractMessage(res.body)}
}

func (g *Gateway) refreshAndRetry(ctx context.Context, call Call, out any) error {
	access, err := g.refresh(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Kind: KindRequestFailed, Err: ctxErr}
		}
		return g.expire(ctx, call, err)
	}

	res := g.attempt(ctx, call, access)
	if res.succeeded() {
		return res.decode(out)
	}
	return res.failure()
}

// refresh exchanges the refresh credential for a new access credential and
// stores it. The refresh call is part of the settling attempt and is not
// counted by the in-flight counter.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	refreshToken := g.session.RefreshToken()
	if refreshToken == "" {
		return "", errNoRefreshCredential
	}

	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+g.refreshPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Info().Msg("Access credential rejected, refreshing")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post token refresh: %w", err)
	}
	defer closeResponseBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read token refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, extractMessage(body))
	}

	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse token refresh response: %w", err)
	}
	if result.Access == "" {
		return "", errors.New("token refresh response did not include an access credential")
	}

	if err := g.session.Rotate(ctx, result.Access, result.Refresh); err != nil {
		if !errors.Is(err, session.ErrNotPersisted) {
			return "", err
		}
		log.Warn().Err(err).Msg("Refreshed credential kept in memory only")
	}
	log.Info().Bool("rotated_refresh", result.Refresh != "").Msg("Access credential refreshed")
	return result.Access, nil
}

func (g *Gateway) expire(ctx context.Context, call Call, cause error) error {
	log.Warn().Err(cause).Msg("Token refresh failed, clearing the session")

	if err := g.session.Logout(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("Failed to clear the session")
	}
	g.events.SessionExpired.Publish(SessionExpiredEvent{Path: call.Path, Err: cause})

	return &Error{Kind: KindSessionExpired, Message: "session expired, please log in again", Err: cause}
}

func closeResponseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, 1024*1024)
	_ = resp.Body.Close()
}
