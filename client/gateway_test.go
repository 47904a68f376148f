package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	challengedPath = "/api/projects/550e8400-e29b-41d4-a716-446655440000/members/"
	challengedID   = "550e8400-e29b-41d4-a716-446655440000"
)

// loaderLog records loader observer transitions.
type loaderLog struct {
	mu     sync.Mutex
	events []bool
}

func (l *loaderLog) observe(busy bool) {
	l.mu.Lock()
	l.events = append(l.events, busy)
	l.mu.Unlock()
}

func (l *loaderLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}

func newSession(t *testing.T, access, refresh string) (*session.State, *session.MemoryStore, *loaderLog) {
	t.Helper()
	store := session.NewMemoryStore()
	st := session.New(store)
	if access != "" || refresh != "" {
		require.NoError(t, store.Save(context.Background(), session.Credentials{Access: access, Refresh: refresh}))
		require.NoError(t, st.Restore(context.Background()))
	}
	ll := &loaderLog{}
	st.SetLoaderObserver(ll.observe)
	return st, store, ll
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRequest_AttachesBearerAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "name": "salt"}})
	}))
	defer server.Close()

	st, _, ll := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var tags []client.Tag
	require.NoError(t, gw.Get(context.Background(), "/api/tags/", nil, &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "salt", tags[0].Name)

	assert.Equal(t, 0, st.InFlight())
	assert.Equal(t, []bool{true, false}, ll.snapshot())
}

func TestRequest_AnonymousCallHasNoAuthorizationHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	st, _, _ := newSession(t, "", "")
	gw := client.NewGateway(server.URL, st)
	require.NoError(t, gw.Post(context.Background(), "/api/auth/register/", map[string]string{"email": "a@b.c"}, nil))
}

func TestRequest_RefreshesOnceAndReplays(t *testing.T) {
	var refreshes, calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			refreshes.Add(1)
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			assert.Equal(t, "ref", in["refresh"])
			assert.Empty(t, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2"})
			return
		}
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer acc-2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		writeJSON(w, http.StatusOK, []client.Project{{ID: "p1", Name: "alpha"}})
	}))
	defer server.Close()

	st, store, ll := newSession(t, "acc-1", "ref")
	gw := client.NewGateway(server.URL, st)

	var projects []client.Project
	require.NoError(t, gw.Get(context.Background(), "/api/projects/my-projects/", nil, &projects))
	require.Len(t, projects, 1)

	assert.EqualValues(t, 1, refreshes.Load())
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "acc-2", st.AccessToken())
	assert.Equal(t, "ref", st.RefreshToken())

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Credentials{Access: "acc-2", Refresh: "ref"}, *stored)

	// Each dispatch is its own counted lifecycle; the refresh is not counted.
	assert.Equal(t, []bool{true, false, true, false}, ll.snapshot())
	assert.Equal(t, 0, st.InFlight())
}

// lockedStore accepts the login but fails every later save.
type lockedStore struct {
	*session.MemoryStore
	saves int
}

func (l *lockedStore) Save(ctx context.Context, c session.Credentials) error {
	l.saves++
	if l.saves > 1 {
		return errors.New("timed out waiting for the credential lock")
	}
	return l.MemoryStore.Save(ctx, c)
}

func TestRequest_RefreshStoreFailureKeepsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2"})
			return
		}
		if r.Header.Get("Authorization") != "Bearer acc-2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		writeJSON(w, http.StatusOK, []client.Tag{{ID: 1, Name: "salt"}})
	}))
	defer server.Close()

	store := &lockedStore{MemoryStore: session.NewMemoryStore()}
	st := session.New(store)
	require.NoError(t, st.Login(context.Background(), "acc-1", "ref"))
	gw := client.NewGateway(server.URL, st)

	var expired int
	gw.Events().SessionExpired.Subscribe(func(client.SessionExpiredEvent) { expired++ })

	var tags []client.Tag
	require.NoError(t, gw.Get(context.Background(), "/api/tags/", nil, &tags))
	require.Len(t, tags, 1)

	assert.Zero(t, expired)
	assert.True(t, st.Authenticated())
	assert.Equal(t, "acc-2", st.AccessToken())
	assert.Equal(t, "ref", st.RefreshToken())
}

func TestRequest_SecondUnauthorizedIsTerminal(t *testing.T) {
	var refreshes, calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2", "refresh": "ref-2"})
			return
		}
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "still not valid"})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc-1", "ref")
	gw := client.NewGateway(server.URL, st)

	err := gw.Get(context.Background(), "/api/tags/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
	assert.Equal(t, "still not valid", client.MessageOf(err))

	assert.EqualValues(t, 1, refreshes.Load())
	assert.EqualValues(t, 2, calls.Load())
	assert.True(t, st.Authenticated())
	assert.Equal(t, "ref-2", st.RefreshToken())
	assert.Equal(t, 0, st.InFlight())
}

func TestRequest_RefreshRejectedExpiresSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer server.Close()

	st, store, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var expired []client.SessionExpiredEvent
	gw.Events().SessionExpired.Subscribe(func(ev client.SessionExpiredEvent) { expired = append(expired, ev) })

	err := gw.Get(context.Background(), "/api/tags/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.NotErrorIs(t, err, client.ErrRequestFailed)

	assert.False(t, st.Authenticated())
	assert.Empty(t, st.AccessToken())
	assert.Empty(t, st.RefreshToken())
	stored, loadErr := store.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Nil(t, stored)

	require.Len(t, expired, 1)
	assert.Equal(t, "/api/tags/", expired[0].Path)
	assert.Equal(t, 0, st.InFlight())
}

func TestRequest_MissingRefreshCredentialExpiresSession(t *testing.T) {
	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "", "")
	gw := client.NewGateway(server.URL, st)

	err := gw.Get(context.Background(), "/api/projects/my-projects/", nil, nil)
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.EqualValues(t, 0, refreshes.Load())
}

func TestRequest_CanceledDuringRefreshKeepsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			cancel()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	err := gw.Get(ctx, "/api/tags/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, st.Authenticated())
}

func TestRequest_ChallengePublishesNotification(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": client.SecretRequiredDetail})
	}))
	defer server.Close()

	st, _, ll := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var got []client.ChallengeNotification
	gw.Events().Challenges.Subscribe(func(n client.ChallengeNotification) { got = append(got, n) })

	err := gw.Get(context.Background(), challengedPath, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrSecretRequired)
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))

	require.Len(t, got, 1)
	assert.Equal(t, challengedID, got[0].ResourceID)
	assert.Equal(t, client.SecretRetried, got[0].Call.Retry)
	assert.Equal(t, challengedPath, got[0].Call.Path)
	assert.Equal(t, http.MethodGet, got[0].Call.Method)

	// Replaying the carried call cannot raise a second challenge.
	err = gw.Request(context.Background(), got[0].Call, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))
	assert.Len(t, got, 1)
	assert.EqualValues(t, 2, calls.Load())

	assert.True(t, st.Authenticated())
	assert.Equal(t, []bool{true, false, true, false}, ll.snapshot())
}

func TestRequest_ChallengeWithoutResourceIDStillNotifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": client.SecretRequiredDetail})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var got []client.ChallengeNotification
	gw.Events().Challenges.Subscribe(func(n client.ChallengeNotification) { got = append(got, n) })

	err := gw.Get(context.Background(), "/api/tags/", nil, nil)
	assert.ErrorIs(t, err, client.ErrSecretRequired)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].ResourceID)
}

func TestRequest_OtherForbiddenIsPlainFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	notified := 0
	gw.Events().Challenges.Subscribe(func(client.ChallengeNotification) { notified++ })

	err := gw.Get(context.Background(), challengedPath, nil, nil)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, "You do not have permission to perform this action.", client.MessageOf(err))
	assert.Zero(t, notified)
	assert.True(t, st.Authenticated())
}

func TestRequest_AuthRetriedCallIsNotChallenged(t *testing.T) {
	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2"})
			return
		}
		if r.Header.Get("Authorization") == "Bearer acc-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": client.SecretRequiredDetail})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc-1", "ref")
	gw := client.NewGateway(server.URL, st)

	notified := 0
	gw.Events().Challenges.Subscribe(func(client.ChallengeNotification) { notified++ })

	err := gw.Get(context.Background(), challengedPath, nil, nil)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))
	assert.Zero(t, notified)
	assert.EqualValues(t, 1, refreshes.Load())
}

func TestRequest_NetworkFailureHasNoStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	st, _, ll := newSession(t, "acc", "ref")
	gw := client.NewGateway(url, st, client.WithTimeout(time.Second))

	err := gw.Get(context.Background(), "/api/tags/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, 0, client.StatusOf(err))

	var gwErr *client.Error
	require.True(t, errors.As(err, &gwErr))
	assert.NotNil(t, gwErr.Err)

	assert.True(t, st.Authenticated())
	assert.Equal(t, 0, st.InFlight())
	assert.Equal(t, []bool{true, false}, ll.snapshot())
}

func TestRequest_ValidationMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"access_key": {"Ensure this field has at least 6 characters."}})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	err := gw.Post(context.Background(), "/api/projects/create/", map[string]string{"name": "x"}, nil)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, http.StatusBadRequest, client.StatusOf(err))
	assert.Equal(t, "access_key: Ensure this field has at least 6 characters.", client.MessageOf(err))
}

func TestRequest_UndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var out []client.Tag
	err := gw.Get(context.Background(), "/api/tags/", nil, &out)
	assert.ErrorIs(t, err, client.ErrRequestFailed)
	assert.Equal(t, http.StatusOK, client.StatusOf(err))
}

func TestRequest_ConcurrentCallsKeepCounterBalanced(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(5)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-release
		writeJSON(w, http.StatusOK, []client.Tag{})
	}))
	defer server.Close()

	st, _, ll := newSession(t, "acc", "ref")
	gw := client.NewGateway(server.URL, st)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gw.Get(context.Background(), "/api/tags/", nil, nil))
		}()
	}

	arrived.Wait()
	assert.Equal(t, 5, st.InFlight())
	close(release)
	wg.Wait()

	assert.Equal(t, 0, st.InFlight())
	assert.Equal(t, []bool{true, false}, ll.snapshot())
}

func TestRequest_SendsJSONBodyOnEveryDispatch(t *testing.T) {
	var bodies []map[string]string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == client.DefaultRefreshPath {
			writeJSON(w, http.StatusOK, map[string]string{"access": "acc-2"})
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		bodies = append(bodies, in)
		mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer acc-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Invitation sent."})
	}))
	defer server.Close()

	st, _, _ := newSession(t, "acc-1", "ref")
	gw := client.NewGateway(server.URL, st)

	var msg client.Message
	require.NoError(t, gw.Post(context.Background(), "/api/projects/x/invite/", map[string]string{"user_id": "7"}, &msg))
	assert.Equal(t, "Invitation sent.", msg.Text())
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestRetryState_String(t *testing.T) {
	assert.Equal(t, "not_retried", client.NotRetried.String())
	assert.Equal(t, "auth_retried", client.AuthRetried.String())
	assert.Equal(t, "secret_retried", client.SecretRetried.String())
	assert.Equal(t, "retry_state(9)", client.RetryState(9).String())
}
