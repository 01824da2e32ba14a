package capital

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ValidityLifecycle(t *testing.T) {
	stub := newBrokerStub(t, nil)
	clock := newFakeClock()
	c := New(testConfig(stub.server.URL), WithClock(clock), WithLogger(&recordingLogger{}))

	assert.False(t, c.IsSessionValid(), "no session before start")
	assert.Equal(t, "IDLE", c.SessionInfo().State)

	require.NoError(t, c.StartSession(context.Background()))
	assert.True(t, c.IsSessionValid())
	info := c.SessionInfo()
	assert.Equal(t, "ACTIVE", info.State)
	assert.Equal(t, info.StartedAt.Add(DefaultSessionTimeout), info.ExpiresAt)

	clock.Advance(DefaultSessionTimeout - time.Second)
	assert.True(t, c.IsSessionValid())

	clock.Advance(time.Second)
	assert.False(t, c.IsSessionValid(), "session expires once the timeout has elapsed")
	assert.Equal(t, "EXPIRED", c.SessionInfo().State)

	require.NoError(t, c.EnsureSession(context.Background()))
	assert.True(t, c.IsSessionValid())
	assert.Equal(t, int32(2), stub.logins.Load())
}

func TestSession_LoginPayloadAndHeaders(t *testing.T) {
	var got loginPayload
	var apiKey, cst string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSession, r.URL.Path)
		apiKey = r.Header.Get(headerAPIKey)
		cst = r.Header.Get(headerCST)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set(headerCST, "abc")
		w.Header().Set(headerSecurityToken, "def")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), WithClock(newFakeClock()), WithLogger(&recordingLogger{}))
	require.NoError(t, c.StartSession(context.Background()))

	assert.Equal(t, "test-key", apiKey)
	assert.Empty(t, cst, "login never carries session tokens")
	assert.Equal(t, "trader@example.com", got.Identifier)
	assert.Equal(t, "secret", got.Password)
	assert.False(t, got.EncryptedPassword)

	gotCST, gotToken := c.session.tokens()
	assert.Equal(t, "abc", gotCST)
	assert.Equal(t, "def", gotToken)
}

func TestSession_AuthFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errorCode":"error.invalid.details"}`))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing security token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(headerCST, "only-cst")
				w.WriteHeader(http.StatusOK)
			},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(testConfig(srv.URL), WithClock(newFakeClock()), WithLogger(&recordingLogger{}))
			err := c.StartSession(context.Background())

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.status, authErr.StatusCode)
			assert.False(t, c.IsSessionValid())
			assert.Equal(t, "IDLE", c.SessionInfo().State)
			assert.False(t, c.session.hasTokens())
		})
	}
}

func TestSession_ConcurrentStartsShareOneLogin(t *testing.T) {
	var logins atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		<-release
		w.Header().Set(headerCST, "shared")
		w.Header().Set(headerSecurityToken, "shared-token")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), WithClock(newFakeClock()), WithLogger(&recordingLogger{}))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.StartSession(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return logins.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "AUTHENTICATING", c.SessionInfo().State)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), logins.Load())
	assert.True(t, c.IsSessionValid())
}

func TestSession_ReauthenticateSkipsWhenTokenAlreadyRefreshed(t *testing.T) {
	c, stub, _, _ := newTestClient(t, nil)

	require.NoError(t, c.session.reauthenticate(context.Background(), "cst-0"))
	assert.Equal(t, int32(1), stub.logins.Load(), "a newer token is already in place")

	require.NoError(t, c.session.reauthenticate(context.Background(), "cst-1"))
	assert.Equal(t, int32(2), stub.logins.Load())
	cst, _ := c.session.tokens()
	assert.Equal(t, "cst-2", cst)
}
