package capital

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when slept on and records every sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) ResetSleeps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}

type logEntry struct {
	Level string
	Msg   string
	Args  []any
}

// recordingLogger captures log calls so tests can assert on them.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{Level: level, Msg: msg, Args: args})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, args ...any) {
	l.add("DEBUG", msg, args)
}
func (l *recordingLogger) Info(_ context.Context, msg string, args ...any) { l.add("INFO", msg, args) }
func (l *recordingLogger) Warn(_ context.Context, msg string, args ...any) { l.add("WARN", msg, args) }
func (l *recordingLogger) Error(_ context.Context, msg string, args ...any) {
	l.add("ERROR", msg, args)
}

func (l *recordingLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func argValue(args []any, key string) any {
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok && k == key {
			return args[i+1]
		}
	}
	return nil
}

// brokerStub is an httptest broker: it answers logins itself and forwards
// everything else to api.
type brokerStub struct {
	server    *httptest.Server
	logins    atomic.Int32
	loginFail atomic.Bool
	// failNext fails this many upcoming logins.
	failNext atomic.Int32
	api      http.HandlerFunc
}

func newBrokerStub(t *testing.T, api http.HandlerFunc) *brokerStub {
	t.Helper()
	b := &brokerStub{api: api}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathSession && r.Method == http.MethodPost {
			n := b.logins.Add(1)
			if b.loginFail.Load() || b.failNext.Add(-1) >= 0 {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errorCode":"error.invalid.details"}`))
				return
			}
			w.Header().Set(headerCST, fmt.Sprintf("cst-%d", n))
			w.Header().Set(headerSecurityToken, fmt.Sprintf("token-%d", n))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"accountType":"CFD"}`))
			return
		}
		if b.api == nil {
			http.NotFound(w, r)
			return
		}
		b.api(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:     "test-key",
		Identifier: "trader@example.com",
		Password:   "secret",
		BaseURL:    baseURL,
	}
}

// newTestClient returns a client against the stub with a started session.
func newTestClient(t *testing.T, api http.HandlerFunc) (*Client, *brokerStub, *fakeClock, *recordingLogger) {
	t.Helper()
	stub := newBrokerStub(t, api)
	clock := newFakeClock()
	log := &recordingLogger{}
	c := New(testConfig(stub.server.URL), WithClock(clock), WithLogger(log))
	require.NoError(t, c.StartSession(context.Background()))
	clock.ResetSleeps()
	return c, stub, clock, log
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
