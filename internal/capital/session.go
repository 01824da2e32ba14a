package capital

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"capital-trading-bot/internal/logger"
	"capital-trading-bot/internal/types"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateAuthenticating
	stateActive
	stateExpired
)

func (s sessionState) String() string {
	switch s {
	case stateAuthenticating:
		return "AUTHENTICATING"
	case stateActive:
		return "ACTIVE"
	case stateExpired:
		return "EXPIRED"
	default:
		return "IDLE"
	}
}

// Session holds the two broker credentials issued by the login endpoint.
type Session struct {
	CST           string
	SecurityToken string
	StartedAt     time.Time
}

type loginFunc func(ctx context.Context) (Session, error)

// sessionManager is the Idle -> Authenticating -> Active -> Expired state machine.
// Concurrent StartSession callers share one in-flight login.
type sessionManager struct {
	mu      sync.Mutex
	clock   Clock
	timeout time.Duration
	log     logger.Logger

	state   sessionState
	session Session

	flight singleflight.Group
	login  loginFunc
}

func newSessionManager(clock Clock, timeout time.Duration, log logger.Logger, login loginFunc) *sessionManager {
	return &sessionManager{
		clock:   clock,
		timeout: timeout,
		log:     log,
		login:   login,
	}
}

// valid must be called with mu held.
func (m *sessionManager) valid(now time.Time) bool {
	if m.state != stateActive {
		return false
	}
	if now.Sub(m.session.StartedAt) >= m.timeout {
		m.state = stateExpired
		return false
	}
	return true
}

func (m *sessionManager) isValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid(m.clock.Now())
}

func (m *sessionManager) hasTokens() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.CST != "" && m.session.SecurityToken != ""
}

func (m *sessionManager) tokens() (cst, securityToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.CST, m.session.SecurityToken
}

func (m *sessionManager) info() types.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	valid := m.valid(m.clock.Now())
	info := types.SessionInfo{State: m.state.String(), Valid: valid}
	if !m.session.StartedAt.IsZero() {
		info.StartedAt = m.session.StartedAt
		info.ExpiresAt = m.session.StartedAt.Add(m.timeout)
	}
	return info
}

// start runs a login unless one is already in flight, in which case it waits
// for that login and returns its outcome.
func (m *sessionManager) start(ctx context.Context) error {
	ch := m.flight.DoChan("session", func() (any, error) {
		return nil, m.establish(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.log.Debug(ctx, "Joined in-flight session start")
		}
		return res.Err
	}
}

// reauthenticate refreshes the session after a 401/403. staleCST is the token the
// rejected request carried; if another caller already replaced it, nothing is done.
func (m *sessionManager) reauthenticate(ctx context.Context, staleCST string) error {
	m.mu.Lock()
	if m.state == stateActive && m.session.CST != "" && m.session.CST != staleCST {
		m.mu.Unlock()
		return nil
	}
	if m.state == stateActive {
		m.state = stateExpired
	}
	m.mu.Unlock()
	return m.start(ctx)
}

func (m *sessionManager) establish(ctx context.Context) error {
	m.mu.Lock()
	previous := m.state
	m.state = stateAuthenticating
	m.mu.Unlock()

	m.log.Info(ctx, "Starting broker session", "previous_state", previous.String())

	sess, err := m.login(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.session = Session{}
		if previous == stateIdle {
			m.state = stateIdle
		} else {
			m.state = stateExpired
		}
		m.log.Error(ctx, "Broker session start failed", "error", err)
		return err
	}

	sess.StartedAt = m.clock.Now()
	m.session = sess
	m.state = stateActive
	m.log.Info(ctx, "Broker session started",
		"cst_prefix", prefix(sess.CST, 6),
		"expires_at", sess.StartedAt.Add(m.timeout),
	)
	return nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type loginPayload struct {
	Identifier        string `json:"identifier"`
	Password          string `json:"password"`
	EncryptedPassword bool   `json:"encryptedPassword"`
}

// authenticate performs the login call. Success requires HTTP 200 and both tokens.
func (c *Client) authenticate(ctx context.Context) (Session, error) {
	if err := c.limiter.Wait(ctx, SessionRequest); err != nil {
		return Session{}, err
	}

	resp, err := c.send(ctx, Request{
		Method: http.MethodPost,
		Path:   pathSession,
		Body: loginPayload{
			Identifier: c.cfg.Identifier,
			Password:   c.cfg.Password,
		},
	}, false)
	if err != nil {
		return Session{}, &AuthError{Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, &AuthError{StatusCode: resp.StatusCode, Body: resp.String()}
	}

	sess := Session{
		CST:           resp.Headers.Get(headerCST),
		SecurityToken: resp.Headers.Get(headerSecurityToken),
	}
	if sess.CST == "" || sess.SecurityToken == "" {
		return Session{}, &AuthError{StatusCode: resp.StatusCode, Reason: "response carried no session tokens"}
	}
	return sess, nil
}
