package tokenmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/errs"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// State is the Manager's refresh lifecycle position.
type State int

const (
	Uninitialized State = iota
	Refreshing
	Ready
	Failed
)

// Token wraps oauth2.Token, the idiomatic Go representation of a
// bearer credential with an absolute expiry.
type Token struct {
	oauth2.Token
}

// Usable reports whether t is still good to attach to an outbound
// request given anticipation, the refresh margin before expiry.
func (t Token) Usable(now time.Time, anticipation time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Add(anticipation).Before(t.Expiry)
}

// helperOutput is the JSON object the refresh helper must print on
// stdout.
type helperOutput struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Manager refreshes one FCM v1 service account's bearer token by
// shelling out to an external helper that signs and exchanges a JWT.
// One Manager instance per service account.
type Manager struct {
	serviceAccountPath string
	helperPath         string
	anticipation       time.Duration
	minInterval        time.Duration

	mtx          sync.Mutex
	state        State
	current      Token
	lastRefresh  time.Time
	backoff      time.Duration
	subscribers  []chan Token
	refreshing   chan struct{} // non-nil while a refresh is in flight
	execCommand  func(name string, arg ...string) *exec.Cmd
}

// New constructs a Manager bound to one service account file. If the
// file cannot be read, New returns a configuration error and no
// Manager. The refresh helper is first invoked by a Token() call or by
// Run's eager-refresh check. A refresh that fails while no usable
// token is cached sets the state to Failed; the next refresh attempt
// moves it on again.
func New(serviceAccountPath, helperPath string, defaultRefreshInterval, anticipationWindow time.Duration) (*Manager, error) {
	if _, err := os.Stat(serviceAccountPath); err != nil {
		return nil, errs.NewConfiguration("loading service account [" + serviceAccountPath + "]: " + err.Error())
	}

	return &Manager{
		serviceAccountPath: serviceAccountPath,
		helperPath:         helperPath,
		anticipation:       anticipationWindow,
		minInterval:        defaultRefreshInterval,
		state:              Uninitialized,
		backoff:            time.Second,
		execCommand:        exec.Command,
	}, nil
}

// State returns the Manager's current lifecycle position.
func (m *Manager) State() State {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.state
}

// Token returns a currently usable token, triggering or joining a
// refresh if the cached one is stale. It blocks until a fresh token
// is published or ctx is done, failing with TokenUnavailable if no
// usable token exists by the time ctx expires.
func (m *Manager) Token(ctx context.Context) (Token, error) {
	m.mtx.Lock()
	if m.current.Usable(time.Now(), m.anticipation) {
		t := m.current
		m.mtx.Unlock()
		return t, nil
	}
	ch := m.joinRefresh()
	m.mtx.Unlock()

	select {
	case t, ok := <-ch:
		if !ok {
			return Token{}, errs.NewTokenUnavailable("refresh failed, no usable token")
		}
		return t, nil
	case <-ctx.Done():
		return Token{}, errs.NewTokenUnavailable("timed out waiting for token refresh")
	}
}

// joinRefresh returns a channel the caller can wait on for the next
// published token, starting a refresh goroutine if none is already
// in flight. Must be called with m.mtx held; it releases nothing.
func (m *Manager) joinRefresh() chan Token {
	out := make(chan Token, 1)

	sub := make(chan Token, 1)
	m.subscribers = append(m.subscribers, sub)

	if m.refreshing == nil {
		m.refreshing = make(chan struct{})
		m.state = Refreshing
		go m.runRefresh()
	}

	go func() {
		t, ok := <-sub
		if ok {
			out <- t
		}
		close(out)
	}()

	return out
}

// runRefresh performs exactly one refresh attempt, publishing the
// result to every subscriber that joined before it finished, then
// clears the in-flight marker so the next stale Token() call starts a
// new refresh. After a failure the marker stays set for the backoff
// period, and callers that join during it fail without a new refresh.
func (m *Manager) runRefresh() {
	now := time.Now()

	token, err := m.invokeHelper()

	m.mtx.Lock()
	subs := m.subscribers
	m.subscribers = nil

	if err != nil {
		log.Warn("fcm v1 token refresh failed",
			zap.String("serviceAccount", m.serviceAccountPath), zap.Error(err))
		m.state = Ready
		if !m.current.Usable(time.Now(), m.anticipation) {
			m.state = Failed
		}
		backoff := m.backoff
		if backoff < 30*time.Second {
			m.backoff *= 2
		}
		m.mtx.Unlock()

		for _, s := range subs {
			close(s)
		}
		time.Sleep(backoff)

		m.mtx.Lock()
		late := m.subscribers
		m.subscribers = nil
		m.refreshing = nil
		m.mtx.Unlock()
		for _, s := range late {
			close(s)
		}
		return
	}

	m.refreshing = nil
	m.current = token
	m.lastRefresh = now
	m.backoff = time.Second
	m.state = Ready
	m.mtx.Unlock()

	for _, s := range subs {
		s <- token
	}
}

// Run drives the Manager's eager refresh loop: every pollInterval it
// checks whether the cached token needs refreshing ahead of expiry
// and, subject to the minInterval floor between helper invocations,
// starts one. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) {
	const pollInterval = 5 * time.Second

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maybeEagerRefresh()
		}
	}
}

// maybeEagerRefresh starts a refresh when the cached token is within
// its anticipation window of expiry, as long as the minimum-interval
// floor since the last refresh has elapsed.
func (m *Manager) maybeEagerRefresh() {
	m.mtx.Lock()
	now := time.Now()
	needsRefresh := !m.current.Usable(now, m.anticipation)
	pastFloor := now.Sub(m.lastRefresh) >= m.minInterval
	alreadyRunning := m.refreshing != nil

	if needsRefresh && pastFloor && !alreadyRunning {
		m.joinRefresh()
	}
	m.mtx.Unlock()
}

// invokeHelper runs the configured refresh helper and parses its
// stdout as {"access_token": "...", "expires_in": <seconds>}.
func (m *Manager) invokeHelper() (Token, error) {
	cmd := m.execCommand(m.helperPath, m.serviceAccountPath)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return Token{}, errs.NewTokenRefreshFailed("helper exited: " + err.Error())
	}

	var out helperOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Token{}, errs.NewTokenRefreshFailed("malformed helper output: " + err.Error())
	}
	if out.AccessToken == "" {
		return Token{}, errs.NewTokenRefreshFailed("helper returned empty access_token")
	}

	return Token{
		Token: oauth2.Token{
			AccessToken: out.AccessToken,
			Expiry:      time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
		},
	}, nil
}
