package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gelozr/authflow/auth"
)

var errStorage = errors.New("storage error")

type MockStorage struct {
	mu    sync.Mutex
	items map[string]string

	shouldFailGet    bool
	shouldFailSet    bool
	shouldFailRemove bool
	shouldFailClear  bool

	// setGate, when set, blocks SetItem until it is closed.
	setGate chan struct{}

	setCalled   int
	clearCalled int
}

func newMockStorage(items map[string]string) *MockStorage {
	if items == nil {
		items = make(map[string]string)
	}
	return &MockStorage{items: items}
}

func (m *MockStorage) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailGet {
		return "", false, errStorage
	}
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MockStorage) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	gate := m.setGate
	m.setCalled++
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailSet {
		return errStorage
	}
	m.items[key] = value
	return nil
}

func (m *MockStorage) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailRemove {
		return errStorage
	}
	delete(m.items, key)
	return nil
}

func (m *MockStorage) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearCalled++
	if m.shouldFailClear {
		return errStorage
	}
	m.items = make(map[string]string)
	return nil
}

func (m *MockStorage) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

type apiError struct {
	code auth.ErrorCode
}

func (e apiError) Error() string             { return string(e.code) }
func (e apiError) ErrorCode() auth.ErrorCode { return e.code }

type MockSessionAPI struct {
	mu sync.Mutex

	session         auth.Session
	shouldFailLogin error
	shouldFailCheck error

	loginCalls  []loginCall
	checkTokens []string
}

type loginCall struct {
	providerID string
	state      any
}

func (m *MockSessionAPI) Login(_ context.Context, providerID string, state any) (auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loginCalls = append(m.loginCalls, loginCall{providerID: providerID, state: state})
	if m.shouldFailLogin != nil {
		return auth.Session{}, m.shouldFailLogin
	}
	return m.session, nil
}

func (m *MockSessionAPI) LoginStatus(_ context.Context, token string) (auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkTokens = append(m.checkTokens, token)
	if m.shouldFailCheck != nil {
		return auth.Session{}, m.shouldFailCheck
	}
	return m.session, nil
}

func (m *MockSessionAPI) logins() []loginCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]loginCall(nil), m.loginCalls...)
}

func (m *MockSessionAPI) checks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.checkTokens...)
}

type MockProvider struct {
	mu sync.Mutex

	tryResult  auth.Result
	verifyRes  auth.Result
	shouldFail error

	tryAuthCalled int
	verifyCalled  int
}

func (m *MockProvider) TryAuth(context.Context) (auth.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tryAuthCalled++
	if m.shouldFail != nil {
		return auth.Result{}, m.shouldFail
	}
	return m.tryResult, nil
}

func (m *MockProvider) Verify(context.Context) (auth.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.verifyCalled++
	if m.shouldFail != nil {
		return auth.Result{}, m.shouldFail
	}
	return m.verifyRes, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []auth.Event
}

func recordEvents(bus *auth.Bus) *eventLog {
	l := &eventLog{}
	bus.Subscribe(func(_ context.Context, evt auth.Event) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, evt)
		return nil
	})
	return l
}

func (l *eventLog) all() []auth.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]auth.Event(nil), l.events...)
}

func (l *eventLog) last() auth.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

func settle(t *testing.T, bus *auth.Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))
}

var testUser = auth.User{ID: "u-1", Email: "ada@example.com", Name: "Ada"}
