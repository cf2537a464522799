// Package deploylock provides short-lived scoped mutexes gating blueprint
// mutations across concurrent admin clients.
package deploylock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScopeGlobal locks every blueprint at once; any other scope string is a
// blueprint id.
const ScopeGlobal = "global"

// DefaultTTL bounds how long an unreleased lock survives. Crashed clients
// must not wedge deploys forever.
const DefaultTTL = 60 * time.Second

// ErrLocked reports a scope already held by someone else.
type ErrLocked struct {
	Scope  string
	Holder string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("deploy lock %q held by %s", e.Scope, e.Holder)
}

type lock struct {
	token   string
	holder  string
	expires time.Time
}

// Manager tracks active locks by scope.
type Manager struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]*lock
	now   func() time.Time
}

func New(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{ttl: ttl, locks: map[string]*lock{}, now: time.Now}
}

// Acquire takes the scope for holder and returns a release token. A held,
// unexpired scope fails with *ErrLocked carrying the current holder. The
// global scope conflicts with every per-blueprint scope and vice versa.
func (m *Manager) Acquire(scope, holder string) (string, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	if l, ok := m.locks[scope]; ok {
		return "", &ErrLocked{Scope: scope, Holder: l.holder}
	}
	if scope == ScopeGlobal {
		for s, l := range m.locks {
			if s != ScopeGlobal {
				return "", &ErrLocked{Scope: s, Holder: l.holder}
			}
		}
	} else if l, ok := m.locks[ScopeGlobal]; ok {
		return "", &ErrLocked{Scope: ScopeGlobal, Holder: l.holder}
	}

	token := uuid.NewString()
	m.locks[scope] = &lock{token: token, holder: holder, expires: m.now().Add(m.ttl)}
	return token, nil
}

// Release frees the scope if token matches. Releasing an already-released
// or expired token is a no-op.
func (m *Manager) Release(scope, token string) {
	if scope == "" {
		scope = ScopeGlobal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[scope]; ok && l.token == token {
		delete(m.locks, scope)
	}
}

// Holder returns who currently holds the scope, if anyone.
func (m *Manager) Holder(scope string) (string, bool) {
	if scope == "" {
		scope = ScopeGlobal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	l, ok := m.locks[scope]
	if !ok {
		return "", false
	}
	return l.holder, true
}

// sweep drops expired locks; callers hold m.mu.
func (m *Manager) sweep() {
	now := m.now()
	for scope, l := range m.locks {
		if now.After(l.expires) {
			delete(m.locks, scope)
		}
	}
}
