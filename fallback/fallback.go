// Package fallback decides which of the two recognition methods is
// authoritative. It is a pure policy layer: it never touches the transport,
// only the method label. One instance lives for the whole process and its
// state persists across capture sessions.
package fallback

import (
	"fmt"
	"sync"
	"time"

	"vox/log"
)

type Method string

const (
	MethodWebSpeech   Method = "web-speech"
	MethodAzureSpeech Method = "azure-speech"
)

func otherMethod(m Method) Method {
	if m == MethodWebSpeech {
		return MethodAzureSpeech
	}
	return MethodWebSpeech
}

type Config struct {
	MaxConsecutiveFailures int
	FailureWindow          time.Duration
	SuccessesForRecovery   int
}

func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 3,
		FailureWindow:          60 * time.Second,
		SuccessesForRecovery:   5,
	}
}

// State is a point-in-time snapshot handed to the state callback.
type State struct {
	CurrentMethod        Method
	RecommendedMethod    Method
	PermanentFallback    bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	RecentFailures       int
	Reason               string
}

type Callbacks struct {
	OnMethodChange func(old, new Method, reason string)
	OnState        func(State)
}

type failure struct {
	at     time.Time
	method Method
}

type Manager struct {
	cfg Config
	cb  Callbacks
	now func() time.Time

	mu          sync.Mutex
	current     Method
	recommended Method
	permanent   bool
	consecFails int
	consecOKs   int
	failures    []failure
	lastReason  string
}

func New(recommended Method, cfg Config, cb Callbacks) *Manager {
	def := DefaultConfig()
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.SuccessesForRecovery <= 0 {
		cfg.SuccessesForRecovery = def.SuccessesForRecovery
	}
	return &Manager{
		cfg:         cfg,
		cb:          cb,
		now:         time.Now,
		current:     recommended,
		recommended: recommended,
	}
}

func (m *Manager) Current() Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// RecordFailure appends to the sliding failure window and evaluates the
// fallback policy: any failure of the active method switches away
// temporarily; reaching the threshold, consecutively or within the window,
// makes the fallback permanent.
func (m *Manager) RecordFailure(method Method, cause error) {
	m.mu.Lock()
	now := m.now()
	m.pruneLocked(now)
	m.failures = append(m.failures, failure{at: now, method: method})
	if method == m.current {
		m.consecFails++
	}
	m.consecOKs = 0

	var old Method
	changed := false
	windowCount := m.windowCountLocked(method)
	overThreshold := m.consecFails >= m.cfg.MaxConsecutiveFailures ||
		windowCount >= m.cfg.MaxConsecutiveFailures

	switch {
	case overThreshold && !m.permanent:
		m.permanent = true
		m.lastReason = fmt.Sprintf("%d failures on %s within %s", windowCount, method, m.cfg.FailureWindow)
		m.consecFails = 0
		if m.current == method {
			old = m.current
			m.current = otherMethod(method)
			changed = true
		}
	case method == m.current:
		// Temporary switch on a single failure of the active method.
		m.lastReason = fmt.Sprintf("temporary switch after failure: %v", cause)
		old = m.current
		m.current = otherMethod(method)
		changed = true
	}

	m.finishLocked(old, changed)
}

// RecordSuccess resets the failure counters; sustained success on the
// fallback method clears the permanent flag and restores the recommended
// method.
func (m *Manager) RecordSuccess(method Method) {
	m.mu.Lock()
	m.consecFails = 0
	if method == m.current {
		m.consecOKs++
	}

	var old Method
	changed := false
	if m.permanent && m.consecOKs >= m.cfg.SuccessesForRecovery {
		m.permanent = false
		m.lastReason = fmt.Sprintf("recovered after %d consecutive successes", m.consecOKs)
		m.consecOKs = 0
		if m.current != m.recommended {
			old = m.current
			m.current = m.recommended
			changed = true
		}
	}

	m.finishLocked(old, changed)
}

// SetRecommendedMethod records the environment's preferred method. The
// switch is immediate unless a permanent fallback is in effect.
func (m *Manager) SetRecommendedMethod(method Method) {
	m.mu.Lock()
	m.recommended = method

	var old Method
	changed := false
	if !m.permanent && m.current != method {
		m.lastReason = "environment recommendation changed"
		old = m.current
		m.current = method
		changed = true
	}

	m.finishLocked(old, changed)
}

// ForceMethod is the user override: counters, window and the permanent flag
// are cleared unconditionally.
func (m *Manager) ForceMethod(method Method) {
	m.mu.Lock()
	m.consecFails = 0
	m.consecOKs = 0
	m.failures = nil
	m.permanent = false
	m.lastReason = "user override"

	var old Method
	changed := false
	if m.current != method {
		old = m.current
		m.current = method
		changed = true
	}

	m.finishLocked(old, changed)
}

// finishLocked releases the lock and invokes the callbacks outside it.
func (m *Manager) finishLocked(old Method, changed bool) {
	snap := m.snapshotLocked()
	newMethod := m.current
	reason := m.lastReason
	m.mu.Unlock()

	if changed {
		log.MethodChange(string(old), string(newMethod), reason)
		if m.cb.OnMethodChange != nil {
			m.cb.OnMethodChange(old, newMethod, reason)
		}
	}
	if m.cb.OnState != nil {
		m.cb.OnState(snap)
	}
}

func (m *Manager) snapshotLocked() State {
	return State{
		CurrentMethod:        m.current,
		RecommendedMethod:    m.recommended,
		PermanentFallback:    m.permanent,
		ConsecutiveFailures:  m.consecFails,
		ConsecutiveSuccesses: m.consecOKs,
		RecentFailures:       len(m.failures),
		Reason:               m.lastReason,
	}
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.FailureWindow)
	kept := m.failures[:0]
	for _, f := range m.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	m.failures = kept
}

func (m *Manager) windowCountLocked(method Method) int {
	n := 0
	for _, f := range m.failures {
		if f.method == method {
			n++
		}
	}
	return n
}
