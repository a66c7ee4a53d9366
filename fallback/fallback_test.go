package fallback

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("recognizer unavailable")

// fakeClock lets tests move through the failure window deterministically.
type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestManager(cb Callbacks) (*Manager, *fakeClock) {
	clock := &fakeClock{at: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	m := New(MethodWebSpeech, DefaultConfig(), cb)
	m.now = clock.now
	return m, clock
}

func TestThreeFailuresTriggerPermanentFallback(t *testing.T) {
	var changes []string
	m, clock := newTestManager(Callbacks{
		OnMethodChange: func(old, new Method, reason string) {
			changes = append(changes, string(old)+"->"+string(new))
		},
	})

	for i := 0; i < 3; i++ {
		m.RecordFailure(MethodWebSpeech, errBackend)
		clock.advance(time.Second)
	}

	st := m.State()
	if st.CurrentMethod != MethodAzureSpeech {
		t.Fatalf("current method: got %s want azure-speech", st.CurrentMethod)
	}
	if !st.PermanentFallback {
		t.Fatal("expected permanent fallback after 3 failures in window")
	}
	if st.Reason == "" {
		t.Fatal("permanent fallback must carry a reason")
	}
	if len(changes) == 0 || changes[0] != "web-speech->azure-speech" {
		t.Fatalf("method changes: %v", changes)
	}
}

func TestSingleFailureSwitchesTemporarily(t *testing.T) {
	m, _ := newTestManager(Callbacks{})
	m.RecordFailure(MethodWebSpeech, errBackend)

	st := m.State()
	if st.CurrentMethod != MethodAzureSpeech {
		t.Fatalf("current method: got %s", st.CurrentMethod)
	}
	if st.PermanentFallback {
		t.Fatal("single failure must not be permanent")
	}
}

func TestFiveSuccessesRestoreRecommendedMethod(t *testing.T) {
	var lastChange string
	m, clock := newTestManager(Callbacks{
		OnMethodChange: func(old, new Method, reason string) {
			lastChange = string(old) + "->" + string(new)
		},
	})

	for i := 0; i < 3; i++ {
		m.RecordFailure(MethodWebSpeech, errBackend)
		clock.advance(time.Second)
	}
	if !m.State().PermanentFallback {
		t.Fatal("setup: expected permanent fallback")
	}

	for i := 0; i < 4; i++ {
		m.RecordSuccess(MethodAzureSpeech)
		if !m.State().PermanentFallback {
			t.Fatalf("permanent cleared after only %d successes", i+1)
		}
	}
	m.RecordSuccess(MethodAzureSpeech)

	st := m.State()
	if st.PermanentFallback {
		t.Fatal("permanent flag not cleared after 5 consecutive successes")
	}
	if st.CurrentMethod != MethodWebSpeech {
		t.Fatalf("current method: got %s want web-speech (recommended)", st.CurrentMethod)
	}
	if lastChange != "azure-speech->web-speech" {
		t.Fatalf("last change: %q", lastChange)
	}
}

func TestFailureSweptOutOfWindowDoesNotCount(t *testing.T) {
	m, clock := newTestManager(Callbacks{})

	m.RecordFailure(MethodWebSpeech, errBackend)
	m.RecordFailure(MethodWebSpeech, errBackend)
	clock.advance(61 * time.Second)
	m.RecordFailure(MethodWebSpeech, errBackend)

	st := m.State()
	if st.PermanentFallback {
		t.Fatal("expired failures must not count toward the threshold")
	}
	if st.RecentFailures != 1 {
		t.Fatalf("recent failures: got %d want 1", st.RecentFailures)
	}
}

func TestInterleavedSuccessResetsConsecutiveFailures(t *testing.T) {
	m, clock := newTestManager(Callbacks{})
	cfg := DefaultConfig()

	// Failures spread beyond the window, broken up by successes: neither
	// the consecutive counter nor the window count may reach the threshold.
	for i := 0; i < cfg.MaxConsecutiveFailures+2; i++ {
		m.RecordFailure(m.Current(), errBackend)
		m.RecordSuccess(m.Current())
		clock.advance(cfg.FailureWindow)
	}
	if m.State().PermanentFallback {
		t.Fatal("successes between failures must prevent permanent fallback")
	}
}

func TestSetRecommendedHonorsPermanentFallback(t *testing.T) {
	m, clock := newTestManager(Callbacks{})
	for i := 0; i < 3; i++ {
		m.RecordFailure(MethodWebSpeech, errBackend)
		clock.advance(time.Second)
	}

	m.SetRecommendedMethod(MethodWebSpeech)
	if m.Current() != MethodAzureSpeech {
		t.Fatal("recommendation must not override a permanent fallback")
	}

	m2, _ := newTestManager(Callbacks{})
	m2.SetRecommendedMethod(MethodAzureSpeech)
	if m2.Current() != MethodAzureSpeech {
		t.Fatal("recommendation switch must be immediate outside permanent fallback")
	}
}

func TestForceMethodClearsEverything(t *testing.T) {
	var states []State
	m, clock := newTestManager(Callbacks{OnState: func(s State) { states = append(states, s) }})
	for i := 0; i < 3; i++ {
		m.RecordFailure(MethodWebSpeech, errBackend)
		clock.advance(time.Second)
	}

	m.ForceMethod(MethodWebSpeech)
	st := m.State()
	if st.CurrentMethod != MethodWebSpeech || st.PermanentFallback {
		t.Fatalf("after override: %+v", st)
	}
	if st.ConsecutiveFailures != 0 || st.ConsecutiveSuccesses != 0 || st.RecentFailures != 0 {
		t.Fatalf("counters not cleared: %+v", st)
	}
	if len(states) == 0 {
		t.Fatal("state callback never fired")
	}
}
