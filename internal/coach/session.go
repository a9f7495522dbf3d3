package coach

import (
	"sync"
	"time"
)

// cooldownSeconds maps each kind to how long repeat alerts are suppressed.
// GOOD is free (positive feedback never suppressed) and hook kinds are
// one-shot, so neither carries a cooldown.
var cooldownSeconds = map[EventKind]time.Duration{
	EventGood:        0,
	EventSpeedUp:     8 * time.Second,
	EventVibeCheck:   10 * time.Second,
	EventRaiseEnergy: 10 * time.Second,
	EventVisualReset: 12 * time.Second,
	EventHookGood:    0,
	EventHookWeak:    0,
}

const defaultCooldown = 8 * time.Second

// DefaultHookDuration is how long the opening "hook" window lasts before the
// session transitions to normal coaching.
const DefaultHookDuration = 3 * time.Second

// SessionState tracks one recording session: its event timeline, cooldown
// table, streak counters and hook/normal phase. All methods are safe for
// concurrent use, though cycles for a single session are expected to run
// sequentially.
type SessionState struct {
	mu  sync.Mutex
	now func() time.Time

	history   []CoachingEvent
	lastFired map[EventKind]time.Time

	consecutiveGood int
	consecutiveBad  int

	phase     Phase
	startedAt time.Time

	hookResults   []CoachingEvent
	hookEvaluated bool
	hookFrame     []byte
	hookAudio     []byte

	deviceID     string
	backoffUntil time.Time
	closed       bool
}

func newSessionState(now func() time.Time) *SessionState {
	return &SessionState{
		now:       now,
		lastFired: make(map[EventKind]time.Time),
		phase:     PhaseHook,
		startedAt: now(),
	}
}

// UpdatePhase lazily advances hook -> normal once hookDuration has elapsed
// since the session started. The transition happens exactly once and never
// reverts. It returns the phase after the check and whether this call
// performed the transition.
func (s *SessionState) UpdatePhase(hookDuration time.Duration) (Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseHook && s.now().Sub(s.startedAt) >= hookDuration {
		s.phase = PhaseNormal
		return s.phase, true
	}
	return s.phase, false
}

// Phase returns the current session phase.
func (s *SessionState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ClaimHookEvaluation returns true exactly once per session; the caller that
// wins the claim runs the hook evaluation.
func (s *SessionState) ClaimHookEvaluation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hookEvaluated {
		return false
	}
	s.hookEvaluated = true
	return true
}

// BufferHookSample keeps the most recent frame/audio seen during the hook
// phase. Only the latest sample is retained.
func (s *SessionState) BufferHookSample(frame, audioPCM []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(frame) > 0 {
		s.hookFrame = frame
	}
	if len(audioPCM) > 0 {
		s.hookAudio = audioPCM
	}
}

// TakeHookSample returns the buffered hook frame/audio and clears the slots.
// The buffers are consumed exactly once, at the hook -> normal transition.
func (s *SessionState) TakeHookSample() (frame, audioPCM []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, audioPCM = s.hookFrame, s.hookAudio
	s.hookFrame, s.hookAudio = nil, nil
	return frame, audioPCM
}

// Record appends the event to the timeline, stamps the cooldown table and
// updates the streak counters. Results for a deleted session are discarded.
func (s *SessionState) Record(ev CoachingEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.recordLocked(ev)
	return true
}

// RecordHook records a hook evaluation result, keeping it both in the main
// timeline and in the hook result list the report summarizes separately.
// Both appends happen under one critical section so a concurrent delete
// either discards the event entirely or keeps both views consistent.
func (s *SessionState) RecordHook(ev CoachingEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.hookResults = append(s.hookResults, ev)
	s.recordLocked(ev)
	return true
}

func (s *SessionState) recordLocked(ev CoachingEvent) {
	s.history = append(s.history, ev)
	s.lastFired[ev.Event] = s.now()

	if ev.Event == EventGood {
		s.consecutiveGood++
		s.consecutiveBad = 0
	} else {
		s.consecutiveBad++
		s.consecutiveGood = 0
	}
}

// IsOnCooldown reports whether alerts of this kind are currently suppressed.
// GOOD is never on cooldown.
func (s *SessionState) IsOnCooldown(kind EventKind) bool {
	if kind == EventGood {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastFired[kind]
	if !ok {
		return false
	}
	cd, ok := cooldownSeconds[kind]
	if !ok {
		cd = defaultCooldown
	}
	if cd == 0 {
		return false
	}
	return s.now().Sub(last) < cd
}

// RecentScoreTrend compares the n-th-from-last score with the latest:
// "rising" when the increase exceeds 0.08, "falling" when the decrease does,
// otherwise "stable". Fewer than n events is "stable".
func (s *SessionState) RecentScoreTrend(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < n {
		return "stable"
	}
	recent := s.history[len(s.history)-n:]
	delta := recent[len(recent)-1].Score - recent[0].Score
	switch {
	case delta > 0.08:
		return "rising"
	case delta < -0.08:
		return "falling"
	}
	return "stable"
}

// AverageScore returns the mean of the last `window` scores, 0 when the
// history is empty.
func (s *SessionState) AverageScore(window int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return 0
	}
	h := s.history
	if window > 0 && len(h) > window {
		h = h[len(h)-window:]
	}
	var sum float64
	for _, ev := range h {
		sum += ev.Score
	}
	return sum / float64(len(h))
}

// History returns a copy of the full event timeline.
func (s *SessionState) History() []CoachingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CoachingEvent, len(s.history))
	copy(out, s.history)
	return out
}

// HookResults returns a copy of the recorded hook evaluations.
func (s *SessionState) HookResults() []CoachingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CoachingEvent, len(s.hookResults))
	copy(out, s.hookResults)
	return out
}

// ConsecutiveGood returns the current GOOD streak length.
func (s *SessionState) ConsecutiveGood() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveGood
}

// ConsecutiveBad returns the current non-GOOD streak length.
func (s *SessionState) ConsecutiveBad() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveBad
}

// SetDeviceID stores the client device identifier the first time one is
// supplied; later values are ignored.
func (s *SessionState) SetDeviceID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID == "" {
		s.deviceID = id
	}
}

// DeviceID returns the device identifier for this session, if known.
func (s *SessionState) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// SetBackoff delays classifier calls for this session until d from now.
func (s *SessionState) SetBackoff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.now().Add(d)
	if until.After(s.backoffUntil) {
		s.backoffUntil = until
	}
}

// InBackoff reports whether the session is still inside a rate-limit backoff
// window.
func (s *SessionState) InBackoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.backoffUntil)
}

// close marks the session deleted; in-flight cycle results will be discarded.
func (s *SessionState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether the session has been deleted.
func (s *SessionState) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
