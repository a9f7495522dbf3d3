package coach

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock makes session timing deterministic in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry() (*Registry, *fakeClock) {
	clk := newFakeClock()
	r := NewRegistry()
	r.now = clk.now
	return r, clk
}

func eventOf(kind EventKind, score float64) CoachingEvent {
	return CoachingEvent{Event: kind, Score: score, Message: string(kind), Phase: PhaseNormal}
}

func TestRecord_Streaks(t *testing.T) {
	r, _ := newTestRegistry()
	st := r.CreateOrFetch("s1")

	for i := 0; i < 4; i++ {
		st.Record(eventOf(EventGood, 0.9))
	}
	if got := st.ConsecutiveGood(); got != 4 {
		t.Fatalf("ConsecutiveGood = %d, want 4", got)
	}
	if got := st.ConsecutiveBad(); got != 0 {
		t.Fatalf("ConsecutiveBad = %d, want 0", got)
	}

	st.Record(eventOf(EventSpeedUp, 0.4))
	if got := st.ConsecutiveGood(); got != 0 {
		t.Fatalf("ConsecutiveGood after non-GOOD = %d, want 0", got)
	}
	if got := st.ConsecutiveBad(); got != 1 {
		t.Fatalf("ConsecutiveBad = %d, want 1", got)
	}

	if got := len(st.History()); got != 5 {
		t.Fatalf("history length = %d, want 5", got)
	}
}

func TestCooldown(t *testing.T) {
	r, clk := newTestRegistry()
	st := r.CreateOrFetch("s1")

	// GOOD is never suppressed, even back to back.
	st.Record(eventOf(EventGood, 0.9))
	if st.IsOnCooldown(EventGood) {
		t.Fatal("GOOD must never be on cooldown")
	}

	st.Record(eventOf(EventSpeedUp, 0.4))
	if !st.IsOnCooldown(EventSpeedUp) {
		t.Fatal("SPEED_UP should be on cooldown right after firing")
	}
	clk.advance(7 * time.Second)
	if !st.IsOnCooldown(EventSpeedUp) {
		t.Fatal("SPEED_UP cooldown is 8s; still suppressed at 7s")
	}
	clk.advance(2 * time.Second)
	if st.IsOnCooldown(EventSpeedUp) {
		t.Fatal("SPEED_UP should be clear after 9s")
	}

	// A kind that never fired is not on cooldown.
	if st.IsOnCooldown(EventVisualReset) {
		t.Fatal("unfired kind reported on cooldown")
	}
}

func TestCooldown_PerKindDurations(t *testing.T) {
	cases := []struct {
		kind EventKind
		cd   time.Duration
	}{
		{EventVibeCheck, 10 * time.Second},
		{EventRaiseEnergy, 10 * time.Second},
		{EventVisualReset, 12 * time.Second},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			r, clk := newTestRegistry()
			st := r.CreateOrFetch("s1")
			st.Record(eventOf(tc.kind, 0.3))
			clk.advance(tc.cd - time.Second)
			if !st.IsOnCooldown(tc.kind) {
				t.Fatalf("%s should still be suppressed 1s before its cooldown ends", tc.kind)
			}
			clk.advance(2 * time.Second)
			if st.IsOnCooldown(tc.kind) {
				t.Fatalf("%s should be clear after its cooldown", tc.kind)
			}
		})
	}
}

func TestRecentScoreTrend(t *testing.T) {
	cases := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"rising", []float64{0.5, 0.6, 0.7}, "rising"},
		{"falling", []float64{0.8, 0.7, 0.6}, "falling"},
		{"flat", []float64{0.7, 0.75, 0.72}, "stable"},
		{"boundary_not_exceeded", []float64{0.5, 0.9, 0.58}, "stable"},
		{"too_few", []float64{0.2, 0.9}, "stable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRegistry()
			st := r.CreateOrFetch("s1")
			for _, sc := range tc.scores {
				st.Record(eventOf(EventGood, sc))
			}
			if got := st.RecentScoreTrend(3); got != tc.want {
				t.Fatalf("trend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAverageScore(t *testing.T) {
	r, _ := newTestRegistry()
	st := r.CreateOrFetch("s1")
	if got := st.AverageScore(10); got != 0 {
		t.Fatalf("empty history average = %v, want 0", got)
	}
	for _, sc := range []float64{0.25, 0.5, 0.75, 1.0} {
		st.Record(eventOf(EventGood, sc))
	}
	if got := st.AverageScore(0); got != 0.625 {
		t.Fatalf("full average = %v, want 0.625", got)
	}
	if got := st.AverageScore(2); got != 0.875 {
		t.Fatalf("windowed average = %v, want 0.875", got)
	}
}

func TestPhaseTransition(t *testing.T) {
	r, clk := newTestRegistry()
	st := r.CreateOrFetch("s1")

	if phase, moved := st.UpdatePhase(3 * time.Second); phase != PhaseHook || moved {
		t.Fatalf("fresh session: phase=%v moved=%v, want hook/false", phase, moved)
	}

	clk.advance(3 * time.Second)
	phase, moved := st.UpdatePhase(3 * time.Second)
	if phase != PhaseNormal || !moved {
		t.Fatalf("at 3s: phase=%v moved=%v, want normal/true", phase, moved)
	}

	// The transition fires exactly once and never reverts.
	clk.advance(time.Second)
	if phase, moved := st.UpdatePhase(3 * time.Second); phase != PhaseNormal || moved {
		t.Fatalf("after transition: phase=%v moved=%v, want normal/false", phase, moved)
	}

	if !st.ClaimHookEvaluation() {
		t.Fatal("first claim should win")
	}
	if st.ClaimHookEvaluation() {
		t.Fatal("second claim should lose")
	}
}

func TestHookSampleBuffer(t *testing.T) {
	r, _ := newTestRegistry()
	st := r.CreateOrFetch("s1")

	st.BufferHookSample([]byte("frame1"), []byte("audio1"))
	st.BufferHookSample([]byte("frame2"), nil) // audio absent this cycle; keep previous
	frame, pcm := st.TakeHookSample()
	if string(frame) != "frame2" || string(pcm) != "audio1" {
		t.Fatalf("got frame=%q pcm=%q", frame, pcm)
	}

	// Consumed exactly once.
	frame, pcm = st.TakeHookSample()
	if frame != nil || pcm != nil {
		t.Fatal("second take should return empty buffers")
	}
}

func TestBackoff(t *testing.T) {
	r, clk := newTestRegistry()
	st := r.CreateOrFetch("s1")

	if st.InBackoff() {
		t.Fatal("fresh session should not be in backoff")
	}
	st.SetBackoff(5 * time.Second)
	if !st.InBackoff() {
		t.Fatal("expected backoff after SetBackoff")
	}
	// A shorter overlapping backoff never truncates a longer one.
	st.SetBackoff(time.Second)
	clk.advance(2 * time.Second)
	if !st.InBackoff() {
		t.Fatal("longer backoff window was truncated")
	}
	clk.advance(4 * time.Second)
	if st.InBackoff() {
		t.Fatal("backoff should have expired")
	}
}

func TestDeviceID_FirstWins(t *testing.T) {
	r, _ := newTestRegistry()
	st := r.CreateOrFetch("s1")
	st.SetDeviceID("")
	st.SetDeviceID("pi-01")
	st.SetDeviceID("pi-02")
	if got := st.DeviceID(); got != "pi-01" {
		t.Fatalf("DeviceID = %q, want pi-01", got)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r, _ := newTestRegistry()

	st := r.CreateOrFetch("s1")
	if again := r.CreateOrFetch("s1"); again != st {
		t.Fatal("CreateOrFetch returned a different state for the same id")
	}
	if _, ok := r.Fetch("s1"); !ok {
		t.Fatal("Fetch should find the created session")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	if !r.Delete("s1") {
		t.Fatal("Delete should report the session existed")
	}
	if r.Delete("s1") {
		t.Fatal("second Delete should report missing")
	}
	if !st.Closed() {
		t.Fatal("deleted session should be marked closed")
	}
	if st.Record(eventOf(EventGood, 0.9)) {
		t.Fatal("Record on a closed session must be discarded")
	}
	if st.RecordHook(eventOf(EventHookGood, 0.8)) {
		t.Fatal("RecordHook on a closed session must be discarded")
	}
	if len(st.History()) != 0 || len(st.HookResults()) != 0 {
		t.Fatal("closed session accumulated events")
	}
}

func TestRecordHook_KeepsBothViews(t *testing.T) {
	r, _ := newTestRegistry()
	st := r.CreateOrFetch("s1")
	ev := CoachingEvent{Event: EventHookWeak, Score: 0.3, Phase: PhaseHook}
	if !st.RecordHook(ev) {
		t.Fatal("RecordHook failed on live session")
	}
	if len(st.HookResults()) != 1 {
		t.Fatalf("hook results = %d, want 1", len(st.HookResults()))
	}
	if len(st.History()) != 1 {
		t.Fatalf("history = %d, want 1 (hook events ride the main timeline too)", len(st.History()))
	}
}

func TestRecordHook_AtomicUnderDelete(t *testing.T) {
	// Whatever way the race between recording and deleting falls, the hook
	// result list and the main timeline must agree: both get the event or
	// neither does.
	for i := 0; i < 200; i++ {
		r, _ := newTestRegistry()
		st := r.CreateOrFetch("s1")

		recorded := make(chan bool)
		go func() {
			recorded <- st.RecordHook(eventOf(EventHookGood, 0.8))
		}()
		r.Delete("s1")
		ok := <-recorded

		hooks, events := len(st.HookResults()), len(st.History())
		if hooks != events {
			t.Fatalf("iteration %d: hook results = %d, timeline = %d; views diverged", i, hooks, events)
		}
		if ok != (hooks == 1) {
			t.Fatalf("iteration %d: RecordHook returned %v but stored %d events", i, ok, hooks)
		}
	}
}

func TestScoreBar(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.81, "████████░░ 81%"},
		{0, "░░░░░░░░░░  0%"},
		{1, "██████████100%"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%.2f", tc.score), func(t *testing.T) {
			ev := CoachingEvent{Score: tc.score}
			if got := ev.ScoreBar(); got != tc.want {
				t.Fatalf("ScoreBar = %q, want %q", got, tc.want)
			}
		})
	}
}
