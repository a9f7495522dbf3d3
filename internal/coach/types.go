package coach

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is one of the coaching signals the server can send back to a
// recording client.
type EventKind string

const (
	EventGood        EventKind = "GOOD"         // creator is locked in, hold this energy
	EventSpeedUp     EventKind = "SPEED_UP"     // talking too slow, too many pauses
	EventVibeCheck   EventKind = "VIBE_CHECK"   // face is flat, energy doesn't match words
	EventRaiseEnergy EventKind = "RAISE_ENERGY" // vocal energy dropping
	EventVisualReset EventKind = "VISUAL_RESET" // completely static, no movement
	EventHookGood    EventKind = "HOOK_GOOD"    // opening grabs attention
	EventHookWeak    EventKind = "HOOK_WEAK"    // opening would get scrolled past
)

// AllKinds lists every recognized kind, in a stable order used by reports.
var AllKinds = []EventKind{
	EventGood, EventSpeedUp, EventVibeCheck, EventRaiseEnergy,
	EventVisualReset, EventHookGood, EventHookWeak,
}

// Known reports whether k is one of the recognized event kinds.
func (k EventKind) Known() bool {
	for _, v := range AllKinds {
		if k == v {
			return true
		}
	}
	return false
}

// IsHook reports whether k is one of the hook evaluation kinds.
func (k EventKind) IsHook() bool { return k == EventHookGood || k == EventHookWeak }

// BuzzPattern selects how the client's buzzer fires.
type BuzzPattern string

const (
	BuzzSingle BuzzPattern = "single"
	BuzzDouble BuzzPattern = "double"
	BuzzTriple BuzzPattern = "triple"
	BuzzLong   BuzzPattern = "long"
)

// Known reports whether p is a recognized buzz pattern.
func (p BuzzPattern) Known() bool {
	switch p {
	case BuzzSingle, BuzzDouble, BuzzTriple, BuzzLong:
		return true
	}
	return false
}

// Phase marks which part of the session an event belongs to.
type Phase string

const (
	PhaseHook   Phase = "hook"
	PhaseNormal Phase = "normal"
)

// Verdict is one classifier's judgment after validation, before fusion.
// Score and Confidence are clamped to [0,1]; Message is at most 14 chars.
type Verdict struct {
	Kind        EventKind
	Score       float64
	Message     string
	Buzz        bool
	BuzzPattern BuzzPattern
	Confidence  float64
	Reasoning   string
}

// CoachingEvent is the single fused result of one analysis cycle.
// Message and Detail are capped at 16 chars (one LCD line each).
type CoachingEvent struct {
	Event       EventKind   `json:"event"`
	Score       float64     `json:"score"`
	Message     string      `json:"message"`
	Detail      string      `json:"detail"`
	Buzz        bool        `json:"buzz"`
	BuzzPattern BuzzPattern `json:"buzz_pattern"`
	Confidence  float64     `json:"confidence"`
	Timestamp   float64     `json:"timestamp"`
	Phase       Phase       `json:"phase"`
	Reasoning   string      `json:"reasoning"`
}

const lcdWidth = 16

// ScoreBar renders the 14-char bar shown on the second LCD line,
// e.g. "████████░░ 81%".
func (e CoachingEvent) ScoreBar() string {
	filled := int(e.Score * 10)
	if filled > 10 {
		filled = 10
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
	return fmt.Sprintf("%s%3d%%", bar, int(e.Score*100))
}

func truncateLCD(s string) string {
	r := []rune(s)
	if len(r) > lcdWidth {
		return string(r[:lcdWidth])
	}
	return s
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
