package coach

import "math"

// urgency orders kinds from most to least urgent. Lower wins when audio and
// vision disagree; the table is a product decision carried over as-is, not
// derived from scores.
var urgency = map[EventKind]int{
	EventRaiseEnergy: 0,
	EventSpeedUp:     1,
	EventVibeCheck:   2,
	EventVisualReset: 3,
	EventGood:        4,
}

func urgencyOf(k EventKind) int {
	if u, ok := urgency[k]; ok {
		return u
	}
	return urgency[EventGood]
}

// Normal-phase merge weights: tone and energy dominate perceived engagement,
// so the audio judgment carries more weight than the visual one.
const (
	audioWeight  = 0.6
	visionWeight = 0.4
)

// Hook merge weights and the score floor below which a hook is called weak
// even when the two verdicts disagree. Tunable: openings default toward
// positive, so one weak verdict alone never condemns the hook.
const (
	hookAudioWeight  = 0.65
	hookVisionWeight = 0.35
	hookWeakScore    = 0.45
)

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// MergeVerdicts fuses up to two normal-phase verdicts into one. With a single
// verdict present it is returned verbatim. With both present the scores blend
// 0.6 audio / 0.4 vision, the more urgent kind supplies the visible fields
// (ties favor audio), and a confidently positive audio read overrides a
// noisier visual complaint.
func MergeVerdicts(audio, vision *Verdict) (Verdict, error) {
	switch {
	case audio == nil && vision == nil:
		return Verdict{}, ErrFusionImpossible
	case vision == nil:
		return *audio, nil
	case audio == nil:
		return *vision, nil
	}

	merged := Verdict{
		Score:      audio.Score*audioWeight + vision.Score*visionWeight,
		Confidence: math.Min(audio.Confidence, vision.Confidence),
		Reasoning:  "Audio: " + audio.Reasoning + " | Visual: " + vision.Reasoning,
	}

	if urgencyOf(audio.Kind) <= urgencyOf(vision.Kind) {
		merged.Kind = audio.Kind
		merged.Message = audio.Message
		merged.Buzz = audio.Buzz
		merged.BuzzPattern = audio.BuzzPattern
	} else {
		merged.Kind = vision.Kind
		merged.Message = vision.Message
		merged.Buzz = vision.Buzz
		merged.BuzzPattern = vision.BuzzPattern
	}

	// A confident GOOD from the audio side is not vetoed by the visual read.
	if audio.Kind == EventGood && audio.Confidence > 0.7 {
		merged.Kind = EventGood
		merged.Message = audio.Message
		if merged.Message == "" {
			merged.Message = "LOCKED IN"
		}
		merged.Buzz = false
		merged.BuzzPattern = BuzzSingle
		merged.Score = math.Max(merged.Score, audio.Score)
	}

	merged.Score = round3(merged.Score)
	return merged, nil
}

// MergeHookVerdicts fuses the one-shot hook evaluations. The hook is weak
// only when both verdicts independently say weak, or the 0.65/0.35 blended
// score falls below the weak floor. A lone verdict is used as-is.
func MergeHookVerdicts(audio, vision *Verdict) (Verdict, error) {
	switch {
	case audio == nil && vision == nil:
		return Verdict{}, ErrFusionImpossible
	case vision == nil:
		return *audio, nil
	case audio == nil:
		return *vision, nil
	}

	score := round3(audio.Score*hookAudioWeight + vision.Score*hookVisionWeight)

	kind := EventHookGood
	if (audio.Kind == EventHookWeak && vision.Kind == EventHookWeak) || score < hookWeakScore {
		kind = EventHookWeak
	}

	message := vision.Message
	if audio.Kind == EventHookWeak {
		message = audio.Message
	}
	if kind == EventHookGood {
		message = audio.Message
		if message == "" {
			message = "GREAT HOOK!"
		}
	}

	buzz := kind == EventHookWeak
	pattern := BuzzSingle
	if buzz {
		pattern = BuzzDouble
	}

	return Verdict{
		Kind:        kind,
		Score:       score,
		Message:     message,
		Buzz:        buzz,
		BuzzPattern: pattern,
		Confidence:  math.Min(audio.Confidence, vision.Confidence),
		Reasoning:   "Audio: " + audio.Reasoning + " | Visual: " + vision.Reasoning,
	}, nil
}

// ApplyCooldown re-emits the event with the buzz suppressed when its kind is
// still on cooldown. The visible feedback (kind, score, message) is kept so
// the client display stays truthful; only repeat alerting is muted.
func ApplyCooldown(st *SessionState, ev CoachingEvent) CoachingEvent {
	if !st.IsOnCooldown(ev.Event) {
		return ev
	}
	ev.Buzz = false
	ev.BuzzPattern = BuzzSingle
	return ev
}
