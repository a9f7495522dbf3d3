package coach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Lemirq/deerhacks/internal/audio"
)

// Classifier is the narrow capability interface over the external multimodal
// inference service. Each call returns one validated verdict or fails; it is
// never assumed available.
type Classifier interface {
	AudioVerdict(ctx context.Context, pcm []byte, turnPrompt string) (Verdict, error)
	VisionVerdict(ctx context.Context, frame []byte, turnPrompt string) (Verdict, error)
	HookAudioVerdict(ctx context.Context, pcm []byte) (Verdict, error)
	HookVisionVerdict(ctx context.Context, frame []byte) (Verdict, error)
}

// minAudioBytes filters out clips too short to carry any speech.
const minAudioBytes = 100

const defaultBackoff = 15 * time.Second

// CycleInput is everything one capture cycle delivers for analysis.
type CycleInput struct {
	SessionID string
	DeviceID  string
	Frame     []byte // JPEG camera frame
	AudioPCM  []byte // raw PCM16LE clip, optional
	Metrics   *audio.Metrics
}

// Engine runs the per-cycle pipeline: phase bookkeeping, the two concurrent
// classifier calls, validation, fusion, the cooldown gate and recording.
// Every call returns a usable CoachingEvent; classifier trouble degrades to
// the neutral fallback rather than an error.
type Engine struct {
	classifier  Classifier
	registry    *Registry
	callTimeout time.Duration
	hookWindow  time.Duration
	now         func() time.Time
}

// NewEngine wires the engine. A zero callTimeout or hookWindow picks the
// defaults (12s per classifier call, 3s hook window).
func NewEngine(classifier Classifier, registry *Registry, callTimeout, hookWindow time.Duration) *Engine {
	if callTimeout <= 0 {
		callTimeout = 12 * time.Second
	}
	if hookWindow <= 0 {
		hookWindow = DefaultHookDuration
	}
	return &Engine{
		classifier:  classifier,
		registry:    registry,
		callTimeout: callTimeout,
		hookWindow:  hookWindow,
		now:         time.Now,
	}
}

// Registry exposes the session registry for the transport layer.
func (e *Engine) Registry() *Registry { return e.registry }

// Analyze runs one full cycle for the session and returns exactly one event.
func (e *Engine) Analyze(ctx context.Context, in CycleInput) CoachingEvent {
	st := e.registry.CreateOrFetch(in.SessionID)
	st.SetDeviceID(in.DeviceID)

	phase, transitioned := st.UpdatePhase(e.hookWindow)

	if phase == PhaseHook {
		st.BufferHookSample(in.Frame, in.AudioPCM)
		return e.collectingEvent()
	}

	if transitioned && st.ClaimHookEvaluation() {
		return e.evaluateHook(ctx, st, in)
	}

	if st.InBackoff() {
		log.Printf("[%s] classifier backoff active, returning fallback", in.SessionID)
		return e.fallbackEvent()
	}

	prompt := e.turnPrompt(st, in.Metrics)

	audioV, visionV := e.judgeBoth(ctx, st, in, prompt)

	merged, err := MergeVerdicts(audioV, visionV)
	if err != nil {
		log.Printf("[%s] both classifiers failed this cycle", in.SessionID)
		return e.fallbackEvent()
	}

	ev := e.eventFromVerdict(merged, PhaseNormal)
	ev = ApplyCooldown(st, ev)
	if !st.Record(ev) {
		log.Printf("[%s] session deleted mid-cycle, result discarded", in.SessionID)
	}
	return ev
}

// judgeBoth issues the audio and vision judgments concurrently under one
// timeout. A slow or failing call never blocks the other; whatever verdicts
// arrive in time are what this cycle gets.
func (e *Engine) judgeBoth(ctx context.Context, st *SessionState, in CycleInput, prompt string) (audioV, visionV *Verdict) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var audioErr, visionErr error

	if len(in.AudioPCM) > minAudioBytes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.classifier.AudioVerdict(ctx, in.AudioPCM, prompt)
			if err != nil {
				audioErr = err
				return
			}
			audioV = &v
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.classifier.VisionVerdict(ctx, in.Frame, prompt)
		if err != nil {
			visionErr = err
			return
		}
		visionV = &v
	}()

	wg.Wait()

	e.noteFailure(st, in.SessionID, "audio", audioErr)
	e.noteFailure(st, in.SessionID, "vision", visionErr)
	return audioV, visionV
}

// noteFailure logs a classifier failure and, on rate limiting, schedules the
// cooperative backoff honored before the next cycle.
func (e *Engine) noteFailure(st *SessionState, sessionID, side string, err error) {
	if err == nil {
		return
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = defaultBackoff
		}
		log.Printf("[%s] %s classifier rate limited, backing off %s", sessionID, side, wait)
		st.SetBackoff(wait)
		return
	}
	log.Printf("[%s] %s classifier failed: %v", sessionID, side, err)
}

// evaluateHook runs the one-shot opening evaluation over the last sample
// buffered during the hook window. It executes at most once per session.
func (e *Engine) evaluateHook(ctx context.Context, st *SessionState, in CycleInput) CoachingEvent {
	frame, pcm := st.TakeHookSample()
	if len(frame) == 0 {
		frame = in.Frame
	}
	if len(pcm) == 0 {
		pcm = in.AudioPCM
	}

	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var audioV, visionV *Verdict
	var audioErr, visionErr error

	if len(pcm) > minAudioBytes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.classifier.HookAudioVerdict(ctx, pcm)
			if err != nil {
				audioErr = err
				return
			}
			forceHookKind(&v)
			audioV = &v
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := e.classifier.HookVisionVerdict(ctx, frame)
		if err != nil {
			visionErr = err
			return
		}
		forceHookKind(&v)
		visionV = &v
	}()

	wg.Wait()

	e.noteFailure(st, in.SessionID, "hook audio", audioErr)
	e.noteFailure(st, in.SessionID, "hook vision", visionErr)

	merged, err := MergeHookVerdicts(audioV, visionV)
	if err != nil {
		log.Printf("[%s] hook evaluation failed on both sides", in.SessionID)
		return e.hookFallbackEvent()
	}

	ev := e.eventFromVerdict(merged, PhaseHook)
	if !st.RecordHook(ev) {
		log.Printf("[%s] session deleted mid-cycle, hook result discarded", in.SessionID)
	}
	log.Printf("[%s] hook result: %s score=%.2f", in.SessionID, ev.Event, ev.Score)
	return ev
}

// forceHookKind coerces a stray normal-phase kind from the hook prompts back
// into the hook vocabulary using the weak-score floor.
func forceHookKind(v *Verdict) {
	if v.Kind.IsHook() {
		return
	}
	if v.Score >= hookWeakScore {
		v.Kind = EventHookGood
	} else {
		v.Kind = EventHookWeak
	}
}

// turnPrompt builds the per-cycle session context handed to the classifiers.
func (e *Engine) turnPrompt(st *SessionState, m *audio.Metrics) string {
	context := fmt.Sprintf("Session avg score: %.2f | Trend: %s",
		st.AverageScore(10), st.RecentScoreTrend(3))
	if bad := st.ConsecutiveBad(); bad >= 3 {
		context += fmt.Sprintf(" | %d non-GOOD events in a row — be direct.", bad)
	}
	if m != nil {
		context += fmt.Sprintf(" | Mic: rms=%.2f silence=%.0f%% wpm≈%d",
			m.VolumeRMS, m.SilenceRatio*100, m.EstimatedWPM)
	}
	return fmt.Sprintf("[Context: %s] Analyze this frame and audio clip. Return JSON only.", context)
}

func (e *Engine) eventFromVerdict(v Verdict, phase Phase) CoachingEvent {
	ev := CoachingEvent{
		Event:       v.Kind,
		Score:       v.Score,
		Message:     truncateLCD(v.Message),
		Buzz:        v.Buzz,
		BuzzPattern: v.BuzzPattern,
		Confidence:  v.Confidence,
		Timestamp:   unixSeconds(e.now()),
		Phase:       phase,
		Reasoning:   v.Reasoning,
	}
	ev.Detail = ev.ScoreBar()
	return ev
}

// fallbackEvent is the fixed neutral response for a cycle where no verdict
// arrived. The caller never sees an empty or error response for one bad
// cycle.
func (e *Engine) fallbackEvent() CoachingEvent {
	return CoachingEvent{
		Event:       EventGood,
		Score:       0.70,
		Message:     "CONNECTING...",
		BuzzPattern: BuzzSingle,
		Confidence:  0,
		Timestamp:   unixSeconds(e.now()),
		Phase:       PhaseNormal,
	}
}

func (e *Engine) hookFallbackEvent() CoachingEvent {
	return CoachingEvent{
		Event:       EventHookGood,
		Score:       0.65,
		Message:     "HOOK EVAL...",
		BuzzPattern: BuzzSingle,
		Confidence:  0,
		Timestamp:   unixSeconds(e.now()),
		Phase:       PhaseHook,
		Reasoning:   "Hook evaluation in progress",
	}
}

// collectingEvent is returned while the hook window is still filling; it is
// intentionally not recorded in the timeline.
func (e *Engine) collectingEvent() CoachingEvent {
	return CoachingEvent{
		Event:       EventGood,
		Score:       0.5,
		Message:     "HOOK EVAL...",
		Detail:      "Collecting...",
		BuzzPattern: BuzzSingle,
		Confidence:  1,
		Timestamp:   unixSeconds(e.now()),
		Phase:       PhaseHook,
		Reasoning:   "Analyzing your opening...",
	}
}
