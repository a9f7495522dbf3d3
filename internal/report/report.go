// Package report derives post-session analytics from a session's event
// timeline. Everything here is a pure pass over the recorded events; nothing
// is written back to session state.
package report

import (
	"fmt"
	"math"

	"github.com/Lemirq/deerhacks/internal/coach"
)

// lowScoreThreshold marks an event as part of a problem zone candidate.
const lowScoreThreshold = 0.60

// minZoneLength filters out isolated single-event dips, which are noise.
const minZoneLength = 2

// Moment is a single best/worst event, located by its 1-based frame index.
type Moment struct {
	FrameIndex int             `json:"frame_index"`
	Event      coach.EventKind `json:"event"`
	Score      float64         `json:"score"`
	Message    string          `json:"message"`
	Reasoning  string          `json:"reasoning"`
}

// ProblemZone is a maximal contiguous run of low-score events.
type ProblemZone struct {
	StartFrame int               `json:"start_frame"`
	EndFrame   int               `json:"end_frame"`
	Length     int               `json:"length"`
	AvgScore   float64           `json:"avg_score"`
	Events     []coach.EventKind `json:"events"`
}

// Stats summarizes the whole timeline plus the normal-phase slice of it.
type Stats struct {
	TotalEvents    int                     `json:"total_events"`
	AvgScore       float64                 `json:"avg_score"`
	MinScore       float64                 `json:"min_score"`
	MaxScore       float64                 `json:"max_score"`
	NormalAvgScore float64                 `json:"normal_avg_score"`
	EventCounts    map[coach.EventKind]int `json:"event_counts"`
}

// HookEntry is one recorded hook evaluation.
type HookEntry struct {
	Event     coach.EventKind `json:"event"`
	Score     float64         `json:"score"`
	Message   string          `json:"message"`
	Reasoning string          `json:"reasoning"`
	Timestamp float64         `json:"timestamp"`
}

// HookEvaluation summarizes the opening: WEAK if any recorded evaluation was
// weak, STRONG otherwise.
type HookEvaluation struct {
	Verdict     string      `json:"verdict"`
	AvgScore    float64     `json:"avg_score"`
	Evaluations []HookEntry `json:"evaluations"`
}

// TimelineEntry is one event with its frame bookkeeping for the client.
type TimelineEntry struct {
	FrameIndex int             `json:"frame_index"`
	FrameFiles string          `json:"frame_files"`
	Event      coach.EventKind `json:"event"`
	Score      float64         `json:"score"`
	Message    string          `json:"message"`
	Phase      coach.Phase     `json:"phase"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
	Buzz       bool            `json:"buzz"`
	Timestamp  float64         `json:"timestamp"`
}

// Report is the full post-session analysis.
type Report struct {
	SessionID      string          `json:"session_id"`
	HookEvaluation *HookEvaluation `json:"hook_evaluation"`
	Stats          Stats           `json:"stats"`
	BestMoment     Moment          `json:"best_moment"`
	WorstMoment    Moment          `json:"worst_moment"`
	ProblemZones   []ProblemZone   `json:"problem_zones"`
	Timeline       []TimelineEntry `json:"timeline"`
}

// Summary is the lightweight mid-session view.
type Summary struct {
	SessionID       string                  `json:"session_id"`
	TotalEvents     int                     `json:"total_events"`
	AvgScore        float64                 `json:"avg_score"`
	ScoreTrend      string                  `json:"score_trend"`
	EventCounts     map[coach.EventKind]int `json:"event_counts"`
	WorstMoment     Moment                  `json:"worst_moment"`
	BestMoment      Moment                  `json:"best_moment"`
	ConsecutiveGood int                     `json:"consecutive_good"`
	ConsecutiveBad  int                     `json:"consecutive_bad"`
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

func countKinds(history []coach.CoachingEvent) map[coach.EventKind]int {
	counts := make(map[coach.EventKind]int, len(coach.AllKinds))
	for _, k := range coach.AllKinds {
		counts[k] = 0
	}
	for _, ev := range history {
		counts[ev.Event]++
	}
	return counts
}

// bestWorst returns the indexes of the highest and lowest scoring events;
// ties go to the first occurrence.
func bestWorst(history []coach.CoachingEvent) (best, worst int) {
	for i, ev := range history {
		if ev.Score > history[best].Score {
			best = i
		}
		if ev.Score < history[worst].Score {
			worst = i
		}
	}
	return best, worst
}

func momentAt(history []coach.CoachingEvent, i int) Moment {
	ev := history[i]
	return Moment{
		FrameIndex: i + 1,
		Event:      ev.Event,
		Score:      ev.Score,
		Message:    ev.Message,
		Reasoning:  ev.Reasoning,
	}
}

// Summarize builds the lightweight session view. Trend and streak counters
// come from live session state, so the caller passes them in.
func Summarize(sessionID string, history []coach.CoachingEvent, trend string, consecutiveGood, consecutiveBad int) Summary {
	s := Summary{
		SessionID:       sessionID,
		TotalEvents:     len(history),
		ScoreTrend:      trend,
		EventCounts:     countKinds(history),
		ConsecutiveGood: consecutiveGood,
		ConsecutiveBad:  consecutiveBad,
	}
	if len(history) == 0 {
		return s
	}
	var sum float64
	for _, ev := range history {
		sum += ev.Score
	}
	s.AvgScore = round3(sum / float64(len(history)))
	best, worst := bestWorst(history)
	s.BestMoment = momentAt(history, best)
	s.WorstMoment = momentAt(history, worst)
	return s
}

// Build assembles the full report from the recorded timeline and hook
// evaluations. History must be non-empty.
func Build(sessionID string, history, hookResults []coach.CoachingEvent) Report {
	r := Report{
		SessionID:      sessionID,
		HookEvaluation: hookEvaluation(hookResults),
		Stats:          buildStats(history),
		ProblemZones:   problemZones(history),
		Timeline:       timeline(history),
	}
	best, worst := bestWorst(history)
	r.BestMoment = momentAt(history, best)
	r.WorstMoment = momentAt(history, worst)
	return r
}

func hookEvaluation(hookResults []coach.CoachingEvent) *HookEvaluation {
	if len(hookResults) == 0 {
		return nil
	}
	var sum float64
	hasWeak := false
	entries := make([]HookEntry, 0, len(hookResults))
	for _, ev := range hookResults {
		sum += ev.Score
		if ev.Event == coach.EventHookWeak {
			hasWeak = true
		}
		entries = append(entries, HookEntry{
			Event:     ev.Event,
			Score:     ev.Score,
			Message:   ev.Message,
			Reasoning: ev.Reasoning,
			Timestamp: ev.Timestamp,
		})
	}
	verdict := "STRONG"
	if hasWeak {
		verdict = "WEAK"
	}
	return &HookEvaluation{
		Verdict:     verdict,
		AvgScore:    round3(sum / float64(len(hookResults))),
		Evaluations: entries,
	}
}

func buildStats(history []coach.CoachingEvent) Stats {
	st := Stats{
		TotalEvents: len(history),
		EventCounts: countKinds(history),
	}
	if len(history) == 0 {
		return st
	}

	var sum float64
	min, max := history[0].Score, history[0].Score
	var normalSum float64
	normalCount := 0
	for _, ev := range history {
		sum += ev.Score
		if ev.Score < min {
			min = ev.Score
		}
		if ev.Score > max {
			max = ev.Score
		}
		if ev.Phase == coach.PhaseNormal {
			normalSum += ev.Score
			normalCount++
		}
	}
	st.AvgScore = round3(sum / float64(len(history)))
	st.MinScore = round3(min)
	st.MaxScore = round3(max)
	if normalCount > 0 {
		st.NormalAvgScore = round3(normalSum / float64(normalCount))
	} else {
		st.NormalAvgScore = st.AvgScore
	}
	return st
}

// problemZones finds maximal contiguous runs of low-score events of at least
// minZoneLength. Frame indexes are 1-based and inclusive.
func problemZones(history []coach.CoachingEvent) []ProblemZone {
	zones := []ProblemZone{}
	start := -1

	flush := func(end int) {
		if start < 0 || end-start < minZoneLength {
			start = -1
			return
		}
		var sum float64
		kinds := make([]coach.EventKind, 0, end-start)
		for i := start; i < end; i++ {
			sum += history[i].Score
			kinds = append(kinds, history[i].Event)
		}
		zones = append(zones, ProblemZone{
			StartFrame: start + 1,
			EndFrame:   end,
			Length:     end - start,
			AvgScore:   round3(sum / float64(end-start)),
			Events:     kinds,
		})
		start = -1
	}

	for i, ev := range history {
		if ev.Score < lowScoreThreshold {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(history))
	return zones
}

func timeline(history []coach.CoachingEvent) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(history))
	for i, ev := range history {
		idx := i + 1
		out = append(out, TimelineEntry{
			FrameIndex: idx,
			FrameFiles: fmt.Sprintf("%04d.jpg / %04d.wav / %04d.json", idx, idx, idx),
			Event:      ev.Event,
			Score:      ev.Score,
			Message:    ev.Message,
			Phase:      ev.Phase,
			Reasoning:  ev.Reasoning,
			Confidence: ev.Confidence,
			Buzz:       ev.Buzz,
			Timestamp:  ev.Timestamp,
		})
	}
	return out
}
