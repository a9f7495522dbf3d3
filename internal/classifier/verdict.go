package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lemirq/deerhacks/internal/coach"
)

// ValidationError marks a classifier reply that could not be turned into a
// canonical verdict. Callers treat it as "no usable verdict this cycle".
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid classifier reply: " + e.Reason
}

// maxMessageChars is the budget the prompts give the model for the visible
// message; the LCD line is wider but leaves room for decorations.
const maxMessageChars = 14

// ParseVerdict turns a raw classifier reply into a canonical verdict. The
// model is told to return bare JSON but occasionally wraps it in markdown
// fences or stray prose, so the parser strips wrapping, finds the embedded
// object, checks required fields, clamps numeric ranges, truncates the
// message and fills defaults for the optional fields.
func ParseVerdict(text string) (coach.Verdict, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 1 {
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[1 : len(lines)-1]
			} else {
				lines = lines[1:]
			}
			text = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	var raw struct {
		Event       *string  `json:"event"`
		Score       *float64 `json:"score"`
		Message     *string  `json:"message"`
		Buzz        *bool    `json:"buzz"`
		BuzzPattern *string  `json:"buzz_pattern"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return coach.Verdict{}, &ValidationError{Reason: fmt.Sprintf("not JSON: %v", err)}
	}

	var missing []string
	if raw.Event == nil {
		missing = append(missing, "event")
	}
	if raw.Score == nil {
		missing = append(missing, "score")
	}
	if raw.Message == nil {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return coach.Verdict{}, &ValidationError{Reason: "missing keys: " + strings.Join(missing, ", ")}
	}

	kind := coach.EventKind(*raw.Event)
	if !kind.Known() {
		return coach.Verdict{}, &ValidationError{Reason: "unknown event: " + *raw.Event}
	}

	v := coach.Verdict{
		Kind:        kind,
		Score:       clamp01(*raw.Score),
		Message:     truncateRunes(*raw.Message, maxMessageChars),
		BuzzPattern: coach.BuzzSingle,
		Confidence:  0.8,
		Reasoning:   raw.Reasoning,
	}
	if raw.Buzz != nil {
		v.Buzz = *raw.Buzz
	}
	if raw.BuzzPattern != nil {
		if p := coach.BuzzPattern(*raw.BuzzPattern); p.Known() {
			v.BuzzPattern = p
		}
	}
	if raw.Confidence != nil {
		v.Confidence = clamp01(*raw.Confidence)
	}
	return v, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
