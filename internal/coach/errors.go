package coach

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when an operation names a session that was
// never created or has been reset.
var ErrSessionNotFound = errors.New("session not found")

// ErrFusionImpossible signals that neither classifier produced a usable
// verdict this cycle. Callers substitute the neutral fallback event.
var ErrFusionImpossible = errors.New("no usable verdict from either classifier")

// RateLimitedError is returned by a classifier when the upstream service is
// rejecting calls. RetryAfter is how long the session should back off before
// the next cycle issues classifier calls again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("classifier rate limited, retry after %s", e.RetryAfter)
}
