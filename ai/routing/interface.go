package routing

import (
	"time"

	"github.com/hrygo/shepherd/ai/core/llm"
)

// Attempt labels.
const (
	AttemptPrimary  = "primary"
	AttemptFallback = "fallback"
)

// Recorder receives routing events. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordSelection(model, routeType string)
	RecordAttempt(model, attempt, status string, latency time.Duration)
	RecordFallback(reason string)
	RecordTerminalFailure(routeType string)
	RecordCompactMode(enabled bool)
	RecordUsage(model string, usage llm.Usage)
}

type nopRecorder struct{}

func (nopRecorder) RecordSelection(string, string)                      {}
func (nopRecorder) RecordAttempt(string, string, string, time.Duration) {}
func (nopRecorder) RecordFallback(string)                               {}
func (nopRecorder) RecordTerminalFailure(string)                        {}
func (nopRecorder) RecordCompactMode(bool)                              {}
func (nopRecorder) RecordUsage(string, llm.Usage)                       {}
