package service

import "time"

// Failure reasons reported to Recorder.GenerationFailed.
const (
	FailureNotConfigured = "not_configured"
	FailureContention    = "contention"
	FailureExhausted     = "exhausted"
	FailureCancelled     = "cancelled"
	FailureInternal      = "internal"
)

// Recorder receives tag generation telemetry.
type Recorder interface {
	TagsIssued(count int)
	GenerationRetried()
	GenerationFailed(reason string)
	ObserveGeneration(elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) TagsIssued(int)                  {}
func (noopRecorder) GenerationRetried()              {}
func (noopRecorder) GenerationFailed(string)         {}
func (noopRecorder) ObserveGeneration(time.Duration) {}
