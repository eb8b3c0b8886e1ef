// Package tasks defines the background task types shared between the
// scheduler and the worker.
package tasks

import "github.com/hibiken/asynq"

const (
	// TypeSessionSweep removes sessions past the retention horizon.
	TypeSessionSweep = "session:sweep"
)

// NewSessionSweepTask creates the periodic sweep task. The sweep takes no
// parameters; the cutoff is computed at execution time.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSessionSweep, nil)
}
