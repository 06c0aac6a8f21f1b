package keeper

import (
	"context"
	"time"
)

// RunStatus is the final state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded invocation of a state-changing command.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     RunStatus
	Error      string
	Snapshot   string
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// History records runs so past mounts and unmounts can be reviewed.
type History interface {
	StartRun(ctx context.Context, command string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg string, snapshot string) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
