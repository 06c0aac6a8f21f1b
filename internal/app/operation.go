package app

import "luks-keeper/internal/keeper"

// Operation tracks a CLI command. Only commands that change device state
// persist it to the run history, which assigns RunID.
type Operation struct {
	Command  string
	RunID    string
	Status   keeper.RunStatus
	Error    string
	Snapshot string
}

// NewOperation creates an in-memory operation that succeeds unless Fail
// is called.
func NewOperation(command string) *Operation {
	return &Operation{
		Command: command,
		Status:  keeper.RunSucceeded,
	}
}

// Persisted returns true if this operation has been recorded in the history.
func (op *Operation) Persisted() bool {
	return op.RunID != ""
}

// Fail marks the operation failed with err. A nil err leaves it unchanged.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = keeper.RunFailed
	op.Error = err.Error()
}
