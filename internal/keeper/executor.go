package keeper

import "context"

// Command is an external program invocation.
type Command struct {
	Name string
	Args []string

	// Elevated asks the Executor to run the command with root privileges.
	Elevated bool

	// Stdin is fed to the process, if non-nil.
	Stdin []byte

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string
}

// Argv returns the command name followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// CommandResult is the captured outcome of a command that ran to completion.
type CommandResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the command exited zero.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Executor runs external commands synchronously.
//
// A command that starts and exits non-zero is reported through
// CommandResult.ExitCode with a nil error. The error return is reserved for
// commands that could not be run at all (missing binary, cancelled context).
type Executor interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}
