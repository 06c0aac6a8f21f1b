// Package executor runs external commands on the host.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"luks-keeper/internal/keeper"
)

// OSExecutor runs commands with os/exec. Elevated commands are prefixed
// with sudo unless the process already runs as root.
type OSExecutor struct {
	logger keeper.Logger
	sudo   string
	euid   func() int
}

// New creates an OSExecutor.
func New(logger keeper.Logger) *OSExecutor {
	return &OSExecutor{logger: logger, sudo: "sudo", euid: unix.Geteuid}
}

// argv returns the argument vector actually executed for cmd.
func (e *OSExecutor) argv(cmd keeper.Command) []string {
	argv := cmd.Argv()
	if cmd.Elevated && e.euid() != 0 {
		argv = append([]string{e.sudo}, argv...)
	}
	return argv
}

// Run implements keeper.Executor. A command that exits non-zero returns a
// result with its exit code and a nil error. Stdin bytes are never logged.
//
// ctx is checked before the command starts. A command that has started
// runs to completion even if ctx expires meanwhile, so a timeout never
// interrupts cryptsetup or btrfs halfway; the next Run fails instead.
func (e *OSExecutor) Run(ctx context.Context, cmd keeper.Command) (*keeper.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv := e.argv(cmd)

	c := exec.Command(argv[0], argv[1:]...)

	// Own process group so a terminal interrupt reaches luks-keeper, not
	// the command it is waiting on.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	e.logger.Debug("running command", "argv", argv, "elevated", cmd.Elevated)

	err := c.Run()
	result := &keeper.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		result.ExitCode = exitError.ExitCode()
		e.logger.Debug("command exited non-zero", "argv", argv, "exit_code", result.ExitCode)
		return result, nil
	}

	// Missing binary, permission denied, etc.
	return nil, err
}

var _ keeper.Executor = (*OSExecutor)(nil)
