package keeper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by a KeyStore when no record exists for a device.
	ErrNotFound = errors.New("passphrase record not found")

	// ErrExists is returned by KeyStore.Store when a record already exists.
	ErrExists = errors.New("passphrase record already exists")

	// ErrSnapshotExists is returned when a snapshot with the same name exists.
	ErrSnapshotExists = errors.New("snapshot already exists")
)

// HookError reports a hook that exited non-zero without ignore_errors.
type HookError struct {
	Scope      string
	Device     string
	Transition Transition
	Command    string
	ExitCode   int
	Stderr     string
	Err        error
}

func (e *HookError) Error() string {
	where := "global"
	if e.Device != "" {
		where = "device " + e.Device
	}
	if e.Err != nil {
		return fmt.Sprintf("hook %s (%s) %q: %v", e.Transition, where, e.Command, e.Err)
	}
	return fmt.Sprintf("hook %s (%s) %q exited with code %d%s", e.Transition, where, e.Command, e.ExitCode, stderrSuffix(e.Stderr))
}

func (e *HookError) Unwrap() error { return e.Err }

// CommandError reports an external tool that failed. Command failures are
// always fatal.
type CommandError struct {
	Device   string
	Action   string
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	prefix := e.Action
	if e.Device != "" {
		prefix = fmt.Sprintf("%s %s", e.Action, e.Device)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: running %s: %v", prefix, strings.Join(e.Argv, " "), e.Err)
	}
	return fmt.Sprintf("%s: %s exited with code %d%s", prefix, strings.Join(e.Argv, " "), e.ExitCode, stderrSuffix(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

// KeyStoreError reports a failed key store operation for a device.
type KeyStoreError struct {
	Device string
	Op     string
	Err    error
}

func (e *KeyStoreError) Error() string {
	return fmt.Sprintf("keystore %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *KeyStoreError) Unwrap() error { return e.Err }

// SnapshotError reports a failed prune or create. Partial is set when a
// snapshot had its read-only flag cleared but could not be deleted.
type SnapshotError struct {
	Op      string
	Path    string
	Partial bool
	Err     error
}

func (e *SnapshotError) Error() string {
	if e.Partial {
		return fmt.Sprintf("snapshot %s %s: read-only flag cleared but delete failed: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

func stderrSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	return ": " + stderr
}
