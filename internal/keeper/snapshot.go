package keeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SnapshotLayout is the time layout of snapshot directory names. Fields are
// fixed width and zero padded, so lexicographic order is creation order.
const SnapshotLayout = "2006-01-02_15-04-05"

// SnapshotName returns the directory name for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return t.Format(SnapshotLayout)
}

// ParseSnapshotName parses a snapshot directory name in loc.
func ParseSnapshotName(name string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(SnapshotLayout, name, loc)
}

// PruneAction is what Prune did with one entry under the snapshot root.
type PruneAction int

const (
	PruneKept PruneAction = iota
	PruneRemoved
	PruneSkipped
)

func (a PruneAction) String() string {
	switch a {
	case PruneKept:
		return "kept"
	case PruneRemoved:
		return "removed"
	case PruneSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// PruneResult describes one entry examined by Prune.
type PruneResult struct {
	Name   string
	Path   string
	Action PruneAction
	Reason string
	Age    time.Duration
}

// SnapshotManager prunes and creates read-only btrfs snapshots under a
// retention policy. Snapshot ages come from directory names, never mtimes.
type SnapshotManager struct {
	policy   RetentionPolicy
	executor Executor
	logger   Logger
}

// NewSnapshotManager creates a SnapshotManager for policy.
func NewSnapshotManager(policy RetentionPolicy, executor Executor, logger Logger) *SnapshotManager {
	return &SnapshotManager{policy: policy, executor: executor, logger: logger}
}

// Retention returns the retention window.
func (m *SnapshotManager) Retention() time.Duration {
	return time.Duration(m.policy.RetentionDays) * 24 * time.Hour
}

// ensureRoot creates the snapshot root when it does not exist yet and
// reports whether it did.
func (m *SnapshotManager) ensureRoot(ctx context.Context, op string) (bool, error) {
	info, err := os.Stat(m.policy.Root)
	switch {
	case err == nil && info.IsDir():
		return false, nil
	case err == nil:
		return false, &SnapshotError{Op: op, Path: m.policy.Root, Err: fmt.Errorf("not a directory")}
	case !errors.Is(err, fs.ErrNotExist):
		return false, &SnapshotError{Op: op, Path: m.policy.Root, Err: err}
	}

	if err := m.run(ctx, Command{
		Name:     "mkdir",
		Args:     []string{"-p", m.policy.Root},
		Elevated: true,
	}); err != nil {
		return false, &SnapshotError{Op: op, Path: m.policy.Root, Err: err}
	}
	m.logger.Info("snapshot root created", "path", m.policy.Root)
	return true, nil
}

// Prune removes snapshots strictly older than the retention window.
// Entries that are not directories, or whose names do not parse, are
// skipped and never deleted. Prune stops at the first failed removal and
// returns the results gathered so far together with a *SnapshotError.
// A missing root is created and there is nothing to prune.
func (m *SnapshotManager) Prune(ctx context.Context, now time.Time) ([]PruneResult, error) {
	created, err := m.ensureRoot(ctx, "prune")
	if err != nil || created {
		return nil, err
	}

	entries, err := os.ReadDir(m.policy.Root)
	if err != nil {
		return nil, &SnapshotError{Op: "prune", Path: m.policy.Root, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	retention := m.Retention()
	var results []PruneResult

	for _, entry := range entries {
		path := filepath.Join(m.policy.Root, entry.Name())
		result := PruneResult{Name: entry.Name(), Path: path}

		if !entry.IsDir() {
			result.Action = PruneSkipped
			result.Reason = "not a directory"
			results = append(results, result)
			continue
		}

		ts, err := ParseSnapshotName(entry.Name(), now.Location())
		if err != nil {
			result.Action = PruneSkipped
			result.Reason = "unparseable name"
			m.logger.Warn("skipping snapshot with unparseable name", "path", path)
			results = append(results, result)
			continue
		}

		result.Age = now.Sub(ts)
		if result.Age <= retention {
			result.Action = PruneKept
			results = append(results, result)
			continue
		}

		if err := m.remove(ctx, path); err != nil {
			return results, err
		}
		result.Action = PruneRemoved
		m.logger.Info("snapshot pruned", "path", path, "age", result.Age.String())
		results = append(results, result)
	}

	return results, nil
}

// remove clears the read-only property and deletes the subvolume.
func (m *SnapshotManager) remove(ctx context.Context, path string) error {
	clearRO := Command{
		Name:     "btrfs",
		Args:     []string{"property", "set", "-ts", path, "ro", "false"},
		Elevated: true,
	}
	if err := m.run(ctx, clearRO); err != nil {
		return &SnapshotError{Op: "prune", Path: path, Err: err}
	}

	del := Command{
		Name:     "btrfs",
		Args:     []string{"subvolume", "delete", path},
		Elevated: true,
	}
	if err := m.run(ctx, del); err != nil {
		m.logger.Error("snapshot left writable after failed delete", "path", path, "error", err.Error())
		return &SnapshotError{Op: "prune", Path: path, Partial: true, Err: err}
	}
	return nil
}

// Create takes a read-only snapshot of the policy source at
// <root>/<SnapshotName(now)> and returns its path. An existing snapshot
// with the same name is an error, never overwritten. A missing root is
// created first.
func (m *SnapshotManager) Create(ctx context.Context, source string, now time.Time) (string, error) {
	if source == "" {
		return "", &SnapshotError{Op: "create", Path: m.policy.Root, Err: fmt.Errorf("no snapshot source configured")}
	}
	if _, err := m.ensureRoot(ctx, "create"); err != nil {
		return "", err
	}

	dest := filepath.Join(m.policy.Root, SnapshotName(now))
	if _, err := os.Lstat(dest); err == nil {
		return "", &SnapshotError{Op: "create", Path: dest, Err: ErrSnapshotExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", &SnapshotError{Op: "create", Path: dest, Err: err}
	}

	if err := m.run(ctx, Command{
		Name:     "btrfs",
		Args:     []string{"subvolume", "snapshot", "-r", source, dest},
		Elevated: true,
	}); err != nil {
		return "", &SnapshotError{Op: "create", Path: dest, Err: err}
	}

	m.logger.Info("snapshot created", "path", dest, "source", source)
	return dest, nil
}

func (m *SnapshotManager) run(ctx context.Context, cmd Command) error {
	res, err := m.executor.Run(ctx, cmd)
	if err != nil {
		return &CommandError{Action: "snapshot", Argv: cmd.Argv(), ExitCode: -1, Err: err}
	}
	if !res.Success() {
		return &CommandError{Action: "snapshot", Argv: cmd.Argv(), ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}
