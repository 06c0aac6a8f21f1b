package testutil

import (
	"context"
	"os"
	"strings"
	"sync"

	"luks-keeper/internal/keeper"
)

// Call is a command seen by FakeExecutor.
type Call struct {
	Argv     []string
	Elevated bool
	Stdin    []byte
	Env      []string
}

// Line returns the argv joined by spaces.
func (c Call) Line() string {
	return strings.Join(c.Argv, " ")
}

// EnvValue returns the value of key in the call's environment, or "".
func (c Call) EnvValue(key string) string {
	for _, kv := range c.Env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v
		}
	}
	return ""
}

type rule struct {
	prefix string
	result keeper.CommandResult
	err    error
	times  int // remaining matches; -1 for unlimited
}

// FakeExecutor records commands and answers them from prefix rules.
// Commands that match no rule succeed with exit code 0.
//
// When a Host is attached, successful cryptsetup, mount, umount and btrfs
// commands are applied to it, so a later Sync sees the new state and
// snapshot directories appear and disappear on disk. Safe for concurrent
// use.
type FakeExecutor struct {
	mu    sync.Mutex
	calls []Call
	rules []*rule
	host  *FakeHost
}

// NewFakeExecutor creates a FakeExecutor. host may be nil.
func NewFakeExecutor(host *FakeHost) *FakeExecutor {
	return &FakeExecutor{host: host}
}

// On makes every command whose argv line starts with prefix return result.
func (f *FakeExecutor) On(prefix string, result keeper.CommandResult) {
	f.OnN(-1, prefix, result)
}

// OnN is like On but only applies to the next times matches.
func (f *FakeExecutor) OnN(times int, prefix string, result keeper.CommandResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{prefix: prefix, result: result, times: times})
}

// Fail makes commands starting with prefix exit with code and stderr.
func (f *FakeExecutor) Fail(prefix string, code int, stderr string) {
	f.On(prefix, keeper.CommandResult{ExitCode: code, Stderr: []byte(stderr)})
}

// FailToStart makes commands starting with prefix fail to launch.
func (f *FakeExecutor) FailToStart(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{prefix: prefix, err: err, times: -1})
}

// Run implements keeper.Executor.
func (f *FakeExecutor) Run(_ context.Context, cmd keeper.Command) (*keeper.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{
		Argv:     cmd.Argv(),
		Elevated: cmd.Elevated,
		Env:      append([]string(nil), cmd.Env...),
	}
	// Copy stdin now; callers zero their buffer after Run returns.
	if cmd.Stdin != nil {
		call.Stdin = append([]byte(nil), cmd.Stdin...)
	}
	f.calls = append(f.calls, call)

	line := call.Line()
	for _, r := range f.rules {
		if r.times == 0 || !strings.HasPrefix(line, r.prefix) {
			continue
		}
		if r.times > 0 {
			r.times--
		}
		if r.err != nil {
			return nil, r.err
		}
		res := r.result
		if res.Success() {
			f.apply(call.Argv)
		}
		return &res, nil
	}

	f.apply(call.Argv)
	return &keeper.CommandResult{}, nil
}

func (f *FakeExecutor) apply(argv []string) {
	if f.host == nil || len(argv) < 2 {
		return
	}
	switch {
	case argv[0] == "cryptsetup" && argv[1] == "luksOpen" && len(argv) == 4:
		f.host.SetOpen(argv[3], true)
	case argv[0] == "cryptsetup" && argv[1] == "luksClose" && len(argv) == 3:
		f.host.SetOpen(argv[2], false)
	case argv[0] == "mount":
		f.host.SetMounted(argv[len(argv)-1], true)
	case argv[0] == "umount":
		f.host.SetMounted(argv[len(argv)-1], false)
	case argv[0] == "btrfs" && len(argv) == 6 && argv[1] == "subvolume" && argv[2] == "snapshot":
		os.MkdirAll(argv[5], 0755)
	case argv[0] == "btrfs" && len(argv) == 4 && argv[1] == "subvolume" && argv[2] == "delete":
		os.RemoveAll(argv[3])
	}
}

// Calls returns every command run so far, in order.
func (f *FakeExecutor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns the argv line of every command run so far.
func (f *FakeExecutor) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = c.Line()
	}
	return lines
}

// Count returns how many commands started with prefix.
func (f *FakeExecutor) Count(prefix string) int {
	n := 0
	for _, line := range f.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// Hooks returns the shell commands run through sh -c, in order.
func (f *FakeExecutor) Hooks() []string {
	var hooks []string
	for _, c := range f.Calls() {
		if len(c.Argv) == 3 && c.Argv[0] == "sh" && c.Argv[1] == "-c" {
			hooks = append(hooks, c.Argv[2])
		}
	}
	return hooks
}

var _ keeper.Executor = (*FakeExecutor)(nil)
