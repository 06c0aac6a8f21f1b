package keeper_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"luks-keeper/internal/keeper"
	"luks-keeper/internal/testutil"
)

type orchestratorFixture struct {
	host  *testutil.FakeHost
	exec  *testutil.FakeExecutor
	clock *testutil.StubClock
	plan  *keeper.Plan
	keys  keeper.KeyStore
}

// newOrchestratorFixture configures crypt1 mounted at /mnt and crypt2
// opened only.
func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	host := testutil.NewFakeHost()
	return &orchestratorFixture{
		host:  host,
		exec:  testutil.NewFakeExecutor(host),
		clock: testutil.NewStubClock(snapshotNow),
		keys:  testutil.NewTestKeyStore(t, map[string]string{"crypt1": "pw1", "crypt2": "pw2"}),
		plan: &keeper.Plan{
			Devices: []keeper.Device{
				{Name: "crypt1", DevNode: "/dev/sda1", MountPoint: "/mnt"},
				{Name: "crypt2", DevNode: "/dev/sdb1"},
			},
			Hooks:        keeper.HookTable{},
			UnmountOrder: keeper.UnmountReverse,
		},
	}
}

func (f *orchestratorFixture) orchestrator() *keeper.Orchestrator {
	return keeper.NewOrchestrator(f.plan, f.keys, f.exec, f.host, keeper.NewNopLogger(), f.clock)
}

func deviceStates(result *keeper.Result) map[string]keeper.DeviceState {
	states := make(map[string]keeper.DeviceState)
	for _, d := range result.Devices {
		states[d.Name] = d.State
	}
	return states
}

func TestOrchestrator_MountWithRetention(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	root := t.TempDir()
	names := makeSnapshotDirs(t, root, days(10), days(31), days(40))
	f.plan.Retention = keeper.RetentionPolicy{Root: root, RetentionDays: 30}

	result, err := f.orchestrator().Mount(ctx)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	newest, older, oldest := filepath.Join(root, names[0]), filepath.Join(root, names[1]), filepath.Join(root, names[2])
	created := filepath.Join(root, "2025-06-01_12-00-00")
	assertLines(t, f.exec.Lines(), []string{
		"cryptsetup luksOpen /dev/sda1 crypt1",
		"mkdir -p /mnt",
		"mount /dev/mapper/crypt1 /mnt",
		"cryptsetup luksOpen /dev/sdb1 crypt2",
		"btrfs property set -ts " + oldest + " ro false",
		"btrfs subvolume delete " + oldest,
		"btrfs property set -ts " + older + " ro false",
		"btrfs subvolume delete " + older,
		"btrfs subvolume snapshot -r /mnt " + created,
	})

	calls := f.exec.Calls()
	if string(calls[0].Stdin) != "pw1\n" || string(calls[3].Stdin) != "pw2\n" {
		t.Errorf("passphrases = %q, %q", calls[0].Stdin, calls[3].Stdin)
	}

	states := deviceStates(result)
	if states["crypt1"] != keeper.StateMounted || states["crypt2"] != keeper.StateOpened {
		t.Errorf("device states = %v", states)
	}
	if result.Snapshot != created {
		t.Errorf("Snapshot = %q, want %q", result.Snapshot, created)
	}
	if len(result.Pruned) != 3 {
		t.Errorf("len(Pruned) = %d, want 3", len(result.Pruned))
	}

	remaining, _ := os.ReadDir(root)
	var got []string
	for _, e := range remaining {
		got = append(got, e.Name())
	}
	if len(got) != 2 || got[0] != filepath.Base(newest) || got[1] != filepath.Base(created) {
		t.Errorf("snapshot root = %v, want [%s %s]", got, filepath.Base(newest), filepath.Base(created))
	}
}

func TestOrchestrator_MountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	f.plan.Hooks.Set("crypt1", keeper.BeforeOpen, &keeper.HookSpec{Command: "before-open"})

	if _, err := f.orchestrator().Mount(ctx); err != nil {
		t.Fatalf("first Mount() error = %v", err)
	}
	first := len(f.exec.Calls())

	result, err := f.orchestrator().Mount(ctx)
	if err != nil {
		t.Fatalf("second Mount() error = %v", err)
	}
	if n := len(f.exec.Calls()); n != first {
		t.Errorf("second run issued %q", f.exec.Lines()[first:])
	}
	states := deviceStates(result)
	if states["crypt1"] != keeper.StateMounted || states["crypt2"] != keeper.StateOpened {
		t.Errorf("device states = %v", states)
	}
}

func TestOrchestrator_MountWithoutRetention(t *testing.T) {
	f := newOrchestratorFixture(t)

	result, err := f.orchestrator().Mount(context.Background())
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if f.exec.Count("btrfs") != 0 {
		t.Error("btrfs ran without a snapshot root")
	}
	if result.Snapshot != "" || result.Pruned != nil {
		t.Errorf("result = %+v, want no snapshot phase", result)
	}
}

func TestOrchestrator_Unmount(t *testing.T) {
	tests := []struct {
		name  string
		order keeper.UnmountOrder
		want  []string
	}{
		{
			name:  "reverse order",
			order: keeper.UnmountReverse,
			want: []string{
				"cryptsetup luksClose crypt2",
				"umount /mnt",
				"cryptsetup luksClose crypt1",
			},
		},
		{
			name:  "configured order",
			order: keeper.UnmountConfigured,
			want: []string{
				"umount /mnt",
				"cryptsetup luksClose crypt1",
				"cryptsetup luksClose crypt2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			f.plan.UnmountOrder = tt.order
			f.host.SetOpen("crypt1", true)
			f.host.SetMounted("/mnt", true)
			f.host.SetOpen("crypt2", true)

			result, err := f.orchestrator().Unmount(context.Background())
			if err != nil {
				t.Fatalf("Unmount() error = %v", err)
			}
			assertLines(t, f.exec.Lines(), tt.want)
			for name, state := range deviceStates(result) {
				if state != keeper.StateClosed {
					t.Errorf("%s state = %v, want closed", name, state)
				}
			}
		})
	}

	t.Run("unknown order", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.plan.UnmountOrder = "sideways"
		if _, err := f.orchestrator().Unmount(context.Background()); err == nil {
			t.Fatal("Unmount() expected error for unknown order")
		}
	})

	t.Run("nothing open is a no-op", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		if _, err := f.orchestrator().Unmount(context.Background()); err != nil {
			t.Fatalf("Unmount() error = %v", err)
		}
		if n := len(f.exec.Calls()); n != 0 {
			t.Errorf("commands = %q, want none", f.exec.Lines())
		}
	})
}

func TestOrchestrator_BatchHooks(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	f.plan.Hooks.Set(keeper.GlobalScope, keeper.BeforeMountAll, &keeper.HookSpec{Command: "before-all"})
	f.plan.Hooks.Set(keeper.GlobalScope, keeper.AfterMountAll, &keeper.HookSpec{Command: "after-all"})
	f.plan.Hooks.Set(keeper.GlobalScope, keeper.AfterOpen, &keeper.HookSpec{Command: "global-after-open"})
	f.plan.Hooks.Set("crypt1", keeper.AfterOpen, &keeper.HookSpec{Command: "crypt1-after-open"})

	result, err := f.orchestrator().Mount(ctx)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	got := f.exec.Hooks()
	want := []string{
		"before-all",
		"global-after-open",
		"crypt1-after-open",
		"global-after-open",
		"after-all",
	}
	assertLines(t, got, want)

	if len(result.Hooks) != len(want) {
		t.Fatalf("len(result.Hooks) = %d, want %d", len(result.Hooks), len(want))
	}
	if result.Hooks[3].Device != "crypt2" || result.Hooks[3].Scope != keeper.GlobalScope {
		t.Errorf("result.Hooks[3] = %+v, want global hook for crypt2", result.Hooks[3])
	}
}

func TestOrchestrator_IgnoreErrors(t *testing.T) {
	t.Run("fatal batch hook aborts before any device", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.plan.Hooks.Set(keeper.GlobalScope, keeper.BeforeMountAll, &keeper.HookSpec{Command: "preflight"})
		f.exec.Fail("sh -c preflight", 1, "")

		result, err := f.orchestrator().Mount(context.Background())
		var hookErr *keeper.HookError
		if !errors.As(err, &hookErr) {
			t.Fatalf("Mount() error = %v, want *keeper.HookError", err)
		}
		if f.exec.Count("cryptsetup") != 0 {
			t.Error("devices were opened after a fatal batch hook")
		}
		if len(result.Hooks) != 1 || result.Hooks[0].Outcome != keeper.OutcomeFailedFatal {
			t.Errorf("result.Hooks = %+v", result.Hooks)
		}
	})

	t.Run("ignored batch hook failure continues", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.plan.Hooks.Set(keeper.GlobalScope, keeper.BeforeMountAll, &keeper.HookSpec{Command: "preflight", IgnoreErrors: true})
		f.exec.Fail("sh -c preflight", 1, "")

		if _, err := f.orchestrator().Mount(context.Background()); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}
		if n := f.exec.Count("cryptsetup luksOpen"); n != 2 {
			t.Errorf("luksOpen count = %d, want 2", n)
		}
	})
}

func TestOrchestrator_FailFastWithoutRollback(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.plan.Hooks.Set(keeper.GlobalScope, keeper.AfterMountAll, &keeper.HookSpec{Command: "after-all"})
	f.exec.Fail("cryptsetup luksOpen /dev/sdb1", 2, "No key available with this passphrase.")

	result, err := f.orchestrator().Mount(context.Background())
	var cmdErr *keeper.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Device != "crypt2" {
		t.Fatalf("Mount() error = %v, want CommandError for crypt2", err)
	}

	states := deviceStates(result)
	if states["crypt1"] != keeper.StateMounted {
		t.Errorf("crypt1 state = %v, want mounted (no rollback)", states["crypt1"])
	}
	if states["crypt2"] != keeper.StateClosed {
		t.Errorf("crypt2 state = %v, want closed", states["crypt2"])
	}
	if f.exec.Count("umount") != 0 || f.exec.Count("cryptsetup luksClose") != 0 {
		t.Error("run rolled back earlier devices")
	}
	if len(f.exec.Hooks()) != 0 {
		t.Errorf("hooks = %v, want after-all skipped", f.exec.Hooks())
	}
}

func TestOrchestrator_SnapshotSource(t *testing.T) {
	f := newOrchestratorFixture(t)
	root := t.TempDir()
	f.plan.Retention = keeper.RetentionPolicy{Root: root, Source: "/srv/data", RetentionDays: 30}

	result, err := f.orchestrator().Mount(context.Background())
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	want := "btrfs subvolume snapshot -r /srv/data " + result.Snapshot
	if f.exec.Count(want) != 1 {
		t.Errorf("commands = %q, want %q", f.exec.Lines(), want)
	}
}

func TestOrchestrator_Status(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.host.SetOpen("crypt1", true)
	f.host.SetMounted("/mnt", true)

	reports, err := f.orchestrator().Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}
	if reports[0].State != keeper.StateMounted || reports[1].State != keeper.StateClosed {
		t.Errorf("reports = %+v", reports)
	}
	if len(f.exec.Calls()) != 0 {
		t.Error("Status() ran commands")
	}
}
