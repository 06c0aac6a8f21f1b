package keeper

import (
	"context"
	"fmt"
)

// DeviceReport is the state a device was left in by a run.
type DeviceReport struct {
	Name  string
	State DeviceState
}

// Result summarizes a run. It is returned even when the run fails, and then
// reflects how far the run got.
type Result struct {
	Devices  []DeviceReport
	Hooks    []HookRecord
	Pruned   []PruneResult
	Snapshot string
}

// Orchestrator drives every configured device through mount or unmount,
// one device at a time, and runs the snapshot phase after a mount.
//
// Runs fail fast: the first fatal hook, command, key store or snapshot
// error stops the run. Devices already advanced stay where they are;
// re-running is safe because every transition is idempotent.
type Orchestrator struct {
	plan     *Plan
	keys     KeyStore
	executor Executor
	probe    Probe
	logger   Logger
	clock    Clock
}

// NewOrchestrator creates an Orchestrator for plan.
func NewOrchestrator(plan *Plan, keys KeyStore, executor Executor, probe Probe, logger Logger, clock Clock) *Orchestrator {
	return &Orchestrator{
		plan:     plan,
		keys:     keys,
		executor: executor,
		probe:    probe,
		logger:   logger,
		clock:    clock,
	}
}

// Mount runs on_before_mount_all, opens then mounts each device in
// configured order, runs on_after_mount_all, then prunes old snapshots and
// creates a new one when a snapshot root is configured.
func (o *Orchestrator) Mount(ctx context.Context) (*Result, error) {
	runner := NewHookRunner(o.executor, o.logger)
	result := &Result{}
	defer func() { result.Hooks = runner.Records() }()

	if err := runner.RunSlots(ctx, o.plan.Hooks, BeforeMountAll, Device{}); err != nil {
		return result, err
	}

	for _, device := range o.plan.Devices {
		lc := NewDeviceLifecycle(device, o.plan.Hooks, runner, o.keys, o.executor, o.probe, o.logger)
		err := o.mountDevice(ctx, lc)
		result.Devices = append(result.Devices, DeviceReport{Name: device.Name, State: lc.State()})
		if err != nil {
			o.logger.Error("mount aborted", "device", device.Name, "error", err.Error())
			return result, err
		}
	}

	if err := runner.RunSlots(ctx, o.plan.Hooks, AfterMountAll, Device{}); err != nil {
		return result, err
	}

	if !o.plan.Retention.Enabled() {
		return result, nil
	}

	snapshots := NewSnapshotManager(o.plan.Retention, o.executor, o.logger)
	now := o.clock.Now()

	pruned, err := snapshots.Prune(ctx, now)
	result.Pruned = pruned
	if err != nil {
		return result, err
	}

	path, err := snapshots.Create(ctx, o.plan.SnapshotSource(), now)
	if err != nil {
		return result, err
	}
	result.Snapshot = path

	return result, nil
}

func (o *Orchestrator) mountDevice(ctx context.Context, lc *DeviceLifecycle) error {
	if err := lc.Sync(ctx); err != nil {
		return err
	}
	if err := lc.Open(ctx); err != nil {
		return err
	}
	return lc.Mount(ctx)
}

// Unmount runs on_before_unmount_all, unmounts then closes each device in
// the plan's unmount order, and runs on_after_unmount_all.
func (o *Orchestrator) Unmount(ctx context.Context) (*Result, error) {
	runner := NewHookRunner(o.executor, o.logger)
	result := &Result{}
	defer func() { result.Hooks = runner.Records() }()

	devices, err := o.unmountOrder()
	if err != nil {
		return result, err
	}

	if err := runner.RunSlots(ctx, o.plan.Hooks, BeforeUnmountAll, Device{}); err != nil {
		return result, err
	}

	for _, device := range devices {
		lc := NewDeviceLifecycle(device, o.plan.Hooks, runner, o.keys, o.executor, o.probe, o.logger)
		err := o.unmountDevice(ctx, lc)
		result.Devices = append(result.Devices, DeviceReport{Name: device.Name, State: lc.State()})
		if err != nil {
			o.logger.Error("unmount aborted", "device", device.Name, "error", err.Error())
			return result, err
		}
	}

	if err := runner.RunSlots(ctx, o.plan.Hooks, AfterUnmountAll, Device{}); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) unmountDevice(ctx context.Context, lc *DeviceLifecycle) error {
	if err := lc.Sync(ctx); err != nil {
		return err
	}
	if err := lc.Unmount(ctx); err != nil {
		return err
	}
	return lc.Close(ctx)
}

func (o *Orchestrator) unmountOrder() ([]Device, error) {
	switch o.plan.UnmountOrder {
	case UnmountReverse, "":
		devices := make([]Device, len(o.plan.Devices))
		for i, d := range o.plan.Devices {
			devices[len(devices)-1-i] = d
		}
		return devices, nil
	case UnmountConfigured:
		return append([]Device(nil), o.plan.Devices...), nil
	default:
		return nil, fmt.Errorf("unknown unmount order: %q", o.plan.UnmountOrder)
	}
}

// Status probes every configured device without changing anything.
func (o *Orchestrator) Status(ctx context.Context) ([]DeviceReport, error) {
	runner := NewHookRunner(o.executor, o.logger)
	reports := make([]DeviceReport, 0, len(o.plan.Devices))
	for _, device := range o.plan.Devices {
		lc := NewDeviceLifecycle(device, o.plan.Hooks, runner, o.keys, o.executor, o.probe, o.logger)
		if err := lc.Sync(ctx); err != nil {
			return reports, err
		}
		reports = append(reports, DeviceReport{Name: device.Name, State: lc.State()})
	}
	return reports, nil
}
