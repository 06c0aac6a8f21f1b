package keeper

import (
	"context"
	"fmt"
	"strings"

	"luks-keeper/internal/secret"
)

// DeviceState is the position of a device in its lifecycle.
type DeviceState int

const (
	StateClosed DeviceState = iota
	StateOpened
	StateMounted
)

func (s DeviceState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateMounted:
		return "mounted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeviceLifecycle drives one device through
// Closed → Opened → Mounted → Opened → Closed.
//
// Each transition is a no-op when the host is already in the target state,
// so repeated runs are safe. Devices without a mount point never enter
// StateMounted. Failures are returned as-is; nothing is rolled back.
type DeviceLifecycle struct {
	device   Device
	hooks    HookTable
	runner   *HookRunner
	keys     KeyStore
	executor Executor
	probe    Probe
	logger   Logger
	state    DeviceState
}

// NewDeviceLifecycle creates a lifecycle for device in StateClosed. Call
// Sync to learn the actual host state.
func NewDeviceLifecycle(device Device, hooks HookTable, runner *HookRunner, keys KeyStore, executor Executor, probe Probe, logger Logger) *DeviceLifecycle {
	return &DeviceLifecycle{
		device:   device,
		hooks:    hooks,
		runner:   runner,
		keys:     keys,
		executor: executor,
		probe:    probe,
		logger:   logger,
	}
}

// Device returns the configured device.
func (d *DeviceLifecycle) Device() Device { return d.device }

// State returns the last known state.
func (d *DeviceLifecycle) State() DeviceState { return d.state }

// Sync probes the host and updates the known state.
func (d *DeviceLifecycle) Sync(ctx context.Context) error {
	open, err := d.probe.IsOpen(ctx, d.device.Name)
	if err != nil {
		return fmt.Errorf("checking whether %s is open: %w", d.device.Name, err)
	}
	if !open {
		d.state = StateClosed
		return nil
	}
	d.state = StateOpened

	if !d.device.Mounts() {
		return nil
	}
	mounted, err := d.probe.IsMounted(ctx, d.device.MountPoint)
	if err != nil {
		return fmt.Errorf("checking whether %s is mounted: %w", d.device.MountPoint, err)
	}
	if mounted {
		d.state = StateMounted
	}
	return nil
}

// Open unlocks the device with its stored passphrase.
func (d *DeviceLifecycle) Open(ctx context.Context) error {
	if d.state >= StateOpened {
		d.logger.Debug("device already open", "device", d.device.Name)
		return nil
	}

	if err := d.runner.RunSlots(ctx, d.hooks, BeforeOpen, d.device); err != nil {
		return err
	}

	passphrase, err := d.keys.Fetch(ctx, d.device.Name)
	if err != nil {
		return &KeyStoreError{Device: d.device.Name, Op: "fetch", Err: err}
	}
	defer passphrase.Close()

	stdin := make([]byte, 0, passphrase.Len()+1)
	stdin = append(stdin, passphrase.Bytes()...)
	stdin = append(stdin, '\n')
	defer secret.Zero(stdin)

	openCmd := Command{
		Name:     "cryptsetup",
		Args:     []string{"luksOpen", d.device.DevNode, d.device.Name},
		Elevated: true,
		Stdin:    stdin,
	}
	res, err := d.executor.Run(ctx, openCmd)
	if err != nil {
		return d.commandError("open", openCmd, nil, err)
	}
	if !res.Success() {
		if !d.staleMapping(res) {
			return d.commandError("open", openCmd, res, nil)
		}
		d.logger.Warn("device-mapper name exists but is not an open LUKS device; closing it and retrying",
			"device", d.device.Name)
		if err := d.luksClose(ctx); err != nil {
			return err
		}
		res, err = d.executor.Run(ctx, openCmd)
		if err != nil {
			return d.commandError("open", openCmd, nil, err)
		}
		if !res.Success() {
			return d.commandError("open", openCmd, res, nil)
		}
	}
	d.state = StateOpened
	d.logger.Info("device opened", "device", d.device.Name, "devnode", d.device.DevNode)

	return d.runner.RunSlots(ctx, d.hooks, AfterOpen, d.device)
}

// Mount mounts the opened device at its mount point. Devices without a
// mount point are left alone.
func (d *DeviceLifecycle) Mount(ctx context.Context) error {
	if !d.device.Mounts() {
		d.logger.Debug("device has no mount point, skipping mount", "device", d.device.Name)
		return nil
	}
	if d.state >= StateMounted {
		d.logger.Debug("device already mounted", "device", d.device.Name, "mount_point", d.device.MountPoint)
		return nil
	}
	if d.state < StateOpened {
		return fmt.Errorf("mount %s: device is not open", d.device.Name)
	}

	if err := d.runner.RunSlots(ctx, d.hooks, BeforeMount, d.device); err != nil {
		return err
	}

	if err := d.run(ctx, "mount", Command{
		Name:     "mkdir",
		Args:     []string{"-p", d.device.MountPoint},
		Elevated: true,
	}); err != nil {
		return err
	}

	args := []string{}
	if d.device.MountOptions != "" {
		args = append(args, "-o", d.device.MountOptions)
	}
	args = append(args, d.device.MapperPath(), d.device.MountPoint)
	if err := d.run(ctx, "mount", Command{Name: "mount", Args: args, Elevated: true}); err != nil {
		return err
	}
	d.state = StateMounted
	d.logger.Info("device mounted", "device", d.device.Name, "mount_point", d.device.MountPoint)

	return d.runner.RunSlots(ctx, d.hooks, AfterMount, d.device)
}

// Unmount unmounts the device. Devices without a mount point, or not
// mounted, are left alone.
func (d *DeviceLifecycle) Unmount(ctx context.Context) error {
	if !d.device.Mounts() || d.state < StateMounted {
		return nil
	}

	if err := d.runner.RunSlots(ctx, d.hooks, BeforeUnmount, d.device); err != nil {
		return err
	}
	if err := d.run(ctx, "unmount", Command{
		Name:     "umount",
		Args:     []string{d.device.MountPoint},
		Elevated: true,
	}); err != nil {
		return err
	}
	d.state = StateOpened
	d.logger.Info("device unmounted", "device", d.device.Name, "mount_point", d.device.MountPoint)

	return d.runner.RunSlots(ctx, d.hooks, AfterUnmount, d.device)
}

// Close locks the device.
func (d *DeviceLifecycle) Close(ctx context.Context) error {
	if d.state == StateClosed {
		return nil
	}
	if d.state == StateMounted {
		return fmt.Errorf("close %s: device is still mounted at %s", d.device.Name, d.device.MountPoint)
	}

	if err := d.runner.RunSlots(ctx, d.hooks, BeforeClose, d.device); err != nil {
		return err
	}
	if err := d.luksClose(ctx); err != nil {
		return err
	}
	d.state = StateClosed
	d.logger.Info("device closed", "device", d.device.Name)

	return d.runner.RunSlots(ctx, d.hooks, AfterClose, d.device)
}

func (d *DeviceLifecycle) luksClose(ctx context.Context) error {
	return d.run(ctx, "close", Command{
		Name:     "cryptsetup",
		Args:     []string{"luksClose", d.device.Name},
		Elevated: true,
	})
}

// staleMapping reports whether a failed luksOpen was refused because a
// device-mapper entry with the same name is left over.
func (d *DeviceLifecycle) staleMapping(res *CommandResult) bool {
	return strings.Contains(string(res.Stderr), fmt.Sprintf("Device %s already exists", d.device.Name))
}

func (d *DeviceLifecycle) run(ctx context.Context, action string, cmd Command) error {
	res, err := d.executor.Run(ctx, cmd)
	if err != nil {
		return d.commandError(action, cmd, nil, err)
	}
	if !res.Success() {
		return d.commandError(action, cmd, res, nil)
	}
	return nil
}

func (d *DeviceLifecycle) commandError(action string, cmd Command, res *CommandResult, err error) error {
	ce := &CommandError{
		Device: d.device.Name,
		Action: action,
		Argv:   cmd.Argv(),
		Err:    err,
	}
	if res != nil {
		ce.ExitCode = res.ExitCode
		ce.Stderr = string(res.Stderr)
	} else {
		ce.ExitCode = -1
	}
	d.logger.Error("command failed", "device", d.device.Name, "action", action, "error", ce.Error())
	return ce
}
