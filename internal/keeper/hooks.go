package keeper

import (
	"context"
	"fmt"
)

// Outcome is the result of running a hook slot.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeFailedIgnored
	OutcomeFailedFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailedIgnored:
		return "failed-ignored"
	case OutcomeFailedFatal:
		return "failed-fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// HookContext identifies where a hook runs. Device is the zero value for
// batch hooks.
type HookContext struct {
	Scope      string
	Transition Transition
	Device     Device
}

// Env renders the context as environment variables for the hook process.
func (c HookContext) Env() []string {
	scope := c.Scope
	if scope == GlobalScope {
		scope = "global"
	}
	return []string{
		"LUKS_KEEPER_SCOPE=" + scope,
		"LUKS_KEEPER_TRANSITION=" + string(c.Transition),
		"LUKS_KEEPER_DEVICE=" + c.Device.Name,
		"LUKS_KEEPER_DEVNODE=" + c.Device.DevNode,
		"LUKS_KEEPER_MOUNT_POINT=" + c.Device.MountPoint,
	}
}

// HookRecord is one hook slot evaluation, kept for run reporting.
type HookRecord struct {
	Scope      string
	Device     string
	Transition Transition
	Outcome    Outcome
}

// HookRunner runs hook commands through an Executor.
type HookRunner struct {
	executor Executor
	logger   Logger
	records  []HookRecord
}

// NewHookRunner creates a HookRunner.
func NewHookRunner(executor Executor, logger Logger) *HookRunner {
	return &HookRunner{executor: executor, logger: logger}
}

// Run executes spec with sh -c. A nil spec is skipped. A non-zero exit is
// ignored when spec.IgnoreErrors is set and otherwise returned as a
// *HookError with OutcomeFailedFatal. A shell that cannot be started is
// always fatal.
func (r *HookRunner) Run(ctx context.Context, spec *HookSpec, hc HookContext) (Outcome, error) {
	if spec == nil {
		return OutcomeSkipped, nil
	}

	outcome, err := r.run(ctx, spec, hc)
	r.records = append(r.records, HookRecord{
		Scope:      hc.Scope,
		Device:     hc.Device.Name,
		Transition: hc.Transition,
		Outcome:    outcome,
	})
	return outcome, err
}

func (r *HookRunner) run(ctx context.Context, spec *HookSpec, hc HookContext) (Outcome, error) {
	r.logger.Info("running hook", "transition", string(hc.Transition), "device", hc.Device.Name, "command", spec.Command)

	res, err := r.executor.Run(ctx, Command{
		Name: "sh",
		Args: []string{"-c", spec.Command},
		Env:  hc.Env(),
	})
	if err != nil {
		return OutcomeFailedFatal, &HookError{
			Scope:      hc.Scope,
			Device:     hc.Device.Name,
			Transition: hc.Transition,
			Command:    spec.Command,
			ExitCode:   -1,
			Err:        err,
		}
	}
	if res.Success() {
		return OutcomeSucceeded, nil
	}

	if spec.IgnoreErrors {
		r.logger.Warn("hook failed, continuing",
			"transition", string(hc.Transition),
			"device", hc.Device.Name,
			"command", spec.Command,
			"exit_code", res.ExitCode,
			"stderr", string(res.Stderr),
		)
		return OutcomeFailedIgnored, nil
	}

	r.logger.Error("hook failed",
		"transition", string(hc.Transition),
		"device", hc.Device.Name,
		"command", spec.Command,
		"exit_code", res.ExitCode,
		"stdout", string(res.Stdout),
		"stderr", string(res.Stderr),
	)
	return OutcomeFailedFatal, &HookError{
		Scope:      hc.Scope,
		Device:     hc.Device.Name,
		Transition: hc.Transition,
		Command:    spec.Command,
		ExitCode:   res.ExitCode,
		Stderr:     string(res.Stderr),
	}
}

// RunSlots runs the global hook for a transition followed by the device's
// own hook, stopping at the first fatal outcome.
func (r *HookRunner) RunSlots(ctx context.Context, table HookTable, transition Transition, device Device) error {
	if _, err := r.Run(ctx, table.Lookup(GlobalScope, transition), HookContext{
		Scope:      GlobalScope,
		Transition: transition,
		Device:     device,
	}); err != nil {
		return err
	}
	if device.Name == "" {
		return nil
	}
	_, err := r.Run(ctx, table.Lookup(device.Name, transition), HookContext{
		Scope:      device.Name,
		Transition: transition,
		Device:     device,
	})
	return err
}

// Records returns every hook evaluated so far, in order. Skipped slots are
// not recorded.
func (r *HookRunner) Records() []HookRecord {
	return append([]HookRecord(nil), r.records...)
}
