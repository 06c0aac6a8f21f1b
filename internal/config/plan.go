package config

import (
	"errors"
	"fmt"

	"luks-keeper/internal/keeper"
)

// Validate checks the configuration for mistakes that would otherwise only
// surface halfway through a run.
func (c *Config) Validate() error {
	var errs []error

	if c.RetentionDays != nil && *c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days must not be negative, got %d", *c.RetentionDays))
	}

	switch keeper.UnmountOrder(c.UnmountOrder) {
	case "", keeper.UnmountReverse, keeper.UnmountConfigured:
	default:
		errs = append(errs, fmt.Errorf("unknown unmount_order %q (want %q or %q)",
			c.UnmountOrder, keeper.UnmountReverse, keeper.UnmountConfigured))
	}

	for name, hook := range c.Hooks {
		t := keeper.Transition(name)
		if !t.IsDevice() && !t.IsBatch() {
			errs = append(errs, fmt.Errorf("hooks: unknown transition %q", name))
		}
		if hook.Command == "" {
			errs = append(errs, fmt.Errorf("hooks.%s: command is empty", name))
		}
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: name is empty", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true

		if d.DevNode == "" {
			errs = append(errs, fmt.Errorf("devices[%d] %s: devnode is empty", i, d.Name))
		}
		for name, hook := range d.Hooks {
			if !keeper.Transition(name).IsDevice() {
				errs = append(errs, fmt.Errorf("devices[%d] %s: unknown hook %q", i, d.Name, name))
			}
			if hook.Command == "" {
				errs = append(errs, fmt.Errorf("devices[%d] %s: hooks.%s: command is empty", i, d.Name, name))
			}
		}
	}

	return errors.Join(errs...)
}

// Plan resolves the configuration into what the orchestrator drives.
func (c *Config) Plan() *keeper.Plan {
	plan := &keeper.Plan{
		Hooks:        keeper.HookTable{},
		UnmountOrder: keeper.UnmountOrder(c.UnmountOrder),
		Retention: keeper.RetentionPolicy{
			Root:          c.SnapshotRoot,
			Source:        c.SnapshotSource,
			RetentionDays: DefaultRetentionDays,
		},
	}
	if plan.UnmountOrder == "" {
		plan.UnmountOrder = keeper.UnmountReverse
	}
	if c.RetentionDays != nil {
		plan.Retention.RetentionDays = *c.RetentionDays
	}

	for name, hook := range c.Hooks {
		plan.Hooks.Set(keeper.GlobalScope, keeper.Transition(name), hookSpec(hook))
	}

	for _, d := range c.Devices {
		plan.Devices = append(plan.Devices, keeper.Device{
			Name:         d.Name,
			DevNode:      d.DevNode,
			MountPoint:   normalizeMountPoint(d.MountPoint),
			MountOptions: d.MountOptions,
		})
		for name, hook := range d.Hooks {
			plan.Hooks.Set(d.Name, keeper.Transition(name), hookSpec(hook))
		}
	}
	return plan
}

func hookSpec(h HookConfig) *keeper.HookSpec {
	return &keeper.HookSpec{Command: h.Command, IgnoreErrors: h.IgnoreErrors}
}
