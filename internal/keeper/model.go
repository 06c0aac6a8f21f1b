package keeper

// Device is one configured LUKS device. An empty MountPoint means the
// device is opened but never mounted.
type Device struct {
	Name         string
	DevNode      string
	MountPoint   string
	MountOptions string
}

// Mounts reports whether the device has a mount point.
func (d Device) Mounts() bool {
	return d.MountPoint != ""
}

// MapperPath is the plaintext block device created by opening the device.
func (d Device) MapperPath() string {
	return "/dev/mapper/" + d.Name
}

// Transition names a point in the lifecycle where a hook may run.
type Transition string

// Device transitions.
const (
	BeforeOpen    Transition = "on_before_open"
	AfterOpen     Transition = "on_after_open"
	BeforeMount   Transition = "on_before_mount"
	AfterMount    Transition = "on_after_mount"
	BeforeUnmount Transition = "on_before_unmount"
	AfterUnmount  Transition = "on_after_unmount"
	BeforeClose   Transition = "on_before_close"
	AfterClose    Transition = "on_after_close"
)

// Batch transitions.
const (
	BeforeMountAll   Transition = "on_before_mount_all"
	AfterMountAll    Transition = "on_after_mount_all"
	BeforeUnmountAll Transition = "on_before_unmount_all"
	AfterUnmountAll  Transition = "on_after_unmount_all"
)

// DeviceTransitions lists the eight device transitions in lifecycle order.
var DeviceTransitions = []Transition{
	BeforeOpen, AfterOpen,
	BeforeMount, AfterMount,
	BeforeUnmount, AfterUnmount,
	BeforeClose, AfterClose,
}

// BatchTransitions lists the four batch transitions.
var BatchTransitions = []Transition{
	BeforeMountAll, AfterMountAll,
	BeforeUnmountAll, AfterUnmountAll,
}

// IsDevice reports whether t is one of the device transitions.
func (t Transition) IsDevice() bool {
	for _, d := range DeviceTransitions {
		if t == d {
			return true
		}
	}
	return false
}

// IsBatch reports whether t is one of the batch transitions.
func (t Transition) IsBatch() bool {
	for _, b := range BatchTransitions {
		if t == b {
			return true
		}
	}
	return false
}

// HookSpec is a user command run at a transition.
type HookSpec struct {
	Command      string
	IgnoreErrors bool
}

// GlobalScope is the HookKey scope for hooks that are not tied to a device.
const GlobalScope = ""

// HookKey addresses a hook slot. Scope is GlobalScope or a device name.
type HookKey struct {
	Scope      string
	Transition Transition
}

// HookTable maps hook slots to their specs. A missing key is an empty slot.
type HookTable map[HookKey]*HookSpec

// Lookup returns the hook for a slot, or nil.
func (t HookTable) Lookup(scope string, transition Transition) *HookSpec {
	if t == nil {
		return nil
	}
	return t[HookKey{Scope: scope, Transition: transition}]
}

// Set assigns a hook to a slot. A nil spec clears it.
func (t HookTable) Set(scope string, transition Transition, spec *HookSpec) {
	key := HookKey{Scope: scope, Transition: transition}
	if spec == nil {
		delete(t, key)
		return
	}
	t[key] = spec
}

// RetentionPolicy configures the snapshot phase of a mount run.
// An empty Root disables snapshots.
type RetentionPolicy struct {
	Root          string
	Source        string
	RetentionDays int
}

// Enabled reports whether snapshots are configured.
func (p RetentionPolicy) Enabled() bool {
	return p.Root != ""
}

// UnmountOrder selects the device order for an unmount run.
type UnmountOrder string

const (
	// UnmountReverse tears devices down in reverse configured order.
	UnmountReverse UnmountOrder = "reverse"
	// UnmountConfigured tears devices down in configured order.
	UnmountConfigured UnmountOrder = "configured"
)

// Plan is the resolved configuration driven by the Orchestrator.
type Plan struct {
	Devices      []Device
	Hooks        HookTable
	Retention    RetentionPolicy
	UnmountOrder UnmountOrder
}

// SnapshotSource returns the path to snapshot: the configured source, or
// the mount point of the first device that has one.
func (p *Plan) SnapshotSource() string {
	if p.Retention.Source != "" {
		return p.Retention.Source
	}
	for _, d := range p.Devices {
		if d.Mounts() {
			return d.MountPoint
		}
	}
	return ""
}
