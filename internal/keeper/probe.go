package keeper

import "context"

// Probe inspects host state so lifecycle transitions can be skipped when
// their target state already holds.
type Probe interface {
	// IsOpen reports whether the device-mapper mapping for name is active.
	IsOpen(ctx context.Context, name string) (bool, error)

	// IsMounted reports whether something is mounted at mountPoint.
	IsMounted(ctx context.Context, mountPoint string) (bool, error)
}
