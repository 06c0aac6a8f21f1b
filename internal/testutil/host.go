package testutil

import (
	"context"
	"sync"

	"luks-keeper/internal/keeper"
)

// FakeHost is an in-memory keeper.Probe. Pair it with a FakeExecutor so
// commands update the state it reports.
type FakeHost struct {
	mu      sync.Mutex
	open    map[string]bool
	mounted map[string]bool

	// ProbeErr, when set, is returned by every probe.
	ProbeErr error
}

// NewFakeHost creates a host with nothing open or mounted.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		open:    make(map[string]bool),
		mounted: make(map[string]bool),
	}
}

func (h *FakeHost) IsOpen(_ context.Context, name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ProbeErr != nil {
		return false, h.ProbeErr
	}
	return h.open[name], nil
}

func (h *FakeHost) IsMounted(_ context.Context, mountPoint string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ProbeErr != nil {
		return false, h.ProbeErr
	}
	return h.mounted[mountPoint], nil
}

// SetOpen marks a mapping as active or inactive.
func (h *FakeHost) SetOpen(name string, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open[name] = open
}

// SetMounted marks a mount point as mounted or not.
func (h *FakeHost) SetMounted(mountPoint string, mounted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mounted[mountPoint] = mounted
}

var _ keeper.Probe = (*FakeHost)(nil)
