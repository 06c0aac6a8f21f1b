package keeper

import (
	"context"

	"luks-keeper/internal/secret"
)

// KeyStore reads and writes encrypted passphrase records, one per device.
//
// Records are never cached across calls; each Fetch reads the stored blob
// fresh. Store and Rotate must replace records atomically so that a crash
// mid-write leaves either the old or the new record, never a truncated one.
type KeyStore interface {
	// Exists reports whether a record exists for device.
	Exists(ctx context.Context, device string) (bool, error)

	// Fetch decrypts and returns the passphrase for device. The caller must
	// Close the returned buffer. Returns an error wrapping ErrNotFound when
	// no record exists.
	Fetch(ctx context.Context, device string) (*secret.Buffer, error)

	// Store encrypts passphrase to recipient and creates the record.
	// An empty recipient selects the store's default. Returns an error
	// wrapping ErrExists when a record is already present.
	Store(ctx context.Context, device string, passphrase []byte, recipient string) error

	// Rotate replaces an existing record with passphrase encrypted to
	// recipient. Returns an error wrapping ErrNotFound when no record exists.
	Rotate(ctx context.Context, device string, passphrase []byte, recipient string) error
}
