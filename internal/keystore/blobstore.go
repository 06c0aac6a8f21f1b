package keystore

import (
	"context"
	"io"
)

// RecordName returns the blob name holding the sealed passphrase for a
// device.
func RecordName(device string) string {
	return "luks-pass_" + device + ".age"
}

// BlobStore holds opaque sealed records by name.
//
// Put must replace an existing record atomically: a reader sees either the
// old record or the new one, never a mix, and a failed Put leaves the old
// record in place. Get returns an error wrapping keeper.ErrNotFound when the
// record does not exist.
type BlobStore interface {
	Get(ctx context.Context, name string, w io.Writer) error
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Exists(ctx context.Context, name string) (bool, error)
}
