package testutil

import (
	"context"
	"testing"

	"luks-keeper/internal/encryption"
	"luks-keeper/internal/keeper"
	"luks-keeper/internal/keystore"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() keeper.Encryptor {
	return encryption.NewTestEncryptor()
}

// NewTestKeyStore creates an in-memory key store sealed with the test
// encryptor and seeded with the given device passphrases.
func NewTestKeyStore(t *testing.T, passphrases map[string]string) *keystore.SealedKeyStore {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	ks := keystore.NewSealedKeyStore(keystore.NewMemoryBlobStore(), enc, func() (keeper.DecryptionContext, error) {
		return enc.Unlock("")
	}, "", keeper.NewNopLogger())

	for device, pw := range passphrases {
		if err := ks.Store(context.Background(), device, []byte(pw), ""); err != nil {
			t.Fatalf("seeding key store for %s: %v", device, err)
		}
	}
	return ks
}
