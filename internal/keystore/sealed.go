package keystore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"luks-keeper/internal/keeper"
	"luks-keeper/internal/secret"
)

// Unlocker returns a DecryptionContext for the identity that sealed the
// records. It is called at most once per SealedKeyStore, on first Fetch.
type Unlocker func() (keeper.DecryptionContext, error)

// SealedKeyStore implements keeper.KeyStore by encrypting passphrases with
// an Encryptor and keeping the ciphertext in a BlobStore.
type SealedKeyStore struct {
	blobs     BlobStore
	encryptor keeper.Encryptor
	unlock    Unlocker
	recipient string
	logger    keeper.Logger

	mu  sync.Mutex
	dec keeper.DecryptionContext
}

// NewSealedKeyStore creates a key store. defaultRecipient is used when
// Store or Rotate are called with an empty recipient; when it is also
// empty the encryptor's own public key is used.
func NewSealedKeyStore(blobs BlobStore, encryptor keeper.Encryptor, unlock Unlocker, defaultRecipient string, logger keeper.Logger) *SealedKeyStore {
	return &SealedKeyStore{
		blobs:     blobs,
		encryptor: encryptor,
		unlock:    unlock,
		recipient: defaultRecipient,
		logger:    logger,
	}
}

// Exists reports whether a record exists for device.
func (k *SealedKeyStore) Exists(ctx context.Context, device string) (bool, error) {
	return k.blobs.Exists(ctx, RecordName(device))
}

// Fetch decrypts the record for device. Leading and trailing whitespace is
// trimmed from the plaintext. The caller must Close the returned buffer.
func (k *SealedKeyStore) Fetch(ctx context.Context, device string) (*secret.Buffer, error) {
	var sealed bytes.Buffer
	if err := k.blobs.Get(ctx, RecordName(device), &sealed); err != nil {
		return nil, err
	}

	dec, err := k.decryptionContext()
	if err != nil {
		return nil, err
	}

	var plain bytes.Buffer
	defer func() {
		b := plain.Bytes()
		secret.Zero(b[:cap(b)])
	}()
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("decrypting record for %s: %w", device, err)
	}

	trimmed := bytes.TrimSpace(plain.Bytes())
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("record for %s holds an empty passphrase", device)
	}
	return secret.NewFromBytes(trimmed)
}

// Store seals passphrase for device. It fails with keeper.ErrExists when a
// record is already present.
func (k *SealedKeyStore) Store(ctx context.Context, device string, passphrase []byte, recipient string) error {
	exists, err := k.Exists(ctx, device)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("record for %s: %w", device, keeper.ErrExists)
	}
	if err := k.seal(ctx, device, passphrase, recipient); err != nil {
		return err
	}
	k.logger.Info("passphrase record stored", "device", device)
	return nil
}

// Rotate replaces the record for device. It fails with keeper.ErrNotFound
// when there is nothing to rotate. The new ciphertext is fully produced
// before the store is touched, so a failed rotation keeps the old record.
func (k *SealedKeyStore) Rotate(ctx context.Context, device string, passphrase []byte, recipient string) error {
	exists, err := k.Exists(ctx, device)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("record for %s: %w", device, keeper.ErrNotFound)
	}
	if err := k.seal(ctx, device, passphrase, recipient); err != nil {
		return err
	}
	k.logger.Info("passphrase record rotated", "device", device)
	return nil
}

func (k *SealedKeyStore) seal(ctx context.Context, device string, passphrase []byte, recipient string) error {
	if len(bytes.TrimSpace(passphrase)) == 0 {
		return fmt.Errorf("refusing to store an empty passphrase for %s", device)
	}
	if recipient == "" {
		recipient = k.recipient
	}

	var sealed bytes.Buffer
	if err := k.encryptor.Encrypt(bytes.NewReader(passphrase), &sealed, recipient); err != nil {
		return fmt.Errorf("encrypting record for %s: %w", device, err)
	}

	size := int64(sealed.Len())
	if err := k.blobs.Put(ctx, RecordName(device), &sealed, size); err != nil {
		return fmt.Errorf("writing record for %s: %w", device, err)
	}
	return nil
}

func (k *SealedKeyStore) decryptionContext() (keeper.DecryptionContext, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.dec != nil {
		return k.dec, nil
	}
	if k.unlock == nil {
		return nil, fmt.Errorf("key store has no unlocker configured")
	}
	dec, err := k.unlock()
	if err != nil {
		return nil, fmt.Errorf("unlocking identity: %w", err)
	}
	k.dec = dec
	return dec, nil
}

var _ keeper.KeyStore = (*SealedKeyStore)(nil)
