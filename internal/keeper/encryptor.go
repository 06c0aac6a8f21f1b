package keeper

import "io"

// Encryptor seals passphrase records to an age recipient and unlocks the
// identity needed to open them again. Encryption needs only a public key;
// decryption needs the identity passphrase.
type Encryptor interface {
	// Setup performs one-time identity generation. The public key is stored
	// in plaintext and the private key is encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r to recipient and writes ciphertext
	// to w. An empty recipient selects the stored public key.
	Encrypt(r io.Reader, w io.Writer, recipient string) error

	// Unlock decrypts the private key with passphrase and returns a
	// DecryptionContext. Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked identity in memory for the duration
// of a run. It is never written to disk.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
