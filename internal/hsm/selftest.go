package hsm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

var (
	signaturePlaintext = []byte("seca-trust hsm signature self-test")
	cipherPlaintext    = []byte("seca-trust hsm aes-256-gcm self-test")
)

// GenerateAESKey returns a random 256-bit key.
func GenerateAESKey(r io.Reader) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns nonce || ciphertext.
func Encrypt(r io.Reader, key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", sharedErrors.ErrInvalidInput)
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: AES-256 requires a 32-byte key, got %d", sharedErrors.ErrInvalidInput, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SymmetricRoundTrip generates a fresh AES-256-GCM key and checks that
// decrypt(encrypt(plaintext)) returns plaintext.
func SymmetricRoundTrip(r io.Reader, plaintext []byte) error {
	key, err := GenerateAESKey(r)
	if err != nil {
		return err
	}
	blob, err := Encrypt(r, key, plaintext)
	if err != nil {
		return err
	}
	out, err := Decrypt(key, blob)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, plaintext) {
		return fmt.Errorf("%w: AES round trip mismatch", sharedErrors.ErrVerificationFailed)
	}
	return nil
}

// SelfTest signs and verifies a fixed plaintext with key id, then performs an
// AES-256-GCM round trip. Any failure fails the whole test.
func (k *Keystore) SelfTest(id string) error {
	sig, err := k.Sign(id, signaturePlaintext)
	if err != nil {
		return err
	}
	ok, err := k.Verify(id, signaturePlaintext, sig)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: signature did not verify", sharedErrors.ErrVerificationFailed)
	}
	return SymmetricRoundTrip(k.rand, cipherPlaintext)
}
