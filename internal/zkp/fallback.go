package zkp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"io"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

var selfTestMessage = []byte("seca-trust zkp fallback self-test")

// SignatureSelfTest is the degraded path used when the full protocol is not
// available: it generates a P-256 key and checks a sign/verify round trip.
func SignatureSelfTest(rand io.Reader) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand)
	if err != nil {
		return fmt.Errorf("failed to generate fallback key: %w", err)
	}

	digest := sha256.Sum256(selfTestMessage)
	sig, err := ecdsa.SignASN1(rand, key, digest[:])
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig) {
		return sharedErrors.ErrVerificationFailed
	}
	return nil
}
