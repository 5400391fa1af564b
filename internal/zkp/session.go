package zkp

import (
	"fmt"
	"io"
	"time"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// Outcome summarizes one prover/verifier exchange.
type Outcome struct {
	Verified     bool
	FallbackUsed bool
	Challenge    Challenge
	Proof        Proof
	// ProtocolErr is why the full protocol failed, when FallbackUsed is set.
	ProtocolErr error
}

// Exchange runs the full protocol locally, playing both prover and verifier.
func Exchange(rand io.Reader, group Group, now time.Time) (Challenge, Proof, error) {
	if err := group.Validate(); err != nil {
		return Challenge{}, Proof{}, err
	}
	id, err := GenerateIdentity(rand, group)
	if err != nil {
		return Challenge{}, Proof{}, err
	}
	ch, err := NewChallenge(rand, now)
	if err != nil {
		return Challenge{}, Proof{}, err
	}
	proof, err := Prove(rand, group, ch, id)
	if err != nil {
		return ch, Proof{}, err
	}
	ok, err := Verify(group, proof, ch, id.Y)
	if err != nil {
		return ch, proof, err
	}
	if !ok {
		return ch, proof, fmt.Errorf("%w: schnorr equation does not hold", sharedErrors.ErrVerificationFailed)
	}
	return ch, proof, nil
}

// Run attempts the full exchange and falls back to the ECDSA self-test when it
// fails. The returned error is non-nil only when both paths failed.
func Run(rand io.Reader, group Group, now time.Time) (Outcome, error) {
	ch, proof, err := Exchange(rand, group, now)
	if err == nil {
		return Outcome{Verified: true, Challenge: ch, Proof: proof}, nil
	}

	out := Outcome{FallbackUsed: true, ProtocolErr: err}
	if fbErr := SignatureSelfTest(rand); fbErr != nil {
		return out, fmt.Errorf("zero-knowledge proof failed (%v) and fallback failed: %w", err, fbErr)
	}
	return out, nil
}
