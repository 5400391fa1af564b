// Package zkp implements a Schnorr identification protocol: a prover shows
// knowledge of the private scalar behind a public value y = g^x mod p without
// revealing x.
//
// The group is the 2048-bit MODP group of RFC 3526 (group 14). p is a safe
// prime, g = 2 generates the subgroup of order q = (p-1)/2, and responses are
// reduced modulo q. A mismatched modulus or order makes honest proofs fail to
// verify without any other symptom, so the constants are kept verbatim and
// Group.Validate is checked before every exchange.
//
// The identity key is an ECDSA P-256 key pair; its private scalar D is used as
// the Schnorr witness x. Since D < n(P-256) < 2^256 < q, x needs no reduction.
package zkp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// modp2048 is the RFC 3526 group 14 prime.
const modp2048 = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// challengeBits bounds the derived challenge scalar e to 128 bits.
const challengeBits = 128

// Group holds the public parameters (p, g, q).
type Group struct {
	P *big.Int
	G *big.Int
	Q *big.Int
}

// DefaultGroup returns the RFC 3526 2048-bit group with generator 2.
func DefaultGroup() Group {
	p, ok := new(big.Int).SetString(modp2048, 16)
	if !ok {
		panic("zkp: invalid group prime")
	}
	q := new(big.Int).Rsh(new(big.Int).Sub(p, big.NewInt(1)), 1)
	return Group{P: p, G: big.NewInt(2), Q: q}
}

// Validate checks that g generates a subgroup of order q modulo p. A group
// whose constants do not match fails here instead of producing proofs that
// never verify.
func (g Group) Validate() error {
	if g.P == nil || g.G == nil || g.Q == nil {
		return fmt.Errorf("%w: incomplete group parameters", sharedErrors.ErrInvalidInput)
	}
	two := big.NewInt(2)
	if g.G.Cmp(two) < 0 || g.G.Cmp(new(big.Int).Sub(g.P, two)) > 0 {
		return fmt.Errorf("%w: generator out of range", sharedErrors.ErrInvalidInput)
	}
	if new(big.Int).Exp(g.G, g.Q, g.P).Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("%w: generator order does not match q", sharedErrors.ErrInvalidInput)
	}
	return nil
}

// Identity is the prover's key material.
type Identity struct {
	Key *ecdsa.PrivateKey
	X   *big.Int
	Y   *big.Int
}

// NewIdentity derives the Schnorr public value for an existing ECDSA key.
func NewIdentity(group Group, key *ecdsa.PrivateKey) (*Identity, error) {
	if key == nil || key.D == nil {
		return nil, fmt.Errorf("%w: missing private key", sharedErrors.ErrDegenerateValue)
	}
	x := new(big.Int).Mod(key.D, group.Q)
	if x.Sign() == 0 {
		return nil, fmt.Errorf("%w: private scalar is zero", sharedErrors.ErrDegenerateValue)
	}
	y := new(big.Int).Exp(group.G, x, group.P)
	return &Identity{Key: key, X: x, Y: y}, nil
}

// GenerateIdentity creates a fresh ECDSA P-256 identity.
func GenerateIdentity(rand io.Reader, group Group) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return NewIdentity(group, key)
}

// Challenge is the verifier's challenge. Random fields are hex encoded.
type Challenge struct {
	Challenge  string `json:"challenge"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
	Commitment string `json:"commitment"`
}

// NewChallenge draws a 32-byte challenge, a 16-byte nonce, and a 32-byte
// commitment placeholder.
func NewChallenge(rand io.Reader, now time.Time) (Challenge, error) {
	challenge, err := randomHex(rand, 32)
	if err != nil {
		return Challenge{}, err
	}
	nonce, err := randomHex(rand, 16)
	if err != nil {
		return Challenge{}, err
	}
	commitment, err := randomHex(rand, 32)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Challenge:  challenge,
		Timestamp:  now.UnixMilli(),
		Nonce:      nonce,
		Commitment: commitment,
	}, nil
}

func randomHex(rand io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for _, b := range buf {
		if b != 0 {
			return hex.EncodeToString(buf), nil
		}
	}
	return "", fmt.Errorf("%w: random source returned all zeros", sharedErrors.ErrDegenerateValue)
}

// Proof is the prover's message: commitment C = g^w mod p and response
// s = (w + e*x) mod q, both hex encoded.
type Proof struct {
	Commitment string `json:"commitment"`
	Response   string `json:"response"`
}

// ChallengeScalar derives e = H(challenge || timestamp || nonce || C) mod 2^128.
func ChallengeScalar(ch Challenge, commitment *big.Int) *big.Int {
	h := sha256.New()
	h.Write([]byte(ch.Challenge))
	h.Write([]byte(strconv.FormatInt(ch.Timestamp, 10)))
	h.Write([]byte(ch.Nonce))
	h.Write([]byte(commitment.Text(16)))
	digest := h.Sum(nil)

	e := new(big.Int).SetBytes(digest)
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), challengeBits), big.NewInt(1))
	return e.And(e, mask)
}

// Prove produces a proof of knowledge of id.X bound to ch.
func Prove(rand io.Reader, group Group, ch Challenge, id *Identity) (Proof, error) {
	if id == nil || id.X == nil || id.X.Sign() == 0 {
		return Proof{}, fmt.Errorf("%w: private scalar is zero", sharedErrors.ErrDegenerateValue)
	}

	w, err := randInt(rand, group.Q)
	if err != nil {
		return Proof{}, err
	}
	if w.Sign() == 0 {
		return Proof{}, fmt.Errorf("%w: witness is zero", sharedErrors.ErrDegenerateValue)
	}

	c := new(big.Int).Exp(group.G, w, group.P)
	if c.Sign() == 0 {
		return Proof{}, fmt.Errorf("%w: commitment is zero", sharedErrors.ErrDegenerateValue)
	}

	e := ChallengeScalar(ch, c)
	if e.Sign() == 0 {
		return Proof{}, fmt.Errorf("%w: challenge scalar is zero", sharedErrors.ErrDegenerateValue)
	}

	s := new(big.Int).Mul(e, id.X)
	s.Add(s, w)
	s.Mod(s, group.Q)
	if s.Sign() == 0 {
		return Proof{}, fmt.Errorf("%w: response is zero", sharedErrors.ErrDegenerateValue)
	}

	return Proof{Commitment: c.Text(16), Response: s.Text(16)}, nil
}

// randInt returns a uniform value in [0, max) read from rand.
func randInt(rand io.Reader, max *big.Int) (*big.Int, error) {
	byteLen := (max.BitLen() + 7) / 8
	buf := make([]byte, byteLen)
	excess := uint(byteLen*8 - max.BitLen())

	for i := 0; i < 64; i++ {
		if _, err := io.ReadFull(rand, buf); err != nil {
			return nil, fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[0] &= byte(0xFF >> excess)
		n := new(big.Int).SetBytes(buf)
		if n.Cmp(max) < 0 {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: rejection sampling did not converge", sharedErrors.ErrDegenerateValue)
}

// Verify checks proof against ch and the prover's public value y. A proof that
// does not verify yields (false, nil); malformed inputs yield an error.
func Verify(group Group, proof Proof, ch Challenge, y *big.Int) (bool, error) {
	c, ok := new(big.Int).SetString(proof.Commitment, 16)
	if !ok {
		return false, fmt.Errorf("%w: commitment is not hex", sharedErrors.ErrInvalidInput)
	}
	s, ok := new(big.Int).SetString(proof.Response, 16)
	if !ok {
		return false, fmt.Errorf("%w: response is not hex", sharedErrors.ErrInvalidInput)
	}
	if y == nil {
		return false, fmt.Errorf("%w: missing public value", sharedErrors.ErrInvalidInput)
	}

	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(group.P, one)
	if c.Cmp(one) <= 0 || c.Cmp(pMinusOne) >= 0 {
		return false, nil
	}
	if y.Cmp(one) <= 0 || y.Cmp(pMinusOne) >= 0 {
		return false, nil
	}
	if s.Sign() <= 0 || s.Cmp(group.Q) >= 0 {
		return false, nil
	}

	e := ChallengeScalar(ch, c)
	if e.Sign() == 0 {
		return false, nil
	}

	lhs := new(big.Int).Exp(group.G, s, group.P)
	rhs := new(big.Int).Exp(y, e, group.P)
	rhs.Mul(rhs, c)
	rhs.Mod(rhs, group.P)

	return lhs.Cmp(rhs) == 0, nil
}
