package checks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/hsm"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// sha256("abc"), FIPS 180-2 appendix B.1.
const digestKnownAnswer = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

var cryptoRoundTripPlaintext = []byte("seca-trust crypto capability round trip")

// CryptoProbe attempts each primitive the wallet depends on and reports every
// capability separately.
type CryptoProbe struct {
	rand io.Reader
}

func (p *CryptoProbe) Name() string                     { return NameCrypto }
func (p *CryptoProbe) Step() state.Step                 { return state.StepCryptoCheck }
func (p *CryptoProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableCrypto }

func (p *CryptoProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	var status state.CryptoStatus

	status.HasSecureRandom = secureRandomWorks(p.rand)
	status.DigestValid = digestWorks()
	progress(kit, p.Step(), 10)

	attempts := []struct {
		name string
		run  func() error
		set  func(bool)
	}{
		{"rsa", func() error { return generateRSA(p.rand) }, func(ok bool) { status.SupportsRSA = ok }},
		{"ecdsa", func() error { return generateECDSA(p.rand) }, func(ok bool) { status.SupportsECDSA = ok }},
		{"aes", func() error { return generateAES(p.rand) }, func(ok bool) { status.SupportsAES = ok }},
		{"hmac", func() error { return computeHMAC(p.rand) }, func(ok bool) { status.SupportsHMAC = ok }},
		{"aes-gcm", func() error { return hsm.SymmetricRoundTrip(p.rand, cryptoRoundTripPlaintext) }, func(ok bool) { status.AESRoundTrip = ok }},
	}
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return fail(kit, status, err, "Crypto capability check cancelled")
		}
		err := a.run()
		a.set(err == nil)
		if err != nil {
			kit.Logger().Debug("crypto capability unavailable", zap.String("capability", a.name), zap.Error(err))
		}
		progress(kit, p.Step(), 10+(i+1)*90/len(attempts))
	}

	status.HasSubtleCrypto = status.DigestValid || status.SupportsRSA || status.SupportsECDSA ||
		status.SupportsAES || status.SupportsHMAC
	missing := missingCapabilities(status)
	status.IsSecure = len(missing) == 0

	data := map[string]any{"missing": missing}
	if !status.IsSecure {
		res, _ := fail(kit, status, nil, "Missing crypto capabilities: "+strings.Join(missing, ", "))
		res.Data = data
		return res, nil
	}
	return probe.Result{Success: true, Data: data, Patch: status}, nil
}

func missingCapabilities(s state.CryptoStatus) []string {
	missing := []string{}
	for _, c := range []struct {
		name string
		ok   bool
	}{
		{"secure-random", s.HasSecureRandom},
		{"digest", s.DigestValid},
		{"rsa", s.SupportsRSA},
		{"ecdsa", s.SupportsECDSA},
		{"aes", s.SupportsAES},
		{"hmac", s.SupportsHMAC},
		{"aes-gcm", s.AESRoundTrip},
	} {
		if !c.ok {
			missing = append(missing, c.name)
		}
	}
	return missing
}

func secureRandomWorks(r io.Reader) bool {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	for _, b := range buf {
		if b != 0 {
			return true
		}
	}
	return false
}

func digestWorks() bool {
	sum := sha256.Sum256([]byte("abc"))
	return len(sum) == 32 && hex.EncodeToString(sum[:]) == digestKnownAnswer
}

func generateRSA(r io.Reader) error {
	key, err := rsa.GenerateKey(r, 2048)
	if err != nil {
		return err
	}
	return key.Validate()
}

func generateECDSA(r io.Reader) error {
	_, err := ecdsa.GenerateKey(elliptic.P256(), r)
	return err
}

func generateAES(r io.Reader) error {
	key, err := hsm.GenerateAESKey(r)
	if err != nil {
		return err
	}
	_, err = hsm.Encrypt(r, key, cryptoRoundTripPlaintext)
	return err
}

func computeHMAC(r io.Reader) error {
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(cryptoRoundTripPlaintext)
	if len(mac.Sum(nil)) != sha256.Size {
		return errors.New("unexpected HMAC length")
	}
	return nil
}
