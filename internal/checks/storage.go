package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/hsm"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// storageProbeKey is written and removed again by every storage check.
const storageProbeKey = "seca_storage_probe"

// StorageProbe writes an encrypted record, reads it back, decrypts it and
// removes it.
type StorageProbe struct {
	storage platform.Storage
	rand    io.Reader
	now     func() time.Time
}

func (p *StorageProbe) Name() string                     { return NameStorage }
func (p *StorageProbe) Step() state.Step                 { return state.StepStorageCheck }
func (p *StorageProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableStorage }

func (p *StorageProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	var status state.StorageStatus
	if p.storage == nil {
		return fail(kit, status, sharedErrors.ErrStorageUnavailable, "Storage is not available")
	}

	key, err := hsm.GenerateAESKey(p.rand)
	if err != nil {
		return fail(kit, status, err, "Failed to generate storage key")
	}
	plaintext := []byte("storage-probe:" + strconv.FormatInt(p.now().UnixMilli(), 10))
	blob, err := hsm.Encrypt(p.rand, key, plaintext)
	if err != nil {
		return fail(kit, status, err, "Failed to encrypt storage record")
	}
	// []byte marshals as a base64 JSON string.
	encoded, err := json.Marshal(blob)
	if err != nil {
		return fail(kit, status, err, "Failed to encode storage record")
	}

	if err := p.storage.Set(ctx, map[string]json.RawMessage{storageProbeKey: encoded}); err != nil {
		return fail(kit, status, err, "Storage write failed")
	}
	progress(kit, p.Step(), 40)

	values, err := p.storage.Get(ctx, storageProbeKey)
	if err != nil {
		return fail(kit, status, err, "Storage read failed")
	}
	raw, ok := values[storageProbeKey]
	if !ok {
		return fail(kit, status, sharedErrors.ErrStorageUnavailable, "Storage did not return the written record")
	}
	status.IsAvailable = true

	var stored []byte
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fail(kit, status, fmt.Errorf("%w: %v", sharedErrors.ErrDeserializationFailed, err), "Stored record is corrupt")
	}
	out, err := hsm.Decrypt(key, stored)
	if err != nil || !bytes.Equal(out, plaintext) {
		return fail(kit, status, err, "Encrypted storage round trip failed")
	}
	status.EncryptionWorks = true
	progress(kit, p.Step(), 80)

	if err := p.storage.Remove(ctx, storageProbeKey); err != nil {
		return fail(kit, status, err, "Failed to remove storage record")
	}
	values, err = p.storage.Get(ctx, storageProbeKey)
	if err != nil {
		return fail(kit, status, err, "Storage read failed")
	}
	if _, still := values[storageProbeKey]; still {
		return fail(kit, status, nil, "Storage record survived removal")
	}
	status.IsSecure = true
	progress(kit, p.Step(), 100)

	return probe.Result{Success: true, Data: map[string]any{"bytes": len(blob)}, Patch: status}, nil
}
