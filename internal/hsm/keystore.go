package hsm

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// MetadataKey is the storage key holding persisted key metadata.
const MetadataKey = "hsm_keys"

// AlgorithmP256 labels ECDSA P-256 key pairs.
const AlgorithmP256 = "ECDSA-P256"

// KeyMetadata is what survives a session. Private key material is never
// persisted.
type KeyMetadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Algorithm string    `json:"algorithm"`
}

// Key is a usable key pair held in memory.
type Key struct {
	ID        string
	CreatedAt time.Time
	Private   *ecdsa.PrivateKey
}

// Keystore emulates a hardware security module: it generates, reuses, and
// expires ECDSA P-256 key pairs.
type Keystore struct {
	storage platform.Storage
	keys    cmap.ConcurrentMap[string, *ecdsa.PrivateKey]
	rand    io.Reader
	maxAge  time.Duration
	logger  *zap.Logger
}

// Option configures a Keystore.
type Option func(*Keystore)

// WithRand sets the entropy source.
func WithRand(r io.Reader) Option {
	return func(k *Keystore) { k.rand = r }
}

// WithMaxAge overrides how long a key pair may be reused.
func WithMaxAge(d time.Duration) Option {
	return func(k *Keystore) { k.maxAge = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(k *Keystore) { k.logger = l }
}

// NewKeystore returns a keystore persisting metadata into storage.
func NewKeystore(storage platform.Storage, opts ...Option) *Keystore {
	k := &Keystore{
		storage: storage,
		keys:    cmap.New[*ecdsa.PrivateKey](),
		rand:    rand.Reader,
		maxAge:  constants.KeyMaxAge,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Metadata returns the persisted key metadata, oldest first.
func (k *Keystore) Metadata(ctx context.Context) ([]KeyMetadata, error) {
	values, err := k.storage.Get(ctx, MetadataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load key metadata: %w", err)
	}
	raw, ok := values[MetadataKey]
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var entries []KeyMetadata
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Corrupt metadata is treated as empty; Prune rewrites it.
		k.logger.Warn("discarding unreadable key metadata", zap.Error(err))
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (k *Keystore) saveMetadata(ctx context.Context, entries []KeyMetadata) error {
	if entries == nil {
		entries = []KeyMetadata{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}
	if err := k.storage.Set(ctx, map[string]json.RawMessage{MetadataKey: data}); err != nil {
		return fmt.Errorf("failed to persist key metadata: %w", err)
	}
	return nil
}

func (k *Keystore) expired(m KeyMetadata, now time.Time) bool {
	if m.ID == "" || m.CreatedAt.IsZero() {
		return true
	}
	if m.CreatedAt.After(now.Add(time.Minute)) {
		// Timestamps from the future are as untrustworthy as stale ones.
		return true
	}
	return now.Sub(m.CreatedAt) > k.maxAge
}

// Prune removes expired and malformed entries from persisted metadata and drops
// their in-memory key material. It returns the surviving entries.
func (k *Keystore) Prune(ctx context.Context, now time.Time) ([]KeyMetadata, error) {
	entries, err := k.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	kept := make([]KeyMetadata, 0, len(entries))
	for _, m := range entries {
		if k.expired(m, now) {
			k.keys.Remove(m.ID)
			k.logger.Debug("pruned expired key", zap.String("key_id", m.ID))
			continue
		}
		kept = append(kept, m)
	}

	if len(kept) != len(entries) {
		if err := k.saveMetadata(ctx, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

// Ensure returns a usable key pair, reusing the newest unexpired one whose
// private key is still held in memory. Otherwise it generates a fresh pair and
// persists its metadata. Entries whose private material belonged to an earlier
// session can never be used again and are dropped.
func (k *Keystore) Ensure(ctx context.Context, now time.Time) (Key, bool, error) {
	entries, err := k.Prune(ctx, now)
	if err != nil {
		return Key{}, false, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		m := entries[i]
		if priv, ok := k.keys.Get(m.ID); ok {
			return Key{ID: m.ID, CreatedAt: m.CreatedAt, Private: priv}, true, nil
		}
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), k.rand)
	if err != nil {
		return Key{}, false, fmt.Errorf("failed to generate key pair: %w", err)
	}
	id, err := newKeyID(k.rand)
	if err != nil {
		return Key{}, false, err
	}

	meta := KeyMetadata{ID: id, CreatedAt: now.UTC(), Algorithm: AlgorithmP256}
	if err := k.saveMetadata(ctx, []KeyMetadata{meta}); err != nil {
		return Key{}, false, err
	}
	if len(entries) > 0 {
		k.logger.Info("dropped key metadata without session material", zap.Int("count", len(entries)))
	}
	k.keys.Set(id, priv)

	return Key{ID: id, CreatedAt: meta.CreatedAt, Private: priv}, false, nil
}

func newKeyID(r io.Reader) (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign signs SHA-256(msg) with key id.
func (k *Keystore) Sign(id string, msg []byte) ([]byte, error) {
	priv, ok := k.keys.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrKeyNotFound, id)
	}
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(k.rand, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Verify checks sig over msg against key id's public key.
func (k *Keystore) Verify(id string, msg, sig []byte) (bool, error) {
	priv, ok := k.keys.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", sharedErrors.ErrKeyNotFound, id)
	}
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig), nil
}

// Forget drops in-memory material for every key, as happens when a session ends.
func (k *Keystore) Forget() {
	k.keys.Clear()
}
