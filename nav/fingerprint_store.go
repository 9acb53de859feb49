package nav

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FingerprintStore holds calibration fingerprints per zone. Reads return
// copies, so a classification running on a snapshot never observes a
// half-applied write.
type FingerprintStore interface {
	Add(ctx context.Context, zoneID uuid.UUID, fp Fingerprint) error
	ByZone(ctx context.Context, zoneID uuid.UUID) ([]Fingerprint, error)
	Snapshot(ctx context.Context) (map[uuid.UUID][]Fingerprint, error)
	ClearZone(ctx context.Context, zoneID uuid.UUID) error
	Reset(ctx context.Context) error
	Close() error
}

// MemoryFingerprintStore is a FingerprintStore kept in process memory
type MemoryFingerprintStore struct {
	mu    sync.RWMutex
	zones map[uuid.UUID][]Fingerprint
}

// NewMemoryFingerprintStore creates an empty in-memory store
func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{zones: make(map[uuid.UUID][]Fingerprint)}
}

func (s *MemoryFingerprintStore) Add(_ context.Context, zoneID uuid.UUID, fp Fingerprint) error {
	if fp.IsEmpty() {
		return fmt.Errorf("adding fingerprint to zone %s: fingerprint is empty", zoneID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zoneID] = append(s.zones[zoneID], fp.Clone())
	return nil
}

func (s *MemoryFingerprintStore) ByZone(_ context.Context, zoneID uuid.UUID) ([]Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFingerprints(s.zones[zoneID]), nil
}

func (s *MemoryFingerprintStore) Snapshot(_ context.Context) (map[uuid.UUID][]Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID][]Fingerprint, len(s.zones))
	for id, fps := range s.zones {
		out[id] = cloneFingerprints(fps)
	}
	return out, nil
}

func (s *MemoryFingerprintStore) ClearZone(_ context.Context, zoneID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, zoneID)
	return nil
}

func (s *MemoryFingerprintStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones = make(map[uuid.UUID][]Fingerprint)
	return nil
}

func (s *MemoryFingerprintStore) Close() error { return nil }

func cloneFingerprints(fps []Fingerprint) []Fingerprint {
	if len(fps) == 0 {
		return nil
	}
	out := make([]Fingerprint, len(fps))
	for i, fp := range fps {
		out[i] = fp.Clone()
	}
	return out
}

// OpenFingerprintStore opens the store selected by cfg
func OpenFingerprintStore(cfg StoreConfig) (FingerprintStore, error) {
	switch cfg.Driver {
	case "", StoreMemory:
		return NewMemoryFingerprintStore(), nil
	case StoreSQLite:
		return OpenSQLiteFingerprintStore(cfg.Path)
	}
	return nil, fmt.Errorf("unknown fingerprint store driver %q", cfg.Driver)
}

// SeedFromBuilding copies the calibration fingerprints embedded in b into an
// empty store. It returns the number of fingerprints written; a store that
// already holds data is left untouched.
func SeedFromBuilding(ctx context.Context, store FingerprintStore, b *Building) (int, error) {
	existing, err := store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading fingerprint store: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	n := 0
	for _, z := range b.Zones() {
		for _, fp := range z.Fingerprints {
			if fp.IsEmpty() {
				continue
			}
			if err := store.Add(ctx, z.ID, fp); err != nil {
				return n, fmt.Errorf("seeding zone %s: %w", z.Name, err)
			}
			n++
		}
	}
	return n, nil
}

// CalibratedBuilding returns b with every zone's fingerprints replaced by the
// store's contents
func CalibratedBuilding(ctx context.Context, store FingerprintStore, b *Building) (*Building, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading fingerprint store: %w", err)
	}
	return b.WithFingerprints(snap), nil
}
