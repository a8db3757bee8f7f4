package pair

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const prefixPair = "pair:"

func pairKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixPair, id))
}

// PebbleStore persists pairs as the snapshot accelerator described in
// SPEC_FULL.md, grounded on internal/ledger's PebbleStore (itself grounded
// on the teacher's pkg/app/core/account/store.go).
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) a Pebble database at dbPath for pair
// snapshots.
func OpenPebbleStore(dbPath string) (*PebbleStore, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// SavePair persists p, keyed by its id.
func (s *PebbleStore) SavePair(p *Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pair: %w", err)
	}
	if err := s.db.Set(pairKey(p.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save pair: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and journal-only deployments.
type MemStore struct {
	pairs map[string][]byte
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{pairs: make(map[string][]byte)}
}

func (s *MemStore) SavePair(p *Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.pairs[p.ID] = data
	return nil
}
