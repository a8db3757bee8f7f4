package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/memeperp/engine/internal/types"
)

// PebbleStore is a Pebble-backed implementation of Store, used as the
// snapshot accelerator described in SPEC_FULL.md's supplemented features
// (the journal is the source of truth; this store lets the engine skip
// replaying the whole journal on restart). Grounded on the teacher's
// pkg/app/core/account/store.go.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) a Pebble database at dbPath, tuned
// the way the teacher's NewStore tunes it.
func OpenPebbleStore(dbPath string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20),
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// SaveAccount persists acc, keyed by address.
func (s *PebbleStore) SaveAccount(acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(acc.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount loads the account for addr, or (nil, nil) if absent.
func (s *PebbleStore) LoadAccount(addr types.Address) (*Account, error) {
	data, closer, err := s.db.Get(accountKey(addr))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &acc, nil
}

// MemStore is an in-memory Store for tests and for deployments that rely
// solely on the journal for durability.
type MemStore struct {
	accounts map[types.Address]*Account
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[types.Address]*Account)}
}

func (s *MemStore) SaveAccount(acc *Account) error {
	cp := *acc
	s.accounts[acc.Address] = &cp
	return nil
}

func (s *MemStore) LoadAccount(addr types.Address) (*Account, error) {
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}
