package faucet

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"tipjar/crypto"
	"tipjar/storage"
)

const quotaPrefix = "faucet"

type counterRecord struct {
	Requests uint32
	Lamports uint64
}

// Store persists per-window airdrop counters so limits survive restarts.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) withDB() (storage.Database, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("faucet: quota store not initialised")
	}
	return s.db, nil
}

func counterKey(window uint64, addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s/%d/%x", quotaPrefix, window, addr[:]))
}

func windowIndexKey(window uint64) []byte {
	return []byte(fmt.Sprintf("%s/%d/index", quotaPrefix, window))
}

// Load returns the counters of addr in window. The bool reports whether
// anything was stored.
func (s *Store) Load(window uint64, addr crypto.Address) (Usage, bool, error) {
	db, err := s.withDB()
	if err != nil {
		return Usage{}, false, err
	}
	raw, err := db.Get(counterKey(window, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return Usage{Window: window}, false, nil
	}
	if err != nil {
		return Usage{}, false, fmt.Errorf("faucet: load counters: %w", err)
	}
	var stored counterRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return Usage{}, false, fmt.Errorf("faucet: decode counters: %w", err)
	}
	return Usage{Window: window, Requests: stored.Requests, Lamports: stored.Lamports}, true, nil
}

// Save writes the counters of addr and records addr in the window index.
func (s *Store) Save(addr crypto.Address, usage Usage) error {
	db, err := s.withDB()
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(counterRecord{Requests: usage.Requests, Lamports: usage.Lamports})
	if err != nil {
		return err
	}
	index, err := s.loadIndex(db, usage.Window)
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	batch.Put(counterKey(usage.Window, addr), encoded)
	if !containsAddress(index, addr) {
		index = append(index, addr)
		encodedIndex, err := rlp.EncodeToBytes(index)
		if err != nil {
			return err
		}
		batch.Put(windowIndexKey(usage.Window), encodedIndex)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("faucet: persist counters: %w", err)
	}
	return nil
}

// PruneWindow deletes every counter recorded for window.
func (s *Store) PruneWindow(window uint64) error {
	db, err := s.withDB()
	if err != nil {
		return err
	}
	index, err := s.loadIndex(db, window)
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	for _, addr := range index {
		batch.Delete(counterKey(window, addr))
	}
	batch.Delete(windowIndexKey(window))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("faucet: prune window %d: %w", window, err)
	}
	return nil
}

func (s *Store) loadIndex(db storage.Database, window uint64) ([]crypto.Address, error) {
	raw, err := db.Get(windowIndexKey(window))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("faucet: load window index: %w", err)
	}
	var addrs []crypto.Address
	if err := rlp.DecodeBytes(raw, &addrs); err != nil {
		return nil, fmt.Errorf("faucet: decode window index: %w", err)
	}
	return addrs, nil
}

func containsAddress(list []crypto.Address, addr crypto.Address) bool {
	for _, candidate := range list {
		if candidate == addr {
			return true
		}
	}
	return false
}
