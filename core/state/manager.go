package state

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/storage"
)

var (
	// ErrTxnClosed is returned when a committed or discarded Txn is reused.
	ErrTxnClosed = errors.New("state: transaction already closed")
	// ErrBalanceOverflow is returned when a credit would wrap the lamport counter.
	ErrBalanceOverflow = errors.New("state: balance overflow")
)

// Manager stores runtime accounts in a flat key/value database. Keys are the
// keccak256 of a prefixed address; values are RLP encoded accounts.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+crypto.AddressLength)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func encodeAccount(acc *types.Account) ([]byte, error) {
	return rlp.EncodeToBytes(acc)
}

func decodeAccount(data []byte) (*types.Account, error) {
	acc := new(types.Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccount returns the account stored at addr. Unknown addresses yield an
// empty system-owned account, never nil.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return &types.Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	acc, err := decodeAccount(data)
	if err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	return acc, nil
}

// PutAccount writes the account directly, bypassing any transaction overlay.
// Empty accounts are deleted.
func (m *Manager) PutAccount(addr crypto.Address, acc *types.Account) error {
	if acc.IsEmpty() {
		return m.db.Delete(accountKey(addr))
	}
	encoded, err := encodeAccount(acc)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// GenesisApplied reports whether ApplyGenesis already ran against this database.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.db.Has(genesisMarkerKey)
}

// ApplyGenesis credits the initial allocations exactly once per database. It
// returns false when the allocations were applied previously.
func (m *Manager) ApplyGenesis(allocs map[crypto.Address]uint64) (bool, error) {
	applied, err := m.GenesisApplied()
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	txn := m.Begin()
	addrs := make([]crypto.Address, 0, len(allocs))
	for addr := range allocs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Compare(addrs[j]) < 0 })
	for _, addr := range addrs {
		if err := txn.Credit(addr, allocs[addr]); err != nil {
			txn.Discard()
			return false, fmt.Errorf("genesis allocation %s: %w", addr, err)
		}
	}
	txn.extra = append(txn.extra, rawWrite{key: genesisMarkerKey, value: []byte{1}})
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Begin opens a write overlay. Nothing reaches the database until Commit.
func (m *Manager) Begin() *Txn {
	return &Txn{
		m:        m,
		accounts: make(map[crypto.Address]*types.Account),
		dirty:    make(map[crypto.Address]struct{}),
	}
}

type rawWrite struct {
	key   []byte
	value []byte
}

// Txn is a per-transaction overlay over the Manager. It is not safe for
// concurrent use; the runtime serialises access to the accounts it touches.
type Txn struct {
	m        *Manager
	accounts map[crypto.Address]*types.Account
	dirty    map[crypto.Address]struct{}
	extra    []rawWrite
	closed   bool
}

// GetAccount returns a copy of the account as seen by this overlay.
func (t *Txn) GetAccount(addr crypto.Address) (*types.Account, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	if acc, ok := t.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	acc, err := t.m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	t.accounts[addr] = acc
	return acc.Clone(), nil
}

// PutAccount stages the account in the overlay.
func (t *Txn) PutAccount(addr crypto.Address, acc *types.Account) error {
	if t.closed {
		return ErrTxnClosed
	}
	if acc == nil {
		acc = &types.Account{}
	}
	t.accounts[addr] = acc.Clone()
	t.dirty[addr] = struct{}{}
	return nil
}

// Credit adds lamports to addr.
func (t *Txn) Credit(addr crypto.Address, lamports uint64) error {
	acc, err := t.GetAccount(addr)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acc.Lamports, lamports, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	acc.Lamports = sum
	return t.PutAccount(addr, acc)
}

// Dirty returns the addresses written through this overlay in byte order.
func (t *Txn) Dirty() []crypto.Address {
	out := make([]crypto.Address, 0, len(t.dirty))
	for addr := range t.dirty {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Commit writes every dirty account in one atomic batch and closes the overlay.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	batch := t.m.db.NewBatch()
	for _, addr := range t.Dirty() {
		acc := t.accounts[addr]
		if acc.IsEmpty() {
			batch.Delete(accountKey(addr))
			continue
		}
		encoded, err := encodeAccount(acc)
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", addr, err)
		}
		batch.Put(accountKey(addr), encoded)
	}
	for _, w := range t.extra {
		batch.Put(w.key, w.value)
	}
	t.closed = true
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Discard drops every staged write.
func (t *Txn) Discard() {
	t.closed = true
	t.accounts = nil
	t.dirty = nil
	t.extra = nil
}
