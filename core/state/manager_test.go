package state

import (
	"errors"
	"math"
	"testing"

	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/storage"
)

func newAddr(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.Address()
}

func TestManagerUnknownAccountIsEmpty(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	acc, err := m.GetAccount(newAddr(t))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc == nil || !acc.IsEmpty() {
		t.Fatalf("expected empty account, got %#v", acc)
	}
}

func TestManagerAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := newAddr(t)
	owner := newAddr(t)
	want := &types.Account{Lamports: 42, Owner: owner, Data: []byte{1, 2, 3}, Nonce: 9}
	if err := m.PutAccount(addr, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Lamports != 42 || got.Owner != owner || string(got.Data) != "\x01\x02\x03" || got.Nonce != 9 {
		t.Fatalf("unexpected account %#v", got)
	}
}

func TestTxnCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	a := newAddr(t)
	b := newAddr(t)

	txn := m.Begin()
	if err := txn.Credit(a, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := txn.Credit(b, 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	acc, _ := m.GetAccount(a)
	if acc.Lamports != 0 {
		t.Fatalf("overlay leaked before commit")
	}
	if len(txn.Dirty()) != 2 {
		t.Fatalf("expected two dirty accounts")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	acc, _ = m.GetAccount(a)
	if acc.Lamports != 100 {
		t.Fatalf("expected committed balance, got %d", acc.Lamports)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTxnClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}

	rolled := m.Begin()
	if err := rolled.Credit(a, 1); err != nil {
		t.Fatalf("credit: %v", err)
	}
	rolled.Discard()
	acc, _ = m.GetAccount(a)
	if acc.Lamports != 100 {
		t.Fatalf("discarded write persisted: %d", acc.Lamports)
	}
}

func TestTxnCreditOverflow(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := newAddr(t)
	txn := m.Begin()
	if err := txn.Credit(addr, math.MaxUint64); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := txn.Credit(addr, 1); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestTxnDeletesEmptiedAccounts(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	addr := newAddr(t)
	if err := m.PutAccount(addr, &types.Account{Lamports: 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	txn := m.Begin()
	if err := txn.PutAccount(addr, &types.Account{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected emptied account to be deleted, %d keys remain", db.Len())
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := newAddr(t)
	applied, err := m.ApplyGenesis(map[crypto.Address]uint64{addr: 1_000})
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	applied, err = m.ApplyGenesis(map[crypto.Address]uint64{addr: 1_000})
	if err != nil || applied {
		t.Fatalf("second apply: applied=%v err=%v", applied, err)
	}
	acc, _ := m.GetAccount(addr)
	if acc.Lamports != 1_000 {
		t.Fatalf("expected single allocation, got %d", acc.Lamports)
	}
}
