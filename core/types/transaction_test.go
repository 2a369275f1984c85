package types

import (
	"errors"
	"testing"

	"tipjar/crypto"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sampleInstruction(addr crypto.Address) Instruction {
	return Instruction{
		ProgramID: addr,
		Accounts:  []AccountMeta{{Address: addr, IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}
}

func TestTransactionSignAndVerify(t *testing.T) {
	payer := mustKey(t)
	cosigner := mustKey(t)
	tx := NewTransaction(7, []crypto.Address{payer.Address(), cosigner.Address()}, sampleInstruction(payer.Address()))
	if err := tx.Sign(payer); err != nil {
		t.Fatalf("sign payer: %v", err)
	}
	if err := tx.VerifySignatures(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected missing cosigner signature to fail, got %v", err)
	}
	if err := tx.Sign(cosigner); err != nil {
		t.Fatalf("sign cosigner: %v", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !tx.IsSigner(cosigner.Address()) {
		t.Fatalf("cosigner not reported as signer")
	}
	payerAddr, err := tx.Payer()
	if err != nil || payerAddr != payer.Address() {
		t.Fatalf("unexpected payer %s (%v)", payerAddr, err)
	}
}

func TestTransactionTamperingInvalidatesSignature(t *testing.T) {
	payer := mustKey(t)
	tx := NewTransaction(1, []crypto.Address{payer.Address()}, sampleInstruction(payer.Address()))
	if err := tx.Sign(payer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Instructions[0].Data = []byte{9}
	if err := tx.VerifySignatures(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected tampered tx to fail, got %v", err)
	}
	tx.Instructions[0].Data = []byte{1, 2, 3}
	tx.Nonce = 2
	if err := tx.VerifySignatures(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected nonce change to fail, got %v", err)
	}
}

func TestTransactionShapeErrors(t *testing.T) {
	payer := mustKey(t)
	stranger := mustKey(t)
	tx := NewTransaction(0, []crypto.Address{payer.Address()}, sampleInstruction(payer.Address()))
	if err := tx.Sign(stranger); !errors.Is(err, ErrSignerNotInMessage) {
		t.Fatalf("expected undeclared signer error, got %v", err)
	}
	if err := NewTransaction(0, nil, sampleInstruction(payer.Address())).VerifySignatures(); !errors.Is(err, ErrNoSigners) {
		t.Fatalf("expected no signers error, got %v", err)
	}
	if err := NewTransaction(0, []crypto.Address{payer.Address()}).VerifySignatures(); !errors.Is(err, ErrNoInstructions) {
		t.Fatalf("expected no instructions error, got %v", err)
	}
	dup := NewTransaction(0, []crypto.Address{payer.Address(), payer.Address()}, sampleInstruction(payer.Address()))
	if err := dup.VerifySignatures(); !errors.Is(err, ErrDuplicateSigner) {
		t.Fatalf("expected duplicate signer error, got %v", err)
	}
}

func TestAccountClone(t *testing.T) {
	acc := &Account{Lamports: 5, Data: []byte{1, 2}}
	clone := acc.Clone()
	clone.Data[0] = 9
	clone.Lamports = 1
	if acc.Data[0] != 1 || acc.Lamports != 5 {
		t.Fatalf("clone aliased original")
	}
	if !(&Account{}).IsEmpty() || acc.IsEmpty() {
		t.Fatalf("unexpected IsEmpty results")
	}
}
