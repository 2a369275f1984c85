package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tipjar/crypto"
)

var (
	ErrNoSigners          = errors.New("transaction: at least one signer required")
	ErrNoInstructions     = errors.New("transaction: at least one instruction required")
	ErrSignatureCount     = errors.New("transaction: signature count does not match signers")
	ErrInvalidSignature   = errors.New("transaction: invalid signature")
	ErrDuplicateSigner    = errors.New("transaction: duplicate signer")
	ErrSignerNotInMessage = errors.New("transaction: key is not a declared signer")
)

// AccountMeta names an account an instruction touches and how.
type AccountMeta struct {
	Address    crypto.Address `json:"address"`
	IsSigner   bool           `json:"isSigner"`
	IsWritable bool           `json:"isWritable"`
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID crypto.Address `json:"programId"`
	Accounts  []AccountMeta  `json:"accounts"`
	Data      []byte         `json:"data"`
}

// Transaction bundles instructions that commit or fail together. Signers[0]
// pays the nonce.
type Transaction struct {
	Nonce        uint64           `json:"nonce"`
	Signers      []crypto.Address `json:"signers"`
	Instructions []Instruction    `json:"instructions"`
	Signatures   [][]byte         `json:"signatures"`
}

type txMessage struct {
	Nonce        uint64
	Signers      []crypto.Address
	Instructions []Instruction
}

// NewTransaction builds an unsigned transaction.
func NewTransaction(nonce uint64, signers []crypto.Address, instructions ...Instruction) *Transaction {
	return &Transaction{
		Nonce:        nonce,
		Signers:      append([]crypto.Address(nil), signers...),
		Instructions: instructions,
		Signatures:   make([][]byte, len(signers)),
	}
}

// Hash returns keccak256 over the RLP encoded message (everything except the
// signatures).
func (tx *Transaction) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := rlp.EncodeToBytes(txMessage{
		Nonce:        tx.Nonce,
		Signers:      tx.Signers,
		Instructions: tx.Instructions,
	})
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

// HashHex is Hash rendered as 0x-prefixed hex.
func (tx *Transaction) HashHex() (string, error) {
	hash, err := tx.Hash()
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(hash[:]), nil
}

// Sign adds the signature for key, which must be one of the declared signers.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("transaction: nil key")
	}
	addr := key.Address()
	idx := -1
	for i, signer := range tx.Signers {
		if signer == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSignerNotInMessage, addr)
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	if len(tx.Signatures) != len(tx.Signers) {
		sigs := make([][]byte, len(tx.Signers))
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	tx.Signatures[idx] = key.Sign(hash[:])
	return nil
}

// Payer returns the first signer.
func (tx *Transaction) Payer() (crypto.Address, error) {
	if len(tx.Signers) == 0 {
		return crypto.Address{}, ErrNoSigners
	}
	return tx.Signers[0], nil
}

// IsSigner reports whether addr signed the transaction. It does not verify
// the signature; call VerifySignatures first.
func (tx *Transaction) IsSigner(addr crypto.Address) bool {
	for _, signer := range tx.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// VerifySignatures checks the transaction shape and every signature.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signers) == 0 {
		return ErrNoSigners
	}
	if len(tx.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(tx.Signatures) != len(tx.Signers) {
		return ErrSignatureCount
	}
	seen := make(map[crypto.Address]struct{}, len(tx.Signers))
	for _, signer := range tx.Signers {
		if _, dup := seen[signer]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSigner, signer)
		}
		seen[signer] = struct{}{}
	}
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	for i, signer := range tx.Signers {
		if !crypto.Verify(signer, hash[:], tx.Signatures[i]) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}

// Event is the wire form of a program event. Attributes carry addresses in
// base58 and amounts in decimal lamports.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Receipt reports the outcome of an executed transaction. Events is empty
// for failed transactions.
type Receipt struct {
	TxHash  string   `json:"txHash"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Logs    []string `json:"logs"`
	Events  []Event  `json:"events,omitempty"`
}
