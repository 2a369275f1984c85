package types

import "tipjar/crypto"

// Account is the runtime's unit of storage. Lamports is the backing balance,
// Owner the program allowed to mutate Data and debit Lamports.
type Account struct {
	Lamports uint64         `json:"lamports"`
	Owner    crypto.Address `json:"owner"`
	Data     []byte         `json:"data"`
	Nonce    uint64         `json:"nonce"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Data != nil {
		clone.Data = append([]byte(nil), a.Data...)
	}
	return &clone
}

// IsEmpty reports whether the account is indistinguishable from a
// never-written address.
func (a *Account) IsEmpty() bool {
	if a == nil {
		return true
	}
	return a.Lamports == 0 && len(a.Data) == 0 && a.Owner.IsZero() && a.Nonce == 0
}
