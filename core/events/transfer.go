package events

import (
	"strconv"

	"tipjar/core/types"
	"tipjar/crypto"
)

const (
	// TypeTransfer is emitted for lamport movements made by the system program.
	TypeTransfer = "system.transfer"
	// TypeAccountCreated is emitted when the system program allocates an account.
	TypeAccountCreated = "system.account.created"
)

type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

type AccountCreated struct {
	Payer    crypto.Address
	Address  crypto.Address
	Owner    crypto.Address
	Lamports uint64
	Space    uint64
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

func (e AccountCreated) Event() *types.Event {
	return &types.Event{Type: TypeAccountCreated, Attributes: map[string]string{
		"payer":    e.Payer.String(),
		"address":  e.Address.String(),
		"owner":    e.Owner.String(),
		"lamports": strconv.FormatUint(e.Lamports, 10),
		"space":    strconv.FormatUint(e.Space, 10),
	}}
}
