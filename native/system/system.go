package system

import (
	"errors"
	"fmt"
	"math/bits"

	"tipjar/core/events"
	"tipjar/core/types"
	"tipjar/crypto"
)

// MaxPermittedDataLength bounds the data a single account may hold.
const MaxPermittedDataLength = 10 * 1024 * 1024

var (
	// ProgramID is the system program, owner of every plain wallet account.
	ProgramID = crypto.ZeroAddress

	ErrAccountInUse      = errors.New("system: account already in use")
	ErrInsufficientFunds = errors.New("system: insufficient lamports")
	ErrOverflow          = errors.New("system: lamport overflow")
	ErrNotSystemOwned    = errors.New("system: account not owned by the system program")
	ErrInvalidDataLength = errors.New("system: invalid account data length")
	ErrSelfTransfer      = errors.New("system: source and destination are the same account")
	errNilState          = errors.New("system: state not configured")
)

// State is the account store the primitives operate on.
type State interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

func emit(emitter events.Emitter, evt events.Event) {
	if emitter == nil {
		return
	}
	emitter.Emit(evt)
}

// Transfer moves lamports between two system-owned accounts. The caller is
// responsible for checking that from authorised the move.
func Transfer(state State, emitter events.Emitter, from, to crypto.Address, amount uint64) error {
	if state == nil {
		return errNilState
	}
	if from == to {
		return ErrSelfTransfer
	}
	src, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if src.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrNotSystemOwned, from)
	}
	if src.Lamports < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src.Lamports, amount)
	}
	dst, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(dst.Lamports, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, to)
	}
	src.Lamports -= amount
	dst.Lamports = sum
	if err := state.PutAccount(from, src); err != nil {
		return err
	}
	if err := state.PutAccount(to, dst); err != nil {
		return err
	}
	emit(emitter, events.Transfer{From: from, To: to, Amount: amount})
	return nil
}

// CreateAccount funds addr from payer, allocates space bytes of zeroed data
// and assigns the account to owner. It fails with ErrAccountInUse when addr
// already holds lamports, data or belongs to a program.
func CreateAccount(state State, emitter events.Emitter, payer, addr crypto.Address, lamports, space uint64, owner crypto.Address) error {
	if state == nil {
		return errNilState
	}
	if space > MaxPermittedDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidDataLength, space)
	}
	existing, err := state.GetAccount(addr)
	if err != nil {
		return err
	}
	if existing.Lamports > 0 || len(existing.Data) > 0 || existing.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	if lamports > 0 {
		if err := Transfer(state, nil, payer, addr, lamports); err != nil {
			return err
		}
	}
	if err := allocateAndAssign(state, addr, space, owner); err != nil {
		return err
	}
	emit(emitter, events.AccountCreated{Payer: payer, Address: addr, Owner: owner, Lamports: lamports, Space: space})
	return nil
}

// InitAccount is CreateAccount for addresses anyone can fund, such as
// program-derived ones. A system-owned account without data that already
// holds lamports is topped up to minLamports by payer, then allocated and
// assigned. Accounts with data or a program owner fail with ErrAccountInUse.
func InitAccount(state State, emitter events.Emitter, payer, addr crypto.Address, minLamports, space uint64, owner crypto.Address) error {
	if state == nil {
		return errNilState
	}
	if space > MaxPermittedDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidDataLength, space)
	}
	existing, err := state.GetAccount(addr)
	if err != nil {
		return err
	}
	if len(existing.Data) > 0 || existing.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	if existing.Lamports == 0 {
		return CreateAccount(state, emitter, payer, addr, minLamports, space, owner)
	}
	var topUp uint64
	if existing.Lamports < minLamports {
		topUp = minLamports - existing.Lamports
		if err := Transfer(state, nil, payer, addr, topUp); err != nil {
			return err
		}
	}
	if err := allocateAndAssign(state, addr, space, owner); err != nil {
		return err
	}
	emit(emitter, events.AccountCreated{Payer: payer, Address: addr, Owner: owner, Lamports: topUp, Space: space})
	return nil
}

func allocateAndAssign(state State, addr crypto.Address, space uint64, owner crypto.Address) error {
	acc, err := state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Data = make([]byte, space)
	acc.Owner = owner
	return state.PutAccount(addr, acc)
}
