package tipjar

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"tipjar/core/events"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/system"
)

var (
	ErrAlreadyExists       = errors.New("tipjar: jar already exists")
	ErrJarNotFound         = errors.New("tipjar: jar not found")
	ErrInsufficientFunds   = errors.New("tipjar: insufficient funds in tip jar")
	ErrOverflow            = errors.New("tipjar: arithmetic overflow")
	ErrUnauthorized        = errors.New("tipjar: signer does not own the jar")
	ErrInvalidJarAddress   = errors.New("tipjar: account is not the derived jar address")
	ErrInvalidAccountOwner = errors.New("tipjar: account not owned by the tip jar program")
	errNilState            = errors.New("tipjar: state not configured")
)

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// RentPolicy reports the balance a jar must keep to stay rent exempt.
type RentPolicy interface {
	MinimumBalance(dataLen int) uint64
}

// Engine implements the tip jar ledger on top of the account state.
type Engine struct {
	programID crypto.Address
	rent      RentPolicy
	state     engineState
	emitter   events.Emitter
	nowFn     func() int64
}

// NewEngine constructs an engine for jars owned by programID.
func NewEngine(programID crypto.Address, rent RentPolicy) *Engine {
	if rent == nil {
		rent = system.DefaultRent()
	}
	return &Engine{
		programID: programID,
		rent:      rent,
		emitter:   events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// ProgramID returns the program the engine's jars belong to.
func (e *Engine) ProgramID() crypto.Address { return e.programID }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Address returns the jar address and bump for owner.
func (e *Engine) Address(owner crypto.Address) (crypto.Address, uint8, error) {
	return DeriveAddress(owner, e.programID)
}

// Initialize creates the jar of owner, funded by owner up to the rent-exempt
// minimum. Lamports already sent to the jar address count towards it.
func (e *Engine) Initialize(owner crypto.Address) (*Record, crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, crypto.ZeroAddress, errNilState
	}
	addr, _, err := e.Address(owner)
	if err != nil {
		return nil, crypto.ZeroAddress, err
	}
	lamports := e.rent.MinimumBalance(RecordSize)
	if err := system.InitAccount(e.state, e.emitter, owner, addr, lamports, RecordSize, e.programID); err != nil {
		if errors.Is(err, system.ErrAccountInUse) {
			return nil, addr, fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return nil, addr, err
	}
	record := &Record{Owner: owner, CreatedAt: e.now()}
	if err := e.storeRecord(addr, record); err != nil {
		return nil, addr, err
	}
	e.emit(Initialized{Owner: owner, Jar: addr, CreatedAt: record.CreatedAt})
	return record, addr, nil
}

// SendTip moves amount from tipper into jar and adds it to the jar's
// lifetime total. The jar must sit at the address derived from its recorded
// owner.
func (e *Engine) SendTip(tipper, jar crypto.Address, amount uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, record, err := e.loadJar(jar)
	if err != nil {
		return nil, err
	}
	expected, _, err := e.Address(record.Owner)
	if err != nil {
		return nil, err
	}
	if expected != jar {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJarAddress, jar)
	}
	total, carry := bits.Add64(record.TotalTips, amount, 0)
	if carry != 0 {
		return nil, fmt.Errorf("%w: total tips", ErrOverflow)
	}
	if err := system.Transfer(e.state, e.emitter, tipper, jar, amount); err != nil {
		return nil, err
	}
	record.TotalTips = total
	if err := e.storeRecord(jar, record); err != nil {
		return nil, err
	}
	e.emit(Tipped{Tipper: tipper, Owner: record.Owner, Jar: jar, Amount: amount, TotalTips: total})
	return record, nil
}

// Withdraw moves amount from the jar back to its owner. TotalTips is left
// untouched.
func (e *Engine) Withdraw(owner, jar crypto.Address, amount uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	expected, _, err := e.Address(owner)
	if err != nil {
		return nil, err
	}
	if expected != jar {
		return nil, fmt.Errorf("%w: %s is not the jar of %s", ErrUnauthorized, jar, owner)
	}
	account, record, err := e.loadJar(jar)
	if err != nil {
		return nil, err
	}
	if record.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, owner)
	}
	if account.Lamports < amount {
		return nil, fmt.Errorf("%w: jar holds %d, requested %d", ErrInsufficientFunds, account.Lamports, amount)
	}
	ownerAccount, err := e.state.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	credited, carry := bits.Add64(ownerAccount.Lamports, amount, 0)
	if carry != 0 {
		return nil, fmt.Errorf("%w: crediting %s", ErrOverflow, owner)
	}
	account.Lamports -= amount
	ownerAccount.Lamports = credited
	if err := e.state.PutAccount(jar, account); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(owner, ownerAccount); err != nil {
		return nil, err
	}
	e.emit(Withdrawn{Owner: owner, Jar: jar, Amount: amount, Balance: account.Lamports})
	return record, nil
}

// Jar returns the jar of owner with its balances.
func (e *Engine) Jar(owner crypto.Address) (*Jar, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addr, bump, err := e.Address(owner)
	if err != nil {
		return nil, err
	}
	account, record, err := e.loadJar(addr)
	if err != nil {
		return nil, err
	}
	view := &Jar{
		Address: addr,
		Bump:    bump,
		Record:  *record,
		Balance: account.Lamports,
	}
	if min := e.rent.MinimumBalance(len(account.Data)); account.Lamports > min {
		view.Withdrawable = account.Lamports - min
	}
	return view, nil
}

func (e *Engine) loadJar(addr crypto.Address) (*types.Account, *Record, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	if account == nil || (account.Owner.IsZero() && len(account.Data) == 0) {
		return nil, nil, fmt.Errorf("%w: %s", ErrJarNotFound, addr)
	}
	if account.Owner != e.programID {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAccountOwner, addr)
	}
	record, err := DecodeRecord(account.Data)
	if err != nil {
		return nil, nil, err
	}
	return account, record, nil
}

func (e *Engine) storeRecord(addr crypto.Address, record *Record) error {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	if len(account.Data) < RecordSize {
		return fmt.Errorf("%w: %d bytes", errRecordLayout, len(account.Data))
	}
	record.encodeInto(account.Data)
	return e.state.PutAccount(addr, account)
}
