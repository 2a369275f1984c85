package tipjar

import (
	"errors"
	"math"
	"testing"

	"tipjar/core/events"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/system"
)

type mockState struct {
	accounts map[crypto.Address]*types.Account
}

func newMockState() *mockState {
	return &mockState{accounts: make(map[crypto.Address]*types.Account)}
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return &types.Account{}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) fund(addr crypto.Address, lamports uint64) {
	m.accounts[addr] = &types.Account{Lamports: lamports}
}

func (m *mockState) balance(addr crypto.Address) uint64 {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Lamports
	}
	return 0
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) eventTypes() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func testAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.Address()
}

func newTestEngine(state *mockState, rent RentPolicy) *Engine {
	engine := NewEngine(DefaultProgramID, rent)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

func TestInitializeCreatesRecord(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	state.fund(owner, 10_000_000)
	emitter := &recordingEmitter{}
	engine := newTestEngine(state, system.DefaultRent())
	engine.SetEmitter(emitter)

	record, addr, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if record.Owner != owner || record.TotalTips != 0 || record.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected record: %+v", record)
	}
	expected, _, err := DeriveAddress(owner, DefaultProgramID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if addr != expected {
		t.Fatalf("jar address mismatch: got %s want %s", addr, expected)
	}
	jar := state.accounts[addr]
	if jar.Owner != DefaultProgramID {
		t.Fatalf("jar owner = %s", jar.Owner)
	}
	if len(jar.Data) != RecordSize {
		t.Fatalf("jar data size = %d", len(jar.Data))
	}
	rentMin := system.DefaultRent().MinimumBalance(RecordSize)
	if jar.Lamports != rentMin {
		t.Fatalf("jar lamports = %d, want %d", jar.Lamports, rentMin)
	}
	if got := state.balance(owner); got != 10_000_000-rentMin {
		t.Fatalf("owner balance = %d", got)
	}
	decoded, err := DecodeRecord(jar.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *record {
		t.Fatalf("stored record %+v != returned %+v", decoded, record)
	}
	found := false
	for _, typ := range emitter.eventTypes() {
		if typ == EventTypeInitialized {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing initialized event in %v", emitter.eventTypes())
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	state.fund(owner, 10_000_000)
	engine := newTestEngine(state, system.DefaultRent())

	if _, _, err := engine.Initialize(owner); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	_, _, err := engine.Initialize(owner)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if !errors.Is(err, system.ErrAccountInUse) {
		t.Fatalf("expected wrapped ErrAccountInUse, got %v", err)
	}
}

func TestInitializeAcceptsPrefundedJar(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	state.fund(owner, 10_000_000)
	engine := newTestEngine(state, system.DefaultRent())
	jar, _, err := engine.Address(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	state.fund(jar, 1)

	record, addr, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize prefunded jar: %v", err)
	}
	if addr != jar || record.Owner != owner || record.TotalTips != 0 {
		t.Fatalf("unexpected record %+v at %s", record, addr)
	}
	rentMin := system.DefaultRent().MinimumBalance(RecordSize)
	if got := state.balance(jar); got != rentMin {
		t.Fatalf("jar lamports = %d, want %d", got, rentMin)
	}
	if got := state.balance(owner); got != 10_000_000-rentMin+1 {
		t.Fatalf("owner paid %d, want %d", 10_000_000-got, rentMin-1)
	}
}

func TestInitializeRequiresRentFunds(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	state.fund(owner, 10)
	engine := newTestEngine(state, system.DefaultRent())

	_, _, err := engine.Initialize(owner)
	if !errors.Is(err, system.ErrInsufficientFunds) {
		t.Fatalf("expected system.ErrInsufficientFunds, got %v", err)
	}
}

func TestSendTipAccumulates(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	alice := testAddress(t)
	bob := testAddress(t)
	state.fund(owner, 1)
	state.fund(alice, 5_000)
	state.fund(bob, 5_000)
	engine := newTestEngine(state, zeroRent{})

	_, jar, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tips := []struct {
		from   crypto.Address
		amount uint64
	}{
		{alice, 1000},
		{bob, 250},
		{alice, 75},
		{bob, 0},
	}
	var sum uint64
	for _, tip := range tips {
		before := state.balance(tip.from)
		jarBefore := state.balance(jar)
		record, err := engine.SendTip(tip.from, jar, tip.amount)
		if err != nil {
			t.Fatalf("send tip %d: %v", tip.amount, err)
		}
		sum += tip.amount
		if record.TotalTips != sum {
			t.Fatalf("total tips = %d, want %d", record.TotalTips, sum)
		}
		if got := state.balance(tip.from); got != before-tip.amount {
			t.Fatalf("tipper balance = %d, want %d", got, before-tip.amount)
		}
		if got := state.balance(jar); got != jarBefore+tip.amount {
			t.Fatalf("jar balance = %d, want %d", got, jarBefore+tip.amount)
		}
	}
	view, err := engine.Jar(owner)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	if view.Record.TotalTips != sum || view.Balance != sum {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestSendTipInsufficientTipperFunds(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	tipper := testAddress(t)
	state.fund(owner, 1)
	state.fund(tipper, 10)
	engine := newTestEngine(state, zeroRent{})

	_, jar, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.SendTip(tipper, jar, 11); !errors.Is(err, system.ErrInsufficientFunds) {
		t.Fatalf("expected system.ErrInsufficientFunds, got %v", err)
	}
	view, err := engine.Jar(owner)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	if view.Record.TotalTips != 0 {
		t.Fatalf("total tips changed: %d", view.Record.TotalTips)
	}
}

func TestSendTipOverflow(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	tipper := testAddress(t)
	state.fund(owner, 1)
	state.fund(tipper, 100)
	engine := newTestEngine(state, zeroRent{})

	_, jar, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	acc := state.accounts[jar]
	rec, err := DecodeRecord(acc.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec.TotalTips = math.MaxUint64 - 5
	rec.encodeInto(acc.Data)

	if _, err := engine.SendTip(tipper, jar, 10); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if got := state.balance(tipper); got != 100 {
		t.Fatalf("tipper debited on overflow: %d", got)
	}
}

func TestSendTipRejectsForeignAccount(t *testing.T) {
	state := newMockState()
	tipper := testAddress(t)
	wallet := testAddress(t)
	foreign := testAddress(t)
	state.fund(tipper, 100)
	state.fund(wallet, 100)
	state.accounts[foreign] = &types.Account{Lamports: 5, Owner: testAddress(t), Data: make([]byte, RecordSize)}
	engine := newTestEngine(state, zeroRent{})

	if _, err := engine.SendTip(tipper, wallet, 10); !errors.Is(err, ErrJarNotFound) {
		t.Fatalf("expected ErrJarNotFound, got %v", err)
	}
	if _, err := engine.SendTip(tipper, foreign, 10); !errors.Is(err, ErrInvalidAccountOwner) {
		t.Fatalf("expected ErrInvalidAccountOwner, got %v", err)
	}
	if got := state.balance(tipper); got != 100 {
		t.Fatalf("tipper balance changed: %d", got)
	}
}

func TestSendTipRejectsJarAtWrongAddress(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	tipper := testAddress(t)
	state.fund(tipper, 100)
	engine := newTestEngine(state, zeroRent{})

	forged := testAddress(t)
	data, _ := (&Record{Owner: owner}).MarshalBinary()
	state.accounts[forged] = &types.Account{Owner: DefaultProgramID, Data: data}

	if _, err := engine.SendTip(tipper, forged, 10); !errors.Is(err, ErrInvalidJarAddress) {
		t.Fatalf("expected ErrInvalidJarAddress, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	tipper := testAddress(t)
	state.fund(owner, 1)
	state.fund(tipper, 5_000)
	emitter := &recordingEmitter{}
	engine := newTestEngine(state, zeroRent{})
	engine.SetEmitter(emitter)

	_, jar, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.SendTip(tipper, jar, 1000); err != nil {
		t.Fatalf("send tip: %v", err)
	}
	ownerBefore := state.balance(owner)
	record, err := engine.Withdraw(owner, jar, 400)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if record.TotalTips != 1000 {
		t.Fatalf("total tips changed by withdrawal: %d", record.TotalTips)
	}
	if got := state.balance(jar); got != 600 {
		t.Fatalf("jar balance = %d, want 600", got)
	}
	if got := state.balance(owner); got != ownerBefore+400 {
		t.Fatalf("owner balance = %d, want %d", got, ownerBefore+400)
	}
	last := emitter.events[len(emitter.events)-1]
	withdrawn, ok := last.(Withdrawn)
	if !ok || withdrawn.Amount != 400 || withdrawn.Balance != 600 {
		t.Fatalf("unexpected last event: %#v", last)
	}

	if _, err := engine.Withdraw(owner, jar, 601); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := state.balance(jar); got != 600 {
		t.Fatalf("jar balance changed on failed withdrawal: %d", got)
	}
	if _, err := engine.Withdraw(owner, jar, 600); err != nil {
		t.Fatalf("withdraw full balance: %v", err)
	}
}

func TestWithdrawRequiresOwner(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	thief := testAddress(t)
	state.fund(owner, 1)
	state.fund(thief, 1)
	engine := newTestEngine(state, zeroRent{})

	_, jar, err := engine.Initialize(owner)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.accounts[jar].Lamports += 500
	if _, err := engine.Withdraw(thief, jar, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := state.balance(thief); got != 1 {
		t.Fatalf("thief balance changed: %d", got)
	}
}

func TestJarWithdrawableExcludesRent(t *testing.T) {
	state := newMockState()
	owner := testAddress(t)
	tipper := testAddress(t)
	state.fund(owner, 10_000_000)
	state.fund(tipper, 10_000)
	rent := system.DefaultRent()
	engine := newTestEngine(state, rent)

	if _, _, err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	jar, _, _ := engine.Address(owner)
	if _, err := engine.SendTip(tipper, jar, 700); err != nil {
		t.Fatalf("send tip: %v", err)
	}
	view, err := engine.Jar(owner)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	if view.Balance != rent.MinimumBalance(RecordSize)+700 {
		t.Fatalf("balance = %d", view.Balance)
	}
	if view.Withdrawable != 700 {
		t.Fatalf("withdrawable = %d, want 700", view.Withdrawable)
	}
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine(DefaultProgramID, nil)
	if _, _, err := engine.Initialize(crypto.ZeroAddress); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
}

type zeroRent struct{}

func (zeroRent) MinimumBalance(int) uint64 { return 0 }
