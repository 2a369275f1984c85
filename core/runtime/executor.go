package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tipjar/core/events"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/observability"
)

var (
	ErrUnknownProgram           = errors.New("runtime: unknown program")
	ErrDuplicateProgram         = errors.New("runtime: program already registered")
	ErrMissingSignature         = errors.New("runtime: account marked as signer did not sign")
	ErrBadNonce                 = errors.New("runtime: nonce mismatch")
	ErrAccountNotInInstruction  = errors.New("runtime: account not referenced by instruction")
	ErrReadonlyWrite            = errors.New("runtime: write to readonly account")
	ErrInsufficientFundsForRent = errors.New("runtime: account balance below rent-exempt minimum")
	ErrExternalLamportSpend     = errors.New("runtime: program debited an account it does not own")
	ErrExternalDataModified     = errors.New("runtime: program modified an account it does not own")
	ErrLamportsNotBalanced      = errors.New("runtime: instruction changed total lamports")
)

const (
	outcomeSuccess  = "success"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

// RentPolicy supplies the minimum balance for an account holding dataLen bytes.
type RentPolicy interface {
	MinimumBalance(dataLen int) uint64
}

type noRent struct{}

func (noRent) MinimumBalance(int) uint64 { return 0 }

// Config carries the executor's tunables.
type Config struct {
	Rent        RentPolicy
	Parallelism int
	LockTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	// Emitter receives the events of committed transactions.
	Emitter events.Emitter
}

// Result is the outcome of an executed transaction. Err is the reason a
// transaction failed after passing admission; it is nil on success.
type Result struct {
	Receipt *types.Receipt
	Err     error
}

// BatchItem pairs a Result with the admission error of a rejected transaction.
type BatchItem struct {
	Result *Result
	Err    error
}

// Executor runs transactions against the account state. Transactions touching
// disjoint accounts execute in parallel; overlapping ones are serialised by
// AccountLocks.
type Executor struct {
	state    *state.Manager
	programs map[crypto.Address]Program
	locks    *AccountLocks
	rent     RentPolicy
	cfg      Config
	logger   *slog.Logger
	emitter  events.Emitter
	metrics  *observability.RuntimeMetrics
	tracer   trace.Tracer
}

// NewExecutor builds an executor with the given programs registered.
func NewExecutor(manager *state.Manager, cfg Config, programs ...Program) (*Executor, error) {
	if manager == nil {
		return nil, errors.New("runtime: state manager required")
	}
	if cfg.Rent == nil {
		cfg.Rent = noRent{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e := &Executor{
		state:    manager,
		programs: make(map[crypto.Address]Program),
		locks:    NewAccountLocks(),
		rent:     cfg.Rent,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "runtime")),
		emitter:  emitter,
		metrics:  observability.Runtime(),
		tracer:   otel.Tracer("tipjar/core/runtime"),
	}
	for _, p := range programs {
		if err := e.Register(p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a program. Registering two programs with the same id fails.
func (e *Executor) Register(p Program) error {
	if p == nil {
		return errors.New("runtime: nil program")
	}
	if _, exists := e.programs[p.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, p.ID())
	}
	e.programs[p.ID()] = p
	return nil
}

// Rent exposes the configured rent policy.
func (e *Executor) Rent() RentPolicy { return e.rent }

// Now returns the executor clock.
func (e *Executor) Now() time.Time { return e.cfg.Now() }

// Account reads committed account state.
func (e *Executor) Account(addr crypto.Address) (*types.Account, error) {
	return e.state.GetAccount(addr)
}

// Execute verifies, runs and commits tx. A non-nil error means the
// transaction was rejected before execution and left no trace in state. A
// Result with a non-nil Err means it executed, failed and only its nonce bump
// was kept.
func (e *Executor) Execute(ctx context.Context, tx *types.Transaction) (*Result, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "runtime.Execute")
	defer span.End()

	result, err := e.execute(ctx, tx)
	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeRejected
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Err != nil:
		outcome = outcomeFailed
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	span.SetAttributes(attribute.String("tx.outcome", outcome))
	e.metrics.ObserveTransaction(outcome, time.Since(started))
	return result, err
}

func (e *Executor) execute(ctx context.Context, tx *types.Transaction) (*Result, error) {
	if tx == nil {
		return nil, errors.New("runtime: nil transaction")
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}
	hash, err := tx.HashHex()
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tx.hash", hash))
	payer := tx.Signers[0]

	writable := []crypto.Address{payer}
	var readonly []crypto.Address
	for i, ix := range tx.Instructions {
		if _, ok := e.programs[ix.ProgramID]; !ok {
			return nil, fmt.Errorf("%w: instruction %d targets %s", ErrUnknownProgram, i, ix.ProgramID)
		}
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !tx.IsSigner(meta.Address) {
				return nil, fmt.Errorf("%w: %s", ErrMissingSignature, meta.Address)
			}
			if meta.IsWritable {
				writable = append(writable, meta.Address)
			} else {
				readonly = append(readonly, meta.Address)
			}
		}
	}

	lockCtx := ctx
	if e.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, e.cfg.LockTimeout)
		defer cancel()
	}
	waitStart := time.Now()
	release, err := e.locks.Acquire(lockCtx, writable, readonly)
	if err != nil {
		return nil, fmt.Errorf("runtime: acquire account locks: %w", err)
	}
	defer release()
	e.metrics.ObserveLockWait(time.Since(waitStart))

	txn := e.state.Begin()
	payerAcc, err := txn.GetAccount(payer)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	if payerAcc.Nonce != tx.Nonce {
		txn.Discard()
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrBadNonce, payerAcc.Nonce, tx.Nonce)
	}
	payerAcc.Nonce++
	if err := txn.PutAccount(payer, payerAcc); err != nil {
		txn.Discard()
		return nil, err
	}

	logger := e.logger.With(slog.String("tx", hash))
	logs := make([]string, 0, 4*len(tx.Instructions))
	collector := &events.Collector{}
	now := e.cfg.Now()

	var execErr error
	for i, ix := range tx.Instructions {
		if execErr = e.invoke(ctx, tx, ix, txn, now, &logs, collector, logger); execErr != nil {
			execErr = fmt.Errorf("instruction %d: %w", i, execErr)
			break
		}
	}
	if execErr == nil {
		execErr = e.checkRent(txn)
	}

	receipt := &types.Receipt{TxHash: hash, Logs: logs}
	if execErr != nil {
		txn.Discard()
		if err := e.bumpNonce(payer); err != nil {
			return nil, err
		}
		receipt.Error = execErr.Error()
		logger.Debug("transaction failed", slog.String("error", execErr.Error()))
		return &Result{Receipt: receipt, Err: execErr}, nil
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("runtime: commit: %w", err)
	}
	receipt.Success = true
	for _, evt := range collector.Events() {
		if payload, ok := evt.(events.Payload); ok {
			if rendered := payload.Event(); rendered != nil {
				receipt.Events = append(receipt.Events, *rendered)
			}
		}
		e.emitter.Emit(evt)
	}
	logger.Debug("transaction committed", slog.Int("events", len(receipt.Events)))
	return &Result{Receipt: receipt}, nil
}

func (e *Executor) invoke(ctx context.Context, tx *types.Transaction, ix types.Instruction, txn *state.Txn, now time.Time, logs *[]string, emitter events.Emitter, logger *slog.Logger) error {
	program := e.programs[ix.ProgramID]
	metas := make(map[crypto.Address]types.AccountMeta, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		if existing, ok := metas[meta.Address]; ok {
			meta.IsSigner = meta.IsSigner || existing.IsSigner
			meta.IsWritable = meta.IsWritable || existing.IsWritable
		}
		metas[meta.Address] = meta
	}
	pre := make(map[crypto.Address]*types.Account, len(metas))
	for addr := range metas {
		acc, err := txn.GetAccount(addr)
		if err != nil {
			return err
		}
		pre[addr] = acc
	}

	name := program.Name()
	if namer, ok := program.(InstructionNamer); ok {
		name = namer.InstructionName(ix.Data)
	}
	*logs = append(*logs, fmt.Sprintf("Program %s invoke", ix.ProgramID))
	ictx := &InvokeContext{
		ctx:       ctx,
		tx:        tx,
		programID: ix.ProgramID,
		metas:     metas,
		txn:       txn,
		now:       now,
		logs:      logs,
		emitter:   emitter,
		logger:    logger.With(slog.String("instruction", name)),
	}
	err := program.Process(ictx, ix)
	if err == nil {
		err = verifyAccountChanges(ix.ProgramID, metas, pre, txn)
	}
	e.metrics.ObserveInstruction(program.Name(), name, err)
	if err != nil {
		*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	*logs = append(*logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}

// verifyAccountChanges enforces the ownership rules that make program-owned
// accounts trustworthy: only the owner may debit or rewrite an account, a
// system-owned signer may be debited, a fresh system account may be assigned,
// and no instruction may mint or burn lamports.
func verifyAccountChanges(programID crypto.Address, metas map[crypto.Address]types.AccountMeta, pre map[crypto.Address]*types.Account, txn *state.Txn) error {
	var preHi, preLo, postHi, postLo uint64
	for addr, meta := range metas {
		before := pre[addr]
		after, err := txn.GetAccount(addr)
		if err != nil {
			return err
		}
		preHi, preLo = addWide(preHi, preLo, before.Lamports)
		postHi, postLo = addWide(postHi, postLo, after.Lamports)

		ownedByProgram := before.Owner == programID
		freshSystem := before.Owner.IsZero() && len(before.Data) == 0

		if after.Lamports < before.Lamports && !ownedByProgram && !(before.Owner.IsZero() && meta.IsSigner) {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, addr)
		}
		dataChanged := !bytes.Equal(before.Data, after.Data)
		ownerChanged := before.Owner != after.Owner
		if dataChanged || ownerChanged {
			switch {
			case ownedByProgram && !ownerChanged:
			case freshSystem && (after.Owner == programID || programID.IsZero()):
			default:
				return fmt.Errorf("%w: %s", ErrExternalDataModified, addr)
			}
		}
	}
	if preHi != postHi || preLo != postLo {
		return ErrLamportsNotBalanced
	}
	return nil
}

func addWide(hi, lo, v uint64) (uint64, uint64) {
	sum, carry := bits.Add64(lo, v, 0)
	return hi + carry, sum
}

func (e *Executor) checkRent(txn *state.Txn) error {
	for _, addr := range txn.Dirty() {
		acc, err := txn.GetAccount(addr)
		if err != nil {
			return err
		}
		if len(acc.Data) == 0 {
			continue
		}
		if min := e.rent.MinimumBalance(len(acc.Data)); acc.Lamports < min {
			return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFundsForRent, addr, acc.Lamports, min)
		}
	}
	return nil
}

func (e *Executor) bumpNonce(payer crypto.Address) error {
	txn := e.state.Begin()
	acc, err := txn.GetAccount(payer)
	if err != nil {
		txn.Discard()
		return err
	}
	acc.Nonce++
	if err := txn.PutAccount(payer, acc); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}

// ExecuteBatch runs txs concurrently, at most Config.Parallelism at a time,
// and returns one item per transaction in input order. Conflicting
// transactions are serialised by the account locks in whatever order they
// acquire them.
func (e *Executor) ExecuteBatch(ctx context.Context, txs []*types.Transaction) []BatchItem {
	items := make([]BatchItem, len(txs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for i, tx := range txs {
		g.Go(func() error {
			result, err := e.Execute(ctx, tx)
			items[i] = BatchItem{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Airdrop credits lamports to addr outside of any program. It is used by
// the development faucet and takes the same account lock as a transaction.
func (e *Executor) Airdrop(ctx context.Context, addr crypto.Address, lamports uint64) error {
	release, err := e.locks.Acquire(ctx, []crypto.Address{addr}, nil)
	if err != nil {
		return fmt.Errorf("runtime: acquire account locks: %w", err)
	}
	defer release()
	txn := e.state.Begin()
	if err := txn.Credit(addr, lamports); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.Transfer{From: crypto.ZeroAddress, To: addr, Amount: lamports})
	return nil
}
