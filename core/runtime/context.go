package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tipjar/core/events"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/crypto"
)

// Program is a native program the runtime can dispatch instructions to.
type Program interface {
	ID() crypto.Address
	Name() string
	Process(ctx *InvokeContext, ix types.Instruction) error
}

// InstructionNamer is implemented by programs that can label their
// instructions for metrics and logs.
type InstructionNamer interface {
	InstructionName(data []byte) string
}

// InvokeContext is the view of the world handed to a program for one
// instruction. Account access is limited to the accounts the instruction
// names, and writes to accounts not marked writable are refused.
type InvokeContext struct {
	ctx       context.Context
	tx        *types.Transaction
	programID crypto.Address
	metas     map[crypto.Address]types.AccountMeta
	txn       *state.Txn
	now       time.Time
	logs      *[]string
	emitter   events.Emitter
	logger    *slog.Logger
}

// Context returns the context of the executing transaction.
func (c *InvokeContext) Context() context.Context { return c.ctx }

// ProgramID returns the id of the program being invoked.
func (c *InvokeContext) ProgramID() crypto.Address { return c.programID }

// IsSigner reports whether addr is marked as a signer in the instruction and
// the transaction carries a verified signature for it.
func (c *InvokeContext) IsSigner(addr crypto.Address) bool {
	meta, ok := c.metas[addr]
	return ok && meta.IsSigner && c.tx.IsSigner(addr)
}

// IsWritable reports whether the instruction may modify addr.
func (c *InvokeContext) IsWritable(addr crypto.Address) bool {
	meta, ok := c.metas[addr]
	return ok && meta.IsWritable
}

// GetAccount returns a copy of the account at addr.
func (c *InvokeContext) GetAccount(addr crypto.Address) (*types.Account, error) {
	if _, ok := c.metas[addr]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotInInstruction, addr)
	}
	return c.txn.GetAccount(addr)
}

// PutAccount stages a new version of the account at addr.
func (c *InvokeContext) PutAccount(addr crypto.Address, account *types.Account) error {
	meta, ok := c.metas[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotInInstruction, addr)
	}
	if !meta.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyWrite, addr)
	}
	return c.txn.PutAccount(addr, account)
}

// Now returns the runtime clock as unix seconds.
func (c *InvokeContext) Now() int64 { return c.now.Unix() }

// Log appends a program log line to the receipt.
func (c *InvokeContext) Log(format string, args ...any) {
	line := "Program log: " + fmt.Sprintf(format, args...)
	*c.logs = append(*c.logs, line)
	c.logger.Debug(line, slog.String("program", c.programID.String()))
}

// Emitter returns the emitter for program events. Events are only forwarded
// to subscribers once the transaction commits.
func (c *InvokeContext) Emitter() events.Emitter { return c.emitter }

// Logger returns the runtime logger scoped to the transaction.
func (c *InvokeContext) Logger() *slog.Logger { return c.logger }
