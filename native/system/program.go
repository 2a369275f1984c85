package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tipjar/core/runtime"
	"tipjar/core/types"
	"tipjar/crypto"
)

// Instruction indexes match the Solana system program.
const (
	InstructionCreateAccount uint32 = 0
	InstructionTransfer      uint32 = 2
)

var (
	ErrUnknownInstruction       = errors.New("system: unknown instruction")
	ErrInvalidInstructionData   = errors.New("system: invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("system: not enough account keys")
	ErrMissingRequiredSignature = errors.New("system: missing required signature")
)

// Program exposes the system primitives to the runtime.
type Program struct{}

// NewProgram returns the system program.
func NewProgram() *Program { return &Program{} }

func (*Program) ID() crypto.Address { return ProgramID }

func (*Program) Name() string { return "system" }

// InstructionName labels data for metrics.
func (*Program) InstructionName(data []byte) string {
	if len(data) < 4 {
		return "unknown"
	}
	switch binary.LittleEndian.Uint32(data) {
	case InstructionCreateAccount:
		return "create_account"
	case InstructionTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Data) < 4 {
		return ErrInvalidInstructionData
	}
	body := ix.Data[4:]
	switch binary.LittleEndian.Uint32(ix.Data) {
	case InstructionCreateAccount:
		if len(body) != 8+8+crypto.AddressLength {
			return fmt.Errorf("%w: create_account expects %d bytes", ErrInvalidInstructionData, 8+8+crypto.AddressLength)
		}
		if len(ix.Accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		payer, addr := ix.Accounts[0].Address, ix.Accounts[1].Address
		if !ctx.IsSigner(payer) || !ctx.IsSigner(addr) {
			return ErrMissingRequiredSignature
		}
		lamports := binary.LittleEndian.Uint64(body[0:8])
		space := binary.LittleEndian.Uint64(body[8:16])
		owner, err := crypto.AddressFromBytes(body[16:])
		if err != nil {
			return err
		}
		if err := CreateAccount(ctx, ctx.Emitter(), payer, addr, lamports, space, owner); err != nil {
			return err
		}
		ctx.Log("create account %s owner %s", addr, owner)
		return nil
	case InstructionTransfer:
		if len(body) != 8 {
			return fmt.Errorf("%w: transfer expects 8 bytes", ErrInvalidInstructionData)
		}
		if len(ix.Accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		from, to := ix.Accounts[0].Address, ix.Accounts[1].Address
		if !ctx.IsSigner(from) {
			return ErrMissingRequiredSignature
		}
		return Transfer(ctx, ctx.Emitter(), from, to, binary.LittleEndian.Uint64(body))
	default:
		return ErrUnknownInstruction
	}
}

// TransferInstruction builds a system transfer.
func TransferInstruction(from, to crypto.Address, lamports uint64) types.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: from, IsSigner: true, IsWritable: true},
			{Address: to, IsWritable: true},
		},
		Data: data,
	}
}

// CreateAccountInstruction builds a system create_account. Both payer and the
// new account must sign.
func CreateAccountInstruction(payer, addr crypto.Address, lamports, space uint64, owner crypto.Address) types.Instruction {
	data := make([]byte, 4+8+8+crypto.AddressLength)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: addr, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}
