package tipjar

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tipjar/core/runtime"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/system"
)

const (
	InstructionInitialize = "initialize_tip_jar"
	InstructionSendTip    = "send_tip"
	InstructionWithdraw   = "withdraw_tips"
)

var (
	ErrMissingSignature       = errors.New("tipjar: missing required signature")
	ErrNotEnoughAccounts      = errors.New("tipjar: not enough account keys")
	ErrUnknownInstruction     = errors.New("tipjar: unknown instruction")
	ErrInvalidInstructionData = errors.New("tipjar: invalid instruction data")
	ErrInvalidSystemProgram   = errors.New("tipjar: system program account mismatch")
)

var (
	discInitialize = instructionDiscriminator(InstructionInitialize)
	discSendTip    = instructionDiscriminator(InstructionSendTip)
	discWithdraw   = instructionDiscriminator(InstructionWithdraw)
)

// InstructionDiscriminators maps each instruction name to its 8-byte prefix.
func InstructionDiscriminators() map[string][8]byte {
	return map[string][8]byte{
		InstructionInitialize: discInitialize,
		InstructionSendTip:    discSendTip,
		InstructionWithdraw:   discWithdraw,
	}
}

// Program dispatches tip jar instructions to a per-invocation Engine.
type Program struct {
	id   crypto.Address
	rent RentPolicy
}

// NewProgram returns the tip jar program deployed at id.
func NewProgram(id crypto.Address, rent RentPolicy) *Program {
	if rent == nil {
		rent = system.DefaultRent()
	}
	return &Program{id: id, rent: rent}
}

func (p *Program) ID() crypto.Address { return p.id }

func (p *Program) Name() string { return "tipjar" }

// InstructionName labels data for metrics.
func (p *Program) InstructionName(data []byte) string {
	if len(data) < 8 {
		return "unknown"
	}
	var disc [8]byte
	copy(disc[:], data)
	switch disc {
	case discInitialize:
		return InstructionInitialize
	case discSendTip:
		return InstructionSendTip
	case discWithdraw:
		return InstructionWithdraw
	default:
		return "unknown"
	}
}

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Data) < 8 {
		return ErrInvalidInstructionData
	}
	var disc [8]byte
	copy(disc[:], ix.Data)
	args := ix.Data[8:]

	engine := NewEngine(p.id, p.rent)
	engine.SetState(ctx)
	engine.SetEmitter(ctx.Emitter())
	engine.SetNowFunc(ctx.Now)

	switch disc {
	case discInitialize:
		if len(ix.Accounts) < 3 {
			return ErrNotEnoughAccounts
		}
		jar, owner := ix.Accounts[0].Address, ix.Accounts[1].Address
		if err := requireSystemProgram(ix.Accounts[2].Address); err != nil {
			return err
		}
		if !ctx.IsSigner(owner) {
			return fmt.Errorf("%w: owner %s", ErrMissingSignature, owner)
		}
		expected, _, err := engine.Address(owner)
		if err != nil {
			return err
		}
		if expected != jar {
			return fmt.Errorf("%w: %s", ErrInvalidJarAddress, jar)
		}
		if _, _, err := engine.Initialize(owner); err != nil {
			return err
		}
		ctx.Log("Tip jar initialized for: %s", owner)
		return nil
	case discSendTip:
		amount, err := decodeAmount(args)
		if err != nil {
			return err
		}
		if len(ix.Accounts) < 3 {
			return ErrNotEnoughAccounts
		}
		jar, tipper := ix.Accounts[0].Address, ix.Accounts[1].Address
		if err := requireSystemProgram(ix.Accounts[2].Address); err != nil {
			return err
		}
		if !ctx.IsSigner(tipper) {
			return fmt.Errorf("%w: tipper %s", ErrMissingSignature, tipper)
		}
		record, err := engine.SendTip(tipper, jar, amount)
		if err != nil {
			return err
		}
		ctx.Log("Tip of %d lamports sent to %s", amount, record.Owner)
		return nil
	case discWithdraw:
		amount, err := decodeAmount(args)
		if err != nil {
			return err
		}
		if len(ix.Accounts) < 2 {
			return ErrNotEnoughAccounts
		}
		jar, owner := ix.Accounts[0].Address, ix.Accounts[1].Address
		if !ctx.IsSigner(owner) {
			return fmt.Errorf("%w: owner %s", ErrMissingSignature, owner)
		}
		if _, err := engine.Withdraw(owner, jar, amount); err != nil {
			return err
		}
		ctx.Log("Withdrew %d lamports from tip jar", amount)
		return nil
	default:
		return fmt.Errorf("%w: %x", ErrUnknownInstruction, disc)
	}
}

func requireSystemProgram(addr crypto.Address) error {
	if addr != system.ProgramID {
		return fmt.Errorf("%w: %s", ErrInvalidSystemProgram, addr)
	}
	return nil
}

func decodeAmount(args []byte) (uint64, error) {
	if len(args) != 8 {
		return 0, fmt.Errorf("%w: expected 8 byte amount, got %d", ErrInvalidInstructionData, len(args))
	}
	return binary.LittleEndian.Uint64(args), nil
}

func encodeInstruction(disc [8]byte, amount *uint64) []byte {
	if amount == nil {
		return append([]byte(nil), disc[:]...)
	}
	data := make([]byte, 16)
	copy(data, disc[:])
	binary.LittleEndian.PutUint64(data[8:], *amount)
	return data
}

// NewInitializeInstruction builds initialize_tip_jar for owner.
func NewInitializeInstruction(programID, owner crypto.Address) (types.Instruction, error) {
	jar, _, err := DeriveAddress(owner, programID)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: jar, IsWritable: true},
			{Address: owner, IsSigner: true, IsWritable: true},
			{Address: system.ProgramID},
		},
		Data: encodeInstruction(discInitialize, nil),
	}, nil
}

// NewSendTipInstruction builds send_tip from tipper into the jar of owner.
func NewSendTipInstruction(programID, owner, tipper crypto.Address, amount uint64) (types.Instruction, error) {
	jar, _, err := DeriveAddress(owner, programID)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: jar, IsWritable: true},
			{Address: tipper, IsSigner: true, IsWritable: true},
			{Address: system.ProgramID},
		},
		Data: encodeInstruction(discSendTip, &amount),
	}, nil
}

// NewWithdrawInstruction builds withdraw_tips for owner.
func NewWithdrawInstruction(programID, owner crypto.Address, amount uint64) (types.Instruction, error) {
	jar, _, err := DeriveAddress(owner, programID)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: jar, IsWritable: true},
			{Address: owner, IsSigner: true, IsWritable: true},
		},
		Data: encodeInstruction(discWithdraw, &amount),
	}, nil
}
