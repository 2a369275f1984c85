package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/tipjar"
)

// AccountResult renders an account for RPC consumers.
type AccountResult struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
	Data     string `json:"data"`
	Nonce    uint64 `json:"nonce"`
}

// BalanceResult is the reply of tipjar_getBalance.
type BalanceResult struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	Nonce    uint64 `json:"nonce"`
}

// JarResult is the reply of tipjar_getTipJar.
type JarResult struct {
	Owner        string `json:"owner"`
	Address      string `json:"address"`
	Bump         uint8  `json:"bump"`
	TotalTips    uint64 `json:"totalTips"`
	CreatedAt    int64  `json:"createdAt"`
	Balance      uint64 `json:"balance"`
	Withdrawable uint64 `json:"withdrawable"`
}

// DerivedAddressResult is the reply of tipjar_deriveAddress.
type DerivedAddressResult struct {
	Owner   string `json:"owner"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// AirdropResult is the reply of tipjar_requestAirdrop.
type AirdropResult struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	Balance  uint64 `json:"balance"`
}

// ProgramInfoResult describes the deployed tip jar program.
type ProgramInfoResult struct {
	ProgramID         string            `json:"programId"`
	SystemProgramID   string            `json:"systemProgramId"`
	RecordSize        int               `json:"recordSize"`
	RentExemptMinimum uint64            `json:"rentExemptMinimum"`
	Discriminator     string            `json:"discriminator"`
	Instructions      map[string]string `json:"instructions"`
	FaucetEnabled     bool              `json:"faucetEnabled"`
}

// ReceiptResult reflects the outcome of an executed transaction.
type ReceiptResult struct {
	TxHash  string        `json:"txHash"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Logs    []string      `json:"logs"`
	Events  []types.Event `json:"events,omitempty"`
}

func accountResult(addr crypto.Address, acc *types.Account) AccountResult {
	res := AccountResult{Address: addr.String()}
	if acc == nil {
		res.Owner = crypto.ZeroAddress.String()
		return res
	}
	res.Lamports = acc.Lamports
	res.Owner = acc.Owner.String()
	res.Data = hex.EncodeToString(acc.Data)
	res.Nonce = acc.Nonce
	return res
}

func jarResult(owner crypto.Address, jar *tipjar.Jar) JarResult {
	return JarResult{
		Owner:        owner.String(),
		Address:      jar.Address.String(),
		Bump:         jar.Bump,
		TotalTips:    jar.Record.TotalTips,
		CreatedAt:    jar.Record.CreatedAt,
		Balance:      jar.Balance,
		Withdrawable: jar.Withdrawable,
	}
}

func receiptResult(receipt *types.Receipt) ReceiptResult {
	if receipt == nil {
		return ReceiptResult{Logs: []string{}}
	}
	logs := receipt.Logs
	if logs == nil {
		logs = []string{}
	}
	return ReceiptResult{
		TxHash:  receipt.TxHash,
		Success: receipt.Success,
		Error:   receipt.Error,
		Logs:    logs,
		Events:  receipt.Events,
	}
}

// parseAddressParam accepts a bare base58 string or {"address": "..."}.
func parseAddressParam(raw json.RawMessage) (crypto.Address, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var wrapper struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Address == "" {
			return crypto.ZeroAddress, fmt.Errorf("address must be a base58 string")
		}
		text = wrapper.Address
	}
	return crypto.DecodeAddress(strings.TrimSpace(text))
}

func parseLamportsParam(raw json.RawMessage) (uint64, error) {
	var amount uint64
	if err := json.Unmarshal(raw, &amount); err != nil {
		return 0, fmt.Errorf("lamports must be an unsigned integer")
	}
	return amount, nil
}
