package config

import (
	"fmt"
	"strings"
	"time"

	"tipjar/crypto"
	"tipjar/native/faucet"
	"tipjar/native/system"
)

// ProgramAddress parses ProgramID.
func (c *Config) ProgramAddress() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.ProgramID))
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("invalid ProgramID: %w", err)
	}
	return addr, nil
}

// RentSchedule returns the configured rent as the system program type.
func (c *Config) RentSchedule() system.Rent {
	return system.Rent{
		LamportsPerByteYear: c.Rent.LamportsPerByteYear,
		ExemptionYears:      c.Rent.ExemptionYears,
	}
}

// LockTimeout returns Runtime.LockTimeoutMs as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Runtime.LockTimeoutMs) * time.Millisecond
}

// FaucetConfig translates the faucet section.
func (c *Config) FaucetConfig() faucet.Config {
	return faucet.Config{
		Enabled:           c.Faucet.Enabled,
		MaxLamports:       c.Faucet.MaxLamports,
		RequestsPerMinute: c.Faucet.RequestsPerMinute,
		Burst:             c.Faucet.Burst,
		Quota: faucet.Quota{
			MaxRequests:   c.Faucet.QuotaRequests,
			MaxLamports:   c.Faucet.QuotaLamports,
			WindowSeconds: c.Faucet.QuotaWindowSeconds,
		},
	}
}

// GenesisAllocations parses the genesis section.
func (c *Config) GenesisAllocations() (map[crypto.Address]uint64, error) {
	out := make(map[crypto.Address]uint64, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("invalid genesis[%d].Address: %w", i, err)
		}
		out[addr] += alloc.Lamports
	}
	return out, nil
}
