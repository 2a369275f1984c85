package config

import (
	"fmt"
	"strings"

	"tipjar/crypto"
)

// MaxParallelism bounds Runtime.Parallelism.
var MaxParallelism = 256

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if _, err := crypto.DecodeAddress(c.ProgramID); err != nil {
		return fmt.Errorf("ProgramID: %w", err)
	}
	if c.Runtime.Parallelism <= 0 || c.Runtime.Parallelism > MaxParallelism {
		return fmt.Errorf("runtime: Parallelism must be within 1..%d", MaxParallelism)
	}
	if c.Runtime.LockTimeoutMs <= 0 {
		return fmt.Errorf("runtime: LockTimeoutMs <= 0")
	}
	if (c.Rent.LamportsPerByteYear == 0) != (c.Rent.ExemptionYears == 0) {
		return fmt.Errorf("rent: set both LamportsPerByteYear and ExemptionYears or neither")
	}
	if c.Faucet.Enabled {
		if c.Faucet.RequestsPerMinute < 0 || c.Faucet.Burst < 0 {
			return fmt.Errorf("faucet: negative rate limit")
		}
		if c.Faucet.QuotaLamports > 0 && c.Faucet.MaxLamports > c.Faucet.QuotaLamports {
			return fmt.Errorf("faucet: MaxLamports exceeds QuotaLamports")
		}
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: negative rate limit")
	}
	seen := make(map[crypto.Address]struct{}, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("genesis[%d]: duplicate allocation for %s", i, addr)
		}
		seen[addr] = struct{}{}
	}
	if c.Telemetry.Traces || c.Telemetry.Metrics {
		if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
			return fmt.Errorf("telemetry: endpoint required when exporters are enabled")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within 0..1")
	}
	return nil
}
