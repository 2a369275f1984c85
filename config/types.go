package config

// Rent mirrors system.Rent. Both fields at zero disable rent.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// Runtime tunes the transaction executor.
type Runtime struct {
	// Parallelism bounds how many transactions of a batch run at once.
	Parallelism int
	// LockTimeoutMs bounds how long a transaction waits for account locks.
	LockTimeoutMs int
}

// Faucet configures the development airdrop endpoint.
type Faucet struct {
	Enabled           bool
	MaxLamports       uint64
	RequestsPerMinute float64
	Burst             int
	// Per-address quota within QuotaWindowSeconds. Zero is unlimited.
	QuotaRequests      uint32
	QuotaLamports      uint64
	QuotaWindowSeconds uint32
}

// GenesisAlloc credits Address with Lamports the first time the data
// directory is initialised.
type GenesisAlloc struct {
	Address  string
	Lamports uint64
}

// Telemetry configures OpenTelemetry exporters.
type Telemetry struct {
	Endpoint    string
	Insecure    bool
	Traces      bool
	Metrics     bool
	Environment string
	// Headers is a comma separated key=value list sent with every export.
	Headers string
	// SampleRatio is the fraction of transactions traced. Zero means all.
	SampleRatio float64
}

// Logging configures the structured logger.
type Logging struct {
	Level string
	// File enables rotated file output in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RPC tunes the JSON-RPC server.
type RPC struct {
	// Per-client request budget. Zero RequestsPerMinute disables the limit.
	RequestsPerMinute float64
	Burst             int
}
