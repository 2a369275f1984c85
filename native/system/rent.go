package system

import "math/bits"

const (
	// AccountStorageOverhead is charged on top of the data length of every account.
	AccountStorageOverhead = 128
	// DefaultLamportsPerByteYear mirrors the reference cluster rent rate.
	DefaultLamportsPerByteYear = 3480
	// DefaultExemptionYears is the number of years of rent an account must
	// hold to be exempt.
	DefaultExemptionYears = 2
)

// Rent computes the minimum balance an account with data must keep.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent returns the reference rent schedule.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: DefaultLamportsPerByteYear, ExemptionYears: DefaultExemptionYears}
}

// MinimumBalance returns (overhead + dataLen) * rate * years, saturating at
// the maximum uint64.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	if dataLen < 0 {
		dataLen = 0
	}
	size := uint64(AccountStorageOverhead + dataLen)
	hi, perYear := bits.Mul64(size, r.LamportsPerByteYear)
	if hi != 0 {
		return ^uint64(0)
	}
	hi, total := bits.Mul64(perYear, r.ExemptionYears)
	if hi != 0 {
		return ^uint64(0)
	}
	return total
}

// IsExempt reports whether lamports cover the minimum balance for dataLen.
func (r Rent) IsExempt(lamports uint64, dataLen int) bool {
	return lamports >= r.MinimumBalance(dataLen)
}
