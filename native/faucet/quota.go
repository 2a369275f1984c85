package faucet

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("faucet: request quota exceeded")
	ErrQuotaLamportsExceeded = errors.New("faucet: lamport quota exceeded")
	ErrQuotaCounterOverflow  = errors.New("faucet: quota counter overflow")
)

// Usage captures the airdrop counters of one address within a window.
type Usage struct {
	Requests uint32
	Lamports uint64
	Window   uint64
}

// Quota limits airdrops per address and window. Zero fields are unlimited.
type Quota struct {
	MaxRequests   uint32
	MaxLamports   uint64
	WindowSeconds uint32
}

// WindowAt maps a unix timestamp onto its quota window.
func (q Quota) WindowAt(unix int64) uint64 {
	if unix < 0 {
		unix = 0
	}
	if q.WindowSeconds == 0 {
		return 0
	}
	return uint64(unix) / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether another request of lamports fits within q. The
// returned Usage reflects the updated counters when the quota holds; on
// denial prev is returned unchanged.
func CheckQuota(q Quota, window uint64, prev Usage, addRequests uint32, addLamports uint64) (Usage, error) {
	next := prev
	if prev.Window != window {
		next = Usage{Window: window}
	}

	if addRequests > 0 {
		if next.Requests > math.MaxUint32-addRequests {
			return prev, ErrQuotaCounterOverflow
		}
		next.Requests += addRequests
	}
	if q.MaxRequests > 0 && next.Requests > q.MaxRequests {
		return prev, ErrQuotaRequestsExceeded
	}

	if addLamports > 0 {
		if next.Lamports > math.MaxUint64-addLamports {
			return prev, ErrQuotaCounterOverflow
		}
		next.Lamports += addLamports
	}
	if q.MaxLamports > 0 && next.Lamports > q.MaxLamports {
		return prev, ErrQuotaLamportsExceeded
	}

	return next, nil
}
