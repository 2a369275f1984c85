package faucet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tipjar/crypto"
)

var (
	ErrDisabled      = errors.New("faucet: disabled")
	ErrInvalidAmount = errors.New("faucet: amount must be positive")
	ErrAmountTooHigh = errors.New("faucet: amount above per-request cap")
	ErrRateLimited   = errors.New("faucet: rate limited")
)

// Airdropper credits lamports outside of any program.
type Airdropper interface {
	Airdrop(ctx context.Context, addr crypto.Address, lamports uint64) error
}

// Config tunes the development faucet.
type Config struct {
	Enabled bool
	// MaxLamports caps a single request.
	MaxLamports uint64
	// RequestsPerMinute and Burst bound the faucet as a whole.
	RequestsPerMinute float64
	Burst             int
	Quota             Quota
}

// Faucet hands out lamports on development networks.
type Faucet struct {
	cfg     Config
	target  Airdropper
	store   *Store
	limiter *rate.Limiter
	logger  *slog.Logger
	nowFn   func() time.Time

	mu         sync.Mutex
	lastWindow uint64
}

// New constructs a faucet. store may be nil to keep quotas off.
func New(cfg Config, target Airdropper, store *Store, logger *slog.Logger) *Faucet {
	if logger == nil {
		logger = slog.Default()
	}
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Faucet{
		cfg:     cfg,
		target:  target,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger.With(slog.String("component", "faucet")),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock used for quota windows.
func (f *Faucet) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	f.nowFn = now
}

// Enabled reports whether the faucet accepts requests.
func (f *Faucet) Enabled() bool { return f != nil && f.cfg.Enabled }

// Request airdrops lamports to addr if the caps, the global rate and the
// per-address quota allow it.
func (f *Faucet) Request(ctx context.Context, addr crypto.Address, lamports uint64) error {
	if !f.Enabled() {
		return ErrDisabled
	}
	if lamports == 0 {
		return ErrInvalidAmount
	}
	if f.cfg.MaxLamports > 0 && lamports > f.cfg.MaxLamports {
		return fmt.Errorf("%w: %d > %d", ErrAmountTooHigh, lamports, f.cfg.MaxLamports)
	}
	if !f.limiter.Allow() {
		return ErrRateLimited
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var next Usage
	window := f.cfg.Quota.WindowAt(f.nowFn().Unix())
	if f.store != nil {
		f.pruneLocked(window)
		prev, _, err := f.store.Load(window, addr)
		if err != nil {
			return err
		}
		next, err = CheckQuota(f.cfg.Quota, window, prev, 1, lamports)
		if err != nil {
			f.logger.Info("airdrop denied",
				slog.String("address", addr.String()),
				slog.String("reason", err.Error()))
			return err
		}
	}
	if err := f.target.Airdrop(ctx, addr, lamports); err != nil {
		return err
	}
	if f.store != nil {
		if err := f.store.Save(addr, next); err != nil {
			return err
		}
	}
	f.logger.Info("airdrop",
		slog.String("address", addr.String()),
		slog.Uint64("lamports", lamports))
	return nil
}

func (f *Faucet) pruneLocked(window uint64) {
	if window == f.lastWindow {
		return
	}
	if window > 0 {
		if err := f.store.PruneWindow(window - 1); err != nil {
			f.logger.Warn("prune faucet window", slog.Any("error", err))
		}
	}
	f.lastWindow = window
}
