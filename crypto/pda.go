package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds bounds the number of seeds accepted by address derivation.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of each individual seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrMaxSeedLengthExceeded is returned when a seed or the seed list is too large.
	ErrMaxSeedLengthExceeded = errors.New("crypto: max seed length exceeded")
	// ErrInvalidSeeds is returned when a derived candidate lands on the ed25519 curve.
	ErrInvalidSeeds = errors.New("crypto: derived address is on the ed25519 curve")
	// ErrNoViableBump is returned when no bump in [0,255] yields an off-curve address.
	ErrNoViableBump = errors.New("crypto: unable to find a viable program address bump")
)

// IsOnCurve reports whether b decodes to a point on the ed25519 curve. Keys
// that can sign are always on the curve.
func IsOnCurve(b Address) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// CreateProgramAddress hashes the seeds together with the program id. The
// result must not be a valid ed25519 point so that no private key can sign
// for it.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))
	var addr Address
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr) {
		return Address{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with its bump. The bump is appended as the last
// seed.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrMaxSeedLengthExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Address{}, 0, fmt.Errorf("derive program address: %w", err)
		}
	}
	return Address{}, 0, ErrNoViableBump
}
