package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// AddressLength is the size of an account identity in bytes.
const AddressLength = 32

var errInvalidAddress = errors.New("crypto: invalid address")

// Address is a 32-byte account identity. For wallets it is the raw ed25519
// public key; program-derived addresses are deliberately off the curve.
// The text form is base58.
type Address [AddressLength]byte

// ZeroAddress is the all-zero identity used for the system program.
var ZeroAddress Address

// AddressFromBytes copies b into an Address. b must be exactly 32 bytes long.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, fmt.Errorf("%w: expected %d bytes, got %d", errInvalidAddress, AddressLength, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// DecodeAddress parses the base58 text form of an address.
func DecodeAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty string", errInvalidAddress)
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) == 0 {
		return Address{}, fmt.Errorf("%w: not base58", errInvalidAddress)
	}
	return AddressFromBytes(decoded)
}

// MustDecodeAddress is DecodeAddress for compile-time constants.
func MustDecodeAddress(s string) Address {
	addr, err := DecodeAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// IsZero reports whether the address is the all-zero identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// --- Key Management ---

type PrivateKey struct {
	ed25519.PrivateKey
}

type PublicKey struct {
	ed25519.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromSeed rebuilds a key from its 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	return &PrivateKey{ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return k.PrivateKey.Seed()
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{k.PrivateKey.Public().(ed25519.PublicKey)}
}

// Address returns the identity controlled by this key.
func (k *PrivateKey) Address() Address {
	return k.PubKey().Address()
}

// Sign signs msg with the key.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}

func (k *PublicKey) Address() Address {
	var addr Address
	copy(addr[:], k.PublicKey)
	return addr
}

// Verify reports whether sig is a valid signature of msg by the key behind addr.
func Verify(addr Address, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig)
}
