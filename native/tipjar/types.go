package tipjar

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"tipjar/crypto"
)

const (
	// JarSeed is the namespace tag hashed with the owner to locate a jar.
	JarSeed = "tip_jar"
	// RecordSize is the on-account size of a jar: discriminator, owner,
	// total tips and creation time.
	RecordSize = 8 + crypto.AddressLength + 8 + 8

	offsetOwner     = 8
	offsetTotalTips = offsetOwner + crypto.AddressLength
	offsetCreatedAt = offsetTotalTips + 8
)

// DefaultProgramID is the id the tip jar program is deployed under unless
// configured otherwise.
var DefaultProgramID = crypto.MustDecodeAddress("6JxyCFracCZ6ydBYQcZNB3aFJmvi8fgSVGHcTQerNyYo")

// RecordDiscriminator prefixes every jar account.
var RecordDiscriminator = accountDiscriminator("TipJar")

var errRecordLayout = errors.New("tipjar: malformed jar record")

// Record is the persisted state of one tip jar. TotalTips counts every
// lamport ever tipped and is not reduced by withdrawals; the spendable amount
// is the backing account balance.
type Record struct {
	Owner     crypto.Address `json:"owner"`
	TotalTips uint64         `json:"totalTips"`
	CreatedAt int64          `json:"createdAt"`
}

// MarshalBinary encodes the record in its fixed account layout.
func (r *Record) MarshalBinary() ([]byte, error) {
	out := make([]byte, RecordSize)
	r.encodeInto(out)
	return out, nil
}

func (r *Record) encodeInto(buf []byte) {
	copy(buf, RecordDiscriminator[:])
	copy(buf[offsetOwner:], r.Owner[:])
	binary.LittleEndian.PutUint64(buf[offsetTotalTips:], r.TotalTips)
	binary.LittleEndian.PutUint64(buf[offsetCreatedAt:], uint64(r.CreatedAt))
}

// UnmarshalBinary decodes account data written by MarshalBinary.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("%w: %d bytes", errRecordLayout, len(data))
	}
	if !bytes.Equal(data[:8], RecordDiscriminator[:]) {
		return fmt.Errorf("%w: discriminator mismatch", errRecordLayout)
	}
	copy(r.Owner[:], data[offsetOwner:offsetTotalTips])
	r.TotalTips = binary.LittleEndian.Uint64(data[offsetTotalTips:])
	r.CreatedAt = int64(binary.LittleEndian.Uint64(data[offsetCreatedAt:]))
	return nil
}

// DecodeRecord parses jar account data.
func DecodeRecord(data []byte) (*Record, error) {
	rec := new(Record)
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return rec, nil
}

// Jar is the query view of a tip jar.
type Jar struct {
	Address crypto.Address `json:"address"`
	Bump    uint8          `json:"bump"`
	Record  Record         `json:"record"`
	// Balance is the lamport balance of the jar account.
	Balance uint64 `json:"balance"`
	// Withdrawable is Balance minus the rent-exempt minimum.
	Withdrawable uint64 `json:"withdrawable"`
}

// DeriveAddress returns the jar address of owner under programID.
func DeriveAddress(owner, programID crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{[]byte(JarSeed), owner[:]}, programID)
}

func accountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func instructionDiscriminator(name string) [8]byte {
	return discriminator("global:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}
