package canonical

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var ErrRoundTrip = errors.New("canonical: encoding did not round-trip")

// Encode packs r and decodes the result again before returning it.
func Encode(r *Record) ([]byte, error) {
	if r == nil || r.Price == nil {
		return nil, errors.New("canonical: incomplete record")
	}
	out, err := arguments.Pack(
		r.Signature,
		r.Message,
		r.Exponent,
		r.Modulus,
		r.Price.ToBig(),
		r.Timestamp,
		r.Nonce,
		r.AttestationType,
		r.ComplianceStatus,
		r.Debuggable,
		r.VMPL,
	)
	if err != nil {
		return nil, fmt.Errorf("canonical: pack: %w", err)
	}
	back, err := Decode(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoundTrip, err)
	}
	if !back.Equal(r) {
		return nil, ErrRoundTrip
	}
	return out, nil
}

// Decode is the consumer-side view of an encoding.
func Decode(b []byte) (*Record, error) {
	vals, err := arguments.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("canonical: unpack: %w", err)
	}
	if len(vals) != len(arguments) {
		return nil, fmt.Errorf("canonical: unpacked %d fields, want %d", len(vals), len(arguments))
	}

	r := &Record{}
	var ok [11]bool
	r.Signature, ok[0] = vals[0].([]byte)
	r.Message, ok[1] = vals[1].([]byte)
	r.Exponent, ok[2] = vals[2].([4]byte)
	r.Modulus, ok[3] = vals[3].([]byte)
	price, isBig := vals[4].(*big.Int)
	ok[4] = isBig
	r.Timestamp, ok[5] = vals[5].(uint64)
	r.Nonce, ok[6] = vals[6].(string)
	r.AttestationType, ok[7] = vals[7].(string)
	r.ComplianceStatus, ok[8] = vals[8].(string)
	r.Debuggable, ok[9] = vals[9].(bool)
	r.VMPL, ok[10] = vals[10].(uint8)
	for i, good := range ok {
		if !good {
			return nil, fmt.Errorf("canonical: field %s decoded as %T", fieldNames[i], vals[i])
		}
	}

	var overflow bool
	if r.Price, overflow = uint256.FromBig(price); overflow {
		return nil, fmt.Errorf("canonical: price overflows uint256")
	}
	return r, nil
}

// Digest is keccak256 over the encoding, matching keccak256(abi.encode(...)).
func Digest(b []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	h.Sum(out[:0])
	return out
}
