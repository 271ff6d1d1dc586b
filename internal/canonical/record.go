package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/aspect-build/attestproof/internal/claims"
)

// PriceDecimals is the fixed-point scale applied to the client price.
const PriceDecimals = 8

var ErrEncodingWidth = errors.New("value does not fit encoding width")

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

// Record is the normalized tuple. Byte fields already have their wire widths.
type Record struct {
	Signature        []byte
	Message          []byte
	Exponent         [4]byte
	Modulus          []byte
	Price            *uint256.Int
	Timestamp        uint64
	Nonce            string
	AttestationType  string
	ComplianceStatus string
	Debuggable       bool
	VMPL             uint8
}

// NewRecord normalizes widths and scales the price. The modulus width is the
// key byte length; the signature must be exactly that long.
func NewRecord(sig, msg, e, n []byte, c *claims.Claims) (*Record, error) {
	if c == nil {
		return nil, errors.New("canonical: nil claims")
	}
	mod := bytes.TrimLeft(n, "\x00")
	if len(mod) == 0 {
		return nil, fmt.Errorf("%w: empty modulus", ErrEncodingWidth)
	}
	if len(sig) != len(mod) {
		return nil, fmt.Errorf("%w: signature is %d bytes, key is %d bytes", ErrEncodingWidth, len(sig), len(mod))
	}
	exp := bytes.TrimLeft(e, "\x00")
	if len(exp) == 0 || len(exp) > 4 {
		return nil, fmt.Errorf("%w: exponent is %d significant bytes, field holds 4", ErrEncodingWidth, len(exp))
	}

	cp := c.ClientPayload
	if cp == nil {
		return nil, claims.Missing(claims.ClientPayloadPath)
	}
	if cp.Price == nil {
		return nil, claims.Missing(claims.ClientPayloadPath + "." + claims.NamePrice)
	}
	if cp.Timestamp == nil {
		return nil, claims.Missing(claims.ClientPayloadPath + "." + claims.NameTimestamp)
	}
	if cp.Nonce == nil {
		return nil, claims.Missing(claims.ClientPayloadPath + "." + claims.NameNonce)
	}
	price, err := ScalePrice(cp.Price)
	if err != nil {
		return nil, err
	}

	r := &Record{
		Signature:        append([]byte(nil), sig...),
		Message:          append([]byte(nil), msg...),
		Modulus:          append([]byte(nil), mod...),
		Price:            price,
		Timestamp:        *cp.Timestamp,
		Nonce:            *cp.Nonce,
		AttestationType:  c.Isolation.AttestationType,
		ComplianceStatus: c.Isolation.ComplianceStatus,
		Debuggable:       c.Isolation.Debuggable,
		VMPL:             c.Isolation.VMPL,
	}
	copy(r.Exponent[4-len(exp):], exp)
	return r, nil
}

// ScalePrice converts decimal price text to an integer count of 10^-8 units.
// Negative values, extra precision and uint256 overflow are rejected.
func ScalePrice(p *claims.Price) (*uint256.Int, error) {
	v := p.Rat()
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: price %s is negative", ErrEncodingWidth, p.Text)
	}
	v.Mul(v, new(big.Rat).SetInt(priceScale))
	if !v.IsInt() {
		return nil, fmt.Errorf("%w: price %s has more than %d fractional digits", ErrEncodingWidth, p.Text, PriceDecimals)
	}
	u, overflow := uint256.FromBig(v.Num())
	if overflow {
		return nil, fmt.Errorf("%w: price %s overflows uint256", ErrEncodingWidth, p.Text)
	}
	return u, nil
}

// Equal compares every field.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return bytes.Equal(r.Signature, o.Signature) &&
		bytes.Equal(r.Message, o.Message) &&
		r.Exponent == o.Exponent &&
		bytes.Equal(r.Modulus, o.Modulus) &&
		r.Price.Eq(o.Price) &&
		r.Timestamp == o.Timestamp &&
		r.Nonce == o.Nonce &&
		r.AttestationType == o.AttestationType &&
		r.ComplianceStatus == o.ComplianceStatus &&
		r.Debuggable == o.Debuggable &&
		r.VMPL == o.VMPL
}

type recordJSON struct {
	Signature        hexutil.Bytes `json:"signature"`
	Message          hexutil.Bytes `json:"message"`
	Exponent         hexutil.Bytes `json:"exponent"`
	Modulus          hexutil.Bytes `json:"modulus"`
	Price            string        `json:"price"`
	Timestamp        uint64        `json:"timestamp"`
	Nonce            string        `json:"nonce"`
	AttestationType  string        `json:"attestation_type"`
	ComplianceStatus string        `json:"compliance_status"`
	Debuggable       bool          `json:"debuggable"`
	VMPL             uint8         `json:"vmpl"`
}

// MarshalJSON renders byte fields as 0x-hex and the scaled price in decimal.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Signature:        r.Signature,
		Message:          r.Message,
		Exponent:         r.Exponent[:],
		Modulus:          r.Modulus,
		Price:            r.Price.Dec(),
		Timestamp:        r.Timestamp,
		Nonce:            r.Nonce,
		AttestationType:  r.AttestationType,
		ComplianceStatus: r.ComplianceStatus,
		Debuggable:       r.Debuggable,
		VMPL:             r.VMPL,
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if len(in.Exponent) != len(r.Exponent) {
		return fmt.Errorf("canonical: exponent must be %d bytes, got %d", len(r.Exponent), len(in.Exponent))
	}
	price, err := uint256.FromDecimal(in.Price)
	if err != nil {
		return fmt.Errorf("canonical: price: %w", err)
	}
	*r = Record{
		Signature:        in.Signature,
		Message:          in.Message,
		Modulus:          in.Modulus,
		Price:            price,
		Timestamp:        in.Timestamp,
		Nonce:            in.Nonce,
		AttestationType:  in.AttestationType,
		ComplianceStatus: in.ComplianceStatus,
		Debuggable:       in.Debuggable,
		VMPL:             in.VMPL,
	}
	copy(r.Exponent[:], in.Exponent)
	return nil
}
