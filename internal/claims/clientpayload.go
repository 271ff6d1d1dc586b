package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ClientPayload is the business data the attested workload put in
// x-ms-runtime.client-payload. Every value arrives as base64 text.
type ClientPayload struct {
	Price     *Price  `json:"price,omitempty"`
	Timestamp *uint64 `json:"timestamp,omitempty"`
	Nonce     *string `json:"nonce,omitempty"`
}

// Price keeps the decimal text as sent so fixed-point scaling is exact.
type Price struct {
	Text string
	rat  *big.Rat
}

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParsePrice accepts decimal floating-point text such as "3500.5" or "1e3".
func ParsePrice(text string) (*Price, error) {
	text = strings.TrimSpace(text)
	if !decimalPattern.MatchString(text) {
		return nil, fmt.Errorf("%q is not a decimal number", text)
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("%q is not a decimal number", text)
	}
	return &Price{Text: text, rat: r}, nil
}

// Rat returns a copy of the exact value.
func (p *Price) Rat() *big.Rat {
	return new(big.Rat).Set(p.rat)
}

// Float64 returns the nearest float64.
func (p *Price) Float64() float64 {
	f, _ := p.rat.Float64()
	return f
}

func (p *Price) String() string { return p.Text }

func (p *Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Text)
}

// UnmarshalJSON accepts the string form written by MarshalJSON.
func (p *Price) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return err
	}
	parsed, err := ParsePrice(text)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

func extractClientPayload(o object) (*ClientPayload, error) {
	cp := &ClientPayload{}

	if text, err := decodedField(o, NamePrice); err != nil {
		return nil, err
	} else if text != nil {
		p, perr := ParsePrice(*text)
		if perr != nil {
			return nil, mismatch(o.name(NamePrice), "%v", perr)
		}
		cp.Price = p
	}

	if text, err := decodedField(o, NameTimestamp); err != nil {
		return nil, err
	} else if text != nil {
		ts, perr := strconv.ParseUint(strings.TrimSpace(*text), 10, 64)
		if perr != nil {
			return nil, mismatch(o.name(NameTimestamp), "%q is not an unsigned integer", *text)
		}
		cp.Timestamp = &ts
	}

	text, err := decodedField(o, NameNonce)
	if err != nil {
		return nil, err
	}
	cp.Nonce = text
	return cp, nil
}

// decodedField reads a string member and base64-decodes it into UTF-8 text.
func decodedField(o object, key string) (*string, error) {
	s, err := o.str(key, false)
	if err != nil || s == nil {
		return nil, err
	}
	raw, err := DecodeLooseBase64(*s)
	if err != nil {
		return nil, mismatch(o.name(key), "%v", err)
	}
	if !utf8.Valid(raw) {
		return nil, mismatch(o.name(key), "decoded value is not UTF-8 text")
	}
	text := string(raw)
	return &text, nil
}

// DecodeLooseBase64 accepts the standard or URL alphabet with or without
// padding. Mixing alphabets is rejected.
func DecodeLooseBase64(s string) ([]byte, error) {
	body := strings.TrimRight(s, "=")
	if len(s)-len(body) > 2 {
		return nil, fmt.Errorf("invalid base64: too much padding")
	}
	std := strings.ContainsAny(body, "+/")
	url := strings.ContainsAny(body, "-_")
	enc := base64.RawStdEncoding
	switch {
	case std && url:
		return nil, fmt.Errorf("invalid base64: mixed alphabets")
	case url:
		enc = base64.RawURLEncoding
	}
	out, err := enc.Strict().DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %v", err)
	}
	return out, nil
}
