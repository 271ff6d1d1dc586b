package attestation

import (
	"encoding/json"

	"github.com/aspect-build/attestproof/internal/token"
)

// Inspection is the unverified view of a token. Verified is always false.
type Inspection struct {
	Header       token.Header    `json:"header"`
	HeaderJSON   json.RawMessage `json:"header_json"`
	Payload      json.RawMessage `json:"payload"`
	SignatureLen int             `json:"signature_len"`
	Verified     bool            `json:"verified"`
}

// Inspect parses raw without resolving keys or checking the signature.
func Inspect(raw string) (*Inspection, error) {
	tok, err := token.Parse(raw)
	if err != nil {
		return nil, err
	}
	hdr, err := tok.Header()
	if err != nil {
		return nil, err
	}
	return &Inspection{
		Header:       hdr,
		HeaderJSON:   tok.HeaderJSON,
		Payload:      tok.PayloadJSON,
		SignatureLen: len(tok.Signature),
	}, nil
}
