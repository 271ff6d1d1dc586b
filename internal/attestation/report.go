package attestation

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/claims"
	"github.com/aspect-build/attestproof/internal/sigverify"
)

// Report is the JSON view of a verification outcome shared by the CLI and
// the HTTP service.
type Report struct {
	Verified      bool              `json:"verified"`
	KeyID         string            `json:"kid,omitempty"`
	KeySetURL     string            `json:"jku,omitempty"`
	KeyBits       int               `json:"key_bits,omitempty"`
	Claims        *claims.Claims    `json:"claims,omitempty"`
	Schema        string            `json:"schema,omitempty"`
	SchemaVersion int               `json:"schema_version,omitempty"`
	Record        *canonical.Record `json:"record,omitempty"`
	Encoded       hexutil.Bytes     `json:"encoded,omitempty"`
	Digest        hexutil.Bytes     `json:"digest,omitempty"`
	VerifiedAt    *time.Time        `json:"verified_at,omitempty"`

	Kind       Kind                  `json:"kind,omitempty"`
	Stage      string                `json:"stage,omitempty"`
	Error      string                `json:"error,omitempty"`
	Diagnostic *sigverify.Diagnostic `json:"diagnostic,omitempty"`
}

// Report renders a successful result.
func (r *Result) Report() Report {
	at := r.VerifiedAt
	rep := Report{
		Verified:   true,
		KeyID:      r.Header.KID,
		KeySetURL:  r.Header.JKU,
		Claims:     r.Claims,
		VerifiedAt: &at,
	}
	if r.Key != nil {
		rep.KeyBits = r.Key.Bits()
	}
	if r.Record != nil {
		rep.Schema = canonical.SchemaSignature()
		rep.SchemaVersion = canonical.SchemaVersion
		rep.Record = r.Record
		rep.Encoded = r.Encoded
		rep.Digest = r.Digest[:]
	}
	return rep
}

// FailureReport renders err with its kind, stage and any signature
// diagnostic.
func FailureReport(err error) Report {
	rep := Report{Kind: Classify(err), Error: err.Error()}
	var pe *Error
	if errors.As(err, &pe) {
		rep.Stage = pe.Stage
		rep.Error = pe.Err.Error()
	}
	if d, ok := Diagnostic(err); ok {
		rep.Diagnostic = &d
	}
	return rep
}
