package attestation

import (
	"errors"
	"fmt"

	"github.com/aspect-build/attestproof/internal/b64url"
	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/claims"
	"github.com/aspect-build/attestproof/internal/keyset"
	"github.com/aspect-build/attestproof/internal/policy"
	"github.com/aspect-build/attestproof/internal/sigverify"
	"github.com/aspect-build/attestproof/internal/token"
)

// Kind names the reason a verification failed.
type Kind string

const (
	KindMalformedToken    Kind = "MalformedToken"
	KindMalformedEncoding Kind = "MalformedEncoding"
	KindKeySetFetch       Kind = "KeySetFetchError"
	KindKeySetFormat      Kind = "KeySetFormatError"
	KindKeySetURLRejected Kind = "KeySetURLRejected"
	KindKeyNotFound       Kind = "KeyNotFound"
	KindKeyMaterial       Kind = "KeyMaterialError"
	KindSignatureInvalid  Kind = "SignatureInvalid"
	KindClaimMissing      Kind = "ClaimMissing"
	KindClaimTypeMismatch Kind = "ClaimTypeMismatch"
	KindEncodingWidth     Kind = "EncodingWidthError"
	KindPolicyViolation   Kind = "PolicyViolation"
	KindTokenSource       Kind = "TokenSourceError"
	KindUnknown           Kind = "Unknown"
)

// ErrTokenSource marks a collector failure.
var ErrTokenSource = errors.New("token source failed")

// Error wraps a pipeline failure with the stage it happened in.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var kindTable = []struct {
	target error
	kind   Kind
}{
	{ErrTokenSource, KindTokenSource},
	{b64url.ErrMalformedEncoding, KindMalformedEncoding},
	{token.ErrMalformedToken, KindMalformedToken},
	{keyset.ErrURLNotAllowed, KindKeySetURLRejected},
	{keyset.ErrFetch, KindKeySetFetch},
	{keyset.ErrFormat, KindKeySetFormat},
	{keyset.ErrKeyNotFound, KindKeyNotFound},
	{keyset.ErrKeyMaterial, KindKeyMaterial},
	{sigverify.ErrSignatureInvalid, KindSignatureInvalid},
	{claims.ErrClaimMissing, KindClaimMissing},
	{claims.ErrClaimTypeMismatch, KindClaimTypeMismatch},
	{canonical.ErrEncodingWidth, KindEncodingWidth},
	{policy.ErrPolicyViolation, KindPolicyViolation},
}

// Classify maps any error from this module to a Kind. A nil error has no
// kind; everything unrecognized, including cancellation, is KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	for _, row := range kindTable {
		if errors.Is(err, row.target) {
			return row.kind
		}
	}
	return KindUnknown
}

// Diagnostic returns the length details attached to a signature failure.
func Diagnostic(err error) (sigverify.Diagnostic, bool) {
	var se *sigverify.Error
	if errors.As(err, &se) {
		return se.Diagnostic, true
	}
	return sigverify.Diagnostic{}, false
}
