// Package attestation runs the verification pipeline over a compact
// attestation token: parse, resolve the signing key, check the signature,
// extract claims, apply an optional policy and build the encoded record.
package attestation

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/claims"
	"github.com/aspect-build/attestproof/internal/keyset"
	"github.com/aspect-build/attestproof/internal/logx"
	"github.com/aspect-build/attestproof/internal/metrics"
	"github.com/aspect-build/attestproof/internal/policy"
	"github.com/aspect-build/attestproof/internal/sigverify"
	"github.com/aspect-build/attestproof/internal/token"
)

// Verifier turns a compact token into a verified result. A nil error is the
// only success signal.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Result, error)
}

// Result is produced only when every stage succeeded.
type Result struct {
	Token      *token.Token
	Header     token.Header
	Key        *keyset.PublicKey
	Claims     *claims.Claims
	Record     *canonical.Record
	Encoded    []byte
	Digest     [32]byte
	VerifiedAt time.Time
}

// TokenVerifier runs parse, key resolution, signature check, claim
// extraction, optional policy and canonical encoding in that order.
type TokenVerifier struct {
	resolver keyset.Resolver
	policy   *policy.Engine

	// Now is overridable for tests.
	Now func() time.Time
}

// NewTokenVerifier builds a verifier. pol may be nil.
func NewTokenVerifier(resolver keyset.Resolver, pol *policy.Engine) *TokenVerifier {
	return &TokenVerifier{resolver: resolver, policy: pol, Now: time.Now}
}

// Verify runs the full pipeline and returns the encoded record.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*Result, error) {
	return v.run(ctx, raw, true)
}

// VerifyClaims stops after claims and policy. The signature is still
// checked; Record and Encoded stay empty. Tokens without a client payload
// verify through this path.
func (v *TokenVerifier) VerifyClaims(ctx context.Context, raw string) (*Result, error) {
	return v.run(ctx, raw, false)
}

func (v *TokenVerifier) run(ctx context.Context, raw string, encode bool) (res *Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(Classify(err))
		}
		metrics.Verifications.WithLabelValues(outcome).Inc()
	}()

	tok, err := token.Parse(raw)
	if err != nil {
		return nil, fail("parse", err)
	}
	hdr, err := tok.Header()
	if err != nil {
		return nil, fail("header", err)
	}
	logx.Debugf("attestation.header alg=%s kid=%s jku=%s", hdr.Alg, hdr.KID, hdr.JKU)

	key, err := v.resolver.Resolve(ctx, hdr.JKU, hdr.KID)
	if err != nil {
		return nil, fail("resolve", err)
	}
	if err := sigverify.Verify(key.Key, tok.SignedMessage, tok.Signature); err != nil {
		logx.Warnf("attestation.signature_invalid kid=%s err=%v", hdr.KID, err)
		return nil, fail("signature", err)
	}

	c, err := claims.Extract(tok.PayloadJSON)
	if err != nil {
		return nil, fail("claims", err)
	}
	if err := v.policy.Evaluate(ctx, c); err != nil {
		return nil, fail("policy", err)
	}

	res = &Result{
		Token:      tok,
		Header:     hdr,
		Key:        key,
		Claims:     c,
		VerifiedAt: v.Now(),
	}
	if encode {
		rec, err := canonical.NewRecord(tok.Signature, tok.SignedMessage, key.E, key.N, c)
		if err != nil {
			return nil, fail("encode", err)
		}
		out, err := canonical.Encode(rec)
		if err != nil {
			return nil, fail("encode", err)
		}
		res.Record = rec
		res.Encoded = out
		res.Digest = canonical.Digest(out)
	}

	logx.Infof("attestation.verified kid=%s iss=%s tee=%s compliance=%s digest=%s",
		hdr.KID, c.Issuer, c.Isolation.AttestationType, c.Isolation.ComplianceStatus, shortHex(res.Digest[:], encode))
	return res, nil
}

func fail(stage string, err error) error {
	return &Error{Kind: Classify(err), Stage: stage, Err: err}
}

func shortHex(b []byte, present bool) string {
	if !present {
		return "-"
	}
	x := hex.EncodeToString(b)
	if logx.IsDebug() || len(x) <= 16 {
		return x
	}
	return x[:16] + "..."
}
