package handler

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/db"
	"github.com/aspect-build/attestproof/internal/logx"
)

// Verifier is the subset of attestation.TokenVerifier the handlers need.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*attestation.Result, error)
	VerifyClaims(ctx context.Context, raw string) (*attestation.Result, error)
}

// AuditLog records verification outcomes. May be nil.
type AuditLog interface {
	RecordVerification(v *db.Verification) error
}

type verifyRequest struct {
	Token      string `json:"token" binding:"required"`
	ClaimsOnly bool   `json:"claims_only"`
}

// maxRequestBytes bounds a verify or decode body.
const maxRequestBytes = 256 << 10

// HandleVerify handles POST /v1/verify.
func HandleVerify(v Verifier, audit AuditLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		verify := v.Verify
		if req.ClaimsOnly {
			verify = v.VerifyClaims
		}
		res, err := verify(c.Request.Context(), req.Token)
		if err != nil {
			rep := attestation.FailureReport(err)
			record(audit, failureRow(rep, req.Token, c.ClientIP()))
			c.JSON(StatusForKind(rep.Kind), rep)
			return
		}

		rep := res.Report()
		record(audit, successRow(res, c.ClientIP()))
		c.JSON(http.StatusOK, rep)
	}
}

// StatusForKind maps a failure kind to an HTTP status. Input problems are
// 4xx, unreachable key sets are 502.
func StatusForKind(k attestation.Kind) int {
	switch k {
	case attestation.KindMalformedToken, attestation.KindMalformedEncoding:
		return http.StatusBadRequest
	case attestation.KindKeySetFetch, attestation.KindKeySetFormat, attestation.KindTokenSource:
		return http.StatusBadGateway
	case attestation.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func record(audit AuditLog, row *db.Verification) {
	if audit == nil {
		return
	}
	if err := audit.RecordVerification(row); err != nil {
		logx.Warnf("audit.record_failed err=%v", err)
	}
}

func successRow(res *attestation.Result, clientIP string) *db.Verification {
	row := &db.Verification{
		Verified:        true,
		KeyID:           res.Header.KID,
		KeySetURL:       res.Header.JKU,
		Issuer:          res.Claims.Issuer,
		AttestationType: res.Claims.Isolation.AttestationType,
		ClientIP:        clientIP,
	}
	if res.Record != nil {
		row.Digest = "0x" + hex.EncodeToString(res.Digest[:])
		row.SchemaVersion = canonical.SchemaVersion
	}
	return row
}

// failureRow keeps only header identifiers from a rejected token; the
// payload is unverified and not stored.
func failureRow(rep attestation.Report, raw, clientIP string) *db.Verification {
	row := &db.Verification{
		Kind:     string(rep.Kind),
		Error:    rep.Error,
		ClientIP: clientIP,
	}
	if hdr, ok := peekHeader(raw); ok {
		row.KeyID = hdr.KID
		row.KeySetURL = hdr.JKU
	}
	return row
}
