package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestproof/internal/attestation"
)

// HandleSelfAttest handles POST /v1/attest: it runs the configured token
// source on this host and verifies what it returns.
func HandleSelfAttest(src attestation.Collector, v attestation.Verifier, audit AuditLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no attestation agent configured"})
			return
		}
		res, err := attestation.CollectAndVerify(c.Request.Context(), src, v)
		if err != nil {
			rep := attestation.FailureReport(err)
			record(audit, failureRow(rep, "", c.ClientIP()))
			c.JSON(StatusForKind(rep.Kind), rep)
			return
		}
		record(audit, successRow(res, c.ClientIP()))
		c.JSON(http.StatusOK, res.Report())
	}
}
