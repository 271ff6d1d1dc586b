package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/canonical"
	"github.com/aspect-build/attestproof/internal/token"
)

type inspectRequest struct {
	Token string `json:"token" binding:"required"`
}

type decodeRequest struct {
	Record string `json:"record" binding:"required"`
}

func peekHeader(raw string) (token.Header, bool) {
	tok, err := token.Parse(raw)
	if err != nil {
		return token.Header{}, false
	}
	hdr, err := tok.Header()
	return hdr, err == nil
}

// HandleInspect handles POST /v1/inspect. Nothing is verified.
func HandleInspect() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		var req inspectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := attestation.Inspect(req.Token)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": attestation.Classify(err)})
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// HandleDecode handles POST /v1/decode: it unpacks a 0x-hex canonical
// record and reports its digest.
func HandleDecode() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
		var req decodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := hexutil.Decode(req.Record)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record must be 0x-prefixed hex: " + err.Error()})
			return
		}
		rec, err := canonical.Decode(b)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d := canonical.Digest(b)
		c.JSON(http.StatusOK, gin.H{
			"schema":         canonical.SchemaSignature(),
			"schema_version": canonical.SchemaVersion,
			"record":         rec,
			"digest":         hexutil.Encode(d[:]),
		})
	}
}
