package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/attestproof/internal/db"
	"github.com/aspect-build/attestproof/internal/keyset"
)

// KeySetCache is the invalidation surface of keyset.CachingResolver.
type KeySetCache interface {
	Invalidate(url string) (bool, error)
	InvalidateAll() (int64, error)
}

var _ KeySetCache = (*keyset.CachingResolver)(nil)

// HandleListVerifications handles GET /v1/verifications?limit=&kind=.
func HandleListVerifications(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		rows, err := store.ListVerifications(limit, c.Query("kind"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if rows == nil {
			rows = []db.Verification{}
		}
		c.JSON(http.StatusOK, rows)
	}
}

// HandleListKeySets handles GET /v1/keysets.
func HandleListKeySets(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sets, err := store.ListKeySets()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		out := make([]gin.H, 0, len(sets))
		for _, s := range sets {
			out = append(out, gin.H{"url": s.URL, "fetched_at": s.FetchedAt})
		}
		c.JSON(http.StatusOK, out)
	}
}

// HandleInvalidateKeySets handles DELETE /v1/keysets[?url=].
func HandleInvalidateKeySets(cache KeySetCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cache == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "key-set cache is disabled"})
			return
		}
		if url := c.Query("url"); url != "" {
			found, err := cache.Invalidate(url)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "key set not cached"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "invalidated", "count": 1})
			return
		}
		n, err := cache.InvalidateAll()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "invalidated", "count": n})
	}
}
