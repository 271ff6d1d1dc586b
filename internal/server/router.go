package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aspect-build/attestproof/internal/attestation"
	"github.com/aspect-build/attestproof/internal/config"
	"github.com/aspect-build/attestproof/internal/db"
	"github.com/aspect-build/attestproof/internal/server/handler"
)

// Deps are the collaborators the router wires into handlers. Store, Cache
// and Agent may be nil.
type Deps struct {
	Verifier handler.Verifier
	Store    *db.Store
	Cache    handler.KeySetCache
	Agent    attestation.Collector
}

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var audit handler.AuditLog
	if deps.Store != nil && cfg.AuditLog {
		audit = deps.Store
	}
	admin := AdminAuth(cfg.AdminToken)
	limit := RateLimit(cfg.RateLimit, cfg.RateBurst)

	v1 := r.Group("/v1")
	{
		v1.POST("/verify", limit, handler.HandleVerify(deps.Verifier, audit))
		v1.POST("/inspect", limit, handler.HandleInspect())
		v1.POST("/decode", handler.HandleDecode())

		// Runs the local agent, so it is guarded like the admin routes.
		v1.POST("/attest", admin, handler.HandleSelfAttest(deps.Agent, deps.Verifier, audit))

		if deps.Store != nil {
			v1.GET("/verifications", admin, handler.HandleListVerifications(deps.Store))
			v1.GET("/keysets", admin, handler.HandleListKeySets(deps.Store))
		}
		v1.DELETE("/keysets", admin, handler.HandleInvalidateKeySets(deps.Cache))
	}

	return r
}
