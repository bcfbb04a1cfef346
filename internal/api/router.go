package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	CollectorHandler *CollectorHandler
	SignatureAuth    *SignatureAuth
	Liveness         http.HandlerFunc
	Readiness        http.HandlerFunc
	Metrics          http.Handler
	Logger           *zerolog.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}

	if cfg.Liveness != nil {
		r.GET("/healthz", gin.WrapF(cfg.Liveness))
	}
	if cfg.Readiness != nil {
		r.GET("/readyz", gin.WrapF(cfg.Readiness))
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	h := cfg.CollectorHandler
	if h == nil {
		return r
	}

	api := r.Group("/api")
	{
		api.GET("/collector", h.GetCollector)
		api.GET("/owner", h.GetOwner)
		api.GET("/masters", h.ListMasters)
		api.GET("/masters/:address", h.GetMaster)
		api.GET("/assets", h.ListAssets)
		api.GET("/assets/:asset/users", h.ListUsers)
		api.GET("/assets/:asset/users/count", h.CountUsers)
		api.GET("/assets/:asset/eligible", h.EligibleAddresses)
	}

	signed := api.Group("/")
	if cfg.SignatureAuth != nil {
		signed.Use(cfg.SignatureAuth.RequireSignature())
	}
	{
		signed.POST("/owner/transfer", h.TransferOwnership)
		signed.POST("/masters", h.AddMaster)
		signed.DELETE("/masters/:address", h.RemoveMaster)
		signed.POST("/assets/:asset/users", h.RegisterUser)
		signed.POST("/assets/:asset/withdraw", h.Withdraw)
	}

	return r
}

// RequestLogger logs one line per request
func RequestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("clientIP", c.ClientIP()).
			Msg("HTTP request")
	}
}
