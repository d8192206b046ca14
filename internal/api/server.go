package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "smartshopai/provisioner/docs" // register Swagger spec
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// RouterConfig holds the router settings taken from configuration.
type RouterConfig struct {
	ServiceName string
	// RunTimeout bounds bootstrap runs started over HTTP. Zero means no limit.
	RunTimeout time.Duration
}

// NewRouter builds the status API. Middleware runs in the order
// Recovery, Tracing, RequestLogger.
func NewRouter(o orchestratorService, cfg RouterConfig) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(slog.Default()))
	engine.Use(Tracing(cfg.ServiceName))
	engine.Use(RequestLogger(slog.Default()))

	h := &Handler{orchestrator: o, runTimeout: cfg.RunTimeout}

	v1 := engine.Group("/api/v1")
	v1.POST("/bootstrap", h.Bootstrap)
	v1.GET("/bootstrap/last", h.LastBootstrap)
	v1.GET("/manifest", h.Manifest)

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
