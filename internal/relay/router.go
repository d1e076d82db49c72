package relay

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/r9s-ai/gemini-relay/internal/auth"
	"github.com/r9s-ai/gemini-relay/internal/config"
	"github.com/r9s-ai/gemini-relay/internal/metrics"
	"github.com/r9s-ai/gemini-relay/internal/upstream"
)

// Deps is everything the router needs. Config must not change after NewRouter.
type Deps struct {
	Config   *config.Config
	Upstream *upstream.Client
	Logger   *logrus.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// AccessLog nil disables the per-request access line.
	AccessLog   *log.Logger
	AccessColor bool
}

type server struct {
	cfg     *config.Config
	client  *upstream.Client
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &server{cfg: d.Config, client: d.Upstream, log: logger, metrics: d.Metrics}

	r := gin.New()
	r.Use(requestIDMiddleware())
	if d.AccessLog != nil {
		r.Use(requestLogger(d.AccessLog, d.AccessColor))
	}
	r.Use(recovery(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if d.Metrics != nil && d.Config.Metrics.Enabled {
		r.GET(d.Config.Metrics.Path, gin.WrapH(d.Metrics.Handler()))
	}

	gen := r.Group("/")
	gen.Use(auth.Middleware(d.Config.Auth.APIKey))
	if d.Config.TrafficDump.Enabled {
		gen.Use(trafficDumpMiddleware(d.Config, logger))
	}
	for _, g := range []generation{s.textGeneration(), s.imageGeneration()} {
		gen.POST(g.path, s.handleGeneration(g))
	}

	r.NoRoute(staticFallback(d.Config.Server.StaticDir, d.Config.StaticEnabled(), privatePaths(d.Config)))
	return r
}
