package relay

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/r9s-ai/gemini-relay/internal/config"
	"github.com/r9s-ai/gemini-relay/internal/logx"
	"github.com/r9s-ai/gemini-relay/internal/requestid"
	"github.com/r9s-ai/gemini-relay/internal/trafficdump"
)

// requestIDMiddleware keeps a well-formed inbound X-Request-Id and mints one
// otherwise.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestid.HeaderKey))
		if !requestid.Valid(id) {
			id = requestid.Gen()
		}
		c.Header(requestid.HeaderKey, id)
		c.Set(requestid.HeaderKey, id)
		c.Next()
	}
}

func requestLogger(l *log.Logger, color bool) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", 0)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{}
		if v := c.GetString(requestid.HeaderKey); v != "" {
			fields["request_id"] = v
		}
		if v, ok := c.Get(ctxAction); ok {
			fields["action"] = v
		}
		if v, ok := c.Get(ctxInputTokens); ok {
			fields["input_tokens"] = v
		}
		if v, ok := c.Get(ctxOutputTokens); ok {
			fields["output_tokens"] = v
		}
		if v, ok := c.Get(ctxTotalTokens); ok {
			fields["total_tokens"] = v
		}
		if v, ok := c.Get(ctxUpstreamStatus); ok {
			fields["upstream_status"] = v
		}
		if v, ok := c.Get(ctxUpstreamMs); ok {
			fields["upstream_latency_ms"] = v
		}
		if v, ok := c.Get(ctxErrorKind); ok {
			fields["error_kind"] = v
		}

		l.Println(logx.FormatRequestLine(time.Now(), c.Writer.Status(), time.Since(start), c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
	}
}

func recovery(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString(requestid.HeaderKey),
			"path":       c.Request.URL.Path,
		}).Errorf("panic: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func trafficDumpMiddleware(cfg *config.Config, logger *logrus.Logger) gin.HandlerFunc {
	tdcfg := trafficdump.Config{
		Enabled:     cfg.TrafficDump.Enabled,
		Dir:         cfg.TrafficDump.Dir,
		FilePath:    cfg.TrafficDump.FilePath,
		MaxBytes:    cfg.TrafficDump.MaxBytes,
		MaskSecrets: cfg.MaskSecrets(),
	}
	return func(c *gin.Context) {
		rec, err := trafficdump.Start(c, tdcfg)
		if err != nil {
			logger.WithError(err).Warn("traffic dump disabled for request")
			c.Next()
			return
		}
		defer rec.Close()
		c.Next()
	}
}
