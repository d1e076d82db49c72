package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/r9s-ai/gemini-relay/internal/requestid"
	"github.com/r9s-ai/gemini-relay/internal/trafficdump"
	"github.com/r9s-ai/gemini-relay/internal/upstream"
)

const (
	ctxAction         = "relay.action"
	ctxUpstreamStatus = "relay.upstream_status"
	ctxUpstreamMs     = "relay.upstream_latency_ms"
	ctxErrorKind      = "relay.error_kind"
	ctxInputTokens    = "relay.input_tokens"
	ctxOutputTokens   = "relay.output_tokens"
	ctxTotalTokens    = "relay.total_tokens"
)

// generation describes one relayed route.
type generation struct {
	path    string
	action  upstream.Action
	call    func(ctx context.Context, prompt string) (*upstream.Exchange, error)
	reshape func(data any) gin.H
}

func (s *server) textGeneration() generation {
	return generation{
		path:   "/generate",
		action: upstream.ActionGenerateContent,
		call:   s.client.GenerateText,
		reshape: func(data any) gin.H {
			return gin.H{"response": upstream.ExtractText(data).Or(upstream.NoTextFallback)}
		},
	}
}

func (s *server) imageGeneration() generation {
	return generation{
		path:   "/generateImage",
		action: upstream.ActionGenerateImage,
		call:   s.client.GenerateImage,
		reshape: func(data any) gin.H {
			return gin.H{"imageUrl": upstream.ExtractImage(data).OrNil()}
		},
	}
}

func (s *server) handleGeneration(g generation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxAction, string(g.action))

		// Without a key every request fails the same way, whatever its body.
		if strings.TrimSpace(s.client.APIKey) == "" {
			s.fail(c, g, &Error{Kind: KindConfiguration, Message: msgMissingAPIKey})
			return
		}
		prompt, rerr := s.readPrompt(c)
		if rerr != nil {
			s.fail(c, g, rerr)
			return
		}

		ex, err := g.call(c.Request.Context(), prompt)
		s.recordExchange(c, ex, err)
		if err != nil {
			s.fail(c, g, fromUpstream(err))
			return
		}
		s.respond(c, g, http.StatusOK, g.reshape(ex.Data), "ok")
	}
}

// readPrompt reads the JSON body and returns its non-empty "prompt" string.
func (s *server) readPrompt(c *gin.Context) (string, *Error) {
	body, err := ioReadAllLimit(c.Request.Body, s.cfg.Server.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return "", &Error{Kind: KindTooLarge, Message: "Request body too large.", Err: err}
		}
		return "", validationErr("Could not read request body.", err)
	}
	trafficdump.AppendOriginRequest(c, body)

	if len(bytes.TrimSpace(body)) == 0 {
		return "", validationErr(msgNoPrompt, nil)
	}
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", validationErr("Invalid JSON body: "+err.Error(), err)
	}
	// Arrays and scalars carry no "prompt" field.
	obj, _ := root.(map[string]any)
	prompt, _ := obj["prompt"].(string)
	if prompt == "" {
		return "", validationErr(msgNoPrompt, nil)
	}
	return prompt, nil
}

// recordExchange feeds one upstream call into logs, metrics and the traffic dump.
func (s *server) recordExchange(c *gin.Context, ex *upstream.Exchange, err error) {
	if ex == nil {
		return
	}
	fields := logrus.Fields{
		"request_id": c.GetString(requestid.HeaderKey),
		"action":     string(ex.Action),
		"status":     ex.Status,
		"latency_ms": ex.Latency.Milliseconds(),
	}
	c.Set(ctxUpstreamMs, ex.Latency.Milliseconds())
	if ex.Status > 0 {
		c.Set(ctxUpstreamStatus, ex.Status)
	}
	s.metrics.ObserveUpstream(string(ex.Action), ex.Status, ex.Latency)

	trafficdump.AppendUpstreamRequest(c, http.MethodPost, ex.URL, ex.RequestHeader, ex.RequestBody)
	if ex.Status > 0 {
		trafficdump.AppendUpstreamResponse(c, ex.StatusLine, ex.ResponseHeader, ex.Raw)
	} else {
		trafficdump.AppendUpstreamError(c, err)
	}

	entry := s.log.WithFields(fields)
	entry.WithField("body", string(ex.RequestBody)).Debug("upstream request")
	if ex.Status > 0 {
		entry.WithField("body", string(ex.Raw)).Debug("raw upstream response")
	}
	if err != nil {
		entry.WithError(err).Warn("upstream call failed")
		return
	}
	if u := upstream.ExtractUsage(ex.Data); !u.IsZero() {
		c.Set(ctxInputTokens, u.InputTokens)
		c.Set(ctxOutputTokens, u.OutputTokens)
		c.Set(ctxTotalTokens, u.TotalTokens)
		s.metrics.ObserveTokens(string(ex.Action), u.InputTokens, u.OutputTokens)
		entry = entry.WithFields(logrus.Fields{
			"input_tokens":  u.InputTokens,
			"output_tokens": u.OutputTokens,
			"total_tokens":  u.TotalTokens,
		})
	}
	entry.Info("upstream call ok")
}

func (s *server) fail(c *gin.Context, g generation, e *Error) {
	c.Set(ctxErrorKind, e.Kind.String())
	entry := s.log.WithFields(logrus.Fields{
		"request_id": c.GetString(requestid.HeaderKey),
		"route":      g.path,
		"kind":       e.Kind.String(),
	})
	switch e.Kind {
	case KindValidation, KindTooLarge:
		entry.Debug(e.Message)
	case KindUpstream:
		// already logged by recordExchange
	default:
		entry.Error(e.Message)
	}
	s.respond(c, g, e.HTTPStatus(), e.Body(), e.Kind.String())
}

func (s *server) respond(c *gin.Context, g generation, status int, body any, outcome string) {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		outcome = KindTransport.String()
		b = []byte(`{"error":"failed to encode response"}`)
	}
	s.metrics.ObserveRequest(g.path, outcome)
	trafficdump.AppendRelayResponse(c, status, b)
	c.Data(status, "application/json; charset=utf-8", b)
	c.Abort()
}

var errBodyTooLarge = errors.New("request body too large")

func ioReadAllLimit(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if limit <= 0 {
		_, err := buf.ReadFrom(rc)
		return buf.Bytes(), err
	}
	if _, err := io.CopyN(&buf, rc, limit+1); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(buf.Len()) > limit {
		return nil, errBodyTooLarge
	}
	return buf.Bytes(), nil
}
