package relay

import (
	"bytes"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_RecordsUpstreamOutcome(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	var buf bytes.Buffer
	d := Deps{Config: f.cfg, Upstream: NewUpstreamClient(f.cfg), Metrics: f.metrics, AccessLog: log.New(&buf, "", 0)}
	r := NewRouter(d)

	w := serve(r, http.MethodPost, "/generate", `{"prompt":"hi"}`, "X-Request-Id", "line-1")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "[RELAY] "), line)
	assert.Contains(t, line, `| 503 |`)
	assert.Contains(t, line, `POST "/generate"`)
	assert.Contains(t, line, "action=generateContent request_id=line-1")
	assert.True(t, strings.HasSuffix(line, "error_kind=upstream"), line)
	assert.Contains(t, line, "upstream_status=503")
}

func TestRequestLogger_UsageFields(t *testing.T) {
	f := newFixture(t, replyJSON(http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}`))
	var buf bytes.Buffer
	r := NewRouter(Deps{Config: f.cfg, Upstream: NewUpstreamClient(f.cfg), Metrics: f.metrics, AccessLog: log.New(&buf, "", 0)})

	w := serve(r, http.MethodPost, "/generate", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	line := buf.String()
	assert.Contains(t, line, "input_tokens=4 output_tokens=2")
	assert.Contains(t, line, "total_tokens=6")
	assert.NotContains(t, line, "error_kind")
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.Tokens.WithLabelValues("generateContent", "input")))
}
