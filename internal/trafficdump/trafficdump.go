package trafficdump

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/gemini-relay/internal/requestid"
)

const (
	ctxKeyRecorder = "relay.traffic_dump_recorder"
	omitted        = `"[[OMITTED]]"`
)

// Large base64 image payloads: Gemini inlineData.data, Imagen bytesBase64Encoded,
// and the relayed imageUrl when it carries inline data. Short values such as
// plain URLs are kept.
var imageB64FieldRegex = regexp.MustCompile(`("(?:data|bytesBase64Encoded|imageUrl)"\s*:\s*)"[^"]{256,}"`)

type Config struct {
	Enabled     bool
	Dir         string
	FilePath    string
	MaxBytes    int
	MaskSecrets bool
}

// Recorder appends sections of one request/response cycle to a dump file.
type Recorder struct {
	mu       sync.Mutex
	f        *os.File
	maxBytes int
	mask     bool
	closed   bool
	path     string
}

func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v := strings.TrimSpace(c.GetString(requestid.HeaderKey)); v != "" {
		return v
	}
	id := requestid.Gen()
	c.Set(requestid.HeaderKey, id)
	c.Header(requestid.HeaderKey, id)
	return id
}

// Start opens the dump file for the current request and writes the META section.
//
// Template variables for cfg.FilePath:
//   - {{.request_id}}
func Start(c *gin.Context, cfg Config) (*Recorder, error) {
	if c == nil || c.Request == nil {
		return nil, errors.New("context is nil")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("traffic_dump.dir is empty")
	}
	if strings.TrimSpace(cfg.FilePath) == "" {
		return nil, errors.New("traffic_dump.file_path is empty")
	}
	if cfg.MaxBytes < 0 {
		return nil, errors.New("traffic_dump.max_bytes must be non-negative")
	}

	rid := RequestID(c)
	tmpl, err := template.New("path").Parse(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{"request_id": rid}); err != nil {
		return nil, err
	}

	dir := strings.TrimSpace(cfg.Dir)
	path := filepath.Join(dir, buf.String())
	if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("traffic dump path escapes dir: %q", buf.String())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, path, err := openExclusive(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		f:        f,
		path:     path,
		maxBytes: cfg.MaxBytes,
		mask:     cfg.MaskSecrets,
	}
	c.Set(ctxKeyRecorder, r)

	r.writeLine("=== META ===")
	r.writeLine(fmt.Sprintf("time=%s", time.Now().Format(time.RFC3339)))
	r.writeLine(fmt.Sprintf("request_id=%s", rid))
	r.writeLine(fmt.Sprintf("method=%s", c.Request.Method))
	r.writeLine(fmt.Sprintf("path=%s", MaskURL(c.Request.URL.String(), r.mask)))
	r.writeLine(fmt.Sprintf("client_ip=%s", c.ClientIP()))
	r.writeLine("headers:")
	r.writeHeaders(c.Request.Header)
	r.writeLine("")

	return r, nil
}

// maxDumpSuffix bounds how many same-id dumps can coexist.
const maxDumpSuffix = 1000

// openExclusive creates path without ever truncating an existing dump. When
// the name is taken, -1, -2, ... is inserted before the extension.
func openExclusive(path string) (*os.File, string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for i := 1; ; i++ {
		// #nosec G304 -- path is derived from configured dump dir and template.
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) || i > maxDumpSuffix {
			return nil, "", err
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

// Path is the file the recorder writes to.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func FromContext(c *gin.Context) *Recorder {
	if c == nil {
		return nil
	}
	v, ok := c.Get(ctxKeyRecorder)
	if !ok {
		return nil
	}
	rec, _ := v.(*Recorder)
	return rec
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	_ = r.f.Close()
}

func (r *Recorder) MaxBytes() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxBytes
}

func (r *Recorder) writeLine(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = r.f.WriteString(s)
	_, _ = r.f.WriteString("\n")
}

func (r *Recorder) writeHeaders(h http.Header) {
	for k, vals := range h {
		for _, v := range vals {
			r.writeLine(fmt.Sprintf("  %s: %s", k, maskIfNeeded(k, v, r.mask)))
		}
	}
}

// writeBody writes a body block limited to maxBytes.
func (r *Recorder) writeBody(title string, content []byte, contentType string, imagePath bool) {
	limited, truncated := LimitBytes(content, r.MaxBytes())
	binary := isBinaryByContentType(contentType)
	if imagePath && !binary {
		limited = redactImageBase64Fields(limited)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if title != "" {
		_, _ = r.f.WriteString(title)
		_, _ = r.f.WriteString("\n")
	}
	if binary {
		_, _ = r.f.WriteString("[base64]\n")
		_, _ = r.f.WriteString(base64.StdEncoding.EncodeToString(limited))
		_, _ = r.f.WriteString("\n")
	} else {
		_, _ = r.f.Write(limited)
		if len(limited) == 0 || limited[len(limited)-1] != '\n' {
			_, _ = r.f.WriteString("\n")
		}
	}
	if truncated {
		_, _ = r.f.WriteString("[truncated]\n")
	}
	_, _ = r.f.WriteString("\n")
}

func maskIfNeeded(key, val string, on bool) string {
	if !on {
		return val
	}
	lk := strings.ToLower(key)
	if strings.Contains(lk, "authorization") ||
		strings.Contains(lk, "api-key") ||
		lk == "cookie" ||
		strings.Contains(lk, "token") {
		return "[REDACTED]"
	}
	return val
}

// MaskURL redacts credential-like query parameters (Gemini's `key=` among them).
func MaskURL(rawURL string, on bool) string {
	if !on {
		return rawURL
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if len(q) == 0 {
		return rawURL
	}
	changed := false
	for k := range q {
		if !isSecretQueryKey(k) {
			continue
		}
		q.Set(k, "[REDACTED]")
		changed = true
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isSecretQueryKey(k string) bool {
	lk := strings.ToLower(strings.TrimSpace(k))
	if lk == "" {
		return false
	}
	if lk == "key" || lk == "api_key" || lk == "apikey" {
		return true
	}
	return strings.Contains(lk, "token") || strings.Contains(lk, "secret")
}

func isBinaryByContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return false
	}
	return !strings.Contains(ct, "json") && !strings.HasPrefix(ct, "text/")
}

func isImagePath(c *gin.Context) bool {
	if c == nil || c.Request == nil || c.Request.URL == nil {
		return false
	}
	return strings.HasPrefix(c.Request.URL.Path, "/generateImage")
}

func redactImageBase64Fields(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	return imageB64FieldRegex.ReplaceAll(body, []byte("${1}"+omitted))
}

func AppendOriginRequest(c *gin.Context, body []byte) {
	if r := FromContext(c); r != nil {
		r.writeBody("=== ORIGIN REQUEST ===", body, c.GetHeader("Content-Type"), isImagePath(c))
	}
}

func AppendUpstreamRequest(c *gin.Context, method, rawURL string, headers http.Header, body []byte) {
	if r := FromContext(c); r != nil {
		r.writeLine("=== UPSTREAM REQUEST ===")
		r.writeLine(fmt.Sprintf("%s %s", method, MaskURL(rawURL, r.mask)))
		r.writeHeaders(headers)
		r.writeLine("")
		r.writeBody("", body, headers.Get("Content-Type"), isImagePath(c))
	}
}

func AppendUpstreamResponse(c *gin.Context, statusLine string, headers http.Header, body []byte) {
	if r := FromContext(c); r != nil {
		r.writeLine("=== UPSTREAM RESPONSE ===")
		r.writeLine(statusLine)
		r.writeHeaders(headers)
		r.writeLine("")
		r.writeBody("", body, headers.Get("Content-Type"), isImagePath(c))
	}
}

// AppendUpstreamError records a call that produced no HTTP response.
func AppendUpstreamError(c *gin.Context, err error) {
	if r := FromContext(c); r != nil && err != nil {
		r.writeLine("=== UPSTREAM ERROR ===")
		r.writeLine(err.Error())
		r.writeLine("")
	}
}

func AppendRelayResponse(c *gin.Context, status int, body []byte) {
	if r := FromContext(c); r != nil {
		r.writeLine("=== RELAY RESPONSE ===")
		r.writeLine(fmt.Sprintf("status=%d", status))
		r.writeLine("")
		r.writeBody("", body, "application/json", isImagePath(c))
	}
}

func LimitBytes(b []byte, max int) (out []byte, truncated bool) {
	if max <= 0 {
		return nil, false
	}
	if len(b) <= max {
		return b, false
	}
	return b[:max], true
}
