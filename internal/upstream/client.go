package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Action string

const (
	ActionGenerateContent Action = "generateContent"
	ActionGenerateImage   Action = "generateImage"
)

// Client issues one POST per call to
// {BaseURL}/models/{Model}:{action}?key={APIKey}. It holds no mutable state
// and is safe for concurrent use.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Model   string
	APIKey  string
	// Timeout bounds a single call, including reading the body. Zero means no
	// limit beyond the caller's context and the transport defaults.
	Timeout time.Duration
}

// Exchange records what was sent and what came back. It is returned even when
// the call fails, so callers can log or dump it.
type Exchange struct {
	Action         Action
	URL            string
	RequestHeader  http.Header
	RequestBody    []byte
	Status         int
	StatusLine     string
	ResponseHeader http.Header
	Raw            []byte
	Latency        time.Duration
	// Data is the decoded JSON body; nil unless the call succeeded.
	Data any
}

func (c *Client) GenerateText(ctx context.Context, prompt string) (*Exchange, error) {
	return c.Do(ctx, ActionGenerateContent, NewGenerateContentRequest(prompt))
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) (*Exchange, error) {
	return c.Do(ctx, ActionGenerateImage, &GenerateImageRequest{Prompt: prompt})
}

// Endpoint builds the full URL for action, API key included.
func (c *Client) Endpoint(action Action) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	u := base + "/models/" + url.PathEscape(c.Model) + ":" + string(action)
	q := url.Values{}
	q.Set("key", c.APIKey)
	return u + "?" + q.Encode()
}

// Do marshals payload, posts it and decodes the JSON answer.
func (c *Client) Do(ctx context.Context, action Action, payload any) (*Exchange, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ex := &Exchange{
		Action:        action,
		URL:           c.Endpoint(action),
		RequestHeader: http.Header{"Content-Type": {"application/json"}},
		RequestBody:   body,
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ex.URL, bytes.NewReader(body))
	if err != nil {
		return ex, c.transportErr(err)
	}
	req.Header = ex.RequestHeader.Clone()

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		ex.Latency = time.Since(start)
		return ex, c.transportErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	ex.Status = resp.StatusCode
	ex.StatusLine = resp.Status
	ex.ResponseHeader = resp.Header.Clone()
	raw, err := io.ReadAll(resp.Body)
	ex.Latency = time.Since(start)
	ex.Raw = raw
	if err != nil {
		return ex, c.transportErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ex, &Error{Kind: KindStatus, Status: resp.StatusCode, Body: string(raw)}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return ex, &Error{Kind: KindDecode, Status: resp.StatusCode, Body: string(raw), Err: err}
	}
	ex.Data = data
	return ex, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// transportErr wraps err and scrubs the API key that *url.Error embeds in its
// message via the request URL.
func (c *Client) transportErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = c.redact(ue.URL)
	}
	return &Error{Kind: KindTransport, Err: err}
}

func (c *Client) redact(s string) string {
	if c.APIKey == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(c.APIKey), "[REDACTED]")
	return strings.ReplaceAll(s, c.APIKey, "[REDACTED]")
}

// MaskedEndpoint is Endpoint with the key replaced, for logs.
func (c *Client) MaskedEndpoint(action Action) string {
	return c.redact(c.Endpoint(action))
}
