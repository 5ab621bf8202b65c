// Package api is the client for the demo backend endpoints the frontend
// exercises: the FastAPI service and the Java hello service.
//
// Calls are opaque HTTP requests; the telemetry interceptor in the client's
// transport measures and traces them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gbrivate/grafana-lgtm/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Config locates the backend services.
type Config struct {
	BaseURL string        `env:"BACKEND_BASE_URL" envDefault:"http://localhost/fastapi"`
	JavaURL string        `env:"JAVA_BASE_URL" envDefault:"http://localhost/java"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`
}

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4 << 10

// StatusError is returned when the backend answers with status >= 400.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error returns the string representation of the error
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.URL, e.StatusCode)
}

// DiceResult is the rolldice response.
type DiceResult struct {
	Result int    `json:"result"`
	Player string `json:"player,omitempty"`
}

// Message is the generic {"message": ...} response.
type Message struct {
	Message string `json:"message"`
}

// Client calls the demo backend.
type Client struct {
	http    *http.Client
	baseURL string
	javaURL string
}

// New creates a client. A nil httpClient gets a transport traced through
// the global telemetry context.
func New(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = telemetry.NewTracedHTTPClient(nil)
	}
	if cfg.Timeout > 0 {
		// Copy so the shared telemetry client keeps its own settings
		c := *httpClient
		c.Timeout = cfg.Timeout
		httpClient = &c
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		javaURL: strings.TrimRight(cfg.JavaURL, "/"),
	}
}

// RollDice rolls a die for player. An empty player is omitted.
func (c *Client) RollDice(ctx context.Context, player string) (DiceResult, error) {
	q := url.Values{}
	if player != "" {
		q.Set("player", player)
	}
	var out DiceResult
	err := c.getJSON(ctx, c.baseURL+"/rolldice", q, &out)
	return out, err
}

// Slow calls an endpoint that answers after delayMs milliseconds.
func (c *Client) Slow(ctx context.Context, delayMs int) (Message, error) {
	var out Message
	err := c.getJSON(ctx, c.baseURL+"/slow", url.Values{"timeDelay": {strconv.Itoa(delayMs)}}, &out)
	return out, err
}

// Hello greets name.
func (c *Client) Hello(ctx context.Context, name string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, c.baseURL+"/hello", url.Values{"name": {name}}, &out)
	return out, err
}

// Error asks the backend to fail with code. The returned error is a
// *StatusError when the backend complied.
func (c *Client) Error(ctx context.Context, code int) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, c.baseURL+"/error", url.Values{"code": {strconv.Itoa(code)}}, &out)
	return out, err
}

// CallLoop makes the backend call itself loop times.
func (c *Client) CallLoop(ctx context.Context, loop int) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, c.baseURL+"/call-loop", url.Values{"loop": {strconv.Itoa(loop)}}, &out)
	return out, err
}

// CallJava calls the Java service hello endpoint.
func (c *Client) CallJava(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, c.javaURL+"/api/hello", nil, &out)
	return out, err
}

// SignDocument returns the base64 signature of content.
func (c *Client) SignDocument(ctx context.Context, content string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign-document", strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	telemetry.RecordBusinessEvent(ctx, "document_signed")
	return strings.TrimSpace(string(body)), nil
}

// VerifyDocument checks signature against original.
func (c *Client) VerifyDocument(ctx context.Context, signature, original string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify-document", strings.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Signature", signature)

	body, err := c.do(req)
	if err != nil {
		telemetry.RecordBusinessEvent(ctx, "document_verification_failed")
		return nil, err
	}
	telemetry.RecordBusinessEvent(ctx, "document_verified", attribute.Bool("verification.ok", true))
	return json.RawMessage(body), nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, out interface{}) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// do sends req and returns the body, or a *StatusError for status >= 400.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	return body, nil
}
