package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultAnalyzeTimeout = 5 * time.Minute
	defaultMaxBodyBytes   = 64 << 20
	userAgent             = "nexus-client/1.0"
	requestIDHeader       = "X-Request-ID"
)

// Endpoint is a logical name for one of the remote service routes.
type Endpoint string

const (
	EndpointPing        Endpoint = "ping"
	EndpointAnalyze     Endpoint = "analyze"
	EndpointGeneratePDF Endpoint = "generate-pdf"
	EndpointHistory     Endpoint = "history"
)

var endpointPaths = map[Endpoint]string{
	EndpointPing:        "/",
	EndpointAnalyze:     "/analyze-document",
	EndpointGeneratePDF: "/generate-pdf",
	EndpointHistory:     "/history",
}

// Path reports the route an endpoint resolves to.
func (e Endpoint) Path() (string, bool) {
	path, ok := endpointPaths[e]
	return path, ok
}

// Config describes how to reach the remote service.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	AnalyzeTimeout time.Duration
	MaxBodyBytes   int64
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Outcome is what came back from the service. A non-2xx status is still an
// Outcome; only a missing response is an error.
type Outcome struct {
	OK          bool
	Status      int
	Body        []byte
	ContentType string
	RequestID   string
}

// Text returns the body as a string.
func (o Outcome) Text() string {
	return string(o.Body)
}

// Client sends requests to the remote service. It keeps no per-request state and
// is safe for concurrent use.
type Client struct {
	base           *url.URL
	http           *http.Client
	timeout        time.Duration
	analyzeTimeout time.Duration
	maxBody        int64
	logger         *slog.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base URL %q must use http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("remote: base URL %q has no host", raw)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	analyzeTimeout := cfg.AnalyzeTimeout
	if analyzeTimeout <= 0 {
		analyzeTimeout = defaultAnalyzeTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:           base,
		http:           pickHTTPClient(cfg.HTTPClient),
		timeout:        timeout,
		analyzeTimeout: analyzeTimeout,
		maxBody:        maxBody,
		logger:         logger,
	}, nil
}

func pickHTTPClient(custom *http.Client) *http.Client {
	if custom != nil {
		return custom
	}
	// Deadlines come from the per-endpoint context so the slow analysis call is
	// not cut short by a client-wide timeout.
	return &http.Client{}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Send performs one request. It returns a *TransportError only when no
// response could be obtained; any HTTP status, including 4xx and 5xx, is
// reported through the Outcome with the body read in full.
func (c *Client) Send(ctx context.Context, endpoint Endpoint, method string, payload Payload) (Outcome, error) {
	path, ok := endpoint.Path()
	if !ok {
		return Outcome{}, &TransportError{Endpoint: endpoint, Method: method, Err: fmt.Errorf("unknown endpoint %q", endpoint)}
	}
	requestID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(endpoint))
	defer cancel()

	req, err := c.newRequest(ctx, path, method, payload)
	if err != nil {
		return Outcome{}, &TransportError{Endpoint: endpoint, Method: method, RequestID: requestID, Err: err}
	}
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("remote request failed",
			"endpoint", endpoint, "method", method, "requestId", requestID,
			"duration", time.Since(started), "error", err)
		return Outcome{}, &TransportError{Endpoint: endpoint, Method: method, RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.logger.Warn("remote body read failed",
			"endpoint", endpoint, "method", method, "requestId", requestID,
			"status", resp.StatusCode, "error", err)
		return Outcome{}, &TransportError{Endpoint: endpoint, Method: method, RequestID: requestID, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return Outcome{}, &TransportError{Endpoint: endpoint, Method: method, RequestID: requestID, Err: fmt.Errorf("response body exceeds %d bytes", c.maxBody)}
	}

	outcome := Outcome{
		OK:          resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		RequestID:   requestID,
	}
	c.logger.Info("remote request completed",
		"endpoint", endpoint, "method", method, "requestId", requestID,
		"status", outcome.Status, "bytes", len(body), "duration", time.Since(started))
	return outcome, nil
}

func (c *Client) timeoutFor(endpoint Endpoint) time.Duration {
	if endpoint == EndpointAnalyze {
		return c.analyzeTimeout
	}
	return c.timeout
}

func (c *Client) newRequest(ctx context.Context, path, method string, payload Payload) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	target := c.base.JoinPath(path).String()
	if payload == nil {
		return http.NewRequestWithContext(ctx, method, target, nil)
	}
	body, contentType, err := payload.encode()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

// Payload is a request body. Implementations are Multipart and JSON.
type Payload interface {
	encode() ([]byte, string, error)
}

// Multipart sends a single file field as multipart/form-data.
type Multipart struct {
	Field    string
	Filename string
	Data     []byte
}

func (m Multipart) encode() ([]byte, string, error) {
	field := m.Field
	if field == "" {
		field = "file"
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, m.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(m.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// JSON sends Value encoded as a JSON document.
type JSON struct {
	Value any
}

func (j JSON) encode() ([]byte, string, error) {
	data, err := json.Marshal(j.Value)
	if err != nil {
		return nil, "", fmt.Errorf("encode json payload: %w", err)
	}
	return data, "application/json", nil
}
