// Package remote is the HTTP client for the validation service.
//
// The service exposes three endpoints:
//
//	GET  /health              liveness, any 2xx is ready
//	POST /validate/{dataset}  multipart field "file", returns a validation report
//	POST /save/{dataset}      JSON previews, returns {"message": "..."}
//
// Every failure leaving this package is a *core.OperationError whose kind was
// decided here, where the response (or the lack of one) is seen.
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
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// DefaultMaxResponseSize caps how much of a response body is read.
const DefaultMaxResponseSize = 64 << 20

// Client talks to one validation service instance. It implements
// core.Prober, core.ValidationService and core.PersistenceService.
type Client struct {
	baseURL     string
	healthPath  string
	http        *http.Client
	maxResponse int64
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Deadlines come from the
// request context, so the client should not set its own Timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithHealthPath overrides the liveness path ("/health").
func WithHealthPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.healthPath = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithMaxResponseSize limits response bodies to n bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponse = n
		}
	}
}

// WithLogger sets the logger used for per-call debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse validator url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("validator url must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("validator url has no host: %q", baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		healthPath:  "/health",
		http:        &http.Client{},
		maxResponse: DefaultMaxResponseSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalised service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe performs one liveness check.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// Validate uploads file for validation against dataset sel.
func (c *Client) Validate(ctx context.Context, sel core.DatasetSelector, file *core.UploadedFile) (*core.ValidationReport, error) {
	if sel == "" || file == nil {
		return nil, core.NewOperationError(core.OpValidate, core.KindMissingInput, 0, "", nil)
	}

	body, contentType, err := multipartBody(file)
	if err != nil {
		return nil, core.NewOperationError(core.OpValidate, core.KindMissingInput, 0, "The file could not be attached", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("validate", sel), body)
	if err != nil {
		return nil, core.NewOperationError(core.OpValidate, core.KindRejected, 0, "", err)
	}
	req.Header.Set("Content-Type", contentType)

	raw, err := c.do(req, core.OpValidate)
	if err != nil {
		return nil, err
	}

	report, err := core.DecodeReport(bytes.NewReader(raw))
	if err != nil {
		return nil, core.NewOperationError(core.OpValidate, core.KindRejected, http.StatusOK,
			"The validation service returned a malformed report", err)
	}
	return report, nil
}

// Save sends previews for dataset sel and returns the service's confirmation.
func (c *Client) Save(ctx context.Context, sel core.DatasetSelector, previews core.Previews) (string, error) {
	if sel == "" {
		return "", core.NewOperationError(core.OpSave, core.KindMissingInput, 0, "", nil)
	}

	payload, err := json.Marshal(previews)
	if err != nil {
		return "", core.NewOperationError(core.OpSave, core.KindRejected, 0, "The previews could not be encoded", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("save", sel), bytes.NewReader(payload))
	if err != nil {
		return "", core.NewOperationError(core.OpSave, core.KindRejected, 0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req, core.OpSave)
	if err != nil {
		return "", err
	}

	var confirmation struct {
		Message string `json:"message"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &confirmation); err != nil {
			return "", core.NewOperationError(core.OpSave, core.KindRejected, http.StatusOK,
				"The persistence service returned a malformed confirmation", err)
		}
	}
	return confirmation.Message, nil
}

func (c *Client) endpoint(action string, sel core.DatasetSelector) string {
	return c.baseURL + "/" + action + "/" + url.PathEscape(string(sel))
}

// do sends req and returns the body of a 2xx response. Anything else comes
// back classified.
func (c *Client) do(req *http.Request, op core.Op) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if id := middleware.GetReqID(req.Context()); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("validation service call failed",
			"op", op, "url", req.URL.Path, "duration", time.Since(start), "error", err)
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		c.logger.Debug("validation service body read failed",
			"op", op, "url", req.URL.Path, "status", resp.StatusCode, "error", err)
		// The status line already arrived; a server error stays a server error.
		if resp.StatusCode >= 500 {
			return nil, core.NewOperationError(op, core.KindServiceFault, resp.StatusCode, "", err)
		}
		return nil, transportError(op, err)
	}
	c.logger.Debug("validation service call",
		"op", op, "url", req.URL.Path, "status", resp.StatusCode,
		"bytes", len(raw), "duration", time.Since(start))

	switch {
	case resp.StatusCode >= 500:
		return nil, core.NewOperationError(op, core.KindServiceFault, resp.StatusCode, detail(raw), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := detail(raw)
		if msg == "" {
			msg = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, core.NewOperationError(op, core.KindRejected, resp.StatusCode, msg, nil)
	}

	if int64(len(raw)) > c.maxResponse {
		return nil, core.NewOperationError(op, core.KindRejected, resp.StatusCode,
			fmt.Sprintf("The response exceeded %d bytes", c.maxResponse), nil)
	}
	return raw, nil
}

// transportError classifies a failure where no usable response arrived.
func transportError(op core.Op, err error) *core.OperationError {
	switch {
	case errors.Is(err, context.Canceled):
		return core.NewOperationError(op, core.KindCancelled, 0, "", err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewOperationError(op, core.KindTimeout, 0, "", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return core.NewOperationError(op, core.KindTimeout, 0, "", err)
	}
	return core.NewOperationError(op, core.KindUnreachable, 0, "", err)
}

// detail extracts the service's "detail" field. Strings are returned as is;
// structured details are returned as compact JSON.
func detail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	d := bytes.TrimSpace(envelope.Detail)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(d, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, d); err != nil {
		return string(d)
	}
	return buf.String()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(file *core.UploadedFile) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", file.ContentType())

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
