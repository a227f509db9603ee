// Package remedy performs the outbound remediation calls a runbook step
// prescribes: state-machine jumps, status lookups, and job triggers against
// downstream operational services.
package remedy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/remedy"

// maxResponseBody caps how much of a downstream response is retained as
// evidence.
const maxResponseBody = 1 << 20

// CallError describes a failed remediation call. Transient marks faults
// worth retrying (timeouts, connection resets); everything else is
// permanent.
type CallError struct {
	Detail    string
	Transient bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("remediation call failed: %s", e.Detail)
}

func (e *CallError) Unwrap() error { return e.Err }

// Request is one outbound call, fully resolved (no placeholders).
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response is the downstream reply. Non-2xx statuses are data, not errors:
// the runbook's decision rules interpret them.
type Response struct {
	StatusCode int
	Body       string

	// Fields holds the parsed JSON object body, when the body is one.
	// Nil for non-JSON or non-object bodies.
	Fields map[string]any
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Config configures the remediation client.
type Config struct {
	// Timeout bounds each call (default 10s).
	Timeout time.Duration
}

// Client executes remediation calls.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient creates a remediation client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}
}

// Call executes one outbound request and returns the downstream reply.
//
// A reply is returned for every completed HTTP exchange regardless of status
// code. Only transport-level faults (unreachable host, timeout, malformed
// request) produce a *CallError.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "remedy.call",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL),
		),
	)
	defer span.End()

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &CallError{Detail: err.Error(), Err: err}
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &CallError{Detail: err.Error(), Transient: isTransient(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		span.RecordError(err)
		return nil, &CallError{Detail: err.Error(), Transient: true, Err: err}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}
	var fields map[string]any
	if json.Unmarshal(raw, &fields) == nil {
		out.Fields = fields
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("remediation call completed",
		zap.String("method", method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
	)
	return out, nil
}

// isTransient classifies transport faults worth retrying.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
