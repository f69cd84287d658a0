// Package runtimeapi provides an AWS Lambda Runtime API client for the
// custom resource's provided.al2023 runtime.
//
// The client supports the Runtime API operations the event loop needs:
//   - Getting next invocations
//   - Sending responses
//   - Reporting invocation errors
//   - Reporting initialization errors
//
// Environment Variables:
//
//	AWS_LAMBDA_RUNTIME_API - Required. Set automatically by Lambda runtime.
package runtimeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// runtimeAPIPrefix is the standard AWS Lambda Runtime API path prefix
// as defined in the Lambda Runtime API specification.
const runtimeAPIPrefix = "/2018-06-01/runtime"

// Lambda Runtime API headers used for metadata exchange between
// the Lambda service and custom runtimes.
const (
	// headerAWSRequestID contains the unique request identifier for each invocation.
	// Example: "8476a536-e9f4-11e8-9739-2dfe598c3fcd"
	headerAWSRequestID = "Lambda-Runtime-Aws-Request-Id"

	// headerDeadlineMS contains the invocation deadline in Unix milliseconds.
	// Example: "1542409706888"
	headerDeadlineMS = "Lambda-Runtime-Deadline-Ms"

	// headerTraceID contains the AWS X-Ray tracing information.
	headerTraceID = "Lambda-Runtime-Trace-Id"

	// headerInvokedFunctionARN contains the ARN of the invoked Lambda function.
	// Example: "arn:aws:lambda:us-east-2:123456789012:function:my-function"
	headerInvokedFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"
)

// maxPayloadPrealloc caps the buffer preallocated from Content-Length.
const maxPayloadPrealloc = 10 << 20

// ErrMissingRuntimeAPI is returned by NewClient outside of the Lambda environment.
var ErrMissingRuntimeAPI = errors.New("AWS_LAMBDA_RUNTIME_API environment variable not set")

// RuntimeAPI defines the Lambda Runtime API operations used by the event loop.
// The event loop depends on this interface so it can be driven by a fake in tests.
type RuntimeAPI interface {
	// Next retrieves the next invocation event from the Lambda Runtime API.
	// This method blocks until an invocation is available or an error occurs.
	// The provided context can be used to cancel the request (e.g., during shutdown).
	Next(ctx context.Context) (*Invocation, error)

	// Response sends a successful response back to the Lambda Runtime API.
	// The payload should be the JSON-encoded result of the function execution.
	Response(ctx context.Context, requestID string, payload []byte) error

	// Error sends an error response back to the Lambda Runtime API.
	Error(ctx context.Context, requestID string, errBody []byte) error

	// InitError sends an initialization error to the Lambda Runtime API.
	InitError(ctx context.Context, errBody []byte) error
}

var _ RuntimeAPI = (*Client)(nil)

// lambdaTransport is a shared HTTP transport for the local Runtime API endpoint:
//   - No proxy configuration (the endpoint is loopback)
//   - No compression and no HTTP/2 (plain HTTP/1.1)
//   - Fast dial and keep-alive settings for low latency
var lambdaTransport = &http.Transport{
	Proxy:               nil,
	MaxIdleConns:        4,
	MaxIdleConnsPerHost: 4,
	IdleConnTimeout:     120 * time.Second,
	DisableCompression:  true,
	ForceAttemptHTTP2:   false,
	DialContext: (&net.Dialer{
		Timeout:   1 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ExpectContinueTimeout: 0,
}

// Client implements the RuntimeAPI interface over HTTP.
//
// Two http.Clients share one transport: /invocation/next is a long poll and
// must not time out, while POSTs are expected to finish quickly.
type Client struct {
	// Pre-computed URLs
	nextURL    string
	initErrURL string
	invoPrefix string

	nextClient *http.Client
	postClient *http.Client
}

// NewClient creates a new Lambda Runtime API client.
// The client reads the runtime API endpoint from the AWS_LAMBDA_RUNTIME_API
// environment variable, which is automatically set by the Lambda service.
func NewClient() (*Client, error) {
	host := os.Getenv("AWS_LAMBDA_RUNTIME_API")
	if host == "" {
		return nil, ErrMissingRuntimeAPI
	}
	return NewClientWithEndpoint(host), nil
}

// NewClientWithEndpoint creates a client for an explicit host:port, such as
// the runtime interface emulator or an httptest server.
func NewClientWithEndpoint(host string) *Client {
	baseURL := "http://" + host + runtimeAPIPrefix
	return &Client{
		nextURL:    baseURL + "/invocation/next",
		initErrURL: baseURL + "/init/error",
		invoPrefix: baseURL + "/invocation/",
		nextClient: &http.Client{Transport: lambdaTransport, Timeout: 0},
		postClient: &http.Client{Transport: lambdaTransport, Timeout: 5 * time.Second},
	}
}

// Invocation represents a Lambda function invocation event received from
// the Runtime API.
type Invocation struct {
	// RequestID is the unique identifier for this invocation.
	// This must be used when sending responses or errors.
	RequestID string

	// InvokedFunctionArn is the ARN of the Lambda function being invoked.
	InvokedFunctionArn string

	// Deadline is when the function execution must complete.
	// The Lambda service will terminate the execution after this time.
	Deadline time.Time

	// TraceID contains AWS X-Ray tracing information.
	TraceID string

	// Payload contains the raw invocation event data as JSON bytes.
	Payload []byte
}

// ---- Internal Helpers ----------------------------------------------------------

// drainAndClose ensures the HTTP response body is fully read and closed.
// If the body isn't fully drained the connection cannot be reused.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.Copy(io.Discard, b)
	_ = b.Close()
}

// parseDeadline converts the Lambda-Runtime-Deadline-Ms header (Unix
// milliseconds) to time.Time. A missing or malformed header yields zero time.
func parseDeadline(h http.Header) time.Time {
	if msStr := h.Get(headerDeadlineMS); msStr != "" {
		if ms, err := strconv.ParseInt(msStr, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

// parseInvocation parses an HTTP response from /invocation/next into an Invocation.
func parseInvocation(resp *http.Response) (*Invocation, error) {
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("invocation/next failed: %s: %s", resp.Status, string(body))
	}

	var payload []byte
	if resp.ContentLength > 0 && resp.ContentLength <= maxPayloadPrealloc {
		bb := bytes.NewBuffer(make([]byte, 0, resp.ContentLength))
		if _, err := bb.ReadFrom(io.LimitReader(resp.Body, resp.ContentLength)); err != nil {
			return nil, fmt.Errorf("failed to read invocation payload: %w", err)
		}
		payload = bb.Bytes()
	} else {
		var err error
		if payload, err = io.ReadAll(resp.Body); err != nil {
			return nil, fmt.Errorf("failed to read invocation payload: %w", err)
		}
	}

	h := resp.Header
	return &Invocation{
		RequestID:          h.Get(headerAWSRequestID),
		InvokedFunctionArn: h.Get(headerInvokedFunctionARN),
		Deadline:           parseDeadline(h),
		TraceID:            h.Get(headerTraceID),
		Payload:            payload,
	}, nil
}

// ---- Public Runtime API Methods ------------------------------------------------

// Next retrieves the next invocation from the Lambda Runtime API.
// It blocks until an invocation is available, ctx is canceled, or the
// request fails.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nextURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.nextClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get next invocation: %w", err)
	}

	return parseInvocation(resp)
}

// Response sends a successful response for a Lambda invocation.
// The payload should be valid JSON.
func (c *Client) Response(ctx context.Context, requestID string, payload []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.post(ctx, c.invoPrefix+requestID+"/response", payload)
}

// Error sends an error response for a Lambda invocation. errBody should be
// a JSON object with errorMessage and errorType.
func (c *Client) Error(ctx context.Context, requestID string, errBody []byte) error {
	if requestID == "" {
		return errors.New("requestID cannot be empty")
	}
	return c.post(ctx, c.invoPrefix+requestID+"/error", errBody)
}

// InitError reports a failure during the init phase. The Lambda service
// terminates the runtime afterwards.
func (c *Client) InitError(ctx context.Context, errBody []byte) error {
	return c.post(ctx, c.initErrURL, errBody)
}

// post handles the common POST logic for responses, errors, and init errors.
func (c *Client) post(ctx context.Context, url string, body []byte) error {
	// bytes.Reader gives a Content-Length and avoids chunked encoding
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.postClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s failed: %s: %s", url, resp.Status, string(b))
	}

	return nil
}
