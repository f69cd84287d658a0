package runtimeapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Test behavior: parseDeadline should correctly convert Unix ms header to time.Time
func TestParseDeadline(t *testing.T) {
	h := http.Header{}
	h.Set(headerDeadlineMS, "1700000000000")

	got := parseDeadline(h)
	want := time.Unix(0, 1_700_000_000_000*int64(time.Millisecond))
	if !got.Equal(want) {
		t.Errorf("parseDeadline: expected %v, got %v", want, got)
	}

	if got := parseDeadline(http.Header{}); !got.IsZero() {
		t.Errorf("parseDeadline: expected zero time for missing header, got %v", got)
	}

	bad := http.Header{}
	bad.Set(headerDeadlineMS, "soon")
	if got := parseDeadline(bad); !got.IsZero() {
		t.Errorf("parseDeadline: expected zero time for malformed header, got %v", got)
	}
}

// Test behavior: parseInvocation should return error for non-200 status
func TestParseInvocationErrorStatus(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusInternalServerError,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(bytes.NewBufferString("boom")),
		Header:     http.Header{},
	}

	inv, err := parseInvocation(resp)
	if err == nil {
		t.Fatal("parseInvocation should return error for non-200 status")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should include the response body, got %v", err)
	}
	if inv != nil {
		t.Errorf("parseInvocation should return nil invocation on error, got %+v", inv)
	}
}

// Test behavior: parseInvocation should extract headers and payload on success
func TestParseInvocationSuccess(t *testing.T) {
	payload := []byte(`{"RequestType":"Update"}`)
	h := http.Header{}
	h.Set(headerAWSRequestID, "req-123")
	h.Set(headerInvokedFunctionARN, "arn:aws:lambda:us-east-1:123:function:publisher")
	h.Set(headerDeadlineMS, "1700000000000")
	h.Set(headerTraceID, "Root=1-abc;Parent=def;Sampled=1")

	for _, contentLength := range []int64{int64(len(payload)), -1} {
		resp := &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Body:          io.NopCloser(bytes.NewReader(payload)),
			Header:        h,
			ContentLength: contentLength,
		}

		inv, err := parseInvocation(resp)
		if err != nil {
			t.Fatalf("parseInvocation unexpected error: %v", err)
		}
		if inv.RequestID != "req-123" {
			t.Errorf("expected RequestID 'req-123', got '%s'", inv.RequestID)
		}
		if inv.InvokedFunctionArn != "arn:aws:lambda:us-east-1:123:function:publisher" {
			t.Errorf("unexpected ARN: %s", inv.InvokedFunctionArn)
		}
		if inv.Deadline.IsZero() {
			t.Error("expected non-zero Deadline from header")
		}
		if inv.TraceID == "" {
			t.Error("expected TraceID to be populated")
		}
		if string(inv.Payload) != string(payload) {
			t.Errorf("payload mismatch (content length %d): expected %s, got %s", contentLength, payload, inv.Payload)
		}
	}
}

func TestNewClientRequiresEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	if _, err := NewClient(); !errors.Is(err, ErrMissingRuntimeAPI) {
		t.Errorf("expected ErrMissingRuntimeAPI, got %v", err)
	}

	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.nextURL != "http://127.0.0.1:9001/2018-06-01/runtime/invocation/next" {
		t.Errorf("unexpected next URL: %s", c.nextURL)
	}
}

// Test behavior: the client speaks the Runtime API paths end to end
func TestClientRoundTrip(t *testing.T) {
	type call struct {
		method, path, body string
	}
	var (
		mu    sync.Mutex
		calls []call
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, string(b)})
		mu.Unlock()
		switch r.URL.Path {
		case runtimeAPIPrefix + "/invocation/next":
			w.Header().Set(headerAWSRequestID, "req-1")
			w.Header().Set(headerDeadlineMS, "1700000000000")
			_, _ = w.Write([]byte(`{"RequestType":"Delete"}`))
		case runtimeAPIPrefix + "/invocation/req-1/response", runtimeAPIPrefix + "/invocation/req-1/error", runtimeAPIPrefix + "/init/error":
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "unknown path", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClientWithEndpoint(strings.TrimPrefix(srv.URL, "http://"))
	ctx := context.Background()

	inv, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if inv.RequestID != "req-1" || string(inv.Payload) != `{"RequestType":"Delete"}` {
		t.Errorf("unexpected invocation: %+v", inv)
	}

	if err := c.Response(ctx, inv.RequestID, []byte(`{}`)); err != nil {
		t.Errorf("Response failed: %v", err)
	}
	if err := c.Error(ctx, inv.RequestID, []byte(`{"errorMessage":"x"}`)); err != nil {
		t.Errorf("Error failed: %v", err)
	}
	if err := c.InitError(ctx, []byte(`{"errorMessage":"init"}`)); err != nil {
		t.Errorf("InitError failed: %v", err)
	}
	if err := c.Response(ctx, "", nil); err == nil {
		t.Error("Response should reject an empty request id")
	}
	if err := c.Error(ctx, "", nil); err == nil {
		t.Error("Error should reject an empty request id")
	}
	if err := c.Response(ctx, "other", []byte(`{}`)); err == nil {
		t.Error("non-2xx status should be reported as an error")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 5 {
		t.Fatalf("expected 5 server calls, got %d: %+v", len(calls), calls)
	}
	if calls[1].method != http.MethodPost || calls[1].body != `{}` {
		t.Errorf("unexpected response call: %+v", calls[1])
	}
}

func TestNextHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClientWithEndpoint(strings.TrimPrefix(srv.URL, "http://"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Next(ctx); err == nil {
		t.Error("Next should fail once the context is done")
	}
}
