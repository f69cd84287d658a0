package runtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/log"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/runtimeapi"
	jsoniter "github.com/json-iterator/go"
)

const (
	defaultInitTimeout     = 9 * time.Second
	defaultShutdownTimeout = 2 * time.Second
	defaultNextRetryDelay  = 100 * time.Millisecond
)

// ErrorResponse is the body posted to the Runtime API for failed invocations.
type ErrorResponse struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

// Option configures an EventLoop.
type Option func(*loopOptions)

type loopOptions struct {
	api             runtimeapi.RuntimeAPI
	logger          log.Logger
	initTimeout     time.Duration
	shutdownTimeout time.Duration
	retryDelay      time.Duration
}

// WithRuntimeAPI replaces the Runtime API client. By default one is built
// from AWS_LAMBDA_RUNTIME_API when Run starts.
func WithRuntimeAPI(api runtimeapi.RuntimeAPI) Option {
	return func(o *loopOptions) { o.api = api }
}

// WithLogger sets the logger used for runtime-level events.
func WithLogger(l log.Logger) Option {
	return func(o *loopOptions) { o.logger = l }
}

// WithInitTimeout bounds ColdStart. Lambda allows 10s for the init phase;
// non-positive values keep the default.
func WithInitTimeout(d time.Duration) Option {
	return func(o *loopOptions) { o.initTimeout = d }
}

// WithNextRetryDelay sets the pause after a failed /invocation/next call.
func WithNextRetryDelay(d time.Duration) Option {
	return func(o *loopOptions) { o.retryDelay = d }
}

type EventLoop[T, R any] struct {
	handler Handler[T, R]
	api     runtimeapi.RuntimeAPI
	logger  log.Logger
	codec   jsoniter.API

	initTimeout     time.Duration
	shutdownTimeout time.Duration
	retryDelay      time.Duration

	// Reused across invocations; environment metadata is filled once.
	requestContext RequestContext
}

func NewEventLoop[T, R any](h Handler[T, R], opts ...Option) *EventLoop[T, R] {
	o := loopOptions{
		initTimeout:     defaultInitTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		retryDelay:      defaultNextRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.initTimeout <= 0 {
		o.initTimeout = defaultInitTimeout
	}
	if o.logger == nil {
		o.logger = log.New(log.LevelInfo, os.Stdout)
	}

	e := &EventLoop[T, R]{
		handler:         h,
		api:             o.api,
		logger:          o.logger,
		initTimeout:     o.initTimeout,
		shutdownTimeout: o.shutdownTimeout,
		retryDelay:      o.retryDelay,
		codec: jsoniter.Config{
			EscapeHTML:             false,
			SortMapKeys:            false,
			ValidateJsonRawMessage: false,
		}.Froze(),
	}
	e.requestContext.PopulateFromEnvironment()
	return e
}

// Run initializes the handler and processes invocations until ctx is
// canceled or the process receives SIGTERM/SIGINT. It returns the ColdStart
// error, if any, after reporting it to /init/error.
func (e *EventLoop[T, R]) Run(ctx context.Context) error {
	api := e.api
	if api == nil {
		client, err := runtimeapi.NewClient()
		if err != nil {
			return err
		}
		api = client
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(sigCtx, e.initTimeout)
	err := e.handler.ColdStart(initCtx)
	cancelInit()
	if err != nil {
		e.logger.Error(ctx, "cold start failed", "error", err)
		e.emitInitError(api, err)
		return err
	}

	for {
		select {
		case <-sigCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
			if err := e.handler.Shutdown(shutdownCtx); err != nil {
				e.logger.Error(shutdownCtx, "shutdown error", "error", err)
			}
			cancel()
			return nil
		default:
		}

		inv, err := api.Next(sigCtx)
		if err != nil {
			if sigCtx.Err() == nil {
				e.logger.Warn(sigCtx, "next invocation failed", "error", err)
				select {
				case <-time.After(e.retryDelay):
				case <-sigCtx.Done():
				}
			}
			continue
		}

		e.invoke(sigCtx, api, inv)
	}
}

// invoke runs one invocation and posts exactly one response or error for it.
func (e *EventLoop[T, R]) invoke(parent context.Context, api runtimeapi.RuntimeAPI, inv *runtimeapi.Invocation) {
	var (
		invokeCtx context.Context
		cancel    context.CancelFunc
	)
	if !inv.Deadline.IsZero() {
		invokeCtx, cancel = context.WithDeadline(parent, inv.Deadline)
	} else {
		invokeCtx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	e.requestContext.AwsRequestID = inv.RequestID
	e.requestContext.InvokedFunctionArn = inv.InvokedFunctionArn
	e.requestContext.Deadline = inv.Deadline
	e.requestContext.TraceID = inv.TraceID

	invokeCtx = NewContext(invokeCtx, &e.requestContext)
	invokeCtx = log.ContextWith(invokeCtx, "aws_request_id", inv.RequestID)

	var event T
	if len(inv.Payload) > 0 {
		if err := e.codec.Unmarshal(inv.Payload, &event); err != nil {
			e.fail(invokeCtx, api, inv.RequestID, err, "UnmarshalError")
			return
		}
	}

	if err := e.handler.Validate(invokeCtx, event); err != nil {
		e.fail(invokeCtx, api, inv.RequestID, err, "ValidationError")
		return
	}

	result, err := e.handler.Handler(invokeCtx, event)
	if err != nil {
		e.fail(invokeCtx, api, inv.RequestID, err, fmt.Sprintf("%T", err))
		return
	}

	body, err := e.codec.Marshal(result)
	if err != nil {
		e.fail(invokeCtx, api, inv.RequestID, err, "MarshalError")
		return
	}

	if err := api.Response(invokeCtx, inv.RequestID, body); err != nil {
		e.logger.Error(invokeCtx, "posting invocation response failed", "error", err)
	}
}

func (e *EventLoop[T, R]) fail(ctx context.Context, api runtimeapi.RuntimeAPI, requestID string, err error, errorType string) {
	e.logger.Error(ctx, "invocation failed", "error", err, "error_type", errorType)
	body, _ := e.codec.Marshal(ErrorResponse{ErrorMessage: err.Error(), ErrorType: errorType})
	if postErr := api.Error(ctx, requestID, body); postErr != nil {
		e.logger.Error(ctx, "posting invocation error failed", "error", postErr)
	}
}

func (e *EventLoop[T, R]) emitInitError(api runtimeapi.RuntimeAPI, err error) {
	body, _ := e.codec.Marshal(ErrorResponse{ErrorMessage: err.Error(), ErrorType: "InitError"})
	if postErr := api.InitError(context.Background(), body); postErr != nil {
		e.logger.Error(context.Background(), "posting init error failed", "error", postErr)
	}
}

// Start is the entrypoint for running a Lambda handler.
// Example usage from main:
//
//	runtime.Start(NewHandler(), runtime.WithLogger(logger))
func Start[T, R any](h Handler[T, R], opts ...Option) {
	if err := NewEventLoop(h, opts...).Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
