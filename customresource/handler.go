// Package customresource implements the Custom::LambdaCode provider: it
// repoints a Lambda function's code at an S3 object on stack updates and
// reports every lifecycle event back to CloudFormation exactly once.
package customresource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/config"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/functioncode"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/log"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/runtime"
	"github.com/aws/aws-lambda-go/cfn"
)

// DataVersion is the response Data key holding the published version,
// readable in templates with Fn::GetAtt.
const DataVersion = "Version"

// ErrMissingResponseURL is returned by Validate for events that cannot be answered.
var ErrMissingResponseURL = errors.New("event has no ResponseURL")

// Option configures a Handler.
type Option func(*Handler)

// WithUpdater sets the update capability instead of building one from the
// environment in ColdStart.
func WithUpdater(u functioncode.Updater) Option {
	return func(h *Handler) { h.updater = u }
}

// WithReporter replaces the ResponseURL reporter.
func WithReporter(r Reporter) Option {
	return func(h *Handler) { h.reporter = r }
}

// Handler implements runtime.Handler for CloudFormation custom resource events.
type Handler struct {
	cfg      config.Config
	log      log.Logger
	updater  functioncode.Updater
	reporter Reporter
}

var _ runtime.Handler[cfn.Event, cfn.Response] = (*Handler)(nil)

// NewHandler returns a Handler reporting through ResponseURLReporter unless
// WithReporter says otherwise.
func NewHandler(cfg config.Config, logger log.Logger, opts ...Option) *Handler {
	h := &Handler{
		cfg:      cfg,
		log:      logger,
		reporter: ResponseURLReporter{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = log.Nop()
	}
	return h
}

// ColdStart builds the Lambda client once per execution environment.
func (h *Handler) ColdStart(ctx context.Context) error {
	if h.updater != nil {
		return nil
	}
	var opts []functioncode.Option
	if h.cfg.WaitForUpdate {
		opts = append(opts, functioncode.WithWaitForUpdate(h.cfg.WaitTimeout))
	}
	u, err := functioncode.NewFromEnvironment(ctx, h.cfg.LambdaEndpoint, opts...)
	if err != nil {
		return err
	}
	h.updater = u
	return nil
}

// Shutdown has nothing to release.
func (h *Handler) Shutdown(ctx context.Context) error { return nil }

// Validate rejects only events that cannot be answered. Property problems
// are reported to CloudFormation as FAILED by Handler instead.
func (h *Handler) Validate(ctx context.Context, event cfn.Event) error {
	if event.ResponseURL == "" {
		return ErrMissingResponseURL
	}
	return nil
}

// Handler computes the outcome of event and reports it. A reporting failure
// is returned as the invocation error; it is not retried.
func (h *Handler) Handler(ctx context.Context, event cfn.Event) (cfn.Response, error) {
	ctx = log.ContextWith(ctx,
		"request_type", string(event.RequestType),
		"stack_id", event.StackID,
		"logical_resource_id", event.LogicalResourceID,
		"cfn_request_id", event.RequestID,
	)
	h.log.Info(ctx, "lifecycle event received")

	resp := h.outcome(ctx, &event)
	if resp.PhysicalResourceID == "" {
		resp.PhysicalResourceID = fallbackPhysicalID(ctx, &event)
	}

	if err := h.reporter.Report(ctx, event.ResponseURL, resp); err != nil {
		h.log.Error(ctx, "reporting outcome failed", "error", err, "status", string(resp.Status))
		return *resp, fmt.Errorf("report %s outcome: %w", resp.Status, err)
	}
	h.log.Info(ctx, "outcome reported",
		"status", string(resp.Status),
		"physical_resource_id", resp.PhysicalResourceID,
		"reason", resp.Reason,
	)
	return *resp, nil
}

func (h *Handler) outcome(ctx context.Context, event *cfn.Event) *cfn.Response {
	resp := cfn.NewResponse(event)

	publish, err := h.publishes(event.RequestType)
	if err != nil {
		return failed(resp, err.Error())
	}
	if !publish {
		resp.Status = cfn.StatusSuccess
		return resp
	}

	props, err := DecodeProperties(event.ResourceProperties)
	if err != nil {
		return failed(resp, err.Error())
	}

	updateCtx, cancel := h.updateContext(ctx)
	defer cancel()

	h.log.Info(ctx, "updating function code",
		"function_name", props.FunctionName,
		"s3_bucket", props.S3Bucket,
		"s3_key", props.S3Key,
		"s3_object_version", props.S3ObjectVersion,
	)
	res, err := h.updater.Update(updateCtx, props.updateRequest())
	if err != nil {
		h.log.Warn(ctx, "function code update failed", "error", err)
		return failed(resp, reason(err))
	}

	resp.Status = cfn.StatusSuccess
	resp.Data = map[string]interface{}{DataVersion: res.Version}
	resp.PhysicalResourceID = res.FunctionArn
	return resp
}

// publishes reports whether a request type triggers a code update.
// Create is acknowledged without an update unless PublishOnCreate is set.
func (h *Handler) publishes(rt cfn.RequestType) (bool, error) {
	switch rt {
	case cfn.RequestUpdate:
		return true, nil
	case cfn.RequestCreate:
		return h.cfg.PublishOnCreate, nil
	case cfn.RequestDelete:
		return false, nil
	default:
		return false, fmt.Errorf("unsupported request type %q", rt)
	}
}

// updateContext reserves ReportMargin before the invocation deadline, but
// never more than half of the remaining time, so short function timeouts
// still leave the update call room to run.
func (h *Handler) updateContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	margin := h.cfg.ReportMargin
	if half := time.Until(deadline) / 2; margin > half {
		margin = half
	}
	if margin <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-margin))
}

func failed(resp *cfn.Response, why string) *cfn.Response {
	resp.Status = cfn.StatusFailed
	resp.Reason = why
	return resp
}

func reason(err error) string {
	var updateErr *functioncode.UpdateError
	if errors.As(err, &updateErr) {
		return updateErr.Reason()
	}
	return err.Error()
}

// fallbackPhysicalID keeps the id CloudFormation already knows, then falls
// back to the log stream name like the stock cfn-response helper.
func fallbackPhysicalID(ctx context.Context, event *cfn.Event) string {
	if event.PhysicalResourceID != "" {
		return event.PhysicalResourceID
	}
	if rc, ok := runtime.FromContext(ctx); ok && rc.LogStreamName != "" {
		return rc.LogStreamName
	}
	return event.LogicalResourceID
}
