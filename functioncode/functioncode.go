// Package functioncode points a Lambda function's deployed code at an S3
// object and publishes a new version.
package functioncode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/smithy-go"
)

// LambdaAPI is the subset of the Lambda client the updater calls.
type LambdaAPI interface {
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// Request names the function and the S3 object holding its new code.
type Request struct {
	FunctionName    string
	S3Bucket        string
	S3Key           string
	S3ObjectVersion string // optional
}

// Result is what a successful update published.
type Result struct {
	Version     string
	FunctionArn string
}

// UpdateError wraps any failure returned by the Lambda API or the update waiter.
type UpdateError struct {
	FunctionName string
	Err          error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update function code %s: %v", e.FunctionName, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Reason is the text reported to CloudFormation. API errors render as
// "Code: Message"; anything else as its plain message.
func (e *UpdateError) Reason() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		if msg := apiErr.ErrorMessage(); msg != "" {
			return apiErr.ErrorCode() + ": " + msg
		}
		return apiErr.ErrorCode()
	}
	return e.Err.Error()
}

// Updater is the external update capability.
type Updater interface {
	Update(ctx context.Context, req Request) (Result, error)
}

// Option configures a Client.
type Option func(*Client)

// WithWaitForUpdate makes Update block until the function's
// LastUpdateStatus is Successful, for at most timeout.
func WithWaitForUpdate(timeout time.Duration) Option {
	return func(c *Client) { c.waitTimeout = timeout }
}

// Client implements Updater on top of the Lambda API.
type Client struct {
	api         LambdaAPI
	waitTimeout time.Duration
}

var _ Updater = (*Client)(nil)

func New(api LambdaAPI, opts ...Option) *Client {
	c := &Client{api: api}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromEnvironment builds the Lambda client from the default credential
// chain. endpoint, when set, replaces the service endpoint.
func NewFromEnvironment(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := lambda.NewFromConfig(cfg, func(o *lambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(api, opts...), nil
}

// Update uploads nothing; it repoints the function at the S3 object and
// publishes a version. Every failure is returned as *UpdateError.
func (c *Client) Update(ctx context.Context, req Request) (Result, error) {
	out, err := c.api.UpdateFunctionCode(ctx, buildInput(req))
	if err != nil {
		return Result{}, &UpdateError{FunctionName: req.FunctionName, Err: err}
	}

	res := Result{
		Version:     aws.ToString(out.Version),
		FunctionArn: aws.ToString(out.FunctionArn),
	}

	if c.waitTimeout > 0 {
		waiter := lambda.NewFunctionUpdatedWaiter(c.api)
		in := &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(req.FunctionName)}
		if err := waiter.Wait(ctx, in, c.waitTimeout); err != nil {
			return Result{}, &UpdateError{FunctionName: req.FunctionName, Err: err}
		}
	}
	return res, nil
}

func buildInput(req Request) *lambda.UpdateFunctionCodeInput {
	in := &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(req.FunctionName),
		S3Bucket:     aws.String(req.S3Bucket),
		S3Key:        aws.String(req.S3Key),
		Publish:      true,
		DryRun:       false,
	}
	if req.S3ObjectVersion != "" {
		in.S3ObjectVersion = aws.String(req.S3ObjectVersion)
	}
	return in
}
