package functioncode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLambda struct {
	updateInputs []*lambda.UpdateFunctionCodeInput
	updateOut    *lambda.UpdateFunctionCodeOutput
	updateErr    error
	statuses     []types.LastUpdateStatus
	configCalls  int
}

func (f *fakeLambda) UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updateOut, nil
}

func (f *fakeLambda) GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	status := types.LastUpdateStatusSuccessful
	if f.configCalls < len(f.statuses) {
		status = f.statuses[f.configCalls]
	}
	f.configCalls++
	return &lambda.GetFunctionConfigurationOutput{
		FunctionName:     in.FunctionName,
		LastUpdateStatus: status,
	}, nil
}

func TestUpdateBuildsPublishingRequest(t *testing.T) {
	api := &fakeLambda{updateOut: &lambda.UpdateFunctionCodeOutput{
		Version:     aws.String("3"),
		FunctionArn: aws.String("arn:f1"),
	}}

	res, err := New(api).Update(context.Background(), Request{
		FunctionName:    "f1",
		S3Bucket:        "b1",
		S3Key:           "k1",
		S3ObjectVersion: "v1",
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Version: "3", FunctionArn: "arn:f1"}, res)

	require.Len(t, api.updateInputs, 1)
	in := api.updateInputs[0]
	assert.Equal(t, "f1", aws.ToString(in.FunctionName))
	assert.Equal(t, "b1", aws.ToString(in.S3Bucket))
	assert.Equal(t, "k1", aws.ToString(in.S3Key))
	assert.Equal(t, "v1", aws.ToString(in.S3ObjectVersion))
	assert.True(t, in.Publish)
	assert.False(t, in.DryRun)
	assert.Zero(t, api.configCalls, "no waiter unless configured")
}

func TestUpdateOmitsEmptyObjectVersion(t *testing.T) {
	api := &fakeLambda{updateOut: &lambda.UpdateFunctionCodeOutput{}}

	_, err := New(api).Update(context.Background(), Request{FunctionName: "f1", S3Bucket: "b1", S3Key: "k1"})
	require.NoError(t, err)
	assert.Nil(t, api.updateInputs[0].S3ObjectVersion)
}

func TestUpdateWrapsAPIErrors(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not allowed"}
	api := &fakeLambda{updateErr: apiErr}

	_, err := New(api).Update(context.Background(), Request{FunctionName: "f1"})

	var updateErr *UpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, "f1", updateErr.FunctionName)
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, "AccessDeniedException: not allowed", updateErr.Reason())
	assert.Contains(t, err.Error(), "update function code f1")
}

func TestUpdateErrorReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"plain", errors.New("AccessDenied"), "AccessDenied"},
		{"api without message", &smithy.GenericAPIError{Code: "ThrottlingException"}, "ThrottlingException"},
		{"context", context.DeadlineExceeded, "context deadline exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, (&UpdateError{Err: tc.err}).Reason())
		})
	}
}

func TestUpdateWaitsForSuccessfulStatus(t *testing.T) {
	api := &fakeLambda{updateOut: &lambda.UpdateFunctionCodeOutput{Version: aws.String("4")}}

	res, err := New(api, WithWaitForUpdate(time.Minute)).Update(context.Background(), Request{FunctionName: "f1"})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Version)
	assert.Equal(t, 1, api.configCalls)
}

func TestUpdateWaiterFailureIsUpdateError(t *testing.T) {
	api := &fakeLambda{
		updateOut: &lambda.UpdateFunctionCodeOutput{Version: aws.String("4")},
		statuses:  []types.LastUpdateStatus{types.LastUpdateStatusFailed},
	}

	res, err := New(api, WithWaitForUpdate(time.Minute)).Update(context.Background(), Request{FunctionName: "f1"})

	var updateErr *UpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, Result{}, res)
}
