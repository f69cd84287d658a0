package customresource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/cfn"
	jsoniter "github.com/json-iterator/go"
)

// defaultSendTimeout bounds a report when ctx carries no deadline.
const defaultSendTimeout = 30 * time.Second

// Reporter delivers the outcome of a lifecycle event to CloudFormation.
type Reporter interface {
	Report(ctx context.Context, responseURL string, resp *cfn.Response) error
}

// ResponseURLReporter PUTs the response JSON to the event's pre-signed
// ResponseURL. The request is bound to ctx, so a stalled PUT ends with the
// invocation deadline instead of outliving it.
type ResponseURLReporter struct {
	// Client defaults to a plain http.Client when nil.
	Client *http.Client
}

func (r ResponseURLReporter) Report(ctx context.Context, responseURL string, resp *cfn.Response) error {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSendTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build response request: %w", err)
	}
	// The URL is pre-signed without a content type; sending one breaks the signature.
	req.Header.Del("Content-Type")

	client := r.Client
	if client == nil {
		client = &http.Client{}
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("send response: %s: %s", res.Status, string(b))
	}
	return nil
}
