// Command bootstrap is the provided.al2023 entrypoint of the Custom::LambdaCode
// resource provider.
package main

import (
	"context"
	"os"

	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/config"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/customresource"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/log"
	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/runtime"
	"github.com/aws/aws-lambda-go/cfn"
)

// initFailure reports a configuration error through ColdStart so it reaches
// the Runtime API as an init error instead of a silent exit.
type initFailure struct {
	err error
}

func (f initFailure) ColdStart(context.Context) error { return f.err }

func (initFailure) Validate(context.Context, cfn.Event) error { return nil }

func (f initFailure) Handler(context.Context, cfn.Event) (cfn.Response, error) {
	return cfn.Response{}, f.err
}

func (initFailure) Shutdown(context.Context) error { return nil }

// newHandler returns the resource provider, or an initFailure carrying cfgErr.
func newHandler(cfg config.Config, cfgErr error, logger log.Logger) runtime.Handler[cfn.Event, cfn.Response] {
	if cfgErr != nil {
		return initFailure{err: cfgErr}
	}
	return customresource.NewHandler(cfg, logger)
}

func main() {
	cfg, err := config.Load()
	level := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err == nil {
		level = log.ParseLevel(cfg.LogLevel)
	}
	logger := log.New(level, os.Stdout).With("component", "lambda-code-publisher")

	runtime.Start(newHandler(cfg, err, logger),
		runtime.WithLogger(logger),
		runtime.WithInitTimeout(cfg.InitTimeout),
	)
}
