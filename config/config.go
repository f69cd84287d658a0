// Package config loads the publisher's settings from the Lambda environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	keyLogLevel        = "log_level"
	keyPublishOnCreate = "publish_on_create"
	keyWaitForUpdate   = "wait_for_update"
	keyWaitTimeout     = "wait_timeout"
	keyReportMargin    = "report_margin"
	keyLambdaEndpoint  = "lambda_endpoint"
	keyInitTimeout     = "init_timeout"
)

// Config holds the settings read from environment variables.
type Config struct {
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string
	// PublishOnCreate makes Create events update the function code like
	// Update events do. Off by default: Create is acknowledged without a call.
	PublishOnCreate bool
	// WaitForUpdate blocks until the function reports LastUpdateStatus=Successful.
	WaitForUpdate bool
	WaitTimeout   time.Duration
	// ReportMargin is reserved before the invocation deadline so the outcome
	// can still be sent when the update call runs long.
	ReportMargin time.Duration
	// LambdaEndpoint overrides the Lambda API endpoint, e.g. for LocalStack.
	LambdaEndpoint string
	// InitTimeout bounds client construction in the init phase, which Lambda
	// caps at 10s.
	InitTimeout time.Duration
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	v.SetDefault(keyLogLevel, "INFO")
	v.SetDefault(keyPublishOnCreate, false)
	v.SetDefault(keyWaitForUpdate, false)
	v.SetDefault(keyWaitTimeout, 60*time.Second)
	v.SetDefault(keyReportMargin, 3*time.Second)
	v.SetDefault(keyLambdaEndpoint, "")
	v.SetDefault(keyInitTimeout, 9*time.Second)
	v.AutomaticEnv()

	cfg := Config{
		LogLevel:        v.GetString(keyLogLevel),
		PublishOnCreate: v.GetBool(keyPublishOnCreate),
		WaitForUpdate:   v.GetBool(keyWaitForUpdate),
		WaitTimeout:     v.GetDuration(keyWaitTimeout),
		ReportMargin:    v.GetDuration(keyReportMargin),
		LambdaEndpoint:  v.GetString(keyLambdaEndpoint),
		InitTimeout:     v.GetDuration(keyInitTimeout),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("WAIT_TIMEOUT must be positive, got %s", c.WaitTimeout)
	}
	if c.InitTimeout <= 0 {
		return fmt.Errorf("INIT_TIMEOUT must be positive, got %s", c.InitTimeout)
	}
	if c.ReportMargin < 0 {
		return fmt.Errorf("REPORT_MARGIN must not be negative, got %s", c.ReportMargin)
	}
	return nil
}
