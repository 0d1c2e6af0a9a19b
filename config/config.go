// Package config loads process configuration from the environment and
// builds the logger and AWS SDK configuration from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environments.
const (
	Development = "development"
	Production  = "production"
)

// Handler modes for the fan-out binary.
const (
	HandlerEventBridge = "eventbridge"
	HandlerSQS         = "sqs"
	HandlerStream      = "stream"
)

// Config holds all process configuration.
type Config struct {
	Environment string `validate:"required,oneof=development production test"`

	// AWS configuration
	AWSRegion        string `validate:"required"`
	TableName        string `validate:"required"`
	EventBusName     string `validate:"required"`
	EventSource      string `validate:"required"`
	DynamoDBEndpoint string `validate:"omitempty,url"`
	AWSMaxAttempts   int    `validate:"min=1,max=10"`

	// Logging and metrics
	LogLevel       string `validate:"oneof=debug info warn error"`
	PushgatewayURL string `validate:"omitempty,url"`

	// Fan-out
	MaxBatchSize int    `validate:"min=1,max=100"`
	MaxFollowers int    `validate:"min=1"`
	Handler      string `validate:"oneof=eventbridge sqs stream"`
}

var validate = validator.New()

// Load reads configuration from environment variables and validates it.
// A set but unparsable number is an error rather than a silent default.
func Load() (*Config, error) {
	var errs []error
	envInt := func(key string, defaultValue int) int {
		n, err := getEnvInt(key, defaultValue)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &Config{
		Environment:      getEnv("ENVIRONMENT", Development),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		TableName:        getEnv("TABLE_NAME", "flock"),
		EventBusName:     getEnv("EVENT_BUS_NAME", "flock-events"),
		EventSource:      getEnv("EVENT_SOURCE", "flock.core"),
		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		AWSMaxAttempts:   envInt("AWS_MAX_ATTEMPTS", 3),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PushgatewayURL:   getEnv("PUSHGATEWAY_URL", ""),
		MaxBatchSize:     envInt("MAX_BATCH_SIZE", 25),
		MaxFollowers:     envInt("FANOUT_MAX_FOLLOWERS", 1000),
		Handler:          strings.ToLower(getEnv("HANDLER", HandlerEventBridge)),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction checks if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// NewLogger builds a logger for the configured environment and level.
// Production logs JSON; everything else uses the console encoder.
func NewLogger(c *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}

	var zc zap.Config
	if c.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// LoadAWS builds the AWS SDK configuration. The SDK's standard retryer
// handles throttling and transient failures up to AWSMaxAttempts.
func LoadAWS(ctx context.Context, c *Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.AWSRegion),
		awsconfig.WithRetryMaxAttempts(c.AWSMaxAttempts),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer: %w", key, value, err)
	}
	return n, nil
}
