// Command fanout is the Lambda that distributes new posts into follower
// feeds and retracts them after unfollows. HANDLER selects the trigger:
// EventBridge rule (default), SQS queue, or the table's DynamoDB stream.
package main

import (
	"context"
	"log"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/jacentio/flock/app"
	"github.com/jacentio/flock/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("unable to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("unable to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	awsCfg, err := config.LoadAWS(context.Background(), cfg)
	if err != nil {
		logger.Fatal("unable to load SDK config", zap.Error(err))
	}

	a := app.NewAWS(awsCfg, cfg, logger)

	logger.Info("fan-out handler starting",
		zap.String("handler", cfg.Handler),
		zap.String("table", cfg.TableName),
		zap.Int("maxBatchSize", a.Feed.Config().MaxBatchSize),
		zap.Int("maxFollowers", a.Feed.Config().MaxFollowers),
		zap.Bool("pushMetrics", cfg.PushgatewayURL != ""),
	)

	// Each invocation flushes metrics before the runtime freezes the process.
	switch cfg.Handler {
	case config.HandlerSQS:
		lambda.Start(func(ctx context.Context, ev awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
			defer a.Flush(ctx)
			return a.Handler.HandleSQS(ctx, ev)
		})
	case config.HandlerStream:
		lambda.Start(func(ctx context.Context, ev awsevents.DynamoDBEvent) error {
			defer a.Flush(ctx)
			return a.Handler.HandleStream(ctx, ev)
		})
	default:
		lambda.Start(func(ctx context.Context, ev awsevents.EventBridgeEvent) error {
			defer a.Flush(ctx)
			return a.Handler.HandleEvent(ctx, ev)
		})
	}
}
