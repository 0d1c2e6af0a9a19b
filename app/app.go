// Package app wires the store, event bus and services of one process.
package app

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/jacentio/flock/config"
	"github.com/jacentio/flock/events"
	"github.com/jacentio/flock/feed"
	"github.com/jacentio/flock/graph"
	"github.com/jacentio/flock/posts"
	"github.com/jacentio/flock/profiles"
	"github.com/jacentio/flock/store"
	"github.com/jacentio/flock/stream"
)

// App holds the wired components.
type App struct {
	Store    store.Store
	Bus      events.Publisher
	Profiles *profiles.Service
	Graph    *graph.Manager
	Posts    *posts.Repository
	Feed     *feed.Engine
	Handler  *stream.Handler
	Logger   *zap.Logger

	pusher *push.Pusher
}

// PushJob is the Pushgateway job name metrics are pushed under.
const PushJob = "flock_fanout"

// Options tunes New.
type Options struct {
	Feed       feed.Config
	Logger     *zap.Logger
	Registerer prometheus.Registerer

	// PushURL is a Pushgateway address. When set, Flush pushes everything
	// gathered from Registerer, or from the default gatherer when
	// Registerer cannot gather.
	PushURL string

	// Clock overrides time.Now in the services. Default: time.Now.
	Clock func() time.Time
}

// New wires every component around s and bus.
func New(s store.Store, bus events.Publisher, opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := feed.NewEngine(s, opts.Feed,
		feed.WithLogger(logger.Named("feed")),
		feed.WithMetrics(feed.NewMetrics("flock", opts.Registerer)),
		feed.WithClock(opts.Clock),
	)

	return &App{
		Store:    s,
		Bus:      bus,
		Profiles: profiles.NewService(s, logger.Named("profiles")),
		Graph: graph.NewManager(s, bus,
			graph.WithLogger(logger.Named("graph")),
			graph.WithClock(opts.Clock),
		),
		Posts: posts.NewRepository(s, bus,
			posts.WithLogger(logger.Named("posts")),
			posts.WithClock(opts.Clock),
		),
		Feed:    engine,
		Handler: stream.NewHandler(engine, logger.Named("stream")),
		Logger:  logger,
		pusher:  newPusher(opts),
	}
}

func newPusher(opts Options) *push.Pusher {
	if opts.PushURL == "" {
		return nil
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := opts.Registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}
	p := push.New(opts.PushURL, PushJob).Gatherer(gatherer)
	if lambdacontext.LogStreamName != "" {
		// One group per execution environment so concurrent instances
		// do not overwrite each other's counters.
		p = p.Grouping("instance", lambdacontext.LogStreamName)
	}
	return p
}

// Flush pushes the collected metrics to the Pushgateway, if one is
// configured. Lambda freezes the process between invocations, so handlers
// call it before returning. Failures are logged and never fail the
// invocation.
func (a *App) Flush(ctx context.Context) {
	if a.pusher == nil {
		return
	}
	if err := a.pusher.PushContext(ctx); err != nil {
		a.Logger.Warn("failed to push metrics", zap.Error(err))
	}
}

// Local is an App on an in-memory store and bus. Events published by the
// services are handed to the fan-out handler on Bus.Deliver.
type Local struct {
	*App
	Memory *store.Memory
	Bus    *events.MemoryBus
}

// NewLocal wires an App for tests and local runs.
func NewLocal(opts Options) *Local {
	mem := store.NewMemory(store.DefaultConfig())
	a, bus := NewInProcess(mem, opts)
	return &Local{App: a, Memory: mem, Bus: bus}
}

// NewInProcess wires an App on s with an in-memory bus whose deliveries
// are routed to the fan-out handler.
func NewInProcess(s store.Store, opts Options) (*App, *events.MemoryBus) {
	bus := events.NewMemoryBus()
	a := New(s, bus, opts)

	dispatch := func(ctx context.Context, ev events.Event) error {
		return a.Handler.Dispatch(ctx, ev)
	}
	bus.Subscribe(events.TypePostCreated, dispatch)
	bus.Subscribe(events.TypeUserUnfollowed, dispatch)
	return a, bus
}

// NewAWS wires an App on DynamoDB and EventBridge.
func NewAWS(awsCfg aws.Config, cfg *config.Config, logger *zap.Logger) *App {
	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
	s := store.NewDynamo(ddb, store.Config{
		TableName:    cfg.TableName,
		MaxBatchSize: cfg.MaxBatchSize,
	})

	publisher := events.NewEventBridgePublisher(
		eventbridge.NewFromConfig(awsCfg),
		cfg.EventBusName,
		cfg.EventSource,
		logger.Named("eventbridge"),
	)
	bus := events.NewBreakerPublisher(publisher, events.DefaultBreakerSettings(), logger)

	return New(s, bus, Options{
		Feed: feed.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			MaxFollowers: cfg.MaxFollowers,
		},
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
		PushURL:    cfg.PushgatewayURL,
	})
}
