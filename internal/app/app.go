// Package app wires configuration into the long-lived components shared by
// the server and slotctl binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/ai"
	"github.com/lalithlochan/slotwise/internal/availability"
	"github.com/lalithlochan/slotwise/internal/booking"
	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
	"github.com/lalithlochan/slotwise/internal/config"
	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/lifecycle"
	"github.com/lalithlochan/slotwise/internal/metrics"
	"github.com/lalithlochan/slotwise/internal/opportunity"
	"github.com/lalithlochan/slotwise/internal/redis"
	"github.com/lalithlochan/slotwise/internal/sns"
	"github.com/lalithlochan/slotwise/internal/sqs"
	"github.com/lalithlochan/slotwise/internal/worker"
)

// App holds every wired component. Optional ones are nil when their backing
// service is not configured or not reachable.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB   *db.DB
	Repo *db.Repository

	Redis       *redis.Client
	Idempotency *redis.IdempotencyService
	RateLimiter *redis.RateLimiter

	Producer *sqs.Producer

	Pipeline  *worker.Pipeline
	Bookings  *booking.Service
	Lifecycle *lifecycle.Manager
	Estimator *ai.SizeEstimator
	Breakers  []*circuitbreaker.CircuitBreaker

	closers []func()
}

// New connects to postgres (required) and everything else (optional).
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)
	a.Repo = db.NewRepository(database, logger)

	a.connectRedis(ctx)

	if err := a.connectQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.AIEnabled {
		client, err := ai.NewClient(ai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create AI client: %w", err)
		}
		a.Estimator = ai.NewSizeEstimator(client, logger)
	}

	var estimator booking.Estimator
	if a.Estimator != nil {
		estimator = a.Estimator
	}
	calculator := availability.NewCalculator(availability.Config{
		StepMinutes:  cfg.SlotStepMinutes,
		MaxRangeDays: cfg.MaxRangeDays,
	}, logger)
	a.Bookings = booking.NewService(a.Repo, estimator, calculator, logger)
	a.Lifecycle = lifecycle.NewManager(a.Repo, logger)

	deps, err := a.pipelineDeps(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	scanner := opportunity.NewScanner(opportunity.Config{
		LookaheadDays:      cfg.LookaheadDays,
		UrgentWithin:       cfg.UrgentWithin,
		LargeGapMinutes:    cfg.LargeGapMinutes,
		DefaultCadenceDays: cfg.DefaultCadenceDays,
	}, logger)
	a.Pipeline = worker.NewPipeline(a.Repo, scanner, lifecycle.NewReconciler(logger), deps, logger)

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) {
	cfg := a.Config
	client, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("redis unavailable, idempotency, rate limiting and scan locks disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		return
	}

	a.Redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.Idempotency = redis.NewIdempotencyService(client, a.Logger)
	a.RateLimiter = redis.NewRateLimiter(client, a.Logger, redis.RateLimitConfig{
		Limit:  cfg.RateLimitRequests,
		Window: cfg.RateLimitWindow,
	})
}

func (a *App) connectQueue(ctx context.Context) error {
	cfg := a.Config
	if cfg.SQSQueueURL == "" {
		return nil
	}
	producer, err := sqs.NewProducer(ctx, sqs.Config{
		Region:   cfg.AWSRegion,
		QueueURL: cfg.SQSQueueURL,
		Endpoint: cfg.AWSEndpoint,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create SQS producer: %w", err)
	}
	a.Producer = producer
	return nil
}

// NewConsumer builds the SQS scan-request consumer.
func (a *App) NewConsumer(ctx context.Context) (*worker.QueueConsumer, error) {
	consumer, err := sqs.NewConsumer(ctx, sqs.Config{
		Region:   a.Config.AWSRegion,
		QueueURL: a.Config.SQSQueueURL,
		Endpoint: a.Config.AWSEndpoint,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS consumer: %w", err)
	}
	return worker.NewQueueConsumer(consumer, a.Pipeline, a.Logger), nil
}

func (a *App) pipelineDeps(ctx context.Context) (worker.Deps, error) {
	cfg := a.Config
	deps := worker.Deps{LockTTL: cfg.ScanLockTTL}

	if a.Redis != nil {
		deps.Lock = redis.NewScanLock(a.Redis, a.Logger)
	}

	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, sns.Config{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.SNSTopicARN,
			Endpoint: cfg.AWSEndpoint,
		}, a.Logger)
		if err != nil {
			return deps, fmt.Errorf("failed to create SNS publisher: %w", err)
		}
		deps.Events = publisher
	}

	sender, err := a.senders(ctx)
	if err != nil {
		return deps, err
	}
	deps.Notifier = worker.NewDispatcher(sender, a.Logger)
	return deps, nil
}

// senders builds one breaker-protected sender per channel. Email falls back
// to logging when no sender address is configured.
func (a *App) senders(ctx context.Context) (worker.Sender, error) {
	cfg := a.Config

	var email worker.Sender = worker.NewLogSender(a.Logger, worker.ChannelEmail)
	if cfg.SESFromEmail != "" {
		ses, err := worker.NewSESSender(ctx, worker.SESConfig{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			FromEmail: cfg.SESFromEmail,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email sender: %w", err)
		}
		email = ses
	}

	sms, err := worker.NewSNSSender(ctx, worker.SNSConfig{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS SMS sender: %w", err)
	}

	webhook := worker.NewWebhookSender(a.Logger, worker.WebhookConfig{Timeout: cfg.WebhookTimeout})

	return worker.NewMultiSender(a.Logger,
		a.protect("ses", email),
		a.protect("sns_sms", sms),
		a.protect("webhook", webhook),
	), nil
}

func (a *App) protect(name string, s worker.Sender) worker.Sender {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.SetCircuitState(name, int(to))
	}
	breaker := circuitbreaker.New(cfg, a.Logger)
	metrics.SetCircuitState(name, int(circuitbreaker.StateClosed))
	a.Breakers = append(a.Breakers, breaker)
	return worker.NewProtectedSender(s, breaker, a.Logger)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
