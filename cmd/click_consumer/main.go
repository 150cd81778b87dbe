package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IgorGrieder/zurl/internal/config"
	"github.com/IgorGrieder/zurl/internal/events"
	"github.com/IgorGrieder/zurl/internal/infrastructure/db"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/infrastructure/telemetry"
	"github.com/IgorGrieder/zurl/internal/processing/clicks"
	mongoStorage "github.com/IgorGrieder/zurl/internal/storage/mongo"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type consumerConfig struct {
	appEnv        string
	appName       string
	appVersion    string
	logLevel      string
	otelEndpoint  string
	sampleRatio   float64
	mongoURI      string
	mongoDatabase string

	kafkaBrokers []string
	kafkaTopic   string
	kafkaGroupID string

	fetchMaxWait   time.Duration
	operationTTL   time.Duration
	consumeBackoff time.Duration
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.appEnv, cfg.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		Endpoint:       cfg.otelEndpoint,
		ServiceName:    fmt.Sprintf("%s-click-consumer", cfg.appName),
		ServiceVersion: cfg.appVersion,
		Environment:    cfg.appEnv,
		SampleRatio:    cfg.sampleRatio,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		shutdownTracer = nil
	} else {
		logger.Info("OpenTelemetry tracer initialized",
			zap.String("endpoint", cfg.otelEndpoint),
			zap.String("service", fmt.Sprintf("%s-click-consumer", cfg.appName)),
		)
	}
	defer func() {
		if shutdownTracer == nil {
			return
		}
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to shutdown tracer", zap.Error(err))
		}
	}()

	mongoConn, err := db.ConnectMongo(cfg.mongoURI, cfg.mongoDatabase)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() { _ = mongoConn.Disconnect() }()

	store, err := mongoStorage.NewDocumentStore(mongoConn, mongoStorage.DefaultIndexes()...)
	if err != nil {
		logger.Fatal("failed to initialize document store", zap.Error(err))
	}
	statsRepo, err := mongoStorage.NewClickStatsRepository(mongoConn)
	if err != nil {
		logger.Fatal("failed to initialize stats repository", zap.Error(err))
	}
	counter := clicks.NewCounter(store, statsRepo)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.kafkaBrokers,
		Topic:       cfg.kafkaTopic,
		GroupID:     cfg.kafkaGroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     cfg.fetchMaxWait,
		StartOffset: kafka.FirstOffset,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("failed to close kafka reader", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("click consumer started",
		zap.Strings("kafka_brokers", cfg.kafkaBrokers),
		zap.String("kafka_topic", cfg.kafkaTopic),
		zap.String("kafka_group", cfg.kafkaGroupID),
	)

	consume(ctx, reader, counter, cfg)
	logger.Info("click consumer stopping")
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume applies messages in order until ctx is cancelled. A message that
// cannot be applied is retried with backoff rather than skipped, so the group
// offset never moves past a click that was not counted.
func consume(ctx context.Context, reader messageReader, applier clickApplier, cfg consumerConfig) {
	tracer := otel.Tracer("click-consumer")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to fetch kafka message", zap.Error(err))
			if !sleep(ctx, cfg.consumeBackoff) {
				return
			}
			continue
		}

		if !handleMessage(ctx, tracer, reader, applier, cfg, msg) {
			return
		}
	}
}

// handleMessage applies msg and commits its offset, retrying each step until
// it succeeds. It reports false when ctx ended first.
func handleMessage(
	ctx context.Context,
	tracer trace.Tracer,
	reader messageReader,
	applier clickApplier,
	cfg consumerConfig,
	msg kafka.Message,
) bool {
	msgFields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	}
	consumeCtx, span := tracer.Start(
		contextFromKafkaHeaders(ctx, msg.Headers),
		"kafka.consume.click_recorded",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.operation", "process"),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		err := processMessage(consumeCtx, msg, applier, cfg.operationTTL)
		if err == nil {
			break
		}
		span.RecordError(err)
		logger.Error("failed to process click event, retrying",
			append(msgFields, zap.Int("attempt", attempt), zap.Error(err))...)
		if !sleep(ctx, cfg.consumeBackoff) {
			span.SetStatus(codes.Error, "process click event failed")
			return false
		}
	}

	for attempt := 1; ; attempt++ {
		err := reader.CommitMessages(consumeCtx, msg)
		if err == nil {
			return true
		}
		span.RecordError(err)
		logger.Error("failed to commit kafka offset, retrying",
			append(msgFields, zap.Int("attempt", attempt), zap.Error(err))...)
		if !sleep(ctx, cfg.consumeBackoff) {
			span.SetStatus(codes.Error, "commit kafka offset failed")
			return false
		}
	}
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type clickApplier interface {
	Apply(ctx context.Context, eventID, linkID string, at time.Time) error
}

// processMessage applies one click.recorded message. Undecodable payloads are
// logged and acknowledged so a poison message cannot stall the partition.
func processMessage(
	ctx context.Context,
	msg kafka.Message,
	applier clickApplier,
	operationTTL time.Duration,
) error {
	var event events.ClickRecorded
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Warn("invalid click event payload, skipping",
			zap.Error(err),
			zap.ByteString("payload", msg.Value),
		)
		return nil
	}
	if strings.TrimSpace(event.LinkID) == "" {
		logger.Warn("click event missing link id, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	occurredAt, ok := event.Time(msg.Time)
	if !ok {
		logger.Warn("invalid event occurredAt, using kafka timestamp",
			zap.String("event_id", event.EventID),
			zap.String("occurred_at", event.OccurredAt),
		)
	}

	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		eventID = messageID(msg)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTTL)
	defer cancel()

	return applier.Apply(opCtx, eventID, event.LinkID, occurredAt)
}

// messageID identifies a message by its log position, which is stable across
// redeliveries.
func messageID(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func loadConfig() (consumerConfig, error) {
	cfg := consumerConfig{
		appEnv:         config.GetEnv("APP_ENV", "production"),
		appName:        config.GetEnv("APP_NAME", "zurl"),
		appVersion:     config.GetEnv("APP_VERSION", "0.1.0"),
		logLevel:       config.GetEnv("LOG_LEVEL", "info"),
		otelEndpoint:   config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://jaeger:4318"),
		sampleRatio:    config.GetEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		mongoURI:       config.GetEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		mongoDatabase:  config.GetEnv("MONGODB_DATABASE", "zurl"),
		kafkaBrokers:   config.SplitCSV(config.GetEnv("KAFKA_BROKERS", "kafka:9092")),
		kafkaTopic:     config.GetEnv("KAFKA_CLICK_TOPIC", "clicks.recorded"),
		kafkaGroupID:   config.GetEnv("KAFKA_CLICK_GROUP_ID", "click-analytics"),
		fetchMaxWait:   config.GetEnvDuration("KAFKA_CONSUMER_MAX_WAIT", 500*time.Millisecond),
		operationTTL:   config.GetEnvDuration("KAFKA_CONSUMER_OPERATION_TIMEOUT", 5*time.Second),
		consumeBackoff: config.GetEnvDuration("KAFKA_CONSUMER_BACKOFF", 500*time.Millisecond),
	}

	if len(cfg.kafkaBrokers) == 0 {
		return consumerConfig{}, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if strings.TrimSpace(cfg.kafkaTopic) == "" {
		return consumerConfig{}, fmt.Errorf("KAFKA_CLICK_TOPIC must not be empty")
	}
	if strings.TrimSpace(cfg.kafkaGroupID) == "" {
		return consumerConfig{}, fmt.Errorf("KAFKA_CLICK_GROUP_ID must not be empty")
	}
	if cfg.operationTTL <= 0 {
		return consumerConfig{}, fmt.Errorf("KAFKA_CONSUMER_OPERATION_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func contextFromKafkaHeaders(parent context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		key := strings.ToLower(strings.TrimSpace(header.Key))
		if key == "" {
			continue
		}
		carrier.Set(key, string(header.Value))
	}
	return otel.GetTextMapPropagator().Extract(parent, carrier)
}
