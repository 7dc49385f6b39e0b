// Package main is the entrypoint for the Fulfillment Worker Lambda function.
//
// The worker consumes FulfillmentFailed messages from the repair queue and
// re-runs the fulfillment dispatcher for each paid order. It never changes
// payment status. Fulfillment writes are idempotent, so redelivered and
// duplicate messages are harmless.
//
// Cold Start (main):
//  1. Load .env (local) and resolve *_SSM_PARAM secrets (deployed).
//  2. Read worker settings with envconfig.
//  3. Open the database pool and build the Repairer.
//  4. Register the handler, or read one SQS event from stdin in local mode.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tourbook/internal/config"
	"tourbook/internal/db"
	"tourbook/internal/payments"
)

// workerConfig is the subset of configuration the worker needs.
type workerConfig struct {
	Environment    string        `envconfig:"APP_ENV" default:"local"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	Region         string        `envconfig:"AWS_REGION" default:"ap-south-1"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	MaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"4"`
	ConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
	MessageTimeout time.Duration `envconfig:"REPAIR_MESSAGE_TIMEOUT" default:"10s"`
}

func main() {
	_ = godotenv.Load()

	if os.Getenv("APP_ENV") != "local" {
		if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: resolving secrets: %v\n", err)
			os.Exit(1)
		}
	}

	var cfg workerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	pool, err := db.NewPool(context.Background(), db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.MaxConns,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dispatcher := payments.NewDispatcher(db.NewFulfillmentRepository(pool, logger), logger)
	handler := &Handler{
		repairer:       payments.NewRepairer(db.NewPaymentRepository(pool, logger), dispatcher, logger, 1),
		logger:         logger,
		messageTimeout: cfg.MessageTimeout,
	}

	logger.Info("Fulfillment Worker initialized", "environment", cfg.Environment)

	// Local mode: read JSON SQS event from stdin instead of starting Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/fulfillment-worker
	if cfg.Environment == "local" {
		if err := runLocal(handler, os.Stdin, logger); err != nil {
			logger.Error("Local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(handler *Handler, in io.Reader, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parse stdin as SQS event: %w", err)
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		return err
	}
	logger.Info("Handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}
