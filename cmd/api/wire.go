package main

import (
	"log/slog"

	"tourbook/internal/api/handlers"
	"tourbook/internal/archive"
	"tourbook/internal/auth"
	"tourbook/internal/config"
	"tourbook/internal/core"
	"tourbook/internal/db"
	"tourbook/internal/external"
	"tourbook/internal/metrics"
	"tourbook/internal/payments"
	"tourbook/internal/queue"
)

// awsClients holds the optional AWS dependencies. A nil client disables the
// component that needs it.
type awsClients struct {
	s3         archive.S3API
	sqs        queue.SQSSender
	cloudwatch metrics.CloudWatchClient
}

// buildServer wires repositories, gateways and the payments core into a
// mounted core.Server. The returned Recorder is nil when metrics are off.
func buildServer(cfg *config.Config, logger *slog.Logger, conn db.DBTX, dbProbe core.HealthProbe, clients awsClients) (*core.Server, *metrics.Recorder, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	paymentRepo := db.NewPaymentRepository(conn, logger)
	fulfillmentRepo := db.NewFulfillmentRepository(conn, logger)
	catalogRepo := db.NewCatalogRepository(conn)
	gateways := external.NewRegistryFromConfig(cfg.Payments, cfg.IsLocal(), logger)

	dispatcher := payments.NewDispatcher(fulfillmentRepo, logger)
	engineOpts := []payments.EngineOption{
		payments.WithLogger(logger),
		payments.WithQueryTimeout(cfg.Database.QueryTimeout),
	}

	var recorder *metrics.Recorder
	if clients.cloudwatch != nil {
		recorder = metrics.NewRecorder(clients.cloudwatch, cfg.Observability.MetricNamespace, logger)
		srv.Metrics = recorder
		engineOpts = append(engineOpts, payments.WithMetrics(recorder))
	}
	if clients.s3 != nil {
		engineOpts = append(engineOpts, payments.WithArchiver(
			archive.NewWebhookArchive(clients.s3, cfg.AWS.WebhookArchiveBucket, logger)))
	}
	if clients.sqs != nil {
		engineOpts = append(engineOpts, payments.WithFailureReporter(
			queue.NewFulfillmentReporter(clients.sqs, cfg.AWS, logger)))
	}

	engine := payments.NewEngine(paymentRepo, dispatcher, gateways, engineOpts...)
	orders := payments.NewOrderService(paymentRepo, catalogRepo, gateways,
		payments.WithGatewayTimeout(cfg.Payments.GatewayTimeout),
		payments.WithDefaultCurrency(cfg.Payments.DefaultCurrency),
		payments.WithOrderLogger(logger),
	)
	repairer := payments.NewRepairer(paymentRepo, dispatcher, logger, 0)

	srv.Authenticator = auth.NewTokenAuthenticator(auth.TokenConfig{
		JWTSecret:   cfg.Auth.JWTSecret,
		JWTIssuer:   cfg.Auth.JWTIssuer,
		AdminAPIKey: cfg.Security.AdminAPIKey,
		Logger:      logger,
	})
	if dbProbe != nil {
		srv.HealthProbes = append(srv.HealthProbes, dbProbe)
	}

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		handlers.NewPaymentsHandler(orders, engine, srv.Validator, logger).RegisterRoutes,
		handlers.NewWebhookHandler(engine, logger).RegisterRoutes,
		handlers.NewAdminHandler(repairer, logger).RegisterRoutes,
	)
	srv.MountRoutes()

	return srv, recorder, nil
}
