// Package main is the entry point for the simwatch supervisor.
// The supervisor formats corrective scripts for failing compute jobs
// and dispatches them to the compute nodes over SSH.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/internal/mail"
	"simwatch/internal/mq"
	"simwatch/internal/observability"
	"simwatch/internal/store/postgres"
	"simwatch/internal/supervision"
)

const queueName = "simwatch-supervisor"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New("supervisor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "simwatch-supervisor", cfg.OTELCollector)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Printf("Supervisor metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	messageMetrics, err := observability.NewMessageMetrics()
	if err != nil {
		log.Fatalf("Failed to init message metrics: %v", err)
	}

	broker, err := mq.DialBroker(cfg.BrokerURL, cfg.BrokerExchange, slogger, messageMetrics)
	if err != nil {
		log.Fatalf("Failed to dial broker: %v", err)
	}
	defer broker.Close()

	if err := broker.DeclareQueue(queueName, supervision.Codes...); err != nil {
		log.Fatalf("Failed to declare queue: %v", err)
	}

	alerter, err := mail.NewSender(mail.SenderConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.AlertFrom,
		To:       cfg.OperatorEmail,
	}, slogger)
	if err != nil {
		log.Fatalf("Failed to init alert sender: %v", err)
	}

	router, err := supervision.NewRouter(db, broker,
		supervision.NewLoginAllowlist(cfg.AuthorizedLogins),
		supervision.NewSSHDispatcher(cfg.SSHKeyFile, cfg.SSHPort),
		alerter,
		supervision.RouterConfig{
			MaxPeriodFailures: cfg.MaxJobPeriodFailures,
			MaxDispatchTries:  cfg.MaxDispatchTries,
		}, slogger)
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := broker.Consume(ctx, queueName, router); err != nil && ctx.Err() == nil {
			log.Printf("Consumer stopped: %v", err)
		}
	}()
	slogger.Info("supervisor started", "queue", queueName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down supervisor...")
	cancel()
	<-done
}
