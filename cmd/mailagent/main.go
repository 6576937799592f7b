// Package main is the entry point for the simwatch mail agent.
// The agent announces newly arrived mailbox emails on the broker and
// decodes announced emails into individual messages.
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
	"simwatch/internal/mailbridge"
	"simwatch/internal/mq"
	"simwatch/internal/observability"
	"simwatch/internal/store/postgres"
)

const queueName = "simwatch-mailagent"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New("mailagent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "simwatch-mailagent", cfg.OTELCollector)
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
		log.Printf("Mail agent metrics listening on %s", cfg.MetricsAddr)
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

	if err := broker.DeclareQueue(queueName, mq.CodeSMTPBridge); err != nil {
		log.Fatalf("Failed to declare queue: %v", err)
	}

	imapCfg := mailbridge.IMAPConfig{
		Addr:     cfg.IMAPAddr,
		Username: cfg.IMAPUsername,
		Password: cfg.IMAPPassword,
		Inbox:    cfg.IMAPMailbox,
	}

	// The realtime agent and the decoder hold separate IMAP sessions:
	// IDLE monopolizes a session while the decoder needs fetch access.
	bridge := mailbridge.NewBridge(
		mailbridge.NewIMAPMailbox(imapCfg),
		db, broker, cfg.IMAPServerID, cfg.IdleFaultRetryDelay, slogger)

	decoderBox := mailbridge.NewIMAPMailbox(imapCfg)
	if err := decoderBox.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect decoder mailbox: %v", err)
	}
	defer decoderBox.Close()

	decoder := mailbridge.NewDecoder(decoderBox, db, broker, mailbridge.DecoderConfig{
		ServerID:        cfg.IMAPServerID,
		ProcessedFolder: cfg.IMAPMailboxProcessed,
		RejectedFolder:  cfg.IMAPMailboxRejected,
		DeleteProcessed: cfg.DeleteProcessedEmail,
		ExcludedCodes:   cfg.ExcludedTypeCodes,
	}, slogger)

	router := mq.NewRouter()
	router.Register(mq.CodeSMTPBridge, decoder)

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Bridge stopped: %v", err)
		}
	}()

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if err := broker.Consume(ctx, queueName, router); err != nil && ctx.Err() == nil {
			log.Printf("Consumer stopped: %v", err)
		}
	}()
	slogger.Info("mail agent started", "queue", queueName, "mailbox", cfg.IMAPMailbox)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down mail agent...")
	cancel()
	<-bridgeDone
	<-consumeDone
}
