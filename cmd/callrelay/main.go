package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callrelay/callrelay/internal/audit"
	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/config"
	"github.com/callrelay/callrelay/internal/database"
	"github.com/callrelay/callrelay/internal/database/pgstore"
	"github.com/callrelay/callrelay/internal/escalate"
	"github.com/callrelay/callrelay/internal/metrics"
	"github.com/callrelay/callrelay/internal/session"
	"github.com/callrelay/callrelay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callrelay",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"store", storeKind(cfg),
	)

	// Open storage and run migrations. PostgreSQL when a DSN is configured,
	// embedded SQLite otherwise.
	gateway, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Audit trail writer.
	auditor := audit.NewRecorder(gateway.Audit, logger, 256)
	defer auditor.Close()

	// Session state and event tracking.
	store := session.NewMemoryStore()
	tracker := session.NewTracker(store, logger)

	// Classification rules: defaults extended by config.
	rules := classify.DefaultRules()
	rules.EmergencyKeywords = append(rules.EmergencyKeywords, config.SplitList(cfg.EmergencyKeywords)...)
	rules.MunicipalPrefixes = append(rules.MunicipalPrefixes, config.SplitList(cfg.MunicipalPrefixes)...)
	rules.BusinessKeywords = append(rules.BusinessKeywords, config.SplitList(cfg.BusinessKeywords)...)
	classifier := classify.NewClassifier(rules, logger)

	// Escalation routing and delivery channels.
	router := escalate.NewRouter(escalate.Directory{
		LeadPhone:        cfg.LeadPhone,
		ManagerPhone:     cfg.ManagerPhone,
		OnCallPhones:     config.SplitList(cfg.OnCallPhones),
		OnCallPushTokens: config.SplitList(cfg.OnCallPushTokens),
		OfficeEmail:      cfg.OfficeEmail,
	}, logger)

	senders := buildSenders(cfg, logger)
	dispatcher := escalate.NewDispatcher(
		escalate.NewMultiSender(senders),
		gateway.Attempts,
		auditor,
		logger,
		nil,
	)

	// Prometheus collector over the live stores.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(
		store, gateway.Calls, gateway.Alerts, gateway.Attempts, gateway.Audit, time.Now(),
	))

	limiter := webhook.NewRateLimiter(webhook.RateLimitConfig{
		Limit:           cfg.RateLimit,
		Window:          cfg.RateWindow(),
		CleanupInterval: 5 * time.Minute,
	})
	defer limiter.Stop()

	server := webhook.NewServer(webhook.ServerDeps{
		Verifier:   webhook.NewVerifier(cfg.WebhookSecret),
		Limiter:    limiter,
		Tracker:    tracker,
		Store:      store,
		Classifier: classifier,
		Router:     router,
		Dispatcher: dispatcher,
		Auditor:    auditor,
		Gateway:    gateway,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callrelay stopped")
}

// storeKind names the configured backing store for the startup log line.
func storeKind(cfg *config.Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "sqlite"
}

// openStore opens the configured backing store and returns the repository
// gateway plus a close function.
func openStore(cfg *config.Config) (*database.Gateway, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg.Gateway(), func() { pg.Close() }, nil
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return database.NewGateway(db), func() { db.Close() }, nil
}

// buildSenders constructs the delivery channel senders that are configured.
// Unconfigured channels are left out; a plan recipient on a missing channel
// fails its attempt with a clear error instead of crashing startup.
func buildSenders(cfg *config.Config, logger *slog.Logger) map[string]escalate.Sender {
	senders := make(map[string]escalate.Sender)

	smsCfg := escalate.SMSConfig{
		BaseURL:    cfg.SMSBaseURL,
		AccountSID: cfg.SMSAccountSID,
		AuthToken:  cfg.SMSAuthToken,
		FromNumber: cfg.SMSFromNumber,
		SendRate:   cfg.SMSSendRate,
	}
	if smsCfg.Configured() {
		senders[escalate.ChannelSMS] = escalate.NewSMSClient(smsCfg, logger)
	} else {
		slog.Warn("sms gateway not configured, sms notifications disabled")
	}

	if cfg.FCMCredentialsFile != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		fcm, err := escalate.NewFCMSender(ctx, cfg.FCMCredentialsFile)
		cancel()
		if err != nil {
			slog.Error("failed to initialise fcm, push notifications disabled", "error", err)
		} else {
			senders[escalate.ChannelPush] = fcm
		}
	}

	smtpCfg := escalate.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	}
	if smtpCfg.Valid() {
		senders[escalate.ChannelEmail] = escalate.NewEmailSender(smtpCfg, logger)
	}

	return senders
}
