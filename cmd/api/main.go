// Package main is the entry point for the Reportly API server.
//
// It loads configuration, connects the Postgres pool and AWS clients, wires
// the repositories, domain services, and HTTP handlers, and runs the server
// with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"reportly/internal/api/handlers"
	"reportly/internal/config"
	"reportly/internal/core"
	"reportly/internal/db"
	"reportly/internal/entitlement"
	"reportly/internal/external"
	"reportly/internal/incentives"
	"reportly/internal/metrics"
	"reportly/internal/notify"
	"reportly/internal/queue"
	"reportly/internal/support"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("reportly API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	// AWS clients (SQS job queue, CloudWatch metrics).
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	// Repositories.
	accounts := db.NewAccountRepo(pool)
	credits := db.NewCreditLotRepo(pool)
	subs := db.NewSubscriptionRepo(pool, logger)
	referrals := db.NewReferralRepo(pool)
	testimonials := db.NewTestimonialRepo(pool)
	tickets := db.NewSupportRepo(pool)
	eventArchive := db.NewEventArchiveRepo(pool)
	lotConsumer := db.NewTxLotConsumer(pool)

	// Outbound clients.
	httpClient := &http.Client{Timeout: 30 * time.Second}
	authClient := external.NewAuthClient(httpClient, accounts, external.AuthClientConfig{
		BaseURL: cfg.Auth.BaseURL,
		APIKey:  cfg.Auth.APIKey.Unmask(),
		Logger:  logger,
	})
	stripeClient := external.NewStripeClient(httpClient, accounts, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		Logger:    logger,
	})
	mailer := external.NewSendGridClient(httpClient, external.SendGridClientConfig{
		APIKey:      cfg.Email.APIKey.Unmask(),
		BaseURL:     cfg.Email.BaseURL,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	})

	// Domain services.
	notifier := notify.NewNotifier(mailer, accounts, cfg.Server.AppURL, logger)
	dispatcher := queue.NewReportDispatcher(sqsClient, cfg.Engine.JobQueueURL, logger)
	recorder := metrics.NewRecorder(cwClient, cfg.AWS.MetricNamespace, logger)
	ledger := entitlement.NewService(accounts, subs, credits, lotConsumer, logger)
	referralSvc := incentives.NewReferralService(pool, referrals,
		cfg.Referral.SignupCredits, cfg.Referral.ReferralCredits, logger)
	testimonialSvc := incentives.NewTestimonialService(pool, testimonials, logger)
	supportSvc := support.NewService(pool, tickets, notifier, logger)

	// HTTP chassis and handlers.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authClient

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		accounts,
		subs,
		credits,
		eventArchive,
		notifier,
		recorder,
		cfg.Billing.WebhookSecrets,
		logger,
	)
	reportsHandler := handlers.NewReportsHandler(
		srv, accounts, credits, ledger, dispatcher, notifier, recorder,
		cfg.Server.AppURL, logger,
	)
	billingHandler := handlers.NewBillingHandler(srv, stripeClient, ledger, cfg.Server.AppURL, logger)
	referralsHandler := handlers.NewReferralsHandler(srv, referralSvc, logger)
	testimonialsHandler := handlers.NewTestimonialsHandler(srv, testimonialSvc, testimonials, logger)
	supportHandler := handlers.NewSupportHandler(srv, supportSvc, logger)
	adminHandler := handlers.NewAdminHandler(srv, accounts, credits, lotConsumer, testimonials, logger)

	router := srv.Router()

	// Public routes: webhook (signature-verified) and guest submission.
	webhookHandler.RegisterRoutes(router)
	reportsHandler.RegisterPublicRoutes(router)

	// Authenticated routes.
	router.Group(func(r chi.Router) {
		r.Use(srv.AuthMiddleware)
		reportsHandler.RegisterRoutes(r)
		billingHandler.RegisterRoutes(r)
		referralsHandler.RegisterRoutes(r)
		testimonialsHandler.RegisterRoutes(r)
		supportHandler.RegisterRoutes(r)
	})

	// Back-office routes.
	router.Group(func(r chi.Router) {
		r.Use(srv.AuthMiddleware)
		r.Use(srv.RequireAdmin)
		adminHandler.RegisterRoutes(r)
		supportHandler.RegisterAdminRoutes(r)
	})

	return runHTTPServer(ctx, srv, cfg, logger)
}

// runHTTPServer serves until the context is cancelled (signal) or the
// listener fails, then shuts down gracefully with a 10-second deadline.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
