package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ecommerce-backend/config"
	"ecommerce-backend/consumers"
	"ecommerce-backend/controllers"
	"ecommerce-backend/database"
	"ecommerce-backend/logging"
	"ecommerce-backend/middlewares"
	"ecommerce-backend/rabbitmq"
	"ecommerce-backend/receipts"
	"ecommerce-backend/services"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 30 * time.Second
	receiptWorkers  = 4
)

// meteredPublisher counts receipt jobs that never reached the queue.
type meteredPublisher struct {
	services.JobPublisher
}

func (p meteredPublisher) Publish(ctx context.Context, job receipts.Job) error {
	err := p.JobPublisher.Publish(ctx, job)
	if err != nil {
		middlewares.RecordReceiptJob(job.Kind, "publish_failed")
	}
	return err
}

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid_config", zap.Error(err))
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	ctx := logging.ContextWithLogger(context.Background(), logger)

	if err := database.InitDB(cfg); err != nil {
		logger.Fatal("database_init_failed", zap.Error(err))
	}
	db := database.DB

	accounts := services.NewAccountService(db, cfg.JWTSecret, cfg.JWTTTL)
	if err := accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Fatal("admin_bootstrap_failed", zap.Error(err))
	}

	store, err := receipts.NewFileStore(cfg.ReceiptDir, cfg.ReceiptBaseURL)
	if err != nil {
		logger.Fatal("receipt_store_init_failed", zap.Error(err))
	}
	var mailer receipts.Mailer = receipts.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = receipts.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		logger.Warn("smtp_not_configured")
	}
	processor := receipts.NewProcessor(db, store, mailer)

	policy := receipts.DefaultRetryPolicy()
	policy.MaxRetries = cfg.ReceiptMaxRetries
	policy.BaseDelay = cfg.ReceiptRetryDelay

	// Receipts go through RabbitMQ when it is configured, otherwise through
	// an in-process queue with the same retry policy.
	var (
		publisher services.JobPublisher
		stopJobs  func(context.Context) error
		rmq       *rabbitmq.RabbitMQ
	)
	if cfg.RabbitMQURL != "" {
		rmq, err = rabbitmq.NewRabbitMQ(cfg)
		if err != nil {
			logger.Fatal("rabbitmq_init_failed", zap.Error(err))
		}
		if err := rmq.SetupQueues(); err != nil {
			logger.Fatal("rabbitmq_setup_failed", zap.Error(err))
		}
		consumer := consumers.NewReceiptConsumer(processor.Handle, rmq, policy, middlewares.RecordReceiptJob)
		if err := consumer.Start(ctx, rmq.Channel, cfg); err != nil {
			logger.Fatal("receipt_consumer_start_failed", zap.Error(err))
		}
		publisher, stopJobs = rmq, consumer.Stop
	} else {
		logger.Warn("rabbitmq_not_configured_using_in_process_queue")
		queue := receipts.NewQueue(processor.Handle, policy, receiptWorkers, middlewares.RecordReceiptJob)
		queue.Start(ctx)
		publisher, stopJobs = queue, queue.Stop
	}
	publisher = meteredPublisher{publisher}

	ledger := services.NewInventoryLedger(db)
	deps := controllers.Deps{
		DB:        db,
		JWTSecret: cfg.JWTSecret,
		Accounts:  accounts,
		Orders:    services.NewOrderService(db, publisher, cfg.CardSecret),
		Refunds: services.NewRefundService(db, publisher, services.RefundPolicy{
			Window:        cfg.RefundWindow,
			ReferenceDate: cfg.RefundReferenceDate,
		}),
		Carts:     services.NewCartStore(db),
		Catalog:   services.NewCatalogService(db, ledger),
		Documents: store,
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(middlewares.PrometheusMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	controllers.RegisterRoutes(r, deps)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http_server_started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_server_failed", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// Requests and receipt jobs must drain before the database closes.
			"ecommerce-backend": func(ctx context.Context) error {
				logger.Info("shutdown_started")
				var errs []error
				if err := server.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				if err := stopJobs(ctx); err != nil {
					errs = append(errs, err)
				}
				if rmq != nil {
					if err := rmq.Close(); err != nil {
						errs = append(errs, err)
					}
				}
				if err := database.CloseDB(); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("shutdown_complete", zap.Int("exit_code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}
