package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"estatehub/billing"
	"estatehub/chat"
	"estatehub/config"
	"estatehub/database"
	"estatehub/handlers"
	"estatehub/locks"
	"estatehub/middleware"
	"estatehub/notify"
	"estatehub/payment"
)

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Stdout, middleware.NewJWT(cfg.Auth.JWTSecret), os.Args[2:]); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	if !envLoaded {
		logger.Info("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	store, err := database.Open(openCtx, cfg.Database, logger)
	cancel()
	if err != nil {
		logger.Fatal("open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close(context.Background())

	var (
		rdb    *redis.Client
		locker locks.Locker = locks.NewLocalLocker()
	)
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
		locker = locks.NewRedisLocker(rdb, cfg.Stripe.WebhookTimeout, logger)
		logger.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		notifier  notify.Notifier
		publisher notify.Publisher
	)
	if cfg.Kafka.Enabled() {
		k := notify.NewKafkaNotifier(cfg.Kafka, logger)
		defer k.Close()
		notifier, publisher = k, k
	} else {
		l := notify.NewLogNotifier(logger)
		notifier, publisher = l, l
	}

	validate := validator.New()
	gateway := payment.NewStripeGateway(cfg.Stripe, logger)

	var hub *handlers.Hub
	if rdb != nil {
		hub = handlers.NewHub(rdb, logger)
	} else {
		hub = handlers.NewHub(nil, logger)
	}
	go hub.Run(ctx)

	engine := chat.NewEngine(store, hub, notifier, validate, logger.Named("chat"))
	reconciler := billing.NewReconciler(store, gateway, locker, publisher, validate, logger.Named("billing"))
	go reconciler.RunExpirySweeper(ctx, cfg.Subscriptions.SweepInterval, cfg.Database.Timeout)

	router := handlers.NewRouter(handlers.Routes{
		Auth:      middleware.NewJWT(cfg.Auth.JWTSecret),
		WebSocket: handlers.NewWebSocketHandler(hub, engine, cfg.CORS.AllowedOrigins, cfg.Database.Timeout, logger.Named("ws")),
		Groups:    handlers.NewGroupHandler(engine, logger),
		Messages:  handlers.NewMessageHandler(engine, logger),
		Checkout:  handlers.NewCheckoutHandler(reconciler, logger),
		Webhook:   handlers.NewWebhookHandler(gateway, reconciler, cfg.Stripe.WebhookTimeout, logger.Named("webhook")),
		Origins:   cfg.CORS.AllowedOrigins,
		Logger:    logger,

		StoreTimeout:    cfg.Database.Timeout,
		CheckoutTimeout: cfg.Stripe.WebhookTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// issueToken prints a bearer token for `estatehub token <user-id> [ttl]`,
// for operators and local clients when the account service is not running.
func issueToken(w io.Writer, j *middleware.JWT, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: estatehub token <user-id> [ttl]")
	}
	if _, err := uuid.Parse(args[0]); err != nil {
		return fmt.Errorf("user id %q: %w", args[0], err)
	}
	ttl := 24 * time.Hour
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("ttl: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("ttl must be positive, got %s", d)
		}
		ttl = d
	}
	token, err := j.Sign(args[0], ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
