// Package entitlementapp wires the entitlement service together and
// runs the HTTP server.
package entitlementapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/aistudyjp/entitlement-service/internal/billing"
	"github.com/aistudyjp/entitlement-service/internal/cache"
	"github.com/aistudyjp/entitlement-service/internal/config"
	"github.com/aistudyjp/entitlement-service/internal/lib/jwt"
	"github.com/aistudyjp/entitlement-service/internal/lib/rabbitmq"
	"github.com/aistudyjp/entitlement-service/internal/migrations"
	authservice "github.com/aistudyjp/entitlement-service/internal/services/auth"
	campaignservice "github.com/aistudyjp/entitlement-service/internal/services/campaign"
	entitlementservice "github.com/aistudyjp/entitlement-service/internal/services/entitlement"
	reconcileservice "github.com/aistudyjp/entitlement-service/internal/services/reconcile"
	"github.com/aistudyjp/entitlement-service/internal/storage/repository"
)

// App holds the HTTP server and the resources it owns.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *repository.Storage
	amqpConn *amqp.Connection
}

// New builds the application: storage, migrations, cache, broker,
// provider client, services and routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	amqpConn, amqpCh, err := rabbitmq.Connect(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	if err = rabbitmq.DeclareExchange(amqpCh, cfg.RabbitMQ.Exchange); err != nil {
		return nil, err
	}
	publisher := rabbitmq.NewPublisher(amqpCh, cfg.RabbitMQ.Exchange)

	providerClient := billing.NewClient(cfg.Billing.ShopID, cfg.Billing.SecretKey, cfg.Billing.APIURL)
	jwtMaker := jwt.NewMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	authService := authservice.New(db, jwtMaker)
	entitlementService := entitlementservice.New(db, cacheRedis, publisher, logger)
	campaignService := campaignservice.New(db, providerClient, cacheRedis, publisher, logger)
	reconcileService := reconcileservice.New(db, providerClient, cacheRedis, publisher, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, RouteServices{
		Auth:          authService,
		Entitlement:   entitlementService,
		Campaign:      campaignService,
		Reconcile:     reconcileService,
		WebhookSecret: cfg.Billing.WebhookSecret,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		amqpConn: amqpConn,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.amqpConn.Close()
		_ = a.db.DB.Close()
		return err
	}
}
