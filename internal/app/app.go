// Package app wires the pump controller dependency graph.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fastlane/internal/auth"
	"fastlane/internal/config"
	"fastlane/internal/controller"
	"fastlane/internal/db"
	httpserver "fastlane/internal/http"
	"fastlane/internal/http/handlers"
	"fastlane/internal/http/middleware"
	"fastlane/internal/ledger"
	"fastlane/internal/reader"
	"fastlane/internal/relay"
	"fastlane/internal/repository"
	"fastlane/internal/store"
	"fastlane/internal/ws"
)

// App owns the running pieces of the controller daemon.
type App struct {
	server      *httpserver.Server
	ctrl        *controller.Controller
	hub         *ws.Hub
	sqlDB       *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	var pin relay.Pin = &relay.MemoryPin{}
	if cfg.Pump.RelayGPIOPath != "" {
		sysfsPin, err := relay.NewSysfsPin(cfg.Pump.RelayGPIOPath)
		if err != nil {
			return nil, err
		}
		pin = sysfsPin
	} else {
		logger.Warn("no relay gpio path configured, using in-memory pin")
	}
	pumpRelay := relay.New(pin, cfg.Pump.RelayActiveLow)

	var balances store.BalanceStore
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		client, err := store.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		redisClient = client
		balances = store.NewRedisStore(client)
	} else {
		logger.Warn("no redis addr configured, balances will not survive restarts")
		balances = store.NewMemoryStore()
	}

	ledgerClient := ledger.NewClient(cfg.Backend.BaseURL, logger)

	var sqlDB *sql.DB
	var history controller.History
	var historyRepo *repository.HistoryRepository
	if cfg.Database.DSN != "" {
		pool, err := db.NewPostgres(cfg.Database.DSN)
		if err != nil {
			closeQuiet(redisClient)
			return nil, err
		}
		sqlDB = pool
		historyRepo = repository.NewHistoryRepository(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := historyRepo.EnsureSchema(ctx); err != nil {
			sqlDB.Close()
			closeQuiet(redisClient)
			return nil, err
		}
		history = historyRepo
	}

	ctrl := controller.New(controller.Config{
		AdminUID:        cfg.Admin.CardUID,
		RatePerLitre:    cfg.Pump.RatePerLitre,
		SecondsPerLitre: cfg.Pump.SecondsPerLitre,
		CardTimeout:     cfg.CardTimeout(),
		TickInterval:    cfg.TickInterval(),
	}, controller.Deps{
		Relay:   pumpRelay,
		Store:   balances,
		Ledger:  ledgerClient,
		Reader:  reader.NopReader{},
		History: history,
		Logger:  logger,
	})

	hub := ws.NewHub(logger)

	cardHandler := handlers.NewCardHandler(ctrl, logger)
	dispenseHandler := handlers.NewDispenseHandler(ctrl, logger)
	topupHandler := handlers.NewTopupHandler(ctrl, logger)

	routes := httpserver.Routes{
		Status:       handlers.NewStatusHandler(ctrl),
		SetUID:       cardHandler.HandleSetUID,
		Start:        dispenseHandler.HandleStart,
		Stop:         dispenseHandler.HandleStop,
		Topup:        topupHandler.HandleTopup,
		StatusStream: hub.HandleWS,
		Health:       handlers.NewHealthHandler(),
	}

	if cfg.AuthEnabled() {
		tokens := auth.NewTokenService(cfg.Admin.JWTSecret, time.Hour)
		loginHandler := handlers.NewLoginHandler(
			cfg.Admin.Username,
			cfg.Admin.PasswordHash,
			auth.NewBcryptHasher(0),
			tokens,
			logger,
		)
		routes.Login = loginHandler.HandleLogin
		routes.Topup = middleware.RequireAdmin(tokens, topupHandler.HandleTopup)
	} else {
		logger.Warn("admin login not configured, topup endpoint is unguarded")
	}

	if historyRepo != nil {
		routes.History = handlers.NewHistoryHandler(historyRepo, logger)
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		ctrl:        ctrl,
		hub:         hub,
		sqlDB:       sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the HTTP server, the controller tick loop and the status
// broadcaster, and blocks until the context is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		return a.ctrl.Run(ctx)
	})
	g.Go(func() error {
		a.hub.Run(ctx, time.Second, func() interface{} {
			return a.ctrl.Status()
		})
		return nil
	})

	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func closeQuiet(client *redis.Client) {
	if client != nil {
		_ = client.Close()
	}
}
