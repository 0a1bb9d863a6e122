// Package server initializes and runs the VPN manager: the admin HTTP API,
// the Telegram bot and the periodic billing sweep, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/akazakov/vpnmanager/internal/bot"
	"github.com/akazakov/vpnmanager/internal/cryptox"
	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/config"
	"github.com/akazakov/vpnmanager/internal/server/gateway"
	"github.com/akazakov/vpnmanager/internal/server/httpapi"
	"github.com/akazakov/vpnmanager/internal/server/repositories/repomanager"
	"github.com/akazakov/vpnmanager/internal/server/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db *sql.DB

	userService   *services.UserService
	serverService *services.ServerService
	configService *services.ConfigService
	billing       *services.BillingService
	creationCost  decimal.Decimal

	api    *httpapi.Server
	botAPI *tgbotapi.BotAPI
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	key, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	cipher, err := cryptox.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init error: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager(cipher)
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	perConfigCost, err := decimal.NewFromString(cfg.PerConfigCost)
	if err != nil {
		return nil, fmt.Errorf("invalid per-config cost %q: %w", cfg.PerConfigCost, err)
	}
	creationCost, err := decimal.NewFromString(cfg.ConfigCreationCost)
	if err != nil {
		return nil, fmt.Errorf("invalid creation cost %q: %w", cfg.ConfigCreationCost, err)
	}

	factory := gateway.NewFactory(gateway.Options{
		Timeout: cfg.GatewayTimeout,
		Retries: cfg.GatewayRetries,
		Backoff: cfg.GatewayBackoff,
	})

	configService := services.NewConfigService(db, rm, factory, logger)
	billing := services.NewBillingService(db, rm, configService, perConfigCost, logger)
	userService := services.NewUserService(db, rm, configService, logger)
	serverService := services.NewServerService(db, rm, factory, logger)

	api := httpapi.NewServer(userService, serverService, configService, billing, httpapi.Options{
		AdminPasswordHash: cfg.AdminPasswordHash,
		SecretKey:         []byte(cfg.SecretKey),
		TokenValidity:     cfg.TokenValidityDuration,
		CreationCost:      creationCost,
	}, logger)

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		userService:   userService,
		serverService: serverService,
		configService: configService,
		billing:       billing,
		creationCost:  creationCost,
		api:           api,
	}

	if cfg.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("bot init error: %w", err)
		}
		app.botAPI = botAPI
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.AdminAddr,
		Handler: app.api.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "err", err)
		}
	}()

	app.logger.Info(ctx, "admin api listening", "addr", app.config.AdminAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "err", err)
		cancelFunc()
	}
}

func (app *App) startBot(ctx context.Context) {
	handler := bot.NewHandler(app.botAPI, app.userService, app.configService, app.serverService, app.billing, bot.Options{
		CreationCost: app.creationCost,
		BotName:      app.botAPI.Self.UserName,
	}, app.logger)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := app.botAPI.GetUpdatesChan(u)

	app.logger.Info(ctx, "bot started", "username", app.botAPI.Self.UserName)
	handler.Run(ctx, updates)
	app.botAPI.StopReceivingUpdates()
}

// startBillingScheduler runs the charge sweep at the configured interval and
// pushes low-balance warnings through the bot when one is attached.
func (app *App) startBillingScheduler(ctx context.Context) {
	var notifier *bot.Notifier
	if app.botAPI != nil {
		notifier = bot.NewNotifier(app.botAPI, app.logger)
	}

	ticker := time.NewTicker(app.config.BillingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := app.billing.ChargeAll(ctx)
			app.logger.Info(ctx, "charge sweep finished", "charged", len(results))
			if notifier != nil {
				notifier.Notify(ctx, results)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startBillingScheduler(ctx)
	}()

	if app.botAPI != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startBot(ctx)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "err", err)
	}
	app.logger.Info(ctx, "app stopped")
}

// RunSweep performs a single charge sweep with notifications. Used by the
// standalone billing runner so it can be scheduled externally.
func (app *App) RunSweep(ctx context.Context) error {
	results := app.billing.ChargeAll(ctx)
	app.logger.Info(ctx, "charge sweep finished", "charged", len(results))

	if app.botAPI != nil {
		bot.NewNotifier(app.botAPI, app.logger).Notify(ctx, results)
	}
	return app.db.Close()
}
