package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bookshelf/internal/api"
	"bookshelf/internal/bot"
	"bookshelf/internal/catalog"
	"bookshelf/internal/config"
	"bookshelf/internal/filter"
	"bookshelf/internal/library"
	"bookshelf/internal/ratelimit"
	"bookshelf/internal/repository"
	"bookshelf/internal/session"
	"bookshelf/internal/storage"
	"bookshelf/internal/storage/ch"
	"bookshelf/internal/storage/stubs"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       storage.Storage
	registry *session.Registry
	limiter  *ratelimit.KeyedLimiter
	bot      *bot.Bot
	server   *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting bookshelf...")

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	deps, err := app.initLibrary()
	if err != nil {
		return nil, err
	}

	if cfg.BotEnabled() {
		if err := app.initBot(deps); err != nil {
			return nil, err
		}
	}

	app.initHTTPServer(deps)

	return app, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// initDatabase initializes the database connection
func (a *App) initDatabase() error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB(a.logger.Named("mockdb"))
	} else {
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
			a.logger.Named("clickhouse"),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB
	}

	if err := db.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// libraryDeps are the services shared by the HTTP API and the bot
type libraryDeps struct {
	registry *session.Registry
	repo     *repository.Repository
	engine   *filter.Engine
	catalog  *catalog.Catalog
	taxonomy *catalog.Taxonomy
	limiter  *ratelimit.KeyedLimiter
}

func (a *App) initLibrary() (libraryDeps, error) {
	taxonomy, err := catalog.LoadTaxonomy(a.config.TaxonomyPath)
	if err != nil {
		return libraryDeps{}, fmt.Errorf("failed to load taxonomy: %w", err)
	}

	suggestions, err := catalog.Load(a.config.CatalogPath)
	if err != nil {
		return libraryDeps{}, fmt.Errorf("failed to load catalog: %w", err)
	}
	a.logger.Info("Catalog loaded",
		zap.Int("books", suggestions.Len()),
		zap.Int("categories", len(taxonomy.Categories)),
	)

	engine, err := filter.NewEngine(a.config.CollationLocale, a.config.PageSize)
	if err != nil {
		return libraryDeps{}, err
	}

	repo := repository.New(a.db, a.logger.Named("repository"))
	a.registry = session.NewRegistry(repo, a.config.SessionTTL, a.logger.Named("session"), library.WithClassifier(taxonomy))
	a.limiter = ratelimit.PerMinute(a.config.CreateRatePerMinute)

	return libraryDeps{
		registry: a.registry,
		repo:     repo,
		engine:   engine,
		catalog:  suggestions,
		taxonomy: taxonomy,
		limiter:  a.limiter,
	}, nil
}

// initBot initializes the Telegram bot
func (a *App) initBot(deps libraryDeps) error {
	telegramBot, err := bot.NewBot(a.config.TelegramToken, bot.Deps{
		Registry: deps.registry,
		Engine:   deps.engine,
		Catalog:  deps.catalog,
		Limiter:  deps.limiter,
	}, a.config.AllowedUserIDs, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	a.bot = telegramBot
	return nil
}

// initHTTPServer builds the API server and, in webhook mode, the Telegram webhook endpoint
func (a *App) initHTTPServer(deps libraryDeps) {
	apiDeps := api.Deps{
		Registry: deps.registry,
		Store:    deps.repo,
		Engine:   deps.engine,
		Catalog:  deps.catalog,
		Taxonomy: deps.taxonomy,
		Limiter:  deps.limiter,
		Auth:     api.NewAuthenticator(a.config.JWTSecret),
	}
	if a.bot != nil {
		apiDeps.MiniApp = bot.NewInitDataVerifier(a.bot.Token(), a.bot.IsAllowed)
	}

	router := chi.NewRouter()
	if a.bot != nil && a.config.WebhookMode {
		router.Post(bot.WebhookPath, a.bot.WebhookHandler())
	}
	router.Mount("/", api.NewServer(apiDeps, a.logger.Named("api")))

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if a.bot != nil {
		if a.config.WebhookMode {
			if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
				return fmt.Errorf("failed to setup webhook: %w", err)
			}
			a.logger.Info("Bot will receive updates via HTTP endpoint", zap.String("path", bot.WebhookPath))
		} else {
			go func() {
				if err := a.bot.Start(); err != nil {
					a.logger.Error("Bot stopped", zap.Error(err))
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(runErr))
	}

	a.logger.Info("Shutting down...")
	if err := a.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if a.bot != nil {
		a.bot.Stop()
	}
	a.registry.Close()
	a.limiter.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
