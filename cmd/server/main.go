package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"statarb/internal/api"
	"statarb/internal/bot"
	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/repository"
	"statarb/internal/service"
	"statarb/internal/websocket"
	"statarb/pkg/utils"
)

// journalRetention сколько хранить уведомления и ордера в БД
const journalRetention = 30 * 24 * time.Hour

func main() {
	if handled, code := runTool(os.Args[1:], os.Stdout); handled {
		os.Exit(code)
	}
	os.Exit(run())
}

// run возвращает код выхода: 1 если бот остановлен аварийно (откат не удался)
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log := utils.InitGlobalLogger(cfg.LogConfig())
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Журнал ордеров и уведомлений в Postgres - необязательный
	var (
		notificationRepo service.NotificationRepositoryInterface
		orderRepo        service.OrderRepositoryInterface
	)
	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			log.Error("failed to connect to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
			return 1
		}
		defer db.Close()

		notificationRepo = repository.NewNotificationRepository(db)
		orderRepo = repository.NewOrderRepository(db)
		log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	}

	gw, err := newGateway(cfg)
	if err != nil {
		log.Error("failed to create gateway", utils.Err(err))
		return 1
	}
	defer exchange.CloseGlobalClient()

	hub := websocket.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	notifications := service.NewNotificationService(notificationRepo)
	notifications.SetWebSocketHub(hub)
	if telegram := service.NewTelegramNotifier(cfg.Telegram, nil); telegram != nil {
		notifications.SetTelegram(telegram)
	}
	journal := service.NewJournalService(orderRepo)

	ledger := repository.NewFileLedger(cfg.Execution.LedgerPath)
	candidates := repository.NewCandidateStore(cfg.Execution.CandidatesPath)

	engine, err := bot.NewEngine(cfg, bot.EngineDeps{
		Gateway:    gw,
		Ledger:     ledger,
		Candidates: candidates,
		Notifier:   notifications,
		Journal:    journal,
		Hub:        hub,
	})
	if err != nil {
		log.Error("failed to build engine", utils.Err(err))
		return 1
	}

	var server *http.Server
	if cfg.Server.Enabled {
		router := api.SetupRoutes(&api.Dependencies{
			Status:         engine,
			Ledger:         ledger,
			Candidates:     candidates,
			Journal:        journal,
			Notifications:  notifications,
			WebSocket:      hub.ServeWS,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			TokenHash:      cfg.Security.APITokenHash,
		})

		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("starting status server", utils.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server failed", utils.Err(err))
			}
		}()
	}

	if notificationRepo != nil {
		go cleanupJournals(ctx, notifications, journal)
	}

	log.Info("starting engine",
		utils.String("exchange", gw.Name()),
		utils.String("ledger", ledger.Path()),
		utils.String("candidates", candidates.Path()),
	)
	runErr := engine.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("status server forced to shutdown", utils.Err(err))
		}
		cancel()
	}

	// ABORT проверяется первым: отмена по сигналу не должна превращать его в штатную остановку
	switch {
	case bot.IsFatal(runErr):
		log.Error("bot aborted: manual intervention required", utils.Err(runErr))
		return 1
	case runErr == nil, errors.Is(runErr, context.Canceled):
		log.Info("bot stopped")
		return 0
	default:
		log.Error("bot stopped with error", utils.Err(runErr))
		return 1
	}
}

// newGateway собирает площадку из конфигурации
func newGateway(cfg *config.Config) (exchange.Gateway, error) {
	httpClient := exchange.GetGlobalHTTPClient().GetClient()

	var signer exchange.OrderSigner
	if cfg.Exchange.SignerURL != "" {
		signer = exchange.NewSidecarSigner(cfg.Exchange.SignerURL, cfg.Exchange.SignerAPIKey, httpClient)
	}

	return exchange.NewGateway(exchange.GatewayOptions{
		Name: cfg.Exchange.Name,
		Dydx: exchange.DydxConfig{
			IndexerURL:       cfg.Exchange.IndexerURL,
			Address:          cfg.Exchange.Address,
			SubaccountNumber: cfg.Exchange.SubaccountNumber,
			RateLimit:        cfg.Exchange.RateLimit,
			Burst:            cfg.Exchange.RateBurst,
			Signer:           signer,
			HTTPClient:       httpClient,
		},
		Paper:         exchange.PaperConfig{Collateral: cfg.Exchange.PaperCollateral},
		PaperLiveData: cfg.Exchange.PaperLiveData,
	})
}

// cleanupJournals раз в сутки удаляет старые уведомления и ордера
func cleanupJournals(ctx context.Context, notifications *service.NotificationService, journal *service.JournalService) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, cleanup := range map[string]func(time.Duration) (int64, error){
				"notifications": notifications.Cleanup,
				"orders":        journal.Cleanup,
			} {
				deleted, err := cleanup(journalRetention)
				if err != nil {
					utils.L().Warn("journal cleanup failed", utils.String("journal", name), utils.Err(err))
					continue
				}
				utils.L().Debug("journal cleanup", utils.String("journal", name), utils.Int64("deleted", deleted))
			}
		}
	}
}

// initDatabase создает подключение к базе данных и схему журнала
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := repository.EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
