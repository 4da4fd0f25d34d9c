package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker-observer/src/analysis"
	"broker-observer/src/broker"
	"broker-observer/src/config"
	"broker-observer/src/helpers"
	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/poller"
	"broker-observer/src/server"
	"broker-observer/src/storage"
	"broker-observer/src/store"
	"broker-observer/src/streamer"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.Name, cfg.LogLevel)
	loc := cfg.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Shared store. Nothing works without it, so startup blocks until it
	// answers or retries run out.
	stateStore := store.NewRedisStore(cfg.Redis, appLogger)
	err = helpers.RetryWithBackoff(appLogger, "redis connect", 5, 2*time.Second, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return stateStore.Ping(pingCtx)
	})
	if err != nil {
		appLogger.Critical("Failed to connect to shared store: %v", err)
	}
	defer stateStore.Close()

	tokenStore := store.NewTokenStore(cfg.Redis, appLogger)
	defer tokenStore.Close()

	// 2. Snapshot archive
	var archive interfaces.IArchive
	switch cfg.Storage.DBType {
	case "postgres":
		archive = storage.NewPostgresDB(cfg.Storage, appLogger)
	default:
		archive = storage.NewSQLiteDB(cfg.Storage, appLogger)
	}
	if err := archive.Initialize(); err != nil {
		appLogger.Critical("Failed to init archive: %v", err)
	}
	defer archive.Close()

	if err := archive.CleanupOldData(); err != nil {
		appLogger.Warning("Archive cleanup failed: %v", err)
	}

	// 3. Market calendar and tick machinery
	calendar := utils.NewTradingCalendar(cfg.Market, cfg.Holidays, loc, appLogger)
	gate := utils.NewMarketGate(cfg.Market, calendar, stateStore, loc, appLogger)
	ticks := utils.NewTickCache()
	expiry := analysis.NewExpiryProvider(cfg.Derivatives, cfg.Holidays, loc)
	reshaper := analysis.NewReshaper(ticks, cfg.Analysis, cfg.Market, loc, appLogger)

	feed := poller.NewTickFeed(cfg.Market.TickFeedURL,
		time.Duration(cfg.Poller.FeedBackoffSeconds)*time.Second, ticks, expiry, appLogger)

	// 4. Broker sessions are rebuilt every market activation
	sessionDeps := broker.Deps{
		Store:    stateStore,
		Tokens:   tokenStore,
		Reshaper: reshaper,
		Expiry:   expiry,
		Logger:   appLogger,
		Client:   &http.Client{},
	}
	sessionFactory := func() ([]interfaces.IBrokerSession, error) {
		var sessions []interfaces.IBrokerSession
		for brokerName, accounts := range cfg.Brokers {
			for _, account := range accounts {
				s, err := broker.NewSession(brokerName, account, sessionDeps)
				if err != nil {
					return nil, err
				}
				sessions = append(sessions, s)
			}
		}
		return sessions, nil
	}

	// 5. Pipeline components
	dataPoller := poller.NewPoller(stateStore, gate, ticks, feed, sessionFactory, cfg.Poller, loc, appLogger)
	bookStreamer := streamer.NewStreamer(stateStore, archive, gate, cfg.Streamer, loc, appLogger)
	apiServer := server.NewAPIServer(stateStore, dataPoller, bookStreamer, appLogger)

	go func() {
		if err := apiServer.Start(ctx, cfg.Host, cfg.Port); err != nil {
			appLogger.Error("API server failed: %v", err)
		}
	}()

	go func() {
		if err := bookStreamer.Run(ctx); err != nil {
			appLogger.Error("Streamer failed: %v", err)
			cancel()
		}
	}()

	go dataPoller.Run(ctx)

	appLogger.Info("%s started", cfg.Name)

	// 6. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()
	time.Sleep(2 * time.Second)
	appLogger.Info("Shutdown complete")
}
