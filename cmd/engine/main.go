package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/ai"
	"github.com/aristath/vigil/internal/broker"
	"github.com/aristath/vigil/internal/clients/yahoo"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/database"
	"github.com/aristath/vigil/internal/execution"
	"github.com/aristath/vigil/internal/grounding"
	"github.com/aristath/vigil/internal/guardian"
	"github.com/aristath/vigil/internal/news"
	"github.com/aristath/vigil/internal/orchestrator"
	"github.com/aristath/vigil/internal/phases/buzz"
	"github.com/aristath/vigil/internal/phases/judge"
	"github.com/aristath/vigil/internal/phases/screener"
	"github.com/aristath/vigil/internal/phases/vault"
	"github.com/aristath/vigil/internal/reliability"
	"github.com/aristath/vigil/internal/server"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/internal/store"
	"github.com/aristath/vigil/internal/universe"
	"github.com/aristath/vigil/pkg/logger"
)

const (
	stateFile         = "state.json"
	guardianStateFile = "guardian_state.msgpack"
	databaseFile      = "decisions.db"
	backupInterval    = 6 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Vigil")

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	db, err := database.New(filepath.Join(cfg.DataDir, databaseFile))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	decisions := store.NewDecisionRepository(db.Conn(), log)
	audit := store.NewAuditRepository(db.Conn(), log)
	trades := store.NewTradeRepository(db.Conn(), log)

	// State core, restored from the last snapshot when one exists
	core := state.New(cfg.InitialCapital, settings, log)
	statePath := filepath.Join(cfg.DataDir, stateFile)
	if err := core.LoadFromFile(statePath); err != nil {
		log.Warn().Err(err).Msg("State snapshot unreadable, starting fresh")
	}

	// Market data and news edges
	market := yahoo.NewClient(log, settings.Liquidity.MinAvgVolume, settings.Liquidity.MinDollarVolume)
	aggregator := buildNews(cfg, settings, log)

	// AI gateway: wire every provider with a configured key
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway := buildGateway(ctx, cfg, log)

	var verifier grounding.Verifier
	if gateway.Configured() {
		verifier = grounding.NewService(gateway, log)
	}

	symbols, err := universe.Load(cfg.UniversePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load universe")
	}

	// Decision pipeline phases
	buzzFactory := buzz.NewFactory(market, market, aggregator, symbols, settings, log)
	scr := screener.New(gateway, core, settings, log)
	rv := vault.New(market, core, settings, log)
	adjudicator := judge.New(gateway, market, core, decisions, audit, verifier, settings, log)

	// Broker and execution
	paper := broker.NewPaper(cfg.InitialCapital, log)
	if err := paper.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect broker")
	}
	defer paper.Disconnect(context.Background())

	executor := execution.New(paper, market, core, trades, settings, log)

	// Guardian loops
	dispatch := guardian.NewDispatcher(log)
	watchdog := guardian.NewWatchdog(market, core, executor, dispatch, settings, log)
	sentinel := guardian.NewSentinel(aggregator, gateway, market, core, executor, nil, adjudicator, dispatch, settings, log)
	poison := guardian.NewPoisonPill(aggregator, gateway, market, core, dispatch, settings, log)

	guardianState := guardian.NewPersistence(filepath.Join(cfg.DataDir, guardianStateFile), watchdog, sentinel, poison, log)
	if err := guardianState.Load(); err != nil {
		log.Warn().Err(err).Msg("Guardian state unreadable, starting fresh")
	}

	go watchdog.Run(ctx)
	go sentinel.Run(ctx)
	go poison.Run(ctx)

	// Schedule
	orch := orchestrator.New(buzzFactory, scr, rv, adjudicator, executor, market, core, decisions, settings, log)
	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start orchestrator")
	}
	defer orch.Stop()

	// Off-site backups, only when a bucket is configured
	startBackups(ctx, cfg, log)

	// Operational API
	srv := server.New(server.Config{
		Port:      cfg.Port,
		Core:      core,
		Decisions: decisions,
		Trades:    trades,
		Alerts:    dispatch,
		Log:       log,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server exited")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Vigil running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	cancel() // stops the guardian loops

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	}

	if err := core.SaveToFile(statePath); err != nil {
		log.Error().Err(err).Msg("Failed to save state snapshot")
	}
	if err := guardianState.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save guardian state")
	}

	log.Info().Msg("Vigil stopped")
}

// buildNews assembles the quota-gated primary source with the free
// fallback behind it.
func buildNews(cfg *config.Config, settings *config.Settings, log zerolog.Logger) *news.Aggregator {
	var primary news.Source
	if cfg.NewsAPIKey != "" {
		primary = news.NewNewsAPI(cfg.NewsAPIKey)
	} else {
		log.Info().Msg("No NewsAPI key, running on the fallback news source only")
	}

	quota, err := news.NewQuotaCounter(news.DefaultQuotaPath(cfg.DataDir), settings.News.DailyQuota)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize news quota")
	}

	ttl := time.Duration(settings.News.CacheExpiryHours * float64(time.Hour))
	return news.NewAggregator(primary, news.NewYahooNews(), quota, ttl, log)
}

// buildGateway wires every AI provider with a configured key. An empty
// gateway still runs; AI phases then fail closed per candidate.
func buildGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) *ai.Gateway {
	clients := make(map[ai.Provider]ai.Client)

	if cfg.GeminiAPIKey != "" {
		if flash, err := ai.NewGeminiFlash(ctx, cfg.GeminiAPIKey); err != nil {
			log.Warn().Err(err).Msg("Gemini Flash unavailable")
		} else {
			clients[ai.GeminiFlash] = flash
		}
		if pro, err := ai.NewGeminiPro(ctx, cfg.GeminiAPIKey); err != nil {
			log.Warn().Err(err).Msg("Gemini Pro unavailable")
		} else {
			clients[ai.GeminiPro] = pro
		}
	}
	if cfg.OpenAIAPIKey != "" {
		clients[ai.OpenAI] = ai.NewOpenAI(cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicKey != "" {
		clients[ai.Anthropic] = ai.NewAnthropic(cfg.AnthropicKey)
	}
	if len(clients) == 0 {
		log.Warn().Msg("No AI providers configured; screener and judge will reject everything")
	}

	return ai.NewGateway(clients, log)
}

// startBackups launches periodic off-site backups when configured.
func startBackups(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	if cfg.BackupBucket == "" {
		log.Debug().Msg("No backup bucket configured, off-site backups disabled")
		return
	}

	client, err := reliability.NewS3Client(ctx, cfg.BackupEndpoint, cfg.BackupAccessKeyID, cfg.BackupSecretAccessKey, cfg.BackupBucket, log)
	if err != nil {
		log.Warn().Err(err).Msg("Backup client unavailable, off-site backups disabled")
		return
	}

	svc := reliability.NewBackupService(client, cfg.DataDir,
		[]string{databaseFile, stateFile, guardianStateFile}, log)

	go func() {
		ticker := time.NewTicker(backupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backupCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
				if err := svc.CreateAndUpload(backupCtx); err != nil {
					log.Error().Err(err).Msg("Backup failed")
				} else if err := svc.RotateOldBackups(backupCtx, cfg.BackupRetentionDays); err != nil {
					log.Error().Err(err).Msg("Backup rotation failed")
				}
				cancel()
			}
		}
	}()

	log.Info().Str("bucket", cfg.BackupBucket).Msg("Off-site backups enabled")
}
