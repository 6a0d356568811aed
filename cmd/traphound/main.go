package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/bot"
	"github.com/trapline/traphound/core"
	"github.com/trapline/traphound/exchange"
	"github.com/trapline/traphound/exec"
	"github.com/trapline/traphound/internal/config"
	"github.com/trapline/traphound/risk"
	"github.com/trapline/traphound/storage"
	"github.com/trapline/traphound/strategy"
)

func main() {
	// Load .env if present
	_ = godotenv.Load()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Bool("dry_run", cfg.DryRun).
		Strs("countries", cfg.CountryCodes).
		Msg("🐕 Traphound starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Exchange client
	client, err := exchange.NewClient(exchange.Config{
		AppKey:       cfg.BetfairAppKey,
		Username:     cfg.BetfairUsername,
		Password:     cfg.BetfairPassword,
		CertFile:     cfg.BetfairCertFile,
		KeyFile:      cfg.BetfairKeyFile,
		APIURL:       cfg.BetfairAPIURL,
		LoginURL:     cfg.BetfairLoginURL,
		Timeout:      cfg.BetfairTimeout,
		CountryCodes: cfg.CountryCodes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build exchange client")
	}
	if err := client.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("Betfair login failed")
	}

	// Optional persistence
	db, err := storage.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	var sink core.Sink
	if db.Enabled() {
		sink = db
	}

	// Strategy
	evaluator := strategy.NewEvaluator(strategy.NewImpliedModel(), strategy.Params{
		MidrangeMinOdds: cfg.MidrangeMinOdds,
		MidrangeMaxOdds: cfg.MidrangeMaxOdds,
		MidrangeMinProb: cfg.MidrangeMinProb,
		MidrangeStake:   cfg.MidrangeStake,
		LongshotMinOdds: cfg.LongshotMinOdds,
		LongshotMaxOdds: cfg.LongshotMaxOdds,
		LongshotMinProb: cfg.LongshotMinProb,
		LongshotHiProb:  cfg.LongshotHiProb,
		LongshotStake:   cfg.LongshotStake,
	})

	// Execution + risk limits
	executor := exec.NewClient(client, cfg.DryRun)
	riskMgr := risk.NewManager(cfg.MaxBetsPerSession, cfg.MaxSessionExposure)

	// Session + pipeline
	session := core.NewSessionLog(cfg.LogDir)

	// Telegram (optional)
	var engine *core.Engine
	tgBot, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, statusFunc(func() core.Status {
		return engine.Status()
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start Telegram bot")
	}
	var notifier core.Notifier
	if tgBot != nil {
		notifier = tgBot
	}

	tracker := core.NewTracker(client, session, sink, notifier, cfg.SweepInterval, cfg.ResultCheckDelay)
	processor := core.NewProcessor(client, evaluator, executor, riskMgr, session, sink, notifier, tracker, cfg.BetfairTimeout)
	engine = core.NewEngine(cfg, client, processor, tracker, session, sink)

	tgBot.Start()
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	engine.Stop()
	tgBot.Stop()

	logoutCtx, logoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer logoutCancel()
	client.Logout(logoutCtx)

	log.Info().Msg("Goodbye 👋")
}

// statusFunc adapts a closure to bot.StatusProvider so the bot can be built
// before the engine it reports on.
type statusFunc func() core.Status

func (f statusFunc) Status() core.Status {
	return f()
}
