// Flashcrash - Flash-crash sniper for Polymarket Up/Down markets
//
// Watches the live orderbook of a short-duration Up/Down market, detects a
// sharp probability drop inside a lookback window, buys the crashed side and
// manages the exit (take-profit, stop-loss, drawdown kill switch) until the
// market rolls to the next window.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/exec"
	"github.com/web3guy0/flashcrash/feeds"
	"github.com/web3guy0/flashcrash/internal/config"
	"github.com/web3guy0/flashcrash/internal/gamma"
	"github.com/web3guy0/flashcrash/paper"
	"github.com/web3guy0/flashcrash/runlog"
	"github.com/web3guy0/flashcrash/storage"
	"github.com/web3guy0/flashcrash/strategy"
)

const version = "1.2.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg := config.Load()

	// Flags override environment.
	coin := flag.String("coin", cfg.Coin, "coin to trade (BTC, ETH, SOL, XRP)")
	interval := flag.Int("interval", cfg.IntervalMinutes, "market interval in minutes (5 or 15)")
	drop := flag.String("drop", cfg.DropThreshold.String(), "crash drop threshold (probability)")
	lookback := flag.Int("lookback", cfg.LookbackSeconds, "crash lookback window in seconds")
	tp := flag.String("tp", cfg.TakeProfitDelta.String(), "take-profit delta above entry")
	sl := flag.String("sl", cfg.StopLossDelta.String(), "stop-loss delta below entry")
	sizePercent := flag.String("size-percent", cfg.SizePercent.String(), "stake as percent of available bankroll")
	fixedStake := flag.String("size", cfg.FixedStake.String(), "fixed stake in USD (ignored when size-percent set)")
	maxDrawdown := flag.String("max-drawdown", cfg.MaxDrawdownPercent.String(), "kill-switch drawdown percent")
	demo := flag.Bool("demo", cfg.Demo, "paper trading mode")
	hours := flag.Int("hours", cfg.RunHours, "run window length in hours")
	startBankroll := flag.String("start-bankroll", cfg.StartBankroll.String(), "demo starting bankroll in USD")
	stateFile := flag.String("state-file", cfg.StatePath, "demo session state file")
	resetState := flag.Bool("reset-state", false, "delete the state file and start fresh")
	noResume := flag.Bool("no-resume", false, "ignore the state file without deleting it")
	reconnectDelay := flag.Duration("reconnect-delay", cfg.ReconnectDelay, "supervisor restart cooldown")
	debug := flag.Bool("debug", cfg.Debug, "debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg.Coin = *coin
	cfg.IntervalMinutes = *interval
	cfg.DropThreshold = mustDecimal("drop", *drop)
	cfg.LookbackSeconds = *lookback
	cfg.TakeProfitDelta = mustDecimal("tp", *tp)
	cfg.StopLossDelta = mustDecimal("sl", *sl)
	cfg.SizePercent = mustDecimal("size-percent", *sizePercent)
	cfg.FixedStake = mustDecimal("size", *fixedStake)
	cfg.MaxDrawdownPercent = mustDecimal("max-drawdown", *maxDrawdown)
	cfg.Demo = *demo
	cfg.RunHours = *hours
	cfg.StartBankroll = mustDecimal("start-bankroll", *startBankroll)
	cfg.StatePath = *stateFile
	cfg.ReconnectDelay = *reconnectDelay

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("         FLASHCRASH v%s - %s %dm UP/DOWN SNIPER", version, cfg.Coin, cfg.IntervalMinutes)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	if *resetState {
		strategy.RemoveState(cfg.StatePath)
		log.Info().Str("path", cfg.StatePath).Msg("State file reset")
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Store unavailable, continuing without trade history")
		store = nil
	}

	discovery := gamma.NewClient(cfg.GammaAPIURL)

	var executor exec.Executor
	if cfg.Demo {
		executor = exec.NewPaperExecutor()
		log.Info().Msg("🧻 Paper execution")
	} else {
		executor = exec.NewCLOBClient(cfg.CLOBURL, cfg.CLOBApiKey, cfg.CLOBApiSecret, cfg.CLOBPassphrase)
		log.Info().Msg("💸 Live CLOB execution")
	}

	brokerCfg := paper.DefaultConfig()
	brokerCfg.Enabled = cfg.Demo && cfg.Realism

	runCfg := strategy.Config{
		Coin:               cfg.Coin,
		IntervalMinutes:    cfg.IntervalMinutes,
		DropThreshold:      cfg.DropThreshold,
		Lookback:           time.Duration(cfg.LookbackSeconds) * time.Second,
		MaxHistory:         cfg.MaxHistory,
		TakeProfitDelta:    cfg.TakeProfitDelta,
		StopLossDelta:      cfg.StopLossDelta,
		MaxPositions:       cfg.MaxPositions,
		SizePercent:        cfg.SizePercent,
		FixedStake:         cfg.FixedStake,
		MaxDrawdownPercent: cfg.MaxDrawdownPercent,
		DrawdownOnEquity:   cfg.DrawdownOnEquity,
		TickInterval:       cfg.TickInterval,
		SnapshotInterval:   cfg.SnapshotInterval,
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// SUPERVISOR - restart the runtime after a cooldown on fatal errors
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		rt, session := buildRuntime(cfg, runCfg, discovery, executor, brokerCfg, store, *noResume)

		done := make(chan error, 1)
		go func() { done <- rt.Run() }()

		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			rt.Stop()
			<-done
			closeStore(store)
			return
		case err := <-done:
			if err == nil {
				if rt.State() == strategy.StateKilled {
					log.Error().Msg("Runtime halted by kill switch, not restarting")
				}
				closeStore(store)
				return
			}

			log.Error().Err(err).
				Dur("cooldown", cfg.ReconnectDelay).
				Str("bankroll", "$"+session.Bankroll().StringFixed(2)).
				Msg("🔁 Runtime crashed, restarting after cooldown")

			select {
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("Shutting down")
				closeStore(store)
				return
			case <-time.After(cfg.ReconnectDelay):
			}
		}
	}
}

// buildRuntime wires a fresh runtime, resuming persisted session state when
// present and still inside its run window.
func buildRuntime(
	cfg *config.Config,
	runCfg strategy.Config,
	discovery *gamma.Client,
	executor exec.Executor,
	brokerCfg paper.Config,
	store *storage.Store,
	noResume bool,
) (*strategy.Runtime, *strategy.Session) {
	feed := feeds.NewMarketFeed(feeds.FeedConfig{
		Coin:                cfg.Coin,
		IntervalMinutes:     cfg.IntervalMinutes,
		MarketCheckInterval: cfg.MarketCheckInterval,
		PollInterval:        cfg.PollInterval,
		WSURL:               cfg.WSURL,
	}, discovery)

	session := strategy.NewSession(
		cfg.StartBankroll,
		time.Duration(cfg.RunHours)*time.Hour,
		brokerCfg.Enabled,
		cfg.StatePath,
	)

	var resumed *strategy.DemoState
	if cfg.Demo && !noResume {
		if state := strategy.LoadDemoState(cfg.StatePath); state != nil {
			if session.Resume(state, time.Now()) {
				resumed = state
				log.Info().
					Str("bankroll", "$"+state.Bankroll.StringFixed(2)).
					Time("run_end", state.RunEnd).
					Msg("♻️  Resuming previous session")
			} else {
				log.Info().Msg("Previous session expired, starting fresh")
			}
		}
	}

	runLog := runlog.New("flashcrash", cfg.Coin, cfg.IntervalMinutes, cfg.RunLogEnabled, cfg.RunLogDir)
	if runLog.Path() != "" {
		log.Info().Str("path", runLog.Path()).Msg("📝 Run log")
	}

	rt := strategy.NewRuntime(runCfg, strategy.Deps{
		Feed:     feed,
		Broker:   paper.NewBroker(brokerCfg, nil),
		Executor: executor,
		Session:  session,
		RunLog:   runLog,
		Store:    store,
		Renderer: strategy.NewLogRenderer(0),
	})
	if resumed != nil {
		rt.ResumeFrom(resumed)
	}
	return rt, session
}

func closeStore(store *storage.Store) {
	if store != nil {
		store.Close()
	}
}

func mustDecimal(name, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		log.Fatal().Str("flag", name).Str("value", value).Msg("Invalid decimal flag")
	}
	return d
}
