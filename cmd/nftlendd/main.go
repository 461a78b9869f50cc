package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"nftlend/config"
	"nftlend/core"
	"nftlend/crypto"
	"nftlend/gateway"
	"nftlend/native/assets"
	"nftlend/native/collateral"
	"nftlend/native/lending"
	"nftlend/observability/logging"
	"nftlend/observability/metrics"
	"nftlend/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	devSeed := flag.Bool("dev-seed", false, "DEV ONLY: seed funded demo accounts and a demo collection on an empty database")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service: "nftlendd",
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	m := metrics.New()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	opts, err := nodeOptions(cfg, logger)
	if err != nil {
		logger.Error("Failed to build node options", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db, opts)
	if err != nil {
		logger.Error("Failed to create node", slog.Any("error", err))
		os.Exit(1)
	}
	defer node.Close()

	if *devSeed {
		if err := seedDevFixtures(node, logger); err != nil {
			logger.Error("Failed to seed dev fixtures", slog.Any("error", err))
			os.Exit(1)
		}
	}

	keeper := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = keeper.AddFunc(cfg.RefreshSchedule, func() {
		started := time.Now()
		evts, err := node.Refresh()
		m.RefreshRuns.Inc()
		m.RefreshSeconds.Observe(time.Since(started).Seconds())
		if err != nil {
			logger.Error("Keeper refresh failed", slog.Any("error", err))
			return
		}
		for _, evt := range evts {
			m.EventsEmitted.WithLabelValues(evt.Type).Inc()
		}
		if len(evts) > 0 {
			logger.Info("Keeper refresh applied changes", slog.Int("events", len(evts)))
		}
	})
	if err != nil {
		logger.Error("Invalid refresh schedule", slog.String("schedule", cfg.RefreshSchedule), slog.Any("error", err))
		os.Exit(1)
	}
	keeper.Start()
	defer keeper.Stop()

	portal := gateway.NewServer(node, logger, m)
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           portal.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("nftlend node initialised and running",
		slog.String("listen", cfg.ListenAddress),
		slog.String("oracleMode", cfg.OracleMode),
		slog.String("refreshSchedule", cfg.RefreshSchedule))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server terminated", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}
}

func nodeOptions(cfg *config.Config, logger *slog.Logger) (core.Options, error) {
	policy, err := collateral.ParsePolicy(cfg.LiquidationPolicy)
	if err != nil {
		return core.Options{}, err
	}

	opts := core.Options{
		MockOracle: cfg.OracleMode == config.OracleModeMock,
		Risk: lending.RiskParameters{
			CollateralFactorBps:     cfg.CollateralFactorBps,
			LiquidationThresholdPct: cfg.LiquidationThresholdPct,
		},
		Interest: lending.InterestTerms{
			OriginationBps: cfg.OriginationBps,
			PeriodicBps:    cfg.PeriodicInterestBps,
			PeriodSeconds:  cfg.InterestPeriodSeconds,
		},
		ListingDiscountBps: cfg.ListingDiscountBps,
		LiquidationPolicy:  policy,
		AuctionDuration:    cfg.AuctionDurationSeconds,
		Pauses:             pauseSet(cfg.PausedModules),
		Logger:             logger,
	}

	if opts.MockOracle {
		if path := strings.TrimSpace(cfg.OracleSeedFile); path != "" {
			seed, err := os.ReadFile(path)
			if err != nil {
				return core.Options{}, fmt.Errorf("read oracle seed file: %w", err)
			}
			opts.OracleSeed = seed
		}
	} else {
		oracle, err := crypto.DecodeAddress(cfg.OracleAddress)
		if err != nil {
			return core.Options{}, fmt.Errorf("decode oracle address: %w", err)
		}
		opts.OracleAddress = oracle
	}
	return opts, nil
}

func pauseSet(modules []string) map[string]bool {
	if len(modules) == 0 {
		return nil
	}
	set := make(map[string]bool, len(modules))
	for _, module := range modules {
		name := strings.ToLower(strings.TrimSpace(module))
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// seedDevFixtures funds a handful of deterministic accounts and mints a demo
// collection so a fresh local node has something to lend against. Skipped
// when the demo collection is already registered.
func seedDevFixtures(node *core.Node, logger *slog.Logger) error {
	admin := devAccount(0xa0)
	collection := crypto.CollectionModuleAddress("DEMO")
	if _, err := node.OwnerOf(collection, 0); err == nil {
		logger.Info("Dev fixtures already present, skipping seed")
		return nil
	}

	if _, err := node.RegisterCollection("DEMO", "Demo Collection", assets.VariantStandard, admin); err != nil {
		return fmt.Errorf("register demo collection: %w", err)
	}

	grant := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))
	for i := byte(1); i <= 5; i++ {
		account := devAccount(i)
		if err := node.MintBalance(account, grant); err != nil {
			return fmt.Errorf("fund dev account %d: %w", i, err)
		}
		tokenID, err := node.MintNFT(admin, collection, account)
		if err != nil {
			return fmt.Errorf("mint demo token for account %d: %w", i, err)
		}
		logger.Info("Seeded dev account",
			slog.String("account", account.String()),
			slog.Uint64("tokenId", tokenID))
	}
	logger.Info("Dev fixtures seeded", slog.String("collection", collection.String()))
	return nil
}

func devAccount(tag byte) crypto.Address {
	var raw [20]byte
	raw[0] = 0xde
	raw[1] = 0x50
	raw[19] = tag
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}
