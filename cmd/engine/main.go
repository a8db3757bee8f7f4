// Command engine is the process entrypoint: load configuration, build the
// shared ledger/pair/market state, spawn one internal/engine.Worker per
// configured market, and serve the REST + WebSocket surface of spec.md §6.
//
// Grounded on cmd/node/main.go's shape (load config, build logger, build
// app, start API server, wait on signal) with the consensus/P2P/ABCI
// wiring it orchestrated replaced by internal/engine.Supervisor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/config"
	"github.com/memeperp/engine/internal/engine"
	"github.com/memeperp/engine/internal/journal"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/oracle"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/types"
	"github.com/memeperp/engine/pkg/api"
	"github.com/memeperp/engine/pkg/util"
)

func main() {
	cfgPath := os.Getenv("ENGINE_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logPath := os.Getenv("LOG_FILE")
	if logPath == "" {
		logPath = "data/engine.log"
	}
	logger, err := util.NewLoggerWithFile(logPath)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("engine starting", zap.String("log_file", logPath), zap.Int("markets", len(cfg.Markets)))

	clk := clock.Real{}

	accountStore, err := ledger.OpenPebbleStore(cfg.PebbleDir + "/accounts")
	if err != nil {
		logger.Fatal("open account store", zap.Error(err))
	}
	accounts := ledger.NewManager(accountStore)

	pairStore, err := pair.OpenPebbleStore(cfg.PebbleDir + "/pairs")
	if err != nil {
		logger.Fatal("open pair store", zap.Error(err))
	}
	pairs := pair.NewLedger(accounts, pairStore)

	markets := market.NewRegistry()
	feed := oracle.NewHTTPFeed(nil)
	tracker := oracle.NewTracker(feed, clk, time.Duration(cfg.OracleStaleAfterMS)*time.Millisecond)

	for _, mc := range cfg.Markets {
		initialMarginBps := int64(10000)
		if mc.MaxLeverage > 0 {
			initialMarginBps = 10000 / mc.MaxLeverage
		}
		mkt, err := market.New(mc.Token, mc.BaseAsset, mc.QuoteAsset, market.Params{
			TickSize:             types.Ticks(mc.TickSize),
			LotSize:              types.Lots(mc.LotSize),
			MinNotional:          types.Micros(mc.MinNotional),
			MaxLeverage:          mc.MaxLeverage,
			InitialMarginBps:     initialMarginBps,
			MaintenanceMarginBps: mc.MaintenanceMarginBps,
			FundingInterval:      mc.FundingInterval(),
			MaxFundingRateBps:    mc.MaxFundingRateBps,
			MinOrderSize:         types.Lots(mc.MinOrderSize),
			MaxOrderSize:         types.Lots(mc.MaxOrderSize),
			MaxPosition:          types.Lots(mc.MaxPosition),
			MakerFeeBps:          mc.MakerFeeBps,
			TakerFeeBps:          mc.TakerFeeBps,
			OracleSource:         mc.OracleSource,
		})
		if err != nil {
			logger.Fatal("build market", zap.String("token", mc.Token), zap.Error(err))
		}
		if mc.InsuranceSeed > 0 {
			mkt.SeedInsuranceFund(types.Micros(mc.InsuranceSeed))
		}
		if err := markets.Register(mkt); err != nil {
			logger.Fatal("register market", zap.Error(err))
		}
		feed.Register(mc.Token, mc.OracleSource, types.Ticks(mc.TickSize))
	}

	wal, err := journal.NewFileWriter(cfg.JournalPath)
	if err != nil {
		logger.Fatal("open journal", zap.Error(err))
	}
	defer wal.Close()

	hub := broadcast.New(logger)

	domain := auth.DefaultDomain(cfg.ChainID, common.HexToAddress(cfg.SettlementAddress))
	hasher := auth.NewHasher(domain)

	sup := engine.NewSupervisor(engine.Deps{
		Accounts: accounts,
		Markets:  markets,
		Pairs:    pairs,
		Hub:      hub,
	})
	authr := auth.New(hasher, accounts, markets, clk, sup)
	sup.SetAuthenticator(authr)

	protocolFeeSink := common.HexToAddress(cfg.SettlementAddress)
	adlFeeBps := func(market string) int64 {
		mkt, ok := markets.Get(market)
		if !ok {
			return 0
		}
		return mkt.TakerFeeBps
	}

	for _, mkt := range markets.List() {
		sup.Spawn(mkt, tracker, clk, wal, logger, protocolFeeSink, adlFeeBps)
	}

	srv := api.NewServer(api.Deps{
		Supervisor:    sup,
		Authenticator: authr,
		Accounts:      accounts,
		Pairs:         pairs,
		Markets:       markets,
		Hub:           hub,
		Logger:        logger,
	})

	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server", zap.Error(err))
		}
	}()
	logger.Info("api listening", zap.String("addr", cfg.ListenAddr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	sup.StopAll()
}
