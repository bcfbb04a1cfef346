package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/api"
	"token-collector/internal/collector"
	"token-collector/internal/config"
	"token-collector/internal/database"
	"token-collector/internal/emitters"
	"token-collector/internal/events"
	"token-collector/internal/health"
	"token-collector/internal/interfaces"
	"token-collector/internal/ledger/erc20"
	"token-collector/internal/ledger/memory"
	"token-collector/internal/logger"
	"token-collector/internal/metrics"
	"token-collector/internal/rpc"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked")
			os.Exit(1)
		}
	}()

	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel)
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, self, reporter := openLedger(ctx, cfg)

	owner := cfg.Collector.Owner
	if owner == (common.Address{}) {
		owner = self
	}

	emitter, closeEmitter := openEmitter(cfg)
	defer func() {
		if err := closeEmitter(); err != nil {
			log.Error().Err(err).Msg("Failed to close event emitter")
		}
	}()

	m := metrics.New()
	opts := []collector.Option{
		collector.WithLogger(logger.Component("collector")),
		collector.WithMetrics(m),
		collector.WithEmitter(emitter),
	}
	if cfg.Collector.AuthorizationThreshold != nil {
		opts = append(opts, collector.WithAuthorizationThreshold(cfg.Collector.AuthorizationThreshold))
	}

	if cfg.Database.Enabled() {
		if err := database.InitDB(cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer database.Close()

		if err := database.RunMigrations(cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		opts = append(opts, collector.WithStore(database.NewStore(database.DB)))
	} else {
		log.Warn().Msg("DB_HOST not set, collector state will not survive a restart")
	}

	c, err := collector.Open(ctx, self, owner, ledger, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open collector")
	}

	seedMasterAddresses(ctx, c, cfg.Collector.MasterAddresses)

	h := health.New(c)
	if reporter != nil {
		h.RegisterReporter(ctx, reporter, 15*time.Second)
	}

	router := api.NewRouter(api.RouterConfig{
		CollectorHandler: api.NewCollectorHandler(c),
		SignatureAuth:    api.NewSignatureAuth(cfg.HTTP.SignatureTTL),
		Liveness:         h.LivenessHandler,
		Readiness:        h.ReadinessHandler,
		Metrics:          m.Handler(),
		Logger:           logger.Component("http"),
	})
	server := api.NewServer(cfg.HTTP.ListenAddress, router, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)

	go func() {
		log.Info().
			Str("address", cfg.HTTP.ListenAddress).
			Str("collector", c.Address().Hex()).
			Str("owner", c.Owner().Hex()).
			Msg("Collector API listening")
		if err := server.Run(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()
	h.SetReady(true)

	<-ctx.Done()
	h.SetReady(false)
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down HTTP server")
	}
}

// openLedger picks the ERC20 ledger when a chain endpoint is configured and
// the in-memory ledger, preloaded from LEDGER_SEED, otherwise. It returns the
// collector (spender) address.
func openLedger(ctx context.Context, cfg *config.Config) (interfaces.AssetLedger, common.Address, interfaces.HeadReporter) {
	log := logger.GetLogger()

	if !cfg.Chain.Enabled() {
		log.Warn().Msg("CHAIN_RPC_ENDPOINT not set, using in-memory ledger")
		ledger := memory.NewLedger()
		if err := seedLedger(ledger, cfg.Collector.Address, cfg.Ledger.Seeds); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed in-memory ledger")
		}
		return ledger, cfg.Collector.Address, nil
	}
	if len(cfg.Ledger.Seeds) > 0 {
		log.Warn().Msg("LEDGER_SEED ignored, balances come from the chain")
	}

	key, err := erc20.ParseKey(cfg.Chain.PrivateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse CHAIN_PRIVATE_KEY")
	}

	client, err := rpc.Dial(ctx, rpc.Config{
		Endpoint:    cfg.Chain.RpcEndpoint,
		ApiKey:      cfg.Chain.ApiKey,
		RateLimit:   cfg.Chain.RateLimit,
		HTTPTimeout: cfg.Chain.HTTPTimeout,
	}, logger.Component("rpc"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain")
	}

	ledger, err := erc20.NewLedger(client, key, erc20.Options{
		ChainID:        big.NewInt(cfg.Chain.ChainID),
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
		ExplorerURL:    cfg.Chain.ExplorerBaseURL,
	}, logger.Component("erc20"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ERC20 ledger")
	}

	if cfg.Collector.Address != (common.Address{}) && cfg.Collector.Address != ledger.Address() {
		log.Warn().
			Str("configured", cfg.Collector.Address.Hex()).
			Str("signer", ledger.Address().Hex()).
			Msg("COLLECTOR_ADDRESS ignored, the signer address is the spender")
	}

	return ledger, ledger.Address(), ledger
}

// openEmitter logs every event and publishes to Kafka when a broker is set
func openEmitter(cfg *config.Config) (interfaces.EventEmitter, func() error) {
	if !cfg.Kafka.Enabled() {
		return &events.LogEmitter{}, func() error { return nil }
	}

	kafka := emitters.NewKafkaEmitter(
		cfg.Kafka.BrokerAddress,
		cfg.Kafka.Topic,
		cfg.Kafka.BatchSize,
		cfg.Kafka.BatchTimeout,
	)
	return &events.LogEmitter{WrappedEmitter: kafka}, kafka.Close
}
