package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stablemint/config"
	"stablemint/core/events"
	"stablemint/crypto"
	"stablemint/native/mint"
	"stablemint/native/token"
	"stablemint/observability/logging"
	telemetry "stablemint/observability/otel"
	"stablemint/oracle"
	"stablemint/rpc"
	"stablemint/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to stablemintd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Log.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("STABLEMINT_ENV"))
	}
	logger := logging.Setup("stablemintd", env, logging.FileConfig{
		Path:       cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "stablemintd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	operatorKey, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, "")
	if err != nil {
		log.Fatalf("load operator key: %v", err)
	}
	custody := operatorKey.PubKey().Address()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "positions"))
	if err != nil {
		log.Fatalf("open position store: %v", err)
	}
	defer db.Close()

	assets := make([]mint.CollateralAsset, 0, len(cfg.Assets))
	bankSymbols := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		assets = append(assets, mint.CollateralAsset{
			Symbol:   asset.Symbol,
			FeedID:   asset.FeedID,
			Decimals: asset.Decimals,
		})
		bankSymbols = append(bankSymbols, asset.Symbol)
	}

	bank := token.NewBank(bankSymbols)
	synth := token.NewSynthetic(cfg.SynthSymbol)
	authority, err := synth.ClaimAuthority()
	if err != nil {
		log.Fatalf("claim synth authority: %v", err)
	}

	feeds := oracle.NewAggregator(cfg.Oracle.FeedPriority, time.Duration(cfg.Oracle.MaxQuoteAgeSeconds)*time.Second)
	feeds.Register("manual", oracle.NewManualOracle())
	if len(cfg.Oracle.CoinGeckoIDs) > 0 {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		feeds.Register("coingecko", oracle.NewCoinGeckoFeed(httpClient, cfg.Oracle.CoinGeckoEndpoint, cfg.Oracle.CoinGeckoIDs))
	}

	engine, err := mint.NewEngine(assets, feeds, bank, authority, custody)
	if err != nil {
		log.Fatalf("construct engine: %v", err)
	}
	engine.SetState(mint.NewPositionStore(db))

	hub := events.NewHub(256)
	engine.SetEmitter(hub)

	server := rpc.NewServer(engine, bank, synth, hub, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stablemintd listening", "address", cfg.ListenAddress, "custody", custody.String())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "err", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
