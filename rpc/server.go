package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"stablemint/core/events"
	"stablemint/native/mint"
	"stablemint/native/token"
	"stablemint/observability/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// ServerConfig carries the HTTP-facing knobs for the mint API.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// Server exposes the mint engine over HTTP.
type Server struct {
	engine  *mint.Engine
	bank    *token.Bank
	synth   *token.Synthetic
	hub     *events.Hub
	logger  *slog.Logger
	auth    *authenticator
	limiter *rateLimiter
	metrics *metrics.MintMetrics
}

// NewServer wires the engine and its supporting services into an HTTP server.
func NewServer(engine *mint.Engine, bank *token.Bank, synth *token.Synthetic, hub *events.Hub, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		bank:    bank,
		synth:   synth,
		hub:     hub,
		logger:  logger,
		auth:    newAuthenticator(cfg.Auth, logger),
		limiter: newRateLimiter(cfg.RateLimit),
		metrics: metrics.Mint(),
	}
}

// Router builds the chi router for the mint API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/params", s.handleParams)
		r.Get("/collateral", s.handleCollateralAssets)
		r.Get("/collateral/{symbol}/oracle", s.handleCollateralOracle)
		r.Get("/oracle/{symbol}/price", s.handleOraclePrice)
		r.Get("/positions/{address}", s.handlePosition)
		r.Get("/positions/{address}/health", s.handlePositionHealth)
		r.Get("/positions/{address}/collateral/{symbol}", s.handlePositionCollateral)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.middleware)
			r.Use(s.limiter.middleware)
			r.Post("/collateral/deposit", s.handleDeposit)
			r.Post("/collateral/redeem", s.handleRedeem)
			r.Post("/mint", s.handleMint)
			r.Post("/burn", s.handleBurn)
			r.Post("/deposit-and-mint", s.handleDepositAndMint)
			r.Post("/redeem-for-synth", s.handleRedeemForSynth)
			r.Post("/liquidate", s.handleLiquidate)
		})
	})
	return r
}

// Handler returns the router wrapped with tracing instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "stablemint.rpc")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
