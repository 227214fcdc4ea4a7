package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendmesh/core/events"
	"lendmesh/crypto"
	"lendmesh/gateway/middleware"
	"lendmesh/native/assets"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/lending"
	"lendmesh/native/oracle"
	"lendmesh/native/registry"
	"lendmesh/native/vault"
	"lendmesh/observability"
)

const requestLimit = 1 << 20 // 1 MiB

// Config wires the gateway's collaborators.
type Config struct {
	Registry        *registry.Registry
	Logger          *slog.Logger
	Events          *events.Recorder
	Auth            middleware.AuthConfig
	Pauses          *nativecommon.PauseSet
	RateLimitPerMin int
}

// Server serves the protocol's HTTP surface: market/position/vault reads,
// mutating position and vault routes, and the admin plane, guarded by JWT
// auth scopes and per-client rate limits.
type Server struct {
	registry *registry.Registry
	logger   *slog.Logger
	events   *events.Recorder
	auth     *middleware.Authenticator
	limits   *middleware.RateLimiter
	pauses   *nativecommon.PauseSet
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: cfg.Registry,
		logger:   logger,
		events:   cfg.Events,
		auth:     middleware.NewAuthenticator(cfg.Auth, logger),
		limits:   middleware.NewRateLimiter(cfg.RateLimitPerMin, 10),
		pauses:   cfg.Pauses,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limits.Middleware("v1"))

		r.Get("/markets", s.listMarkets)
		r.Get("/events", s.listEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware("admin"))
			r.Post("/markets", s.createMarket)
			r.Post("/pause", s.setPause)
		})

		r.Route("/markets/{owner}/{base}", func(r chi.Router) {
			r.Get("/", s.getMarket)
			r.Get("/vault", s.getVault)
			r.Get("/price/{symbol}", s.getPrice)
			r.Get("/reserves", s.getReserves)
			r.Get("/positions/{addr}", s.listPositions)
			r.Get("/positions/{addr}/{id}", s.getPosition)
			r.Post("/breaker/{symbol}", s.evaluateBreaker)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware("admin"))
				r.Post("/assets", s.updateAsset)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware("write"))
				r.Post("/positions", s.createPosition)
				r.Post("/positions/{addr}/{id}/supply", s.supplyCollateral)
				r.Post("/positions/{addr}/{id}/withdraw", s.withdrawCollateral)
				r.Post("/positions/{addr}/{id}/borrow", s.borrow)
				r.Post("/positions/{addr}/{id}/repay", s.repay)
				r.Post("/positions/{addr}/{id}/exit", s.exitPosition)
				r.Post("/positions/{addr}/{id}/liquidate", s.liquidate)
				r.Post("/vault/deposit", s.vaultDeposit)
				r.Post("/vault/mint", s.vaultMint)
				r.Post("/vault/withdraw", s.vaultWithdraw)
				r.Post("/vault/redeem", s.vaultRedeem)
				r.Post("/reserves", s.updateReserves)
			})
		})
	})
	return r
}

// instrument records request metrics per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.Gateway().Observe(route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// market resolves the URL's (owner, base) pair to a live bundle.
func (s *Server) market(r *http.Request) (*registry.Market, error) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		return nil, err
	}
	return s.registry.Market(owner, chi.URLParam(r, "base"))
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(data, dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps protocol sentinels onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrMarketNotFound),
		errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, assets.ErrAssetNotListed),
		errors.Is(err, oracle.ErrAssetUnknown),
		errors.Is(err, ErrRouteNotFound):
		writeJSONError(w, http.StatusNotFound, err)
	case errors.Is(err, nativecommon.ErrUnauthorized),
		errors.Is(err, lending.ErrGovTokenThreshold):
		writeJSONError(w, http.StatusForbidden, err)
	case errors.Is(err, lending.ErrSameBlockOperation),
		errors.Is(err, vault.ErrSameBlockOperation),
		errors.Is(err, registry.ErrMarketExists),
		errors.Is(err, lending.ErrPositionNotActive):
		writeJSONError(w, http.StatusConflict, err)
	case errors.Is(err, oracle.ErrCircuitBroken),
		errors.Is(err, oracle.ErrStalePrice),
		errors.Is(err, oracle.ErrVolatilePrice),
		errors.Is(err, nativecommon.ErrModulePaused):
		writeJSONError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, lending.ErrCreditLimit),
		errors.Is(err, lending.ErrSlippageExceeded),
		errors.Is(err, lending.ErrIsolationMode),
		errors.Is(err, lending.ErrIsolationDebtCap),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrDebtOutstanding),
		errors.Is(err, assets.ErrSupplyCapExceeded),
		errors.Is(err, assets.ErrPoolLiquidityLimit):
		writeJSONError(w, http.StatusUnprocessableEntity, err)
	default:
		writeBadRequest(w, err)
	}
}

// ErrRouteNotFound backs 404 mapping for lookups the registry cannot satisfy.
var ErrRouteNotFound = errors.New("gateway: not found")

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("gateway: invalid integer amount")
	}
	return v, nil
}
