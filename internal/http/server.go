package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/services"
)

type BalanceReader interface {
	GetUserBalance(ctx context.Context, req services.BalanceRequest) (core.BalanceSheet, error)
}

type AnalyticsReader interface {
	GetUserExpenseAnalytics(ctx context.Context, req services.AnalyticsRequest) (core.ExpenseAnalytics, error)
}

type AccountManager interface {
	ListAccounts(ctx context.Context, userID string) ([]core.AccountBalance, error)
	UpdateAccountBalance(ctx context.Context, req services.UpdateBalanceRequest) (core.Account, error)
	RequestBalanceSync(ctx context.Context, req services.UpdateBalanceRequest) (string, error)
}

type TransactionLister interface {
	ListTransactions(ctx context.Context, userID string, q core.TransactionQuery) ([]services.TransactionView, error)
}

type ReferenceReader interface {
	ListCurrencies(ctx context.Context) ([]core.Currency, error)
	LatestRates(ctx context.Context) ([]services.RateView, error)
}

// HealthChecker backs /readyz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes. Caches is optional and only feeds /metrics.
type Deps struct {
	Balance      BalanceReader
	Analytics    AnalyticsReader
	Accounts     AccountManager
	Transactions TransactionLister
	Reference    ReferenceReader
	Health       HealthChecker
	Caches       *cache.Manager
}

type Options struct {
	Logger                *log.Logger
	RateLimit             int
	TrustedProxies        []string
	DefaultBaseCurrencyID int64
}

type Server struct {
	http.Server
	deps        Deps
	logger      *log.Logger
	limiter     *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware
	defaultBase int64

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector, err := security.NewDetector(opts.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	limiterConfig := ratelimit.DefaultConfig()
	if opts.RateLimit > 0 {
		limiterConfig.RequestsPerMinute = opts.RateLimit
	}

	s := &Server{
		deps:        deps,
		logger:      logger,
		limiter:     ratelimit.NewLimiter(limiterConfig),
		detector:    detector,
		tracer:      trace.NewMiddleware(logger, detector.ExtractClientIP),
		defaultBase: opts.DefaultBaseCurrencyID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/users/{userId}/balance", s.handleBalance)
	mux.HandleFunc("GET /api/users/{userId}/expense-analytics", s.handleExpenseAnalytics)
	mux.HandleFunc("GET /api/users/{userId}/accounts", s.handleListAccounts)
	mux.HandleFunc("PUT /api/users/{userId}/accounts/{accountId}/balance", s.handleUpdateBalance)
	mux.HandleFunc("POST /api/users/{userId}/accounts/{accountId}/balance-sync", s.handleBalanceSync)
	mux.HandleFunc("GET /api/users/{userId}/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/currencies", s.handleListCurrencies)
	mux.HandleFunc("GET /api/exchange-rates", s.handleExchangeRates)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.chain(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// chain wraps h so that tracing runs outermost and recovery innermost.
func (s *Server) chain(h http.Handler) http.Handler {
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.MutatingOnly,
		func(w http.ResponseWriter, r *http.Request) {
			TooManyRequestsError("rate limit exceeded, please try again later").Write(w)
		})

	h = s.recovery(h)
	h = s.suspicious(h)
	h = limit(h)
	h = headers.Middleware(h)
	return s.tracer.Middleware(h)
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Panic recovered",
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path,
					log.FieldError, fmt.Sprint(rec),
					"stack", string(debug.Stack()))
				InternalServerError().Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// suspicious logs probe-looking requests; they are still served normally.
func (s *Server) suspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request detected",
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
