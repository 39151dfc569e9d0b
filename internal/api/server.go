package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"marquee/internal/logging"
	"marquee/internal/scheduler"
	"marquee/internal/services"
	"marquee/internal/store"
)

// CycleRunner runs one scheduler cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) scheduler.Summary
}

// HealthChecker reports store reachability and counts.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) (store.HealthSummary, error)
}

// Server routes trigger and health requests.
type Server struct {
	runner CycleRunner
	health HealthChecker
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a server. An empty secret disables the cycle endpoint.
func New(runner CycleRunner, health HealthChecker, secret string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		health: health,
		secret: secret,
		logger: logging.NewComponentLogger(logger, "api"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlate)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Post("/v1/cycles", s.handleRunCycle)
	})
	return r
}

type healthResponse struct {
	OK               bool                       `json:"ok"`
	Driver           string                     `json:"driver,omitempty"`
	ActiveCampaigns  int                        `json:"activeCampaigns"`
	UnbatchedRecords int                        `json:"unbatchedRecords"`
	Assets           map[store.AssetStatus]int  `json:"assets,omitempty"`
	Payouts          map[store.PayoutStatus]int `json:"payouts,omitempty"`
	Error            string                     `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, Error: err.Error()})
		return
	}
	summary, err := s.health.Health(ctx)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		OK:               true,
		Driver:           summary.Driver,
		ActiveCampaigns:  summary.ActiveCampaigns,
		UnbatchedRecords: summary.UnbatchedRecords,
		Assets:           summary.AssetsByStatus,
		Payouts:          summary.PayoutsByStatus,
	})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)
	logger.Info("cycle triggered over http", logging.String("subject", subjectFrom(r.Context())))

	summary := s.runner.RunCycle(r.Context())
	s.writeJSON(w, http.StatusOK, summary)
}

type claimsKey struct{}

func subjectFrom(ctx context.Context) string {
	if claims, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return claims.Subject
	}
	return ""
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			s.writeError(w, http.StatusServiceUnavailable, "api token secret is not configured")
			return
		}
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		claims, err := ParseToken(s.secret, raw, s.now())
		if err != nil {
			logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "rejected api token", "api_auth_rejected",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "mint a fresh token with marquee api-token"),
			)
			s.writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		if claims.Role != RoleOperator {
			s.writeError(w, http.StatusForbidden, ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// correlate copies the router's request id into the services context so log
// lines carry it as the correlation id.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode api response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
