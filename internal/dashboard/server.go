// Package dashboard serves hedges, statistics and strategy charts as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/chart"
	"github.com/feyerinaGO/OptimalInvesting/internal/models"
	"github.com/feyerinaGO/OptimalInvesting/internal/storage"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	broker    broker.Broker
	charts    *chart.Recorder
	logger    logrus.FieldLogger
	clock     func() time.Time
	port      int
	authToken string
	limiter   *rate.Limiter
}

type Config struct {
	Port      int
	AuthToken string
	// Clock supplies "now" for days-to-expiry; defaults to time.Now.
	Clock func() time.Time
	// RateLimit caps requests per second across all clients; 0 disables it.
	RateLimit float64
	Burst     int
}

type HedgeView struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	State         string    `json:"state"`
	Strike        float64   `json:"strike"`
	Expiry        string    `json:"expiry"`
	DTE           int       `json:"dte"`
	Quantity      int       `json:"quantity"`
	EntryDate     time.Time `json:"entry_date,omitempty"`
	EntryPrice    float64   `json:"entry_price"`
	EntrySpot     float64   `json:"entry_spot"`
	EntryRank     float64   `json:"entry_rank"`
	Cost          float64   `json:"cost"`
	LastPrice     float64   `json:"last_price,omitempty"`
	UnrealizedPnL float64   `json:"unrealized_pnl,omitempty"`
	ExitDate      time.Time `json:"exit_date,omitempty"`
	ExitPrice     float64   `json:"exit_price,omitempty"`
	ExitReason    string    `json:"exit_reason,omitempty"`
	RealizedPnL   float64   `json:"realized_pnl,omitempty"`
}

type Statistics struct {
	storage.Statistics
	CurrentOpen    int     `json:"current_open"`
	PremiumAtRisk  float64 `json:"premium_at_risk"`
	PortfolioValue float64 `json:"portfolio_value"`
	Cash           float64 `json:"cash"`
	HedgePct       float64 `json:"hedge_pct"`
}

func NewServer(cfg Config, store storage.Interface, b broker.Broker, charts *chart.Recorder, logger logrus.FieldLogger) *Server {
	if store == nil {
		panic("dashboard.NewServer: storage cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		broker:    b,
		charts:    charts,
		logger:    logger.WithField("component", "dashboard"),
		clock:     cfg.Clock,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	if s.limiter != nil {
		s.router.Use(s.rateLimitMiddleware)
	}

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/hedges", s.handleGetHedges)
		r.Get("/hedges/{id}", s.handleGetHedge)
		r.Get("/history", s.handleGetHistory)
		r.Get("/stats", s.handleGetStats)
		r.Get("/charts", s.handleGetCharts)
		r.Get("/charts/{chart}", s.handleGetChart)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetHedges(w http.ResponseWriter, r *http.Request) {
	hedges := s.storage.GetOpenHedges()
	views := make([]HedgeView, 0, len(hedges))
	for _, h := range hedges {
		views = append(views, s.convertHedgeToView(h))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetHedge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hedge, err := s.storage.GetOpenHedge(id)
	if err != nil {
		if !errors.Is(err, storage.ErrHedgeNotFound) {
			s.logger.WithError(err).Error("Failed to load hedge")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		hedge = s.findInHistory(id)
		if hedge == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}
	s.writeJSON(w, s.convertHedgeToView(hedge))
}

func (s *Server) findInHistory(id string) *models.Hedge {
	history := s.storage.GetHistory()
	for i := range history {
		if history[i].ID == id {
			return &history[i]
		}
	}
	return nil
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history := s.storage.GetHistory()
	views := make([]HedgeView, 0, len(history))
	for i := range history {
		views = append(views, s.convertHedgeToView(&history[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.calculateStatistics())
}

func (s *Server) handleGetCharts(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.charts != nil {
		names = s.charts.Charts()
	}
	s.writeJSON(w, names)
}

func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "chart")
	if s.charts == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	series, ok := s.charts.Series(name)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) convertHedgeToView(h *models.Hedge) HedgeView {
	view := HedgeView{
		ID:          h.ID,
		Symbol:      h.Symbol,
		State:       string(h.State),
		Strike:      h.Contract.Strike,
		Expiry:      h.Contract.Expiry.Format("2006-01-02"),
		DTE:         h.Contract.DaysToExpiry(s.clock()),
		Quantity:    h.Quantity,
		EntryDate:   h.EntryDate,
		EntryPrice:  h.EntryPrice,
		EntrySpot:   h.EntrySpot,
		EntryRank:   h.EntryRank,
		Cost:        h.Cost(),
		ExitDate:    h.ExitDate,
		ExitPrice:   h.ExitPrice,
		ExitReason:  h.ExitReason,
		RealizedPnL: h.RealizedPnL,
	}
	if view.DTE < 0 {
		view.DTE = 0
	}

	if h.State == models.StateOpen && s.broker != nil {
		if holding, err := s.broker.Holding(h.Symbol); err == nil && holding.LastPrice > 0 {
			view.LastPrice = holding.LastPrice
			view.UnrealizedPnL = (holding.LastPrice - h.EntryPrice) * float64(h.Quantity) * models.ContractMultiplier
		}
	}
	return view
}

func (s *Server) calculateStatistics() *Statistics {
	stats := &Statistics{Statistics: *s.storage.GetStatistics()}

	for _, h := range s.storage.GetOpenHedges() {
		if h.State != models.StateOpen {
			continue
		}
		stats.CurrentOpen++
		stats.PremiumAtRisk += h.Cost()
	}

	if s.broker == nil {
		return stats
	}
	if value, err := s.broker.TotalPortfolioValue(); err == nil {
		stats.PortfolioValue = value
		if value > 0 {
			stats.HedgePct = stats.PremiumAtRisk / value * 100
		}
	} else {
		s.logger.WithError(err).Warn("Failed to get portfolio value")
	}
	if cash, err := s.broker.Cash(); err == nil {
		stats.Cash = cash
	}
	return stats
}
