// Package api serves the read-only HTTP JSON facade over the market service,
// plus health, metrics and a websocket stream of broadcast alerts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/market"
)

// Market is the snapshot service behind the /gpt routes.
type Market interface {
	Raw(ctx context.Context, input string) (*market.RawSnapshot, error)
	Whales(ctx context.Context, input string, limit int) ([]market.Whale, error)
	Liquidations(ctx context.Context, input string) (*market.Liquidations, error)
	Orderbook(ctx context.Context, input, exchange string) (*market.Orderbook, error)
	Symbols(ctx context.Context) ([]string, error)
}

// StatsSource reports database counters for /info.
type StatsSource interface {
	GetStats() (database.Stats, error)
}

// Options configure the server.
type Options struct {
	Addr           string
	Token          string // empty disables auth
	Version        string
	MonitorSymbols []string
}

// Deps are the server's collaborators. Stats, Usage and Hub may be nil.
type Deps struct {
	Market  Market
	Limiter Limiter
	Stats   StatsSource
	Usage   func() coinglass.Usage
	Hub     *Hub
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server is the HTTP facade.
type Server struct {
	opts    Options
	deps    Deps
	started time.Time
	handler http.Handler
}

// New builds the server and its routes.
func New(opts Options, deps Deps) *Server {
	s := &Server{opts: opts, deps: deps, started: time.Now()}

	protected := func(route string, h http.HandlerFunc) http.Handler {
		return s.instrument(route, s.auth(s.rateLimit(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /gpt/raw", protected("/gpt/raw", s.handleRaw))
	mux.Handle("GET /gpt/whale", protected("/gpt/whale", s.handleWhale))
	mux.Handle("GET /gpt/liq", protected("/gpt/liq", s.handleLiquidations))
	mux.Handle("GET /gpt/orderbook", protected("/gpt/orderbook", s.handleOrderbook))
	mux.Handle("GET /symbols", protected("/symbols", s.handleSymbols))
	mux.Handle("GET /info", protected("/info", s.handleInfo))
	mux.Handle("GET /health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Hub != nil {
		mux.Handle("GET /ws/alerts", s.auth(http.HandlerFunc(deps.Hub.HandleWebSocket)))
	}
	mux.Handle("/", s.instrument("not_found", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})))

	s.handler = requestID(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("🌐 HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("HTTP API stopped")
		return nil
	}
}

// Handlers

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	symbol, ok := requireSymbol(w, r)
	if !ok {
		return
	}
	snap, err := s.deps.Market.Raw(r.Context(), symbol)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: snap})
}

func (s *Server) handleWhale(w http.ResponseWriter, r *http.Request) {
	symbol, ok := requireSymbol(w, r)
	if !ok {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	whales, err := s.deps.Market.Whales(r.Context(), symbol, limit)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: whales})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	symbol, ok := requireSymbol(w, r)
	if !ok {
		return
	}
	liq, err := s.deps.Market.Liquidations(r.Context(), symbol)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: liq})
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol, ok := requireSymbol(w, r)
	if !ok {
		return
	}
	ob, err := s.deps.Market.Orderbook(r.Context(), symbol, r.URL.Query().Get("exchange"))
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	if ob == nil {
		writeError(w, http.StatusNotFound, "no orderbook data")
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: ob})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.deps.Market.Symbols(r.Context())
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: symbols})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"service":         "glasswatch",
		"version":         s.opts.Version,
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"monitor_symbols": s.opts.MonitorSymbols,
	}
	if s.deps.Stats != nil {
		if stats, err := s.deps.Stats.GetStats(); err != nil {
			log.Warn().Err(err).Msg("Stats unavailable")
		} else {
			info["database"] = map[string]int64{
				"pending_alerts":       stats.PendingAlerts,
				"sent_alerts":          stats.SentAlerts,
				"active_subscriptions": stats.ActiveSubscriptions,
				"whale_transactions":   stats.WhaleTransactions,
				"liquidation_events":   stats.LiquidationEvents,
			}
		}
	}
	if s.deps.Usage != nil {
		u := s.deps.Usage()
		info["coinglass"] = map[string]any{"used": u.Used, "max": u.Max}
	}
	if s.deps.Hub != nil {
		info["websocket_clients"] = s.deps.Hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: info})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: map[string]string{"status": "ok"}})
}

// Helpers

func requireSymbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return "", false
	}
	return symbol, true
}

// writeUpstreamError maps service errors onto status codes. Upstream detail
// is logged, never returned.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var unsupported *coinglass.UnsupportedSymbolError
	if errors.As(err, &unsupported) {
		writeError(w, http.StatusNotFound, unsupported.Error())
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", w.Header().Get(requestIDHeader)).Msg("API request failed")

	var apiErr *coinglass.APIError
	if errors.As(err, &apiErr) {
		writeError(w, http.StatusBadGateway, "upstream market data unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
