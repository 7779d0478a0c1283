package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/0x5487/exchange-core/stream"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	requestTimeout  = 5 * time.Second
	maxRequestBytes = 1 << 16
)

// TradeReader serves the recent trades endpoint.
type TradeReader interface {
	RecentTrades(marketID string, limit int) ([]*match.Trade, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine      *match.MatchingEngine
	broker      *stream.MessageBroker
	trades      TradeReader
	auth        Authenticator
	serializer  protocol.Serializer
	corsOrigins []string
	router      *mux.Router
	httpServer  *http.Server
	logger      *zap.Logger
}

type Option func(*Server)

func WithTradeReader(r TradeReader) Option {
	return func(s *Server) { s.trades = r }
}

func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server
func NewServer(engine *match.MatchingEngine, broker *stream.MessageBroker, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		broker:      broker,
		auth:        NewTokenAuthenticator(nil),
		serializer:  protocol.DefaultJSONSerializer{},
		corsOrigins: []string{"*"},
		router:      mux.NewRouter(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/tickers", s.handleGetTickers).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/ticker", s.handleGetTicker).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/depth", s.handleGetDepth).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server starting", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": match.EngineVersion,
	})
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Markets())
}

func (s *Server) handleGetTickers(w http.ResponseWriter, r *http.Request) {
	tickers := s.engine.Tickers()
	list := make([]match.Ticker, 0, len(tickers))
	for _, t := range tickers {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MarketID < list[j].MarketID })
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := s.engine.Ticker(mux.Vars(r)["symbol"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit, err := queryLimit(r, match.DefaultDepthLimit)
	if err != nil {
		respondErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	depth, err := s.engine.Depth(ctx, symbol, uint32(limit))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, depth.ToResponse(symbol))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.engine.HasMarket(symbol) {
		respondErr(w, fmt.Errorf("%w: %q", match.ErrUnknownMarket, symbol))
		return
	}
	limit, err := queryLimit(r, 50)
	if err != nil {
		respondErr(w, err)
		return
	}

	trades := []*match.Trade{}
	if s.trades != nil {
		if trades, err = s.trades.RecentTrades(symbol, limit); err != nil {
			s.logger.Error("load recent trades failed", zap.String("market_id", symbol), zap.Error(err))
			respondErr(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.auth.Authenticate(r)
	if !ok {
		respondErr(w, match.ErrUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}
	var req protocol.OrderPayload
	if err := s.serializer.Unmarshal(body, &req); err != nil {
		respondErr(w, fmt.Errorf("%w: %v", match.ErrValidation, err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.engine.PlaceOrder(ctx, req.MarketID, orderCommand(&req, userID))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.auth.Authenticate(r)
	if !ok {
		respondErr(w, match.ErrUnauthorized)
		return
	}
	vars := mux.Vars(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err := s.engine.CancelOrder(ctx, vars["symbol"], &protocol.CancelOrderCommand{
		OrderID: vars["id"],
		UserID:  userID,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.CancelPayload{MarketID: vars["symbol"], OrderID: vars["id"]})
}

func orderCommand(p *protocol.OrderPayload, userID uint64) *protocol.PlaceOrderCommand {
	return &protocol.PlaceOrderCommand{
		OrderID:   p.OrderID,
		Side:      p.Side,
		OrderType: p.OrderType,
		Price:     p.Price,
		Size:      p.Size,
		UserID:    userID,
	}
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return 0, fmt.Errorf("%w: limit must be between 1 and 1000", match.ErrValidation)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	respondJSON(w, status, protocol.ErrorPayload{Code: code, Message: err.Error()})
}
