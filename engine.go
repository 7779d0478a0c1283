package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/0x5487/exchange-core/protocol"
	"github.com/quagmt/udecimal"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// MatchingEngine manages the order books of every configured market.
// It is created once at startup and shared by reference.
type MatchingEngine struct {
	isShutdown atomic.Bool
	markets    sync.Map // symbol -> struct{}, configured markets
	orderbooks sync.Map // symbol -> *OrderBook, created on first reference
	publishLog PublishLog
	tickers    *TickerAggregator
	queueDepth int
	lastTrade  func(marketID string) (uint64, error)
}

type EngineOption func(*MatchingEngine)

// WithMarkets configures the tradable market symbols.
func WithMarkets(symbols ...string) EngineOption {
	return func(engine *MatchingEngine) {
		for _, s := range symbols {
			if s = strings.TrimSpace(s); s != "" {
				engine.markets.Store(s, struct{}{})
			}
		}
	}
}

// WithQueueDepth bounds the command queue of every order book.
func WithQueueDepth(depth int) EngineOption {
	return func(engine *MatchingEngine) {
		engine.queueDepth = depth
	}
}

// WithTickers replaces the engine's ticker aggregator.
func WithTickers(t *TickerAggregator) EngineOption {
	return func(engine *MatchingEngine) {
		engine.tickers = t
	}
}

// WithTradeIDSource resumes each market's trade ids from the last persisted
// trade when its order book is created.
func WithTradeIDSource(lastTradeID func(marketID string) (uint64, error)) EngineOption {
	return func(engine *MatchingEngine) {
		engine.lastTrade = lastTradeID
	}
}

// NewMatchingEngine creates a new matching engine instance.
func NewMatchingEngine(publishLog PublishLog, opts ...EngineOption) *MatchingEngine {
	if publishLog == nil {
		publishLog = NewDiscardPublishLog()
	}
	engine := &MatchingEngine{
		publishLog: publishLog,
		queueDepth: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.tickers == nil {
		engine.tickers = NewTickerAggregator()
	}
	return engine
}

// AddMarket makes a symbol tradable. Its order book is created on first use.
func (engine *MatchingEngine) AddMarket(symbol string) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: market symbol is required", ErrValidation)
	}
	engine.markets.Store(symbol, struct{}{})
	return nil
}

// Markets returns the configured symbols in lexical order.
func (engine *MatchingEngine) Markets() []string {
	var symbols []string
	engine.markets.Range(func(key, _ any) bool {
		symbols = append(symbols, key.(string))
		return true
	})
	sort.Strings(symbols)
	return symbols
}

// HasMarket reports whether symbol is a configured market.
func (engine *MatchingEngine) HasMarket(symbol string) bool {
	_, ok := engine.markets.Load(symbol)
	return ok
}

// OrderBook returns the order book of a configured market, creating and
// starting it on first reference.
func (engine *MatchingEngine) OrderBook(marketID string) (*OrderBook, error) {
	if book, ok := engine.orderbooks.Load(marketID); ok {
		return book.(*OrderBook), nil
	}
	if _, ok := engine.markets.Load(marketID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarket, marketID)
	}
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}

	opts := []OrderBookOption{
		WithQueueSize(engine.queueDepth),
		WithTickerAggregator(engine.tickers),
	}
	if engine.lastTrade != nil {
		lastID, err := engine.lastTrade(marketID)
		if err != nil {
			return nil, fmt.Errorf("market %s: load last trade id: %w", marketID, err)
		}
		opts = append(opts, WithLastTradeID(lastID))
	}

	newbook := NewOrderBook(marketID, engine.publishLog, opts...)
	book, loaded := engine.orderbooks.LoadOrStore(marketID, newbook)
	if !loaded {
		logger.Info("order book created", zap.String("market_id", marketID))
		go func() {
			if err := newbook.Start(); err != nil {
				logger.Error("order book stopped", zap.String("market_id", marketID), zap.Error(err))
			}
		}()
	}
	return book.(*OrderBook), nil
}

// PlaceOrder validates cmd, routes it to the market's order book and waits
// for the matching result. Validation happens before anything is enqueued.
func (engine *MatchingEngine) PlaceOrder(ctx context.Context, marketID string, cmd *protocol.PlaceOrderCommand) (*PlaceOrderResult, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: empty order", ErrValidation)
	}
	if cmd.UserID == 0 {
		return nil, ErrUnauthorized
	}
	if _, ok := engine.markets.Load(marketID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarket, marketID)
	}

	order, err := newOrderFromCommand(cmd)
	if err != nil {
		return nil, err
	}

	book, err := engine.OrderBook(marketID)
	if err != nil {
		return nil, err
	}
	return book.Submit(ctx, order)
}

// CancelOrder removes a resting order on behalf of its owner.
func (engine *MatchingEngine) CancelOrder(ctx context.Context, marketID string, cmd *protocol.CancelOrderCommand) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	if cmd == nil || cmd.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if cmd.UserID == 0 {
		return ErrUnauthorized
	}
	book, err := engine.OrderBook(marketID)
	if err != nil {
		return err
	}
	_, err = book.Cancel(ctx, cmd.OrderID, cmd.UserID)
	return err
}

// Ticker returns the current ticker of one configured market.
func (engine *MatchingEngine) Ticker(marketID string) (Ticker, error) {
	if _, ok := engine.markets.Load(marketID); !ok {
		return Ticker{}, fmt.Errorf("%w: %q", ErrUnknownMarket, marketID)
	}
	return engine.tickers.Snapshot(marketID), nil
}

// Tickers returns a point-in-time ticker of every configured market,
// including markets that never traded.
func (engine *MatchingEngine) Tickers() map[string]Ticker {
	result := make(map[string]Ticker)
	engine.markets.Range(func(key, _ any) bool {
		symbol := key.(string)
		result[symbol] = engine.tickers.Snapshot(symbol)
		return true
	})
	return result
}

// Depth returns the top levels of a market's book.
func (engine *MatchingEngine) Depth(ctx context.Context, marketID string, limit uint32) (*Depth, error) {
	book, err := engine.OrderBook(marketID)
	if err != nil {
		return nil, err
	}
	return book.Depth(ctx, limit)
}

// Snapshot returns the resting orders of a market's book.
func (engine *MatchingEngine) Snapshot(ctx context.Context, marketID string) (*OrderBookSnapshot, error) {
	book, err := engine.OrderBook(marketID)
	if err != nil {
		return nil, err
	}
	return book.TakeSnapshot(ctx)
}

// Shutdown gracefully shuts down all order books in the engine.
// It blocks until all order books have drained or the context is cancelled.
func (engine *MatchingEngine) Shutdown(ctx context.Context) error {
	engine.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	engine.orderbooks.Range(func(key, value any) bool {
		wg.Add(1)
		go func(book *OrderBook) {
			defer wg.Done()
			if err := book.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("market %s: %w", book.MarketID(), err))
				errMu.Unlock()
			}
		}(value.(*OrderBook))
		return true
	})

	wg.Wait()

	return errors.Join(errs...)
}

// newOrderFromCommand parses and validates a placement command.
func newOrderFromCommand(cmd *protocol.PlaceOrderCommand) (*Order, error) {
	if cmd.Side != Buy && cmd.Side != Sell {
		return nil, fmt.Errorf("%w: invalid side %d", ErrValidation, cmd.Side)
	}
	if !cmd.OrderType.Valid() {
		return nil, fmt.Errorf("%w: invalid order type %q", ErrValidation, cmd.OrderType)
	}

	size, err := parsePositive("size", cmd.Size)
	if err != nil {
		return nil, err
	}

	price := udecimal.Zero
	if cmd.OrderType.IsPriced() {
		if price, err = parsePositive("price", cmd.Price); err != nil {
			return nil, err
		}
	} else if cmd.Price != "" {
		return nil, fmt.Errorf("%w: market orders must not carry a price", ErrValidation)
	}

	id := cmd.OrderID
	if id == "" {
		id = xid.New().String()
	}

	return &Order{
		ID:     id,
		Side:   cmd.Side,
		Type:   cmd.OrderType,
		Price:  price,
		Size:   size,
		UserID: cmd.UserID,
	}, nil
}

func parsePositive(field, value string) (udecimal.Decimal, error) {
	if value == "" {
		return udecimal.Zero, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	d, err := udecimal.Parse(value)
	if err != nil {
		return udecimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", ErrValidation, field, value)
	}
	if !d.GreaterThan(udecimal.Zero) {
		return udecimal.Zero, fmt.Errorf("%w: %s must be positive", ErrValidation, field)
	}
	return d, nil
}
