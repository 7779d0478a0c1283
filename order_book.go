package match

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/0x5487/exchange-core/protocol"
	"github.com/quagmt/udecimal"
)

// DefaultQueueSize is the default depth of a market's command queue.
const DefaultQueueSize = 32768

type commandType uint8

const (
	cmdPlaceOrder commandType = iota + 1
	cmdCancelOrder
	cmdDepth
	cmdGetStats
	cmdSnapshot
)

// command is the unit of work of the order book actor. Every mutation and
// every consistent read goes through the same channel, which gives one total
// order per market.
type command struct {
	typ     commandType
	order   *Order
	orderID string
	userID  uint64
	limit   uint32
	resp    chan commandResult
}

type commandResult struct {
	place    *PlaceOrderResult
	cancel   *CancelResult
	depth    *Depth
	stats    *protocol.GetStatsResponse
	snapshot *OrderBookSnapshot
	err      error
}

// OrderBook holds the resting orders of one market and runs the matching
// algorithm. Its exported methods are safe for concurrent use; they are
// serialized through the book's actor goroutine (see Start).
type OrderBook struct {
	marketID         string
	seqID            atomic.Uint64 // BookLog sequence
	cmdSeqID         atomic.Uint64 // Accepted mutating commands
	tradeID          atomic.Uint64
	orderSeq         uint64 // Actor only
	isShutdown       atomic.Bool
	bidQueue         *queue
	askQueue         *queue
	cmdChan          chan command
	done             chan struct{}
	shutdownComplete chan struct{}
	publishLog       PublishLog
	tickers          *TickerAggregator
	now              func() time.Time

	// Actor-only scratch state for the command being processed.
	logs    []*BookLog
	dirty   bool
	cmdTime time.Time
}

type OrderBookOption func(*OrderBook)

// WithQueueSize bounds the number of pending commands. Submissions beyond it
// fail fast with ErrEngineBusy.
func WithQueueSize(size int) OrderBookOption {
	return func(book *OrderBook) {
		if size > 0 {
			book.cmdChan = make(chan command, size)
		}
	}
}

// WithTickerAggregator feeds trades and top-of-book changes to t.
func WithTickerAggregator(t *TickerAggregator) OrderBookOption {
	return func(book *OrderBook) {
		book.tickers = t
	}
}

// WithBookClock overrides the clock used for order and trade timestamps.
func WithBookClock(now func() time.Time) OrderBookOption {
	return func(book *OrderBook) {
		book.now = now
	}
}

// WithLastTradeID continues trade numbering after id, so that ids stay unique
// across restarts of a market.
func WithLastTradeID(id uint64) OrderBookOption {
	return func(book *OrderBook) {
		book.tradeID.Store(id)
	}
}

// NewOrderBook creates a new order book instance. Call Start to run its actor.
func NewOrderBook(marketID string, publishLog PublishLog, opts ...OrderBookOption) *OrderBook {
	if publishLog == nil {
		publishLog = NewDiscardPublishLog()
	}
	book := &OrderBook{
		marketID:         marketID,
		bidQueue:         NewBuyerQueue(),
		askQueue:         NewSellerQueue(),
		cmdChan:          make(chan command, DefaultQueueSize),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publishLog:       publishLog,
		now:              time.Now,
		logs:             make([]*BookLog, 0, 8),
	}
	for _, opt := range opts {
		opt(book)
	}
	return book
}

// MarketID returns the market this book serves.
func (book *OrderBook) MarketID() string {
	return book.marketID
}

// Submit places an order and waits for the actor to match it.
// Returns ErrEngineBusy without waiting when the command queue is full.
func (book *OrderBook) Submit(ctx context.Context, order *Order) (*PlaceOrderResult, error) {
	res, err := book.call(ctx, command{typ: cmdPlaceOrder, order: order})
	if err != nil {
		return nil, err
	}
	return res.place, res.err
}

// Cancel removes a resting order owned by userID.
// Returns ErrNotFound if the order is not resting and ErrForbidden if another user owns it.
func (book *OrderBook) Cancel(ctx context.Context, orderID string, userID uint64) (*CancelResult, error) {
	res, err := book.call(ctx, command{typ: cmdCancelOrder, orderID: orderID, userID: userID})
	if err != nil {
		return nil, err
	}
	return res.cancel, res.err
}

// Depth returns the current depth of the order book up to the specified limit.
func (book *OrderBook) Depth(ctx context.Context, limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, fmt.Errorf("%w: depth limit must be positive", ErrValidation)
	}
	res, err := book.call(ctx, command{typ: cmdDepth, limit: limit})
	if err != nil {
		return nil, err
	}
	return res.depth, nil
}

// GetStats returns usage statistics for the order book.
func (book *OrderBook) GetStats(ctx context.Context) (*protocol.GetStatsResponse, error) {
	res, err := book.call(ctx, command{typ: cmdGetStats})
	if err != nil {
		return nil, err
	}
	return res.stats, nil
}

// TakeSnapshot captures the resting orders of both sides in priority order.
func (book *OrderBook) TakeSnapshot(ctx context.Context) (*OrderBookSnapshot, error) {
	res, err := book.call(ctx, command{typ: cmdSnapshot})
	if err != nil {
		return nil, err
	}
	return res.snapshot, nil
}

// call enqueues cmd and waits for the actor's answer. If ctx ends first the
// command may still be applied later; the caller only loses the answer.
func (book *OrderBook) call(ctx context.Context, cmd command) (commandResult, error) {
	cmd.resp = make(chan commandResult, 1)
	if err := book.enqueue(cmd); err != nil {
		return commandResult{}, err
	}

	select {
	case res := <-cmd.resp:
		return res, nil
	case <-ctx.Done():
		return commandResult{}, ErrTimeout
	case <-book.shutdownComplete:
		select {
		case res := <-cmd.resp:
			return res, nil
		default:
			return commandResult{}, ErrShutdown
		}
	}
}

func (book *OrderBook) enqueue(cmd command) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}
	select {
	case book.cmdChan <- cmd:
		return nil
	default:
		return ErrEngineBusy
	}
}

// Start runs the order book actor until Shutdown is called and the pending
// commands are drained.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.handle(cmd)
		}
	}
}

// Shutdown signals the order book to stop accepting commands and waits for all pending commands to be processed.
// Returns nil if shutdown completed successfully, or ctx.Err() if the context was cancelled.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands before returning.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			book.handle(cmd)
		default:
			return nil
		}
	}
}

func (book *OrderBook) handle(cmd command) {
	var res commandResult

	switch cmd.typ {
	case cmdPlaceOrder:
		res.place, res.err = book.placeOrder(cmd.order)
	case cmdCancelOrder:
		res.cancel, res.err = book.cancelByOwner(cmd.orderID, cmd.userID)
	case cmdDepth:
		res.depth = book.depth(cmd.limit)
	case cmdGetStats:
		res.stats = &protocol.GetStatsResponse{
			AskDepthCount: book.askQueue.depthCount(),
			AskOrderCount: book.askQueue.orderCount(),
			BidDepthCount: book.bidQueue.depthCount(),
			BidOrderCount: book.bidQueue.orderCount(),
		}
	case cmdSnapshot:
		res.snapshot = book.createSnapshot()
	}

	if cmd.resp != nil {
		select {
		case cmd.resp <- res:
		default:
		}
	}
}

func (book *OrderBook) placeOrder(order *Order) (*PlaceOrderResult, error) {
	if book.bidQueue.order(order.ID) != nil || book.askQueue.order(order.ID) != nil {
		return nil, fmt.Errorf("%w: duplicate order id %q", ErrValidation, order.ID)
	}
	seq := book.cmdSeqID.Add(1)
	trades := book.insert(order)
	return &PlaceOrderResult{SeqID: seq, Order: order.clone(), Trades: trades}, nil
}

func (book *OrderBook) cancelByOwner(id string, userID uint64) (*CancelResult, error) {
	order := book.findOrder(id)
	if order == nil {
		return nil, fmt.Errorf("%w: order %q is not resting", ErrNotFound, id)
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %q belongs to another user", ErrForbidden, id)
	}
	seq := book.cmdSeqID.Add(1)
	canceled, _ := book.cancelOrder(id)
	return &CancelResult{SeqID: seq, Order: canceled}, nil
}

func (book *OrderBook) findOrder(id string) *Order {
	if order := book.askQueue.order(id); order != nil {
		return order
	}
	return book.bidQueue.order(id)
}

// insert runs the matching algorithm for order and, for a limit order with
// quantity left, rests the remainder. Market and IOC remainders are dropped.
func (book *OrderBook) insert(order *Order) []*Trade {
	book.cmdTime = book.now().UTC()
	book.orderSeq++

	order.MarketID = book.marketID
	order.Seq = book.orderSeq
	order.Remaining = order.Size
	order.Timestamp = book.cmdTime.UnixNano()
	order.Status = protocol.OrderStatusOpen
	order.next = nil
	order.prev = nil

	var trades []*Trade
	switch order.Type {
	case Limit:
		trades = book.handleLimitOrder(order)
	case Market:
		trades = book.handleMarketOrder(order)
	case IOC:
		trades = book.handleIOCOrder(order)
	case FOK:
		trades = book.handleFOKOrder(order)
	case PostOnly:
		book.handlePostOnlyOrder(order)
	default:
		book.reject(order, protocol.RejectReasonNone)
	}

	book.flush()
	return trades
}

// cancelOrder removes a resting order. It reports false, without touching the
// book, when the order is not resting (unknown, filled or already canceled).
func (book *OrderBook) cancelOrder(id string) (*Order, bool) {
	book.cmdTime = book.now().UTC()

	var q *queue
	switch {
	case book.askQueue.order(id) != nil:
		q = book.askQueue
	case book.bidQueue.order(id) != nil:
		q = book.bidQueue
	default:
		return nil, false
	}

	order := q.removeOrder(id)
	order.Status = protocol.OrderStatusCanceled
	book.logs = append(book.logs, newCancelLog(book.seqID.Add(1), order, book.cmdTime))
	book.dirty = true
	book.flush()

	return order.clone(), true
}

func (book *OrderBook) bestBid() (udecimal.Decimal, bool) {
	return book.bidQueue.bestPrice()
}

func (book *OrderBook) bestAsk() (udecimal.Decimal, bool) {
	return book.askQueue.bestPrice()
}

func (book *OrderBook) sameQueue(side Side) *queue {
	if side == Buy {
		return book.bidQueue
	}
	return book.askQueue
}

func (book *OrderBook) oppositeQueue(side Side) *queue {
	if side == Buy {
		return book.askQueue
	}
	return book.bidQueue
}

// crosses reports whether a maker resting at price satisfies the taker's limit.
func crosses(taker *Order, price udecimal.Decimal) bool {
	if taker.Side == Buy {
		return price.LessThanOrEqual(taker.Price)
	}
	return price.GreaterThanOrEqual(taker.Price)
}

func minDecimal(a, b udecimal.Decimal) udecimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// match executes taker against the opposite side in price-time priority.
// With limited set, only levels satisfying the taker's price are eligible.
// Makers owned by the taker's user are skipped, never executed.
func (book *OrderBook) match(taker *Order, limited bool) []*Trade {
	target := book.oppositeQueue(taker.Side)
	var trades []*Trade

	el := target.depthList.Front()
	for el != nil && taker.Remaining.GreaterThan(udecimal.Zero) {
		unit, _ := el.Value.(*priceUnit)
		if limited && !crosses(taker, unit.price) {
			break
		}
		// The level may be removed while it is being consumed.
		nextEl := el.Next()

		maker := unit.head
		for maker != nil && taker.Remaining.GreaterThan(udecimal.Zero) {
			next := maker.next
			if maker.UserID != taker.UserID {
				trades = append(trades, book.execute(taker, maker, target))
			}
			maker = next
		}

		el = nextEl
	}

	return trades
}

// execute fills min(taker, maker) at the maker's price.
func (book *OrderBook) execute(taker, maker *Order, target *queue) *Trade {
	size := minDecimal(taker.Remaining, maker.Remaining)

	trade := &Trade{
		ID:           book.tradeID.Add(1),
		SeqID:        book.seqID.Add(1),
		MarketID:     book.marketID,
		TakerSide:    taker.Side,
		Price:        maker.Price,
		Size:         size,
		Amount:       maker.Price.Mul(size),
		MakerOrderID: maker.ID,
		MakerUserID:  maker.UserID,
		TakerOrderID: taker.ID,
		TakerUserID:  taker.UserID,
		CreatedAt:    book.cmdTime,
	}

	taker.Remaining = taker.Remaining.Sub(size)
	if size.Equal(maker.Remaining) {
		target.removeOrder(maker.ID)
		maker.Remaining = udecimal.Zero
		maker.Status = protocol.OrderStatusFilled
	} else {
		target.reduceOrder(maker, size)
		maker.Status = protocol.OrderStatusPartiallyFilled
	}

	book.logs = append(book.logs, newMatchLog(trade, taker))
	book.dirty = true
	if book.tickers != nil {
		book.tickers.OnTrade(trade)
	}

	return trade
}

// rest adds the remainder of order to its own side.
func (book *OrderBook) rest(order *Order) {
	book.sameQueue(order.Side).insertOrder(order)
	if order.Remaining.Equal(order.Size) {
		order.Status = protocol.OrderStatusOpen
	} else {
		order.Status = protocol.OrderStatusPartiallyFilled
	}
	book.logs = append(book.logs, newOpenLog(book.seqID.Add(1), order, book.cmdTime))
	book.dirty = true
}

// reject drops the unfilled remainder of order. Orders that traded end as
// canceled, orders refused outright end as rejected.
func (book *OrderBook) reject(order *Order, reason RejectReason) {
	if order.Remaining.Equal(order.Size) {
		order.Status = protocol.OrderStatusRejected
		switch reason {
		case protocol.RejectReasonNoLiquidity, protocol.RejectReasonSelfTradePrevented:
			order.Status = protocol.OrderStatusCanceled
		}
	} else {
		order.Status = protocol.OrderStatusCanceled
	}
	book.logs = append(book.logs, newRejectLog(book.seqID.Add(1), order, reason, book.cmdTime))
}

// handleLimitOrder matches within the limit and rests what is left. When the
// owner's own orders still sit across the spread the remainder is canceled so
// that the book never stays crossed.
func (book *OrderBook) handleLimitOrder(order *Order) []*Trade {
	trades := book.match(order, true)
	if order.Remaining.IsZero() {
		order.Status = protocol.OrderStatusFilled
		return trades
	}

	if best, ok := book.oppositeQueue(order.Side).bestPrice(); ok && crosses(order, best) {
		book.reject(order, protocol.RejectReasonSelfTradePrevented)
		return trades
	}

	book.rest(order)
	return trades
}

// handleMarketOrder matches at any price until filled or liquidity is
// exhausted. Market orders never rest.
func (book *OrderBook) handleMarketOrder(order *Order) []*Trade {
	trades := book.match(order, false)
	if order.Remaining.IsZero() {
		order.Status = protocol.OrderStatusFilled
		return trades
	}
	book.reject(order, protocol.RejectReasonNoLiquidity)
	return trades
}

// handleIOCOrder matches within the limit and cancels the rest.
func (book *OrderBook) handleIOCOrder(order *Order) []*Trade {
	trades := book.match(order, true)
	if order.Remaining.IsZero() {
		order.Status = protocol.OrderStatusFilled
		return trades
	}

	reason := protocol.RejectReasonNoLiquidity
	if best, ok := book.oppositeQueue(order.Side).bestPrice(); ok && !crosses(order, best) {
		reason = protocol.RejectReasonPriceMismatch
	}
	book.reject(order, reason)
	return trades
}

// handleFOKOrder executes only if the whole size can be filled within the
// limit against other users' orders.
func (book *OrderBook) handleFOKOrder(order *Order) []*Trade {
	available := udecimal.Zero
	crossed := false

	for el := book.oppositeQueue(order.Side).depthList.Front(); el != nil; el = el.Next() {
		unit, _ := el.Value.(*priceUnit)
		if !crosses(order, unit.price) {
			break
		}
		crossed = true
		for maker := unit.head; maker != nil; maker = maker.next {
			if maker.UserID != order.UserID {
				available = available.Add(maker.Remaining)
			}
		}
		if available.GreaterThanOrEqual(order.Size) {
			break
		}
	}

	if available.LessThan(order.Size) {
		reason := protocol.RejectReasonInsufficientSize
		if !crossed {
			reason = protocol.RejectReasonPriceMismatch
		}
		book.reject(order, reason)
		return nil
	}

	trades := book.match(order, true)
	order.Status = protocol.OrderStatusFilled
	return trades
}

// handlePostOnlyOrder rests the order only if it would not take liquidity.
func (book *OrderBook) handlePostOnlyOrder(order *Order) {
	if best, ok := book.oppositeQueue(order.Side).bestPrice(); ok && crosses(order, best) {
		book.reject(order, protocol.RejectReasonPostOnlyMatch)
		return
	}
	book.rest(order)
}

// flush publishes the logs of the current command and reports the new top of
// book once per command.
func (book *OrderBook) flush() {
	if len(book.logs) > 0 {
		book.publishLog.Publish(book.logs...)
		for i, log := range book.logs {
			releaseBookLog(log)
			book.logs[i] = nil
		}
		book.logs = book.logs[:0]
	}

	if book.dirty && book.tickers != nil {
		bid, hasBid := book.bestBid()
		ask, hasAsk := book.bestAsk()
		book.tickers.OnBookChange(book.marketID, bid, hasBid, ask, hasAsk)
	}
	book.dirty = false
}

// depth returns the snapshot of the order book depth.
func (book *OrderBook) depth(limit uint32) *Depth {
	return &Depth{
		UpdateID: book.seqID.Load(),
		Asks:     book.askQueue.depth(limit),
		Bids:     book.bidQueue.depth(limit),
	}
}

// createSnapshot creates a snapshot of the current order book state.
func (book *OrderBook) createSnapshot() *OrderBookSnapshot {
	return &OrderBookSnapshot{
		MarketID: book.marketID,
		SeqID:    book.seqID.Load(),
		TradeID:  book.tradeID.Load(),
		Bids:     book.bidQueue.toSnapshot(),
		Asks:     book.askQueue.toSnapshot(),
	}
}
