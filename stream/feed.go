package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"go.uber.org/zap"
)

const snapshotTimeout = 2 * time.Second

// SnapshotSource provides the resting orders of a market, used to resync a
// depth view after missed book logs.
type SnapshotSource interface {
	Snapshot(ctx context.Context, marketID string) (*match.OrderBookSnapshot, error)
}

// MarketFeed turns engine book logs into trade and order book broadcasts.
// It implements match.PublishLog and normally sits behind an
// AsyncPublishLog so that fan-out never runs on a matching goroutine.
type MarketFeed struct {
	mu     sync.Mutex
	out    Broadcaster
	source SnapshotSource
	books  map[string]*match.AggregatedBook
	stale  map[string]bool // markets waiting for a successful resync
	logger *zap.Logger
}

func NewMarketFeed(out Broadcaster, logger *zap.Logger) *MarketFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketFeed{
		out:    out,
		books:  make(map[string]*match.AggregatedBook),
		stale:  make(map[string]bool),
		logger: logger,
	}
}

// SetSnapshotSource enables resync on sequence gaps. The source is queried
// from Publish, so the feed must not be called synchronously by the order
// book actors once a source is set.
func (f *MarketFeed) SetSnapshotSource(source SnapshotSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = source
}

func TradesFilter(marketID string) Filter {
	return Filter{"type": protocol.StreamTrades, "symbol": marketID}
}

func OrderBookFilter(marketID string) Filter {
	return Filter{"type": protocol.StreamOrderBook, "symbol": marketID}
}

type levelKey struct {
	side  match.Side
	price string
}

// marketDelta collects the levels touched by one batch of a market.
type marketDelta struct {
	book    *match.AggregatedBook
	levels  []match.DepthChange
	touched map[levelKey]struct{}
	resync  bool
}

// Publish broadcasts every trade as it appears in logs, then one order book
// delta per market carrying the absolute size of each touched level.
func (f *MarketFeed) Publish(logs ...*match.BookLog) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var order []string
	deltas := make(map[string]*marketDelta)

	for _, log := range logs {
		if trade, ok := log.Trade(); ok {
			f.broadcast(TradesFilter(log.MarketID), trade)
		}

		delta, ok := deltas[log.MarketID]
		if !ok {
			delta = &marketDelta{
				book:    f.book(log.MarketID),
				touched: make(map[levelKey]struct{}),
				resync:  f.stale[log.MarketID],
			}
			deltas[log.MarketID] = delta
			order = append(order, log.MarketID)
		}
		if delta.resync {
			continue
		}

		change, changed, err := delta.book.Replay(log)
		if errors.Is(err, match.ErrSequenceGap) {
			f.logger.Warn("order book feed out of sequence", zap.String("market_id", log.MarketID), zap.Error(err))
			if f.source != nil {
				delta.resync = true
				continue
			}
		}
		if !changed {
			continue
		}
		key := levelKey{side: change.Side, price: match.LevelKey(change.Price)}
		if _, seen := delta.touched[key]; !seen {
			delta.touched[key] = struct{}{}
			delta.levels = append(delta.levels, change)
		}
	}

	for _, marketID := range order {
		delta := deltas[marketID]
		if delta.resync {
			f.resync(marketID, delta.book)
			continue
		}
		if len(delta.levels) == 0 {
			continue
		}
		msg := newDelta(marketID, delta.book.SequenceID())
		for _, change := range delta.levels {
			msg.add(change.Side, change.Price.String(), delta.book.Depth(change.Side, change.Price).String())
		}
		f.broadcast(OrderBookFilter(marketID), msg.OrderBookDelta)
	}
}

// resync rebuilds a market's depth view from a snapshot and broadcasts every
// level, with zero sizes for levels that no longer exist.
func (f *MarketFeed) resync(marketID string, book *match.AggregatedBook) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := f.source.Snapshot(ctx, marketID)
	if err != nil {
		f.stale[marketID] = true
		f.logger.Error("order book feed resync failed", zap.String("market_id", marketID), zap.Error(err))
		return
	}
	delete(f.stale, marketID)

	previous := map[match.Side][]*match.DepthItem{
		match.Buy:  book.Levels(match.Buy, 0),
		match.Sell: book.Levels(match.Sell, 0),
	}
	book.Rebuild(snap)

	msg := newDelta(marketID, book.SequenceID())
	for _, side := range []match.Side{match.Buy, match.Sell} {
		current := make(map[string]struct{})
		for _, level := range book.Levels(side, 0) {
			current[match.LevelKey(level.Price)] = struct{}{}
			msg.add(side, level.Price.String(), level.Size.String())
		}
		for _, level := range previous[side] {
			if _, ok := current[match.LevelKey(level.Price)]; !ok {
				msg.add(side, level.Price.String(), "0")
			}
		}
	}
	f.logger.Info("order book feed resynced", zap.String("market_id", marketID), zap.Uint64("seq_id", snap.SeqID))
	f.broadcast(OrderBookFilter(marketID), msg.OrderBookDelta)
}

type deltaBuilder struct {
	*protocol.OrderBookDelta
}

func newDelta(marketID string, updateID uint64) deltaBuilder {
	return deltaBuilder{&protocol.OrderBookDelta{
		MarketID: marketID,
		UpdateID: updateID,
		Bids:     []*protocol.DepthItem{},
		Asks:     []*protocol.DepthItem{},
	}}
}

func (d deltaBuilder) add(side match.Side, price, size string) {
	item := &protocol.DepthItem{Price: price, Size: size}
	if side == match.Buy {
		d.Bids = append(d.Bids, item)
	} else {
		d.Asks = append(d.Asks, item)
	}
}

func (f *MarketFeed) book(marketID string) *match.AggregatedBook {
	book, ok := f.books[marketID]
	if !ok {
		book = match.NewAggregatedBook()
		f.books[marketID] = book
	}
	return book
}

func (f *MarketFeed) broadcast(filter Filter, payload any) {
	if _, err := f.out.BroadcastToSubscribedClients(protocol.MarketPath, filter, payload); err != nil {
		f.logger.Error("broadcast failed", zap.String("stream", filter.Type()), zap.Error(err))
	}
}
