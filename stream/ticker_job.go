package stream

import (
	"context"
	"sort"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"go.uber.org/zap"
)

const DefaultTickerInterval = time.Second

// TickerSource is the read side of the engine used by the ticker job.
type TickerSource interface {
	Tickers() map[string]match.Ticker
}

func TickersFilter() Filter {
	return Filter{"type": protocol.StreamTickers}
}

func TickerFilter(marketID string) Filter {
	return Filter{"type": protocol.StreamTicker, "symbol": marketID}
}

// TickerBroadcaster pushes ticker snapshots on a fixed interval, with or
// without market activity.
type TickerBroadcaster struct {
	source   TickerSource
	out      Broadcaster
	interval time.Duration
	logger   *zap.Logger
}

func NewTickerBroadcaster(source TickerSource, out Broadcaster, interval time.Duration, logger *zap.Logger) *TickerBroadcaster {
	if interval <= 0 {
		interval = DefaultTickerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickerBroadcaster{
		source:   source,
		out:      out,
		interval: interval,
		logger:   logger,
	}
}

// Run broadcasts every interval until ctx is done.
func (t *TickerBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.BroadcastOnce()
		}
	}
}

// BroadcastOnce sends the full ticker list and each market's own ticker.
// It returns the number of deliveries.
func (t *TickerBroadcaster) BroadcastOnce() int {
	tickers := t.source.Tickers()

	list := make([]match.Ticker, 0, len(tickers))
	for _, ticker := range tickers {
		list = append(list, ticker)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MarketID < list[j].MarketID })

	total := t.send(TickersFilter(), list)
	for _, ticker := range list {
		total += t.send(TickerFilter(ticker.MarketID), ticker)
	}
	return total
}

func (t *TickerBroadcaster) send(filter Filter, payload any) int {
	n, err := t.out.BroadcastToSubscribedClients(protocol.MarketPath, filter, payload)
	if err != nil {
		t.logger.Error("ticker broadcast failed", zap.String("stream", filter.Type()), zap.Error(err))
	}
	return n
}
