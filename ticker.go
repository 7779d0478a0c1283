package match

import (
	"sync"
	"time"

	"github.com/quagmt/udecimal"
)

const (
	DefaultTickerWindow = 24 * time.Hour
	DefaultTickerBucket = time.Minute
)

var hundred = udecimal.MustFromInt64(100, 0)

// Ticker is a derived summary of the last 24h of one market.
type Ticker struct {
	MarketID         string           `json:"market_id"`
	LastPrice        udecimal.Decimal `json:"last_price"`
	BestBid          udecimal.Decimal `json:"best_bid"`
	BestAsk          udecimal.Decimal `json:"best_ask"`
	High24h          udecimal.Decimal `json:"high_24h"`
	Low24h           udecimal.Decimal `json:"low_24h"`
	Volume24h        udecimal.Decimal `json:"volume_24h"`
	QuoteVolume24h   udecimal.Decimal `json:"quote_volume_24h"`
	ChangePercent24h udecimal.Decimal `json:"change_percent_24h"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// tradeBucket aggregates the trades of one bucket-wide time slot.
// index identifies the slot (unix nanos / bucket width).
type tradeBucket struct {
	index       int64
	used        bool
	open        udecimal.Decimal
	high        udecimal.Decimal
	low         udecimal.Decimal
	volume      udecimal.Decimal
	quoteVolume udecimal.Decimal
}

type tickerState struct {
	mu        sync.RWMutex
	lastPrice udecimal.Decimal
	bestBid   udecimal.Decimal
	bestAsk   udecimal.Decimal
	buckets   []tradeBucket
	updatedAt time.Time
}

// TickerAggregator keeps rolling statistics per market. Each market is
// written by a single book actor and read concurrently by ticker queries.
type TickerAggregator struct {
	bucketWidth time.Duration
	bucketCount int64
	now         func() time.Time
	markets     sync.Map // marketID -> *tickerState
}

type TickerOption func(*TickerAggregator)

// WithClock overrides the time source used for window expiry.
func WithClock(now func() time.Time) TickerOption {
	return func(t *TickerAggregator) {
		t.now = now
	}
}

// WithWindow sets the rolling window and its bucket width.
func WithWindow(window, bucket time.Duration) TickerOption {
	return func(t *TickerAggregator) {
		if bucket <= 0 || window < bucket {
			return
		}
		t.bucketWidth = bucket
		t.bucketCount = int64(window / bucket)
	}
}

func NewTickerAggregator(opts ...TickerOption) *TickerAggregator {
	t := &TickerAggregator{
		bucketWidth: DefaultTickerBucket,
		bucketCount: int64(DefaultTickerWindow / DefaultTickerBucket),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TickerAggregator) state(marketID string) *tickerState {
	if st, ok := t.markets.Load(marketID); ok {
		return st.(*tickerState)
	}
	st, _ := t.markets.LoadOrStore(marketID, &tickerState{
		buckets: make([]tradeBucket, t.bucketCount),
	})
	return st.(*tickerState)
}

func (t *TickerAggregator) bucketIndex(ts time.Time) int64 {
	return ts.UnixNano() / int64(t.bucketWidth)
}

// OnTrade folds one execution into the market's window.
func (t *TickerAggregator) OnTrade(trade *Trade) {
	st := t.state(trade.MarketID)
	idx := t.bucketIndex(trade.CreatedAt)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastPrice = trade.Price
	st.updatedAt = trade.CreatedAt

	b := &st.buckets[idx%t.bucketCount]
	if !b.used || b.index != idx {
		*b = tradeBucket{
			index:       idx,
			used:        true,
			open:        trade.Price,
			high:        trade.Price,
			low:         trade.Price,
			volume:      udecimal.Zero,
			quoteVolume: udecimal.Zero,
		}
	}
	if trade.Price.GreaterThan(b.high) {
		b.high = trade.Price
	}
	if trade.Price.LessThan(b.low) {
		b.low = trade.Price
	}
	b.volume = b.volume.Add(trade.Size)
	b.quoteVolume = b.quoteVolume.Add(trade.Amount)
}

// OnBookChange records the current top of book. A missing side is reported as zero.
func (t *TickerAggregator) OnBookChange(marketID string, bestBid udecimal.Decimal, hasBid bool, bestAsk udecimal.Decimal, hasAsk bool) {
	st := t.state(marketID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !hasBid {
		bestBid = udecimal.Zero
	}
	if !hasAsk {
		bestAsk = udecimal.Zero
	}
	st.bestBid = bestBid
	st.bestAsk = bestAsk
	st.updatedAt = t.now()
}

// Snapshot computes the market's ticker at the current time. It has no side effects.
func (t *TickerAggregator) Snapshot(marketID string) Ticker {
	ticker := Ticker{MarketID: marketID}

	v, ok := t.markets.Load(marketID)
	if !ok {
		return ticker
	}
	st := v.(*tickerState)

	nowIdx := t.bucketIndex(t.now())
	oldest := nowIdx - t.bucketCount + 1

	st.mu.RLock()
	defer st.mu.RUnlock()

	ticker.LastPrice = st.lastPrice
	ticker.BestBid = st.bestBid
	ticker.BestAsk = st.bestAsk
	ticker.UpdatedAt = st.updatedAt

	var open udecimal.Decimal
	openIdx := int64(-1)
	seen := false
	for i := range st.buckets {
		b := &st.buckets[i]
		if !b.used || b.index < oldest || b.index > nowIdx {
			continue
		}
		if !seen {
			ticker.High24h = b.high
			ticker.Low24h = b.low
			seen = true
		} else {
			if b.high.GreaterThan(ticker.High24h) {
				ticker.High24h = b.high
			}
			if b.low.LessThan(ticker.Low24h) {
				ticker.Low24h = b.low
			}
		}
		if openIdx < 0 || b.index < openIdx {
			openIdx = b.index
			open = b.open
		}
		ticker.Volume24h = ticker.Volume24h.Add(b.volume)
		ticker.QuoteVolume24h = ticker.QuoteVolume24h.Add(b.quoteVolume)
	}

	if seen && !open.IsZero() {
		if ratio, err := st.lastPrice.Sub(open).Div(open); err == nil {
			ticker.ChangePercent24h = ratio.Mul(hundred)
		}
	}

	return ticker
}
