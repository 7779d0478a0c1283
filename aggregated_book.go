package match

import (
	"errors"
	"fmt"

	"github.com/igrmk/treemap/v2"
	"github.com/quagmt/udecimal"
)

// ErrSequenceGap is returned by Replay when an event arrives out of order.
var ErrSequenceGap = errors.New("book log sequence gap")

// AggregatedBook maintains a simplified view of the order book,
// tracking only price levels and their aggregated sizes (depth).
// It is rebuilt from BookLog events by consumers that sit behind the
// publish pipeline (stream feed, external subscribers of the MQ topic).
// It is not safe for concurrent use.
type AggregatedBook struct {
	seqID uint64 // Last processed SequenceID
	ask   *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]
	bid   *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]
}

func lessDecimal(a, b udecimal.Decimal) bool {
	return a.LessThan(b)
}

// NewAggregatedBook creates a new AggregatedBook instance with empty ask and bid sides.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		ask: treemap.NewWithKeyCompare[udecimal.Decimal, udecimal.Decimal](lessDecimal),
		bid: treemap.NewWithKeyCompare[udecimal.Decimal, udecimal.Decimal](lessDecimal),
	}
}

// SequenceID returns the last processed sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID
}

func (ab *AggregatedBook) side(side Side) *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal] {
	if side == Buy {
		return ab.bid
	}
	return ab.ask
}

// Replay applies a BookLog event and returns the change it made.
// Events already seen are ignored and reported with ok == false. A skipped
// sequence is still applied but reported as ErrSequenceGap so that the
// caller can decide to rebuild.
func (ab *AggregatedBook) Replay(log *BookLog) (change DepthChange, ok bool, err error) {
	if ab.seqID != 0 && log.SequenceID <= ab.seqID {
		return DepthChange{}, false, nil
	}
	if ab.seqID != 0 && log.SequenceID != ab.seqID+1 {
		err = fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, ab.seqID+1, log.SequenceID)
	}
	ab.seqID = log.SequenceID

	change = CalculateDepthChange(log)
	if change.SizeDiff.IsZero() {
		return change, false, err
	}

	levels := ab.side(change.Side)
	size, _ := levels.Get(change.Price)
	size = size.Add(change.SizeDiff)
	if size.GreaterThan(udecimal.Zero) {
		levels.Set(change.Price, size)
	} else {
		levels.Del(change.Price)
	}
	return change, true, err
}

// Rebuild resets the book to the resting orders of snap.
func (ab *AggregatedBook) Rebuild(snap *OrderBookSnapshot) {
	fresh := NewAggregatedBook()
	ab.ask, ab.bid = fresh.ask, fresh.bid
	for _, order := range snap.Bids {
		size, _ := ab.bid.Get(order.Price)
		ab.bid.Set(order.Price, size.Add(order.Remaining))
	}
	for _, order := range snap.Asks {
		size, _ := ab.ask.Get(order.Price)
		ab.ask.Set(order.Price, size.Add(order.Remaining))
	}
	ab.seqID = snap.SeqID
}

// Depth returns the aggregated size at a specific price level for the given side.
// Returns zero if the price level does not exist.
func (ab *AggregatedBook) Depth(side Side, price udecimal.Decimal) udecimal.Decimal {
	size, _ := ab.side(side).Get(price)
	return size
}

// Levels returns up to limit levels of one side, best price first.
// A zero limit returns every level.
func (ab *AggregatedBook) Levels(side Side, limit int) []*DepthItem {
	levels := ab.side(side)
	items := make([]*DepthItem, 0, levels.Len())

	add := func(price, size udecimal.Decimal) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		items = append(items, &DepthItem{ID: uint32(len(items)), Price: price, Size: size})
		return true
	}

	if side == Buy {
		for it := levels.Reverse(); it.Valid(); it.Next() {
			if !add(it.Key(), it.Value()) {
				break
			}
		}
	} else {
		for it := levels.Iterator(); it.Valid(); it.Next() {
			if !add(it.Key(), it.Value()) {
				break
			}
		}
	}
	return items
}
