package match

import (
	"sync"
	"time"

	"github.com/quagmt/udecimal"
)

// BookLog represents an event in the order book.
// SequenceID is a per-market increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use Type to determine if the event affects order book state:
// - Open, Match, Cancel: affect order book state
// - Reject: does not affect order book state
type BookLog struct {
	SequenceID   uint64           `json:"seq_id"`
	TradeID      uint64           `json:"trade_id,omitempty"` // Sequential trade ID, only set for Match events
	Type         LogType          `json:"type"`
	MarketID     string           `json:"market_id"`
	Side         Side             `json:"side"`
	Price        udecimal.Decimal `json:"price"`
	Size         udecimal.Decimal `json:"size"`
	Amount       udecimal.Decimal `json:"amount"` // Price * Size, only set for Match events
	OrderID      string           `json:"order_id"`
	UserID       uint64           `json:"user_id"`
	OrderType    OrderType        `json:"order_type,omitempty"`
	MakerOrderID string           `json:"maker_order_id,omitempty"`
	MakerUserID  uint64           `json:"maker_user_id,omitempty"`
	RejectReason RejectReason     `json:"reject_reason,omitempty"` // Only set for Reject events
	CreatedAt    time.Time        `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	*log = BookLog{}
	bookLogPool.Put(log)
}

// Clone returns a heap copy that outlives the publishing call.
func (log *BookLog) Clone() *BookLog {
	cpy := *log
	return &cpy
}

// Trade converts a match log into the trade it records.
// The second return value is false for non-match logs.
func (log *BookLog) Trade() (*Trade, bool) {
	if log.Type != LogTypeMatch {
		return nil, false
	}
	return &Trade{
		ID:           log.TradeID,
		SeqID:        log.SequenceID,
		MarketID:     log.MarketID,
		TakerSide:    log.Side,
		Price:        log.Price,
		Size:         log.Size,
		Amount:       log.Amount,
		MakerOrderID: log.MakerOrderID,
		MakerUserID:  log.MakerUserID,
		TakerOrderID: log.OrderID,
		TakerUserID:  log.UserID,
		CreatedAt:    log.CreatedAt,
	}, true
}

func newOpenLog(seqID uint64, order *Order, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.MarketID = order.MarketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = now
	return log
}

func newMatchLog(trade *Trade, taker *Order) *BookLog {
	log := acquireBookLog()
	log.SequenceID = trade.SeqID
	log.TradeID = trade.ID
	log.Type = LogTypeMatch
	log.MarketID = trade.MarketID
	log.Side = taker.Side
	log.Price = trade.Price
	log.Size = trade.Size
	log.Amount = trade.Amount
	log.OrderID = taker.ID
	log.UserID = taker.UserID
	log.OrderType = taker.Type
	log.MakerOrderID = trade.MakerOrderID
	log.MakerUserID = trade.MakerUserID
	log.CreatedAt = trade.CreatedAt
	return log
}

func newCancelLog(seqID uint64, order *Order, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeCancel
	log.MarketID = order.MarketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = now
	return log
}

// newRejectLog records the part of an order that never rested. Size is the
// rejected (unfilled) quantity.
func newRejectLog(seqID uint64, order *Order, reason RejectReason, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.MarketID = order.MarketID
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Remaining
	log.OrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.RejectReason = reason
	log.CreatedAt = now
	return log
}
