package match

import (
	"time"

	"github.com/0x5487/exchange-core/protocol"
	"github.com/quagmt/udecimal"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type OrderType = protocol.OrderType

const (
	Market   OrderType = protocol.OrderTypeMarket
	Limit    OrderType = protocol.OrderTypeLimit
	FOK      OrderType = protocol.OrderTypeFOK
	IOC      OrderType = protocol.OrderTypeIOC
	PostOnly OrderType = protocol.OrderTypePostOnly
)

type OrderStatus = protocol.OrderStatus

type LogType = protocol.LogType

const (
	LogTypeOpen   LogType = protocol.LogTypeOpen
	LogTypeMatch  LogType = protocol.LogTypeMatch
	LogTypeCancel LogType = protocol.LogTypeCancel
	LogTypeReject LogType = protocol.LogTypeReject
)

type RejectReason = protocol.RejectReason

// Order represents the state of an order in the order book.
type Order struct {
	ID        string           `json:"id"`
	MarketID  string           `json:"market_id"`
	Side      Side             `json:"side"`
	Type      OrderType        `json:"type"`
	Price     udecimal.Decimal `json:"price"`     // Zero for market orders
	Size      udecimal.Decimal `json:"size"`      // Originally submitted quantity
	Remaining udecimal.Decimal `json:"remaining"` // Unfilled quantity
	UserID    uint64           `json:"user_id"`
	Seq       uint64           `json:"seq"` // Per-market submission sequence, FIFO tie-break
	Status    OrderStatus      `json:"status"`
	Timestamp int64            `json:"timestamp"` // Unix nano, acceptance time

	// Intrusive linked list pointers (ignored by JSON)
	next *Order
	prev *Order
}

// Filled returns the executed quantity.
func (o *Order) Filled() udecimal.Decimal {
	return o.Size.Sub(o.Remaining)
}

// clone returns a detached copy safe to hand outside the book actor.
func (o *Order) clone() *Order {
	cpy := *o
	cpy.next = nil
	cpy.prev = nil
	return &cpy
}

// Trade is one execution between a resting maker and an incoming taker.
// Price is always the maker's resting price.
type Trade struct {
	ID           uint64           `json:"id"`
	SeqID        uint64           `json:"seq_id"`
	MarketID     string           `json:"market_id"`
	TakerSide    Side             `json:"taker_side"`
	Price        udecimal.Decimal `json:"price"`
	Size         udecimal.Decimal `json:"size"`
	Amount       udecimal.Decimal `json:"amount"`
	MakerOrderID string           `json:"maker_order_id"`
	MakerUserID  uint64           `json:"maker_user_id"`
	TakerOrderID string           `json:"taker_order_id"`
	TakerUserID  uint64           `json:"taker_user_id"`
	CreatedAt    time.Time        `json:"created_at"`
}

// PlaceOrderResult is returned to the submitter once the market's actor has
// processed the order.
type PlaceOrderResult struct {
	SeqID  uint64   `json:"seq_id"` // Command sequence within the market
	Order  *Order   `json:"order"`
	Trades []*Trade `json:"trades"`
}

// CancelResult is returned for a successful cancellation.
type CancelResult struct {
	SeqID uint64 `json:"seq_id"`
	Order *Order `json:"order"`
}

// DepthItem is one aggregated price level.
type DepthItem struct {
	ID    uint32
	Price udecimal.Decimal
	Size  udecimal.Decimal
	Count int64
}

// Depth is a point-in-time view of the top price levels of both sides.
type Depth struct {
	UpdateID uint64
	Asks     []*DepthItem
	Bids     []*DepthItem
}

// ToResponse converts the depth into its wire representation.
func (d *Depth) ToResponse(marketID string) *protocol.GetDepthResponse {
	conv := func(items []*DepthItem) []*protocol.DepthItem {
		out := make([]*protocol.DepthItem, 0, len(items))
		for _, it := range items {
			out = append(out, &protocol.DepthItem{
				Price: it.Price.String(),
				Size:  it.Size.String(),
				Count: it.Count,
			})
		}
		return out
	}
	return &protocol.GetDepthResponse{
		MarketID: marketID,
		UpdateID: d.UpdateID,
		Asks:     conv(d.Asks),
		Bids:     conv(d.Bids),
	}
}

// DepthChange represents a change in the order book depth.
type DepthChange struct {
	Side     Side
	Price    udecimal.Decimal
	SizeDiff udecimal.Decimal
}
