package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DepthItem struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Count int64  `json:"count"`
}

// GetDepthResponse represents the state of the order book depth.
type GetDepthResponse struct {
	MarketID string       `json:"market_id"`
	UpdateID uint64       `json:"update_id"`
	Asks     []*DepthItem `json:"asks"`
	Bids     []*DepthItem `json:"bids"`
}

// GetStatsResponse contains statistics about the order book queues.
type GetStatsResponse struct {
	AskDepthCount int64 `json:"ask_depth_count"`
	AskOrderCount int64 `json:"ask_order_count"`
	BidDepthCount int64 `json:"bid_depth_count"`
	BidOrderCount int64 `json:"bid_order_count"`
}

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide accepts "buy"/"sell" in any case.
// MarshalJSON encodes the side as "buy" or "sell".
func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts "buy"/"sell" as well as the numeric values.
func (s *Side) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		side, ok := ParseSide(name)
		if !ok {
			return fmt.Errorf("protocol: invalid side %q", name)
		}
		*s = side
		return nil
	}
	var n int8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("protocol: invalid side %s", data)
	}
	*s = Side(n)
	return nil
}

func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	}
	return 0, false
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypeFOK      OrderType = "fok"       // Fill Or Kill
	OrderTypeIOC      OrderType = "ioc"       // Immediate Or Cancel
	OrderTypePostOnly OrderType = "post_only" // Maker only
)

// IsPriced reports whether orders of this type carry a limit price.
func (t OrderType) IsPriced() bool {
	switch t {
	case OrderTypeLimit, OrderTypeFOK, OrderTypeIOC, OrderTypePostOnly:
		return true
	}
	return false
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t.IsPriced()
}

// OrderStatus is the lifecycle state of an order as seen by its owner.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// LogType represents the type of event log.
type LogType string

const (
	LogTypeOpen   LogType = "open"
	LogTypeMatch  LogType = "match"
	LogTypeCancel LogType = "cancel"
	LogTypeReject LogType = "reject"
)

// RejectReason represents the reason why an order (or its remainder) was rejected.
type RejectReason string

const (
	RejectReasonNone               RejectReason = ""
	RejectReasonNoLiquidity        RejectReason = "no_liquidity"         // Market/IOC: remainder could not be filled
	RejectReasonPriceMismatch      RejectReason = "price_mismatch"       // IOC/FOK: Price does not meet requirements
	RejectReasonInsufficientSize   RejectReason = "insufficient_size"    // FOK: Cannot be fully filled
	RejectReasonPostOnlyMatch      RejectReason = "post_only_match"      // PostOnly: Would match immediately
	RejectReasonSelfTradePrevented RejectReason = "self_trade_prevented" // Limit remainder would cross the owner's own orders
)
