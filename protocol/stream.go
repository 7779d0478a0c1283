package protocol

import (
	"encoding/json"
	"errors"
)

var ErrTrailingData = errors.New("protocol: trailing data after message")

// MarketPath is the topic path carrying all market data streams.
const MarketPath = "/api/exchange/market"

// Stream types used as the "type" member of a subscription filter.
const (
	StreamTickers   = "tickers"
	StreamTicker    = "ticker"
	StreamTrades    = "trades"
	StreamOrderBook = "orderbook"
	StreamOrder     = "order"
	StreamCancel    = "cancel"
	StreamError     = "error"

	StreamSubscribed   = "subscribed"
	StreamUnsubscribed = "unsubscribed"
)

// Error codes carried by ErrorPayload.
const (
	CodeValidation    = "validation_error"
	CodeUnknownMarket = "unknown_market"
	CodeNotFound      = "not_found"
	CodeForbidden     = "forbidden"
	CodeEngineBusy    = "engine_busy"
	CodeUnauthorized  = "unauthorized"
	CodeTimeout       = "timeout"
	CodeShutdown      = "shutdown"
	CodeInternal      = "internal_error"
)

// Action tags an inbound message.
type Action string

const (
	ActionSubscribe   Action = "SUBSCRIBE"
	ActionUnsubscribe Action = "UNSUBSCRIBE"
	ActionOrder       Action = "ORDER"
	ActionCancel      Action = "CANCEL"
)

// InboundMessage is the envelope of every client frame. Payload is decoded
// according to Action.
type InboundMessage struct {
	ID      string          `json:"id,omitempty"` // Echoed back on replies
	Action  Action          `json:"action"`
	Path    string          `json:"path,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OrderPayload is the ORDER action payload.
type OrderPayload struct {
	MarketID  string    `json:"market_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Side      Side      `json:"side"`
	OrderType OrderType `json:"order_type"`
	Price     string    `json:"price,omitempty"`
	Size      string    `json:"size"`
}

// CancelPayload is the CANCEL action payload.
type CancelPayload struct {
	MarketID string `json:"market_id"`
	OrderID  string `json:"order_id"`
}

// StreamMessage is the outbound envelope.
type StreamMessage struct {
	Stream string `json:"stream"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data"`
}

// ErrorPayload is the data of an "error" stream message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrderBookDelta carries the absolute size of every price level changed by
// one batch of book events. A zero size removes the level.
type OrderBookDelta struct {
	MarketID string       `json:"market_id"`
	UpdateID uint64       `json:"update_id"`
	Bids     []*DepthItem `json:"bids"`
	Asks     []*DepthItem `json:"asks"`
}
