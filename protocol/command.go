package protocol

// PlaceOrderCommand is the payload for placing a new order.
// Price and Size are strings to prevent precision loss in JSON.
type PlaceOrderCommand struct {
	OrderID   string    `json:"order_id,omitempty"` // Assigned by the engine when empty
	Side      Side      `json:"side"`
	OrderType OrderType `json:"order_type"`
	Price     string    `json:"price,omitempty"` // Required for priced types, must be empty for market orders
	Size      string    `json:"size"`
	UserID    uint64    `json:"user_id"`
}

// CancelOrderCommand is the payload for cancelling an existing order.
type CancelOrderCommand struct {
	OrderID string `json:"order_id"`
	UserID  uint64 `json:"user_id"`
}
