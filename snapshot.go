package match

// OrderBookSnapshot contains the full resting state of a single OrderBook.
type OrderBookSnapshot struct {
	MarketID string   `json:"market_id"`
	SeqID    uint64   `json:"seq_id"`   // Current BookLog sequence ID
	TradeID  uint64   `json:"trade_id"` // Current Trade sequence ID
	Bids     []*Order `json:"bids"`     // Ordered list of bids (best price first)
	Asks     []*Order `json:"asks"`     // Ordered list of asks (best price first)
}
