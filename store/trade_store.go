package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	match "github.com/0x5487/exchange-core"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

const DefaultRecentTrades = 100

// TradeStore persists executed trades in pebble. It implements
// match.PublishLog so it can be attached to the engine's event pipeline.
type TradeStore struct {
	db     *pebble.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*TradeStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	return &TradeStore{db: db, logger: logger}, nil
}

func (s *TradeStore) Close() error { return s.db.Close() }

// keys: t:<market>:<8-byte trade id>
func tradePrefix(marketID string) []byte {
	return []byte("t:" + marketID + ":")
}

func tradeKey(marketID string, tradeID uint64) []byte {
	key := tradePrefix(marketID)
	return binary.BigEndian.AppendUint64(key, tradeID)
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Publish writes the trades among logs in one batch. Failures are logged;
// they never reach the matching path.
func (s *TradeStore) Publish(logs ...*match.BookLog) {
	if err := s.SaveTrades(logs...); err != nil {
		s.logger.Error("persist trades failed", zap.Error(err))
	}
}

// SaveTrades persists the match logs among logs.
func (s *TradeStore) SaveTrades(logs ...*match.BookLog) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, log := range logs {
		trade, ok := log.Trade()
		if !ok {
			continue
		}
		data, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("marshal trade %d: %w", trade.ID, err)
		}
		if err := batch.Set(tradeKey(trade.MarketID, trade.ID), data, nil); err != nil {
			return fmt.Errorf("stage trade %d: %w", trade.ID, err)
		}
	}

	if batch.Empty() {
		return nil
	}
	return batch.Commit(pebble.NoSync)
}

// RecentTrades returns up to limit trades of a market, newest first.
func (s *TradeStore) RecentTrades(marketID string, limit int) ([]*match.Trade, error) {
	if limit <= 0 {
		limit = DefaultRecentTrades
	}

	prefix := tradePrefix(marketID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	defer iter.Close()

	trades := make([]*match.Trade, 0, limit)
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var trade match.Trade
		if err := json.Unmarshal(iter.Value(), &trade); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		trades = append(trades, &trade)
	}
	return trades, iter.Error()
}

// LastTradeID returns the highest stored trade id of a market, or 0.
func (s *TradeStore) LastTradeID(marketID string) (uint64, error) {
	trades, err := s.RecentTrades(marketID, 1)
	if err != nil || len(trades) == 0 {
		return 0, err
	}
	return trades[0].ID, nil
}
