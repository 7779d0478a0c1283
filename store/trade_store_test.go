package store

import (
	"context"
	"testing"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/quagmt/udecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchLog(marketID string, tradeID uint64, price int64) *match.BookLog {
	return &match.BookLog{
		SequenceID:   tradeID,
		TradeID:      tradeID,
		Type:         match.LogTypeMatch,
		MarketID:     marketID,
		Side:         match.Buy,
		Price:        udecimal.MustFromInt64(price, 0),
		Size:         udecimal.MustFromInt64(1, 0),
		Amount:       udecimal.MustFromInt64(price, 0),
		OrderID:      "taker",
		UserID:       2,
		MakerOrderID: "maker",
		MakerUserID:  1,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openTestStore(t *testing.T) *TradeStore {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTradeStoreRecentTrades(t *testing.T) {
	s := openTestStore(t)

	s.Publish(
		matchLog("BTC-USDT", 1, 100),
		&match.BookLog{SequenceID: 2, Type: match.LogTypeOpen, MarketID: "BTC-USDT"},
		matchLog("BTC-USDT", 2, 101),
		matchLog("ETH-USDT", 1, 2000),
	)
	// 256 sorts after 255 only with big-endian keys.
	s.Publish(matchLog("BTC-USDT", 255, 102), matchLog("BTC-USDT", 256, 103))

	trades, err := s.RecentTrades("BTC-USDT", 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, uint64(256), trades[0].ID)
	assert.Equal(t, uint64(255), trades[1].ID)
	assert.Equal(t, uint64(2), trades[2].ID)
	assert.Equal(t, "103", trades[0].Price.String())
	assert.Equal(t, "maker", trades[0].MakerOrderID)
	assert.Equal(t, match.Buy, trades[0].TakerSide)

	eth, err := s.RecentTrades("ETH-USDT", 0)
	require.NoError(t, err)
	require.Len(t, eth, 1)

	last, err := s.LastTradeID("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(256), last)
}

func TestTradeStoreEmptyMarket(t *testing.T) {
	s := openTestStore(t)

	trades, err := s.RecentTrades("BTC-USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	last, err := s.LastTradeID("BTC-USDT")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestTradeStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveTrades(matchLog("BTC-USDT", 1, 100)))
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	trades, err := s.RecentTrades("BTC-USDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func tradeOnce(t *testing.T, dir string) {
	t.Helper()

	s, err := Open(dir, nil)
	require.NoError(t, err)

	engine := match.NewMatchingEngine(s,
		match.WithMarkets("BTC-USDT"),
		match.WithTradeIDSource(s.LastTradeID),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = engine.PlaceOrder(ctx, "BTC-USDT", &protocol.PlaceOrderCommand{
		Side: match.Sell, OrderType: match.Limit, Price: "100", Size: "1", UserID: 1,
	})
	require.NoError(t, err)
	res, err := engine.PlaceOrder(ctx, "BTC-USDT", &protocol.PlaceOrderCommand{
		Side: match.Buy, OrderType: match.Limit, Price: "100", Size: "1", UserID: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	require.NoError(t, engine.Shutdown(ctx))
	require.NoError(t, s.Close())
}

func TestTradeIDsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	tradeOnce(t, dir)
	tradeOnce(t, dir)

	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	trades, err := s.RecentTrades("BTC-USDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2, "second run must not overwrite the first")
	assert.Equal(t, uint64(2), trades[0].ID)
	assert.Equal(t, uint64(1), trades[1].ID)
}
