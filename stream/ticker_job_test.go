package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/quagmt/udecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerBroadcastOnce(t *testing.T) {
	out := &recordingBroadcaster{}
	job := NewTickerBroadcaster(staticTickers{
		"ETH-USDT": {MarketID: "ETH-USDT"},
		"BTC-USDT": {MarketID: "BTC-USDT", LastPrice: udecimal.MustFromInt64(100, 0)},
	}, out, time.Second, nil)

	assert.Equal(t, 3, job.BroadcastOnce())

	all := out.byType(protocol.StreamTickers)
	require.Len(t, all, 1)
	list := all[0].payload.([]match.Ticker)
	require.Len(t, list, 2)
	assert.Equal(t, "BTC-USDT", list[0].MarketID)

	single := out.byType(protocol.StreamTicker)
	require.Len(t, single, 2)
	assert.Equal(t, "BTC-USDT", single[0].filter["symbol"])
}

func TestTickerBroadcasterRunsWithoutActivity(t *testing.T) {
	broker := NewMessageBroker(nil)
	c, err := broker.Register("c1")
	require.NoError(t, err)
	require.NoError(t, broker.Subscribe("c1", protocol.MarketPath, TickerFilter("BTC-USDT")))

	engine := match.NewMatchingEngine(nil, match.WithMarkets("BTC-USDT"))
	job := NewTickerBroadcaster(engine, broker, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		env := receive(t, c)
		assert.Equal(t, protocol.StreamTicker, env.Stream)
		var ticker map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &ticker))
		assert.Equal(t, "BTC-USDT", ticker["market_id"])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker job did not stop")
	}
}
