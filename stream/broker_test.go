package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, msg []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func receive(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "client queue closed")
		return decode(t, msg)
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return envelope{}
}

func TestBrokerBroadcastToSubscribers(t *testing.T) {
	broker := NewMessageBroker(nil)
	c1, err := broker.Register("c1")
	require.NoError(t, err)
	c2, err := broker.Register("c2")
	require.NoError(t, err)

	require.NoError(t, broker.Subscribe("c1", protocol.MarketPath, TradesFilter("BTC-USDT")))
	require.NoError(t, broker.Subscribe("c2", protocol.MarketPath, TradesFilter("ETH-USDT")))

	n, err := broker.BroadcastToSubscribedClients(protocol.MarketPath, TradesFilter("BTC-USDT"), map[string]string{"price": "100"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env := receive(t, c1)
	assert.Equal(t, "trades", env.Stream)
	assert.JSONEq(t, `{"price":"100"}`, string(env.Data))
	assert.Empty(t, c2.Messages())
}

func TestBrokerStreamNameFallsBackToPath(t *testing.T) {
	broker := NewMessageBroker(nil)
	c, err := broker.Register("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())

	require.NoError(t, broker.Subscribe(c.ID(), "/api/custom", nil))
	_, err = broker.BroadcastToSubscribedClients("/api/custom", nil, 1)
	require.NoError(t, err)

	assert.Equal(t, "/api/custom", receive(t, c).Stream)
}

func TestBrokerRegisterErrors(t *testing.T) {
	broker := NewMessageBroker(nil)
	_, err := broker.Register("c1")
	require.NoError(t, err)

	_, err = broker.Register("c1")
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	assert.ErrorIs(t, broker.Subscribe("nope", protocol.MarketPath, nil), ErrUnknownConnection)
	_, err = broker.Unsubscribe("nope", protocol.MarketPath, nil)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestBrokerUnregisterPurges(t *testing.T) {
	broker := NewMessageBroker(nil)
	c, err := broker.Register("c1")
	require.NoError(t, err)
	require.NoError(t, broker.Subscribe("c1", protocol.MarketPath, TickersFilter()))

	broker.Unregister("c1")
	broker.Unregister("c1")

	assert.Equal(t, 0, broker.ClientCount())
	assert.Equal(t, 0, broker.Registry().SubscriptionCount("c1"))
	_, open := <-c.Messages()
	assert.False(t, open)

	n, err := broker.BroadcastToSubscribedClients(protocol.MarketPath, TickersFilter(), "x")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, c.Send([]byte("late")))
	assert.Error(t, broker.SendTo("c1", protocol.StreamMessage{Stream: "x"}))
}

func TestClientDropsOldest(t *testing.T) {
	c := newClient("c1", 2)

	assert.True(t, c.Send([]byte("1")))
	assert.True(t, c.Send([]byte("2")))
	assert.True(t, c.Send([]byte("3")))

	assert.Equal(t, uint64(1), c.Dropped())
	assert.Equal(t, "2", string(<-c.Messages()))
	assert.Equal(t, "3", string(<-c.Messages()))
}

type staticTickers map[string]match.Ticker

func (s staticTickers) Tickers() map[string]match.Ticker {
	return s
}

func TestSlowSubscriberDoesNotStarveOthers(t *testing.T) {
	broker := NewMessageBroker(nil, WithClientQueueSize(2))
	job := NewTickerBroadcaster(staticTickers{
		"BTC-USDT": {MarketID: "BTC-USDT"},
		"ETH-USDT": {MarketID: "ETH-USDT"},
	}, broker, time.Millisecond, nil)

	slow, err := broker.Register("slow")
	require.NoError(t, err)
	require.NoError(t, broker.Subscribe("slow", protocol.MarketPath, TickersFilter()))

	const fastClients, ticks = 5, 20
	var wg sync.WaitGroup
	received := make([]atomic.Int64, fastClients)
	for i := 0; i < fastClients; i++ {
		c, err := broker.Register("")
		require.NoError(t, err)
		require.NoError(t, broker.Subscribe(c.ID(), protocol.MarketPath, TickersFilter()))

		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			for range c.Messages() {
				received[i].Add(1)
			}
		}(i, c)
	}

	for tick := 0; tick < ticks; tick++ {
		done := make(chan int, 1)
		go func() { done <- job.BroadcastOnce() }()
		select {
		case n := <-done:
			assert.Equal(t, fastClients+1, n, "every subscriber accepts the tick")
		case <-time.After(time.Second):
			t.Fatal("broadcast blocked by a slow subscriber")
		}
		want := int64(tick + 1)
		require.Eventually(t, func() bool {
			for i := range received {
				if received[i].Load() < want {
					return false
				}
			}
			return true
		}, time.Second, time.Millisecond, "fast subscribers receive the tick")
	}

	assert.Eventually(t, func() bool {
		return len(slow.Messages()) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(ticks-2), slow.Dropped())

	for _, c := range broker.Registry().Subscribers(protocol.MarketPath, TickersFilter()) {
		if c != "slow" {
			broker.Unregister(c)
		}
	}
	wg.Wait()
	for i := range received {
		assert.Equal(t, int64(ticks), received[i].Load(), "fast client %d", i)
	}
}
