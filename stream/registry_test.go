package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryStructuralFilterMatch(t *testing.T) {
	r := NewSubscriptionRegistry()

	require.NoError(t, r.Subscribe("c1", "/market", Filter{"type": "ticker", "symbol": "BTC-USDT"}))
	require.NoError(t, r.Subscribe("c2", "/market", Filter{"symbol": "BTC-USDT", "type": "ticker"}))
	require.NoError(t, r.Subscribe("c3", "/market", Filter{"type": "ticker", "symbol": "ETH-USDT"}))

	assert.Equal(t, []string{"c1", "c2"}, r.Subscribers("/market", Filter{"symbol": "BTC-USDT", "type": "ticker"}))
	assert.Equal(t, []string{"c3"}, r.Subscribers("/market", Filter{"type": "ticker", "symbol": "ETH-USDT"}))
	assert.Empty(t, r.Subscribers("/other", Filter{"type": "ticker", "symbol": "BTC-USDT"}))
}

func TestRegistryEmptyFilter(t *testing.T) {
	r := NewSubscriptionRegistry()

	require.NoError(t, r.Subscribe("c1", "/market", nil))
	assert.Equal(t, []string{"c1"}, r.Subscribers("/market", Filter{}))
}

func TestRegistryInvalidTopic(t *testing.T) {
	r := NewSubscriptionRegistry()

	assert.ErrorIs(t, r.Subscribe("c1", "", nil), ErrInvalidTopic)
	assert.ErrorIs(t, r.Subscribe("c1", "/market", Filter{"bad": make(chan int)}), ErrInvalidTopic)
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewSubscriptionRegistry()
	filter := Filter{"type": "trades", "symbol": "BTC-USDT"}
	require.NoError(t, r.Subscribe("c1", "/market", filter))
	require.NoError(t, r.Subscribe("c1", "/market", filter))
	assert.Equal(t, 1, r.SubscriptionCount("c1"))

	ok, err := r.Unsubscribe("c1", "/market", filter)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Unsubscribe("c1", "/market", filter)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, r.Subscribers("/market", filter))
}

func TestRegistryDropConnection(t *testing.T) {
	r := NewSubscriptionRegistry()
	require.NoError(t, r.Subscribe("c1", "/market", Filter{"type": "tickers"}))
	require.NoError(t, r.Subscribe("c1", "/market", Filter{"type": "trades", "symbol": "BTC-USDT"}))
	require.NoError(t, r.Subscribe("c2", "/market", Filter{"type": "tickers"}))

	assert.Equal(t, 2, r.DropConnection("c1"))
	assert.Equal(t, 0, r.SubscriptionCount("c1"))
	assert.Equal(t, []string{"c2"}, r.Subscribers("/market", Filter{"type": "tickers"}))
	assert.Empty(t, r.Subscribers("/market", Filter{"type": "trades", "symbol": "BTC-USDT"}))
	assert.Equal(t, 0, r.DropConnection("c1"))
}
