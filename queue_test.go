package match

import (
	"testing"

	"github.com/quagmt/udecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) udecimal.Decimal {
	return udecimal.MustFromInt64(v, 0)
}

func restingOrder(id string, side Side, price, size int64) *Order {
	return &Order{
		ID:        id,
		Side:      side,
		Type:      Limit,
		Price:     dec(price),
		Size:      dec(size),
		Remaining: dec(size),
		UserID:    1,
	}
}

func TestBuyerQueue(t *testing.T) {
	q := NewBuyerQueue()

	q.insertOrder(restingOrder("101", Buy, 10, 1))
	q.insertOrder(restingOrder("201", Buy, 20, 10))
	q.insertOrder(restingOrder("301", Buy, 30, 10))
	q.insertOrder(restingOrder("202", Buy, 20, 100))

	assert.Equal(t, int64(4), q.orderCount())
	assert.Equal(t, int64(3), q.depthCount())

	best, ok := q.bestPrice()
	require.True(t, ok)
	assert.Equal(t, "30", best.String())
	assert.Equal(t, "301", q.peekHeadOrder().ID)

	q.removeOrder("301")
	assert.Equal(t, "201", q.peekHeadOrder().ID)

	depth := q.depth(10)
	require.Len(t, depth, 2)
	assert.Equal(t, "20", depth[0].Price.String())
	assert.Equal(t, "110", depth[0].Size.String())
	assert.Equal(t, int64(2), depth[0].Count)
	assert.Equal(t, "10", depth[1].Price.String())
}

func TestSellerQueue(t *testing.T) {
	q := NewSellerQueue()

	q.insertOrder(restingOrder("101", Sell, 10, 1))
	q.insertOrder(restingOrder("201", Sell, 20, 10))
	q.insertOrder(restingOrder("102", Sell, 10, 5))

	best, ok := q.bestPrice()
	require.True(t, ok)
	assert.Equal(t, "10", best.String())
	assert.Equal(t, "101", q.peekHeadOrder().ID)

	depth := q.depth(1)
	require.Len(t, depth, 1)
	assert.Equal(t, "6", depth[0].Size.String())
}

func TestQueueEquivalentPricesShareLevel(t *testing.T) {
	q := NewSellerQueue()

	a := restingOrder("a", Sell, 100, 1)
	b := restingOrder("b", Sell, 0, 2)
	b.Price = udecimal.MustFromInt64(10000, 2) // 100.00

	q.insertOrder(a)
	q.insertOrder(b)

	assert.Equal(t, int64(1), q.depthCount())
	assert.Equal(t, "a", q.peekHeadOrder().ID)
	assert.Equal(t, "b", q.peekHeadOrder().next.ID)

	q.removeOrder("a")
	q.removeOrder("b")
	assert.Equal(t, int64(0), q.depthCount())
	_, ok := q.bestPrice()
	assert.False(t, ok)
}

func TestQueueRemoveMiddleKeepsFIFO(t *testing.T) {
	q := NewBuyerQueue()
	for _, id := range []string{"1", "2", "3"} {
		q.insertOrder(restingOrder(id, Buy, 50, 1))
	}

	removed := q.removeOrder("2")
	require.NotNil(t, removed)
	assert.Nil(t, q.removeOrder("2"))

	snap := q.toSnapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "1", snap[0].ID)
	assert.Equal(t, "3", snap[1].ID)

	q.insertOrder(restingOrder("4", Buy, 50, 1))
	snap = q.toSnapshot()
	assert.Equal(t, "4", snap[2].ID)
}

func TestQueueReduceOrder(t *testing.T) {
	q := NewSellerQueue()
	o := restingOrder("1", Sell, 10, 10)
	q.insertOrder(o)

	q.reduceOrder(o, dec(4))
	assert.Equal(t, "6", o.Remaining.String())
	assert.Equal(t, "6", q.depth(1)[0].Size.String())
	assert.Equal(t, "1", q.peekHeadOrder().ID)
}

func TestPriceKey(t *testing.T) {
	assert.Equal(t, "100", priceKey(udecimal.MustFromInt64(10000, 2)))
	assert.Equal(t, "1.5", priceKey(udecimal.MustFromInt64(150, 2)))
	assert.Equal(t, "100", priceKey(dec(100)))
}
