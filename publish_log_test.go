package match

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicPublishLog struct{}

func (panicPublishLog) Publish(...*BookLog) {
	panic("sink failure")
}

func TestMemoryPublishLogClones(t *testing.T) {
	publishLog := NewMemoryPublishLog()

	log := acquireBookLog()
	log.OrderID = "a"
	publishLog.Publish(log)
	releaseBookLog(log)

	require.Equal(t, 1, publishLog.Count())
	assert.Equal(t, "a", publishLog.Get(0).OrderID)
}

func TestMultiPublishLog(t *testing.T) {
	a, b := NewMemoryPublishLog(), NewMemoryPublishLog()
	multi := MultiPublishLog{a, b, NewDiscardPublishLog()}

	multi.Publish(&BookLog{SequenceID: 1}, &BookLog{SequenceID: 2})

	assert.Equal(t, 2, a.Count())
	assert.Equal(t, 2, b.Count())
}

func TestAsyncPublishLogDeliversInOrder(t *testing.T) {
	sink := NewMemoryPublishLog()
	async := NewAsyncPublishLog(1024, sink)

	book := NewOrderBook(testMarket, async)
	book.insert(limitOrder("sell-1", Sell, 100, 1, 1))
	book.insert(limitOrder("sell-2", Sell, 101, 1, 1))
	book.insert(&Order{ID: "m", Side: Buy, Type: Market, Size: dec(2), UserID: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, async.Shutdown(ctx))
	assert.Equal(t, int64(0), async.Pending())

	logs := sink.Logs()
	require.Len(t, logs, 4)
	for i, log := range logs {
		assert.Equal(t, uint64(i+1), log.SequenceID)
	}
	assert.Equal(t, "sell-2", logs[3].MakerOrderID, "pooled logs were cloned before release")
}

func TestAsyncPublishLogSurvivesSinkPanic(t *testing.T) {
	sink := NewMemoryPublishLog()
	async := NewAsyncPublishLog(8, MultiPublishLog{sink, panicPublishLog{}})

	async.Publish(&BookLog{SequenceID: 1})
	async.Publish(&BookLog{SequenceID: 2})

	require.NoError(t, async.Shutdown(context.Background()))
	assert.Equal(t, 2, sink.Count())
}

type stalledPublishLog struct {
	release chan struct{}
}

func (s stalledPublishLog) Publish(...*BookLog) {
	<-s.release
}

func TestStalledSinkDoesNotBlockMatching(t *testing.T) {
	stalled := stalledPublishLog{release: make(chan struct{})}
	slow := NewAsyncPublishLog(2, stalled, WithDropWhenFull(), WithPipelineName("stalled"))
	feed := NewMemoryPublishLog()
	fast := NewAsyncPublishLog(64, feed, WithDropWhenFull(), WithPipelineName("feed"))

	book := NewOrderBook(testMarket, MultiPublishLog{fast, slow})
	go func() {
		_ = book.Start()
	}()

	for i := int64(0); i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := book.Submit(ctx, limitOrder(fmt.Sprintf("bid-%d", i), Buy, 100-i, 1, 1))
		cancel()
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return feed.Count() == 20
	}, time.Second, time.Millisecond, "feed delivery continues while another sink is stuck")
	assert.Greater(t, slow.Dropped(), uint64(0))
	assert.Equal(t, uint64(0), fast.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, book.Shutdown(ctx))
	close(stalled.release)
	require.NoError(t, slow.Shutdown(ctx))
	require.NoError(t, fast.Shutdown(ctx))
}
