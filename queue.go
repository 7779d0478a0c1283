package match

import (
	"strings"

	"github.com/huandu/skiplist"
	"github.com/quagmt/udecimal"
)

type priceUnit struct {
	price     udecimal.Decimal
	totalSize udecimal.Decimal
	head      *Order
	tail      *Order
	count     int64
}

type queue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[string]*skiplist.Element
	orders      map[string]*Order
}

// priceKey normalizes a price so that 100, 100.0 and 100.00 share one level.
func priceKey(d udecimal.Decimal) string {
	s := d.String()
	if strings.IndexByte(s, '.') >= 0 {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func decimalOf(v any) udecimal.Decimal {
	d, _ := v.(udecimal.Decimal)
	return d
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The orders are sorted by price in descending order (highest price first).
func NewBuyerQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			return -decimalOf(lhs).Cmp(decimalOf(rhs))
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[string]*Order),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The orders are sorted by price in ascending order (lowest price first).
func NewSellerQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			return decimalOf(lhs).Cmp(decimalOf(rhs))
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[string]*Order),
	}
}

// order finds an order by its ID.
func (q *queue) order(id string) *Order {
	return q.orders[id]
}

// insertOrder appends an order to the tail of its price level, creating the
// level when needed.
func (q *queue) insertOrder(order *Order) {
	key := priceKey(order.Price)
	order.next = nil
	order.prev = nil
	q.orders[order.ID] = order
	q.totalOrders++

	if el, ok := q.priceList[key]; ok {
		unit, _ := el.Value.(*priceUnit)
		order.prev = unit.tail
		if unit.tail != nil {
			unit.tail.next = order
		}
		unit.tail = order
		if unit.head == nil {
			unit.head = order
		}
		unit.totalSize = unit.totalSize.Add(order.Remaining)
		unit.count++
		return
	}

	unit := &priceUnit{
		price:     order.Price,
		head:      order,
		tail:      order,
		totalSize: order.Remaining,
		count:     1,
	}
	q.priceList[key] = q.depthList.Set(order.Price, unit)
	q.depths++
}

// removeOrder removes an order from the queue by ID.
// It also cleans up the price unit if it becomes empty.
func (q *queue) removeOrder(id string) *Order {
	order, ok := q.orders[id]
	if !ok {
		return nil
	}
	key := priceKey(order.Price)
	skipElement, ok := q.priceList[key]
	if !ok {
		return nil
	}
	unit, _ := skipElement.Value.(*priceUnit)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalSize = unit.totalSize.Sub(order.Remaining)
	unit.count--
	delete(q.orders, id)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, key)
		q.depths--
	}
	return order
}

// reduceOrder decreases the remaining size of a resting order in place,
// keeping its time priority.
func (q *queue) reduceOrder(order *Order, filled udecimal.Decimal) {
	if el, ok := q.priceList[priceKey(order.Price)]; ok {
		unit, _ := el.Value.(*priceUnit)
		unit.totalSize = unit.totalSize.Sub(filled)
	}
	order.Remaining = order.Remaining.Sub(filled)
}

// bestPrice returns the price of the best level.
func (q *queue) bestPrice() (udecimal.Decimal, bool) {
	el := q.depthList.Front()
	if el == nil {
		return udecimal.Zero, false
	}
	unit, _ := el.Value.(*priceUnit)
	return unit.price, true
}

// peekHeadOrder returns the order at the front of the queue (best price) without removing it.
func (q *queue) peekHeadOrder() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	unit, _ := el.Value.(*priceUnit)
	return unit.head
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// toSnapshot copies the queue in priority order: price levels first, then
// arrival order inside each level.
func (q *queue) toSnapshot() []*Order {
	snapshots := make([]*Order, 0, q.totalOrders)

	for elem := q.depthList.Front(); elem != nil; elem = elem.Next() {
		unit := elem.Value.(*priceUnit)
		for order := unit.head; order != nil; order = order.next {
			snapshots = append(snapshots, order.clone())
		}
	}

	return snapshots
}

// depth returns the order book depth up to the specified limit.
func (q *queue) depth(limit uint32) []*DepthItem {
	result := make([]*DepthItem, 0, limit)

	el := q.depthList.Front()

	var i uint32 = 0
	for i < limit && el != nil {
		unit, _ := el.Value.(*priceUnit)
		result = append(result, &DepthItem{
			ID:    i,
			Price: unit.price,
			Size:  unit.totalSize,
			Count: unit.count,
		})

		el = el.Next()
		i++
	}

	return result
}
