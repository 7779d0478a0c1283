package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/0x5487/exchange-core/protocol"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const DefaultClientQueueSize = 256

var (
	ErrUnknownConnection   = errors.New("stream: unknown connection")
	ErrDuplicateConnection = errors.New("stream: duplicate connection id")
)

// Broadcaster delivers a payload to every subscriber of a topic.
type Broadcaster interface {
	BroadcastToSubscribedClients(path string, filter Filter, payload any) (int, error)
}

// MessageBroker tracks live connections and fans messages out to their
// subscriptions.
type MessageBroker struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	registry   *SubscriptionRegistry
	queueSize  int
	serializer protocol.Serializer
	logger     *zap.Logger
}

type BrokerOption func(*MessageBroker)

// WithClientQueueSize bounds the outbound queue of every client.
func WithClientQueueSize(size int) BrokerOption {
	return func(b *MessageBroker) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

func NewMessageBroker(logger *zap.Logger, opts ...BrokerOption) *MessageBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MessageBroker{
		clients:    make(map[string]*Client),
		registry:   NewSubscriptionRegistry(),
		queueSize:  DefaultClientQueueSize,
		serializer: protocol.DefaultJSONSerializer{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates the client of a new connection. An empty id is replaced
// by a generated one.
func (b *MessageBroker) Register(connID string) (*Client, error) {
	if connID == "" {
		connID = xid.New().String()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[connID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, connID)
	}
	client := newClient(connID, b.queueSize)
	b.clients[connID] = client
	b.logger.Debug("client registered", zap.String("conn_id", connID), zap.Int("clients", len(b.clients)))
	return client, nil
}

// Unregister purges the connection's subscriptions and closes its queue.
// Both happen under the broker lock, so no broadcast sees a half-removed client.
func (b *MessageBroker) Unregister(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	client, ok := b.clients[connID]
	if !ok {
		return
	}
	delete(b.clients, connID)
	subs := b.registry.DropConnection(connID)
	client.close()
	b.logger.Debug("client unregistered",
		zap.String("conn_id", connID),
		zap.Int("subscriptions", subs),
		zap.Uint64("dropped", client.Dropped()),
	)
}

func (b *MessageBroker) Subscribe(connID, path string, filter Filter) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.clients[connID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return b.registry.Subscribe(connID, path, filter)
}

func (b *MessageBroker) Unsubscribe(connID, path string, filter Filter) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.clients[connID]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return b.registry.Unsubscribe(connID, path, filter)
}

// StreamName is the stream label of a topic: the filter's type, or the path.
func StreamName(path string, filter Filter) string {
	if t := filter.Type(); t != "" {
		return t
	}
	return path
}

// BroadcastToSubscribedClients sends {"stream","data"} to every connection
// subscribed to (path, filter) and returns how many accepted it. Slow clients
// lose their oldest queued messages instead of delaying the others.
func (b *MessageBroker) BroadcastToSubscribedClients(path string, filter Filter, payload any) (int, error) {
	ids := b.registry.Subscribers(path, filter)
	if len(ids) == 0 {
		return 0, nil
	}

	msg, err := b.serializer.Marshal(protocol.StreamMessage{
		Stream: StreamName(path, filter),
		Data:   payload,
	})
	if err != nil {
		return 0, fmt.Errorf("stream: encode broadcast: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		client, ok := b.clients[id]
		if !ok {
			continue
		}
		if client.Send(msg) {
			delivered++
		}
	}
	return delivered, nil
}

// SendTo delivers one message to a single connection.
func (b *MessageBroker) SendTo(connID string, msg protocol.StreamMessage) error {
	data, err := b.serializer.Marshal(msg)
	if err != nil {
		return fmt.Errorf("stream: encode message: %w", err)
	}

	b.mu.RLock()
	client, ok := b.clients[connID]
	b.mu.RUnlock()

	if !ok || !client.Send(data) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return nil
}

// ClientCount returns the number of registered connections.
func (b *MessageBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Registry exposes the subscription registry for inspection.
func (b *MessageBroker) Registry() *SubscriptionRegistry {
	return b.registry
}
