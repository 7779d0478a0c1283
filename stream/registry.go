package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrInvalidTopic = errors.New("stream: invalid topic")

// Filter narrows a topic path, e.g. {"type":"ticker","symbol":"BTC-USDT"}.
// Two filters are the same subscription when their canonical JSON is equal.
type Filter map[string]any

// Type returns the "type" member of the filter, if it is a string.
func (f Filter) Type() string {
	s, _ := f["type"].(string)
	return s
}

type subscription struct {
	path   string
	filter Filter
}

// SubscriptionRegistry maps topics to connection ids.
type SubscriptionRegistry struct {
	mu      sync.RWMutex
	byConn  map[string]map[string]subscription // connID -> topic key -> subscription
	byTopic map[string]map[string]struct{}     // topic key -> connIDs
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byConn:  make(map[string]map[string]subscription),
		byTopic: make(map[string]map[string]struct{}),
	}
}

// topicKey builds the canonical key of a topic. encoding/json writes map
// keys in sorted order, so structurally equal filters share a key.
func topicKey(path string, filter Filter) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidTopic)
	}
	if len(filter) == 0 {
		return path + "|{}", nil
	}
	b, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	return path + "|" + string(b), nil
}

// Subscribe adds a subscription. Subscribing twice to the same topic is a no-op.
func (r *SubscriptionRegistry) Subscribe(connID, path string, filter Filter) error {
	key, err := topicKey(path, filter)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byConn[connID]
	if !ok {
		subs = make(map[string]subscription)
		r.byConn[connID] = subs
	}
	subs[key] = subscription{path: path, filter: filter}

	conns, ok := r.byTopic[key]
	if !ok {
		conns = make(map[string]struct{})
		r.byTopic[key] = conns
	}
	conns[connID] = struct{}{}
	return nil
}

// Unsubscribe removes a subscription and reports whether it existed.
func (r *SubscriptionRegistry) Unsubscribe(connID, path string, filter Filter) (bool, error) {
	key, err := topicKey(path, filter)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byConn[connID]
	if _, ok := subs[key]; !ok {
		return false, nil
	}
	delete(subs, key)
	if len(subs) == 0 {
		delete(r.byConn, connID)
	}
	r.removeFromTopic(key, connID)
	return true, nil
}

// DropConnection removes every subscription of connID and returns how many
// there were.
func (r *SubscriptionRegistry) DropConnection(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byConn[connID]
	for key := range subs {
		r.removeFromTopic(key, connID)
	}
	delete(r.byConn, connID)
	return len(subs)
}

func (r *SubscriptionRegistry) removeFromTopic(key, connID string) {
	conns := r.byTopic[key]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byTopic, key)
	}
}

// Subscribers returns the connections subscribed to the topic, sorted.
func (r *SubscriptionRegistry) Subscribers(path string, filter Filter) []string {
	key, err := topicKey(path, filter)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	conns := r.byTopic[key]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SubscriptionCount returns the number of topics connID is subscribed to.
func (r *SubscriptionRegistry) SubscriptionCount(connID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn[connID])
}
