package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chat-relay/internal/observability"
)

// Subscriber is one live connection. Send must not block indefinitely: the
// websocket implementation buffers writes and reports overflow as an error.
type Subscriber interface {
	Send(payload []byte) error
	Close()
}

// RoomChannel is the channel key for a room's broadcast group.
func RoomChannel(roomID int) string {
	return fmt.Sprintf("room:%d", roomID)
}

// UserChannel is the channel key for a user's personal notification feed.
func UserChannel(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

// Registry tracks which connections are subscribed to which channel keys and
// fans published events out to them. State is in-memory only; it is rebuilt
// from scratch as clients reconnect after a restart.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[Subscriber]struct{}
	log      *zap.Logger
}

// New creates an empty Registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		channels: make(map[string]map[Subscriber]struct{}),
		log:      log,
	}
}

// Subscribe registers a connection on a channel key.
func (r *Registry) Subscribe(key string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[key]; !ok {
		r.channels[key] = make(map[Subscriber]struct{})
	}
	r.channels[key][sub] = struct{}{}
}

// Unsubscribe removes a connection from a channel key. Empty channels are
// pruned.
func (r *Registry) Unsubscribe(key string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.channels[key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.channels, key)
		}
	}
}

// Subscribers reports how many connections currently hold the channel.
func (r *Registry) Subscribers(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[key])
}

// Publish marshals the event once and delivers it to every current subscriber
// of the channel. It returns the delivered count; zero subscribers is a no-op,
// not an error. A subscriber whose Send fails (broken socket or full buffer)
// is unsubscribed and closed without affecting the other deliveries.
func (r *Registry) Publish(key string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.Error("event marshal failed", zap.String("channel", key), zap.Error(err))
		return 0
	}

	r.mu.RLock()
	snapshot := make([]Subscriber, 0, len(r.channels[key]))
	for sub := range r.channels[key] {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range snapshot {
		if err := sub.Send(payload); err != nil {
			r.log.Warn("dropping subscriber", zap.String("channel", key), zap.Error(err))
			r.Unsubscribe(key, sub)
			sub.Close()
			observability.IncFanoutDropped()
			continue
		}
		delivered++
	}
	return delivered
}
