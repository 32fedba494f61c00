// Package registry tracks live connections and their channel subscriptions.
// It is the single shared mutable structure in the process; every read and
// mutation goes through one mutex with short critical sections.
package registry

import (
	"sort"
	"sync"

	"github.com/driftline/fanout/internal/event"
)

// Sender is the outbound side of a connection. TrySend must never block;
// Close must be safe to call more than once.
type Sender interface {
	TrySend(frame []byte) bool
	Close()
}

// Subscriber is a snapshot of one registered connection on a channel.
type Subscriber struct {
	ConnID      string
	PrincipalID string
	Sender      Sender
}

type connEntry struct {
	principalID string
	sender      Sender
	channels    map[event.Channel]struct{}
}

type subscription struct {
	connID string
	order  uint64
}

type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*connEntry
	channels map[event.Channel]map[string]uint64
	nextSub  uint64
}

func New() *Registry {
	return &Registry{
		conns:    make(map[string]*connEntry),
		channels: make(map[event.Channel]map[string]uint64),
	}
}

// Register adds a connection with no subscriptions. Registering an id twice
// replaces the sender and closes the old one, mirroring a reconnect that
// reuses the id. The replaced session's subscriptions are dropped from both
// indexes; the new session starts clean and subscribes again.
func (r *Registry) Register(connID, principalID string, sender Sender) {
	r.mu.Lock()
	old, existed := r.conns[connID]
	if existed {
		for ch := range old.channels {
			r.dropLocked(connID, ch)
		}
	}
	r.conns[connID] = &connEntry{
		principalID: principalID,
		sender:      sender,
		channels:    make(map[event.Channel]struct{}),
	}
	r.mu.Unlock()

	if existed {
		old.sender.Close()
	}
}

// Subscribe adds (connID, ch). Subscribing an unknown connection is a no-op
// and returns false; re-subscribing keeps the original order slot.
func (r *Registry) Subscribe(connID string, ch event.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, already := entry.channels[ch]; already {
		return true
	}
	entry.channels[ch] = struct{}{}

	if r.channels[ch] == nil {
		r.channels[ch] = make(map[string]uint64)
	}
	r.nextSub++
	r.channels[ch][connID] = r.nextSub
	return true
}

func (r *Registry) Unsubscribe(connID string, ch event.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(connID, ch)
}

// UnregisterAll removes the connection and every subscription it holds. Safe
// to call while a broadcast to the same connection is in flight: the
// broadcast simply skips the now-absent subscriber.
func (r *Registry) UnregisterAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return
	}
	for ch := range entry.channels {
		r.dropLocked(connID, ch)
	}
	delete(r.conns, connID)
}

func (r *Registry) dropLocked(connID string, ch event.Channel) {
	if entry, ok := r.conns[connID]; ok {
		delete(entry.channels, ch)
	}
	if subs, ok := r.channels[ch]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.channels, ch)
		}
	}
}

// SubscribersOf returns the channel's current subscribers in subscription
// order. The slice is a snapshot; delivery after this call may race with
// unregistration, which is handled by the caller skipping failed sends.
func (r *Registry) SubscribersOf(ch event.Channel) []Subscriber {
	r.mu.RLock()
	subs := make([]subscription, 0, len(r.channels[ch]))
	for connID, order := range r.channels[ch] {
		subs = append(subs, subscription{connID: connID, order: order})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].order < subs[j].order })

	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		entry, ok := r.conns[s.connID]
		if !ok {
			continue
		}
		out = append(out, Subscriber{
			ConnID:      s.connID,
			PrincipalID: entry.principalID,
			Sender:      entry.sender,
		})
	}
	r.mu.RUnlock()
	return out
}

// Channels returns the channels connID currently subscribes to.
func (r *Registry) Channels(connID string) []event.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]event.Channel, 0, len(entry.channels))
	for ch := range entry.channels {
		out = append(out, ch)
	}
	return out
}

// CloseAll closes every registered sender. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	senders := make([]Sender, 0, len(r.conns))
	for _, entry := range r.conns {
		senders = append(senders, entry.sender)
	}
	r.mu.Unlock()

	for _, s := range senders {
		s.Close()
	}
}
