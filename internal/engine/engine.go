// Package engine implements the fan-out core: route, persist, broadcast.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/codec"
	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/gateway"
	"github.com/driftline/fanout/internal/observability"
	"github.com/driftline/fanout/internal/registry"
	"github.com/driftline/fanout/internal/router"
)

// PersistenceError marks a failed call into the durable store. The publish
// is aborted and nothing is broadcast; the caller may resubmit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Relay forwards already-encoded frames to peer instances after the local
// broadcast. Peers deliver to their own subscribers without re-persisting.
type Relay interface {
	Forward(ctx context.Context, ch event.Channel, frame []byte) error
}

type Engine struct {
	registry *registry.Registry
	store    gateway.Persistence
	codec    *codec.Codec
	relay    Relay
	service  string

	mu    sync.Mutex
	locks map[string]*channelState
}

// channelState carries the per-channel publish lock and the monotonic
// createdAt floor the ordering guarantee relies on.
type channelState struct {
	mu          sync.Mutex
	lastCreated time.Time
}

func New(reg *registry.Registry, store gateway.Persistence, c *codec.Codec, relay Relay, service string) *Engine {
	return &Engine{
		registry: reg,
		store:    store,
		codec:    c,
		relay:    relay,
		service:  service,
		locks:    make(map[string]*channelState),
	}
}

func (e *Engine) stateFor(ch event.Channel) *channelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.locks[ch.Key()]
	if !ok {
		st = &channelState{}
		e.locks[ch.Key()] = st
	}
	return st
}

// Publish routes ev, persists creation variants, and enqueues the encoded
// frame on every current subscriber of the target channel. Publishes on the
// same channel are serialized so every subscriber observes the same relative
// order. Errors are local to the caller; a failed delivery to one subscriber
// unregisters that subscriber and never aborts the rest.
func (e *Engine) Publish(ctx context.Context, ev event.Event) error {
	channels, err := router.Route(ev)
	if err != nil {
		observability.EventsPublishedTotal.WithLabelValues(e.service, ev.EventKind(), "unroutable").Inc()
		return err
	}

	for _, ch := range channels {
		if err := e.publishOn(ctx, ch, ev); err != nil {
			observability.EventsPublishedTotal.WithLabelValues(e.service, ev.EventKind(), "error").Inc()
			return err
		}
	}
	observability.EventsPublishedTotal.WithLabelValues(e.service, ev.EventKind(), "ok").Inc()
	return nil
}

func (e *Engine) publishOn(ctx context.Context, ch event.Channel, ev event.Event) error {
	st := e.stateFor(ch)
	st.mu.Lock()
	defer st.mu.Unlock()

	start := time.Now()
	defer func() {
		observability.BroadcastLatency.WithLabelValues(e.service, ev.EventKind()).Observe(time.Since(start).Seconds())
	}()

	if del, ok := ev.(*event.Deletion); ok {
		return e.deleteOn(ctx, ch, del)
	}
	return e.createOn(ctx, ch, st, ev)
}

func (e *Engine) createOn(ctx context.Context, ch event.Channel, st *channelState, ev event.Event) error {
	now := time.Now().UTC()
	if now.Before(st.lastCreated) {
		now = st.lastCreated
	}
	st.lastCreated = now

	// Persist first. A frame for an id that was never durably recorded could
	// not be resolved by a later deletion.
	switch v := ev.(type) {
	case *event.Message:
		v.CreatedAt = now
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		id, err := e.store.CreateMessage(ctx, v)
		if err != nil {
			return &PersistenceError{Op: "create_message", Err: err}
		}
		v.ID = id

	case *event.Comment:
		v.CreatedAt = now
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		id, err := e.store.CreateComment(ctx, v)
		if err != nil {
			return &PersistenceError{Op: "create_comment", Err: err}
		}
		v.ID = id

	case *event.Notification:
		v.CreatedAt = now
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		id, err := e.store.CreateNotification(ctx, v)
		if err != nil {
			return &PersistenceError{Op: "create_notification", Err: err}
		}
		v.ID = id

		// Every open connection for the recipient refreshes its badge from
		// the count carried in the frame, no extra round trip.
		count, err := e.store.BumpUnread(ctx, v.RecipientID, 1)
		if err != nil {
			return &PersistenceError{Op: "bump_unread", Err: err}
		}
		v.Unread = count

	default:
		return fmt.Errorf("unsupported creation variant %q", ev.EventKind())
	}

	frame, err := e.codec.EncodeCreated(ch, ev)
	if err != nil {
		return err
	}
	e.broadcast(ctx, ch, frame)
	e.forward(ctx, ch, frame)
	return nil
}

func (e *Engine) deleteOn(ctx context.Context, ch event.Channel, del *event.Deletion) error {
	owner, err := e.store.GetOwner(ctx, ch, del.TargetEventID)
	if errors.Is(err, event.ErrNotFound) {
		// Missing or already deleted: idempotent no-op, no broadcast.
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "get_owner", Err: err}
	}
	if owner != del.RequestedBy {
		return event.ErrUnauthorized
	}

	if err := e.store.DeleteByID(ctx, ch, del.TargetEventID); err != nil {
		return &PersistenceError{Op: "delete_by_id", Err: err}
	}

	frame, err := e.codec.EncodeDeleted(ch, del.TargetEventID)
	if err != nil {
		return err
	}
	e.broadcast(ctx, ch, frame)
	e.forward(ctx, ch, frame)
	return nil
}

// MarkRead decrements the recipient's unread counter and pushes the fresh
// count to every open connection on the user's notification feed.
func (e *Engine) MarkRead(ctx context.Context, userID string) (int64, error) {
	ch := event.UserNotifications(userID)
	st := e.stateFor(ch)
	st.mu.Lock()
	defer st.mu.Unlock()

	count, err := e.store.BumpUnread(ctx, userID, -1)
	if err != nil {
		return 0, &PersistenceError{Op: "bump_unread", Err: err}
	}

	frame, err := e.codec.EncodeUnread(ch, count)
	if err != nil {
		return count, err
	}
	e.broadcast(ctx, ch, frame)
	e.forward(ctx, ch, frame)
	return count, nil
}

// DeliverLocal pushes a frame relayed from a peer instance to this
// instance's subscribers only. The originating instance already persisted.
func (e *Engine) DeliverLocal(ctx context.Context, ch event.Channel, frame []byte) {
	st := e.stateFor(ch)
	st.mu.Lock()
	defer st.mu.Unlock()
	e.broadcast(ctx, ch, frame)
}

func (e *Engine) broadcast(ctx context.Context, ch event.Channel, frame []byte) {
	log := observability.GetLogger(ctx)
	for _, sub := range e.registry.SubscribersOf(ch) {
		if !sub.Sender.TrySend(frame) {
			// A dead subscriber is isolated from the rest of the fan-out.
			log.Warn("engine: delivery failed, unregistering subscriber",
				zap.String("conn_id", sub.ConnID),
				zap.String("principal_id", sub.PrincipalID),
				zap.String("channel", ch.Key()))
			e.registry.UnregisterAll(sub.ConnID)
			sub.Sender.Close()
		}
	}
}

func (e *Engine) forward(ctx context.Context, ch event.Channel, frame []byte) {
	if e.relay == nil {
		return
	}
	if err := e.relay.Forward(ctx, ch, frame); err != nil {
		observability.GetLogger(ctx).Error("engine: relay forward failed",
			zap.String("channel", ch.Key()), zap.Error(err))
	}
}
