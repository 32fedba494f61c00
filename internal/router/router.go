// Package router maps a typed event to the channels it fans out on.
package router

import (
	"fmt"

	"github.com/driftline/fanout/internal/event"
)

type RouteErrorKind string

const ErrUnknownTarget RouteErrorKind = "unknown_target"

// RouteError is local to the sender and never fanned out.
type RouteError struct {
	Kind   RouteErrorKind
	Detail string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Route resolves the target channels for ev. Every current variant routes to
// exactly one channel; the slice form keeps the contract open for multi-feed
// events.
func Route(ev event.Event) ([]event.Channel, error) {
	switch v := ev.(type) {
	case *event.Message:
		if v.ThreadID == "" {
			return nil, &RouteError{Kind: ErrUnknownTarget, Detail: "message has no thread id"}
		}
		return []event.Channel{event.DirectChat(v.ThreadID)}, nil

	case *event.Comment:
		if v.ObjectType == "" || v.ObjectID == "" {
			return nil, &RouteError{Kind: ErrUnknownTarget, Detail: "comment has no content object"}
		}
		return []event.Channel{event.ContentComments(v.ObjectType, v.ObjectID)}, nil

	case *event.Notification:
		// The producing actor and the channel owner differ here: the feed
		// belongs to the recipient, never the sender.
		if v.RecipientID == "" {
			return nil, &RouteError{Kind: ErrUnknownTarget, Detail: "notification has no recipient"}
		}
		return []event.Channel{event.UserNotifications(v.RecipientID)}, nil

	case *event.Deletion:
		if v.Channel.IsZero() || v.TargetEventID == "" {
			return nil, &RouteError{Kind: ErrUnknownTarget, Detail: "deletion has no target"}
		}
		return []event.Channel{v.Channel}, nil

	default:
		return nil, &RouteError{Kind: ErrUnknownTarget, Detail: fmt.Sprintf("unroutable event kind %q", ev.EventKind())}
	}
}
