package codec

import (
	"encoding/json"
	"fmt"

	"github.com/driftline/fanout/internal/event"
)

// Frame is the outbound wire container. Kind is one of created, deleted,
// error or gap.
type Frame struct {
	Kind          string          `json:"kind"`
	Channel       *event.Channel  `json:"channel,omitempty"`
	Event         json.RawMessage `json:"event,omitempty"`
	TargetEventID string          `json:"target_event_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

func (c *Codec) EncodeCreated(ch event.Channel, ev event.Event) ([]byte, error) {
	payload, err := marshalEvent(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Kind: "created", Channel: &ch, Event: payload})
}

func (c *Codec) EncodeDeleted(ch event.Channel, targetEventID string) ([]byte, error) {
	return json.Marshal(Frame{Kind: "deleted", Channel: &ch, TargetEventID: targetEventID})
}

// EncodeUnread builds a badge-refresh frame for a user's notification feed.
func (c *Codec) EncodeUnread(ch event.Channel, unread int64) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Kind   string `json:"kind"`
		Unread int64  `json:"unread"`
	}{Kind: "unread_count", Unread: unread})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Kind: "created", Channel: &ch, Event: payload})
}

func (c *Codec) EncodeError(reason string) []byte {
	raw, err := json.Marshal(Frame{Kind: "error", Reason: reason})
	if err != nil {
		return []byte(`{"kind":"error","reason":"internal"}`)
	}
	return raw
}

func marshalEvent(ev event.Event) (json.RawMessage, error) {
	switch v := ev.(type) {
	case *event.Message:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*event.Message
		}{"message", v})
	case *event.Comment:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*event.Comment
		}{"comment", v})
	case *event.Notification:
		return json.Marshal(struct {
			Kind string `json:"kind"`
			*event.Notification
		}{"notification", v})
	default:
		return nil, fmt.Errorf("event kind %q has no outbound encoding", ev.EventKind())
	}
}
