package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/fanout/internal/event"
)

func TestRoute_Message(t *testing.T) {
	chans, err := Route(&event.Message{ID: "e1", ThreadID: "42", AuthorID: "u7", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []event.Channel{event.DirectChat("42")}, chans)
}

func TestRoute_Comment(t *testing.T) {
	chans, err := Route(&event.Comment{ID: "e1", ObjectType: "thread", ObjectID: "10", AuthorID: "u7", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []event.Channel{event.ContentComments("thread", "10")}, chans)
}

func TestRoute_NotificationTargetsRecipient(t *testing.T) {
	chans, err := Route(&event.Notification{ID: "e1", RecipientID: "u9", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []event.Channel{event.UserNotifications("u9")}, chans)
}

func TestRoute_DeletionKeepsTargetChannel(t *testing.T) {
	ch := event.DirectChat("42")
	chans, err := Route(&event.Deletion{Channel: ch, TargetEventID: "e1", RequestedBy: "u7"})
	require.NoError(t, err)
	assert.Equal(t, []event.Channel{ch}, chans)
}

func TestRoute_Unroutable(t *testing.T) {
	cases := []struct {
		name string
		ev   event.Event
	}{
		{"message without thread", &event.Message{ID: "e1", AuthorID: "u7", Text: "hi"}},
		{"comment without object", &event.Comment{ID: "e1", ObjectType: "thread", AuthorID: "u7"}},
		{"notification without recipient", &event.Notification{ID: "e1", Text: "x"}},
		{"deletion without target", &event.Deletion{Channel: event.DirectChat("42")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Route(tc.ev)
			var rerr *RouteError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, ErrUnknownTarget, rerr.Kind)
		})
	}
}
