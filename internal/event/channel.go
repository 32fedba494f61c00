package event

import "fmt"

type ChannelKind string

const (
	KindDirectChat        ChannelKind = "direct_chat"
	KindContentComments   ChannelKind = "content_comments"
	KindUserNotifications ChannelKind = "user_notifications"
)

// Channel is a derived routing key, not a persisted object. Identity is the
// full value; channels are comparable and usable as map keys.
type Channel struct {
	Kind       ChannelKind `json:"kind"`
	ThreadID   string      `json:"thread_id,omitempty"`
	ObjectType string      `json:"object_type,omitempty"`
	ObjectID   string      `json:"object_id,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
}

func DirectChat(threadID string) Channel {
	return Channel{Kind: KindDirectChat, ThreadID: threadID}
}

func ContentComments(objectType, objectID string) Channel {
	return Channel{Kind: KindContentComments, ObjectType: objectType, ObjectID: objectID}
}

func UserNotifications(userID string) Channel {
	return Channel{Kind: KindUserNotifications, UserID: userID}
}

func (c Channel) IsZero() bool {
	return c == Channel{}
}

// Key returns a stable string form used for per-channel locks and as the
// channel discriminator in persisted rows.
func (c Channel) Key() string {
	switch c.Kind {
	case KindDirectChat:
		return fmt.Sprintf("chat:%s", c.ThreadID)
	case KindContentComments:
		return fmt.Sprintf("comments:%s:%s", c.ObjectType, c.ObjectID)
	case KindUserNotifications:
		return fmt.Sprintf("notifications:%s", c.UserID)
	default:
		return string(c.Kind)
	}
}
