package event

import "time"

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVoice AttachmentKind = "voice"
)

// AttachmentRef is an opaque handle to binary media held in external storage.
// Raw bytes never travel past the codec boundary.
type AttachmentRef struct {
	Kind AttachmentKind `json:"kind"`
	Key  string         `json:"key"`
	URL  string         `json:"url,omitempty"`
}

// Event is the unit of fan-out: one variant per wire kind.
type Event interface {
	EventID() string
	EventKind() string
}

type Message struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"thread_id"`
	AuthorID    string         `json:"author_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Text        string         `json:"text"`
	Image       *AttachmentRef `json:"image,omitempty"`
	Voice       *AttachmentRef `json:"voice,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (m *Message) EventID() string   { return m.ID }
func (m *Message) EventKind() string { return "message" }

type Comment struct {
	ID          string          `json:"id"`
	ObjectType  string          `json:"object_type"`
	ObjectID    string          `json:"object_id"`
	AuthorID    string          `json:"author_id"`
	Text        string          `json:"text"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (c *Comment) EventID() string   { return c.ID }
func (c *Comment) EventKind() string { return "comment" }

type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text"`
	IsRead      bool      `json:"is_read"`
	Unread      int64     `json:"unread"`
	CreatedAt   time.Time `json:"created_at"`
}

func (n *Notification) EventID() string   { return n.ID }
func (n *Notification) EventKind() string { return "notification" }

// Deletion instructs clients to retract a previously delivered event. It is
// keyed by the target id on the target's own channel.
type Deletion struct {
	ID            string  `json:"id"`
	Channel       Channel `json:"channel"`
	TargetEventID string  `json:"target_event_id"`
	RequestedBy   string  `json:"requested_by"`
}

func (d *Deletion) EventID() string   { return d.ID }
func (d *Deletion) EventKind() string { return "delete" }
