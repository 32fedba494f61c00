// Package gateway declares the external collaborator interfaces of the
// fan-out core: the durable record store and the attachment blob store.
package gateway

import (
	"context"

	"github.com/driftline/fanout/internal/event"
)

// Persistence is the durable store for messages, comments and notifications
// plus per-user unread bookkeeping. Create calls return the durable id;
// DeleteByID is idempotent and succeeds on already-deleted ids.
type Persistence interface {
	CreateMessage(ctx context.Context, m *event.Message) (string, error)
	CreateComment(ctx context.Context, c *event.Comment) (string, error)
	CreateNotification(ctx context.Context, n *event.Notification) (string, error)

	// DeleteByID removes the record for id on ch. Deleting a missing or
	// already-deleted id returns nil.
	DeleteByID(ctx context.Context, ch event.Channel, id string) error

	// GetOwner returns the principal that authored the record, or
	// event.ErrNotFound if the record is absent or already deleted.
	GetOwner(ctx context.Context, ch event.Channel, id string) (string, error)

	// BumpUnread adjusts the user's unread notification counter by delta and
	// returns the new value.
	BumpUnread(ctx context.Context, userID string, delta int64) (int64, error)
}

// Blob is one decoded attachment payload on its way into storage.
type Blob struct {
	Kind event.AttachmentKind
	MIME string
	Data []byte
}

// AttachmentStore converts raw blobs to durable references and back to
// retrievable URLs.
type AttachmentStore interface {
	Store(ctx context.Context, blob Blob) (event.AttachmentRef, error)
	Resolve(ctx context.Context, ref event.AttachmentRef) (string, error)
}
