// Package postgres implements the persistence gateway on PostgreSQL, with
// unread counters kept in Redis.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/driftline/fanout/internal/event"
)

type Repository struct {
	DB       *sql.DB
	Counters *redis.Client
}

func New(db *sql.DB, counters *redis.Client) *Repository {
	return &Repository{DB: db, Counters: counters}
}

func (r *Repository) CreateMessage(ctx context.Context, m *event.Message) (string, error) {
	var imageKey, voiceKey sql.NullString
	if m.Image != nil {
		imageKey = sql.NullString{String: m.Image.Key, Valid: true}
	}
	if m.Voice != nil {
		voiceKey = sql.NullString{String: m.Voice.Key, Valid: true}
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, author_id, recipient_id, body, image_key, voice_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ThreadID, m.AuthorID, nullable(m.RecipientID), m.Text, imageKey, voiceKey, m.CreatedAt)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (r *Repository) CreateComment(ctx context.Context, c *event.Comment) (string, error) {
	var keys []string
	for _, ref := range c.Attachments {
		keys = append(keys, string(ref.Kind)+":"+ref.Key)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO comments (id, object_type, object_id, author_id, body, attachment_keys, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ObjectType, c.ObjectID, c.AuthorID, c.Text, encodeKeys(keys), c.CreatedAt)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (r *Repository) CreateNotification(ctx context.Context, n *event.Notification) (string, error) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.RecipientID, n.Text, n.IsRead, n.CreatedAt)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// DeleteByID soft-deletes; repeating the call on an already-deleted row
// matches zero rows and still returns nil.
func (r *Repository) DeleteByID(ctx context.Context, ch event.Channel, id string) error {
	table, _, err := tableFor(ch)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, table), id)
	return err
}

func (r *Repository) GetOwner(ctx context.Context, ch event.Channel, id string) (string, error) {
	table, ownerCol, err := tableFor(ch)
	if err != nil {
		return "", err
	}

	var owner string
	err = r.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND deleted_at IS NULL
	`, ownerCol, table), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", event.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (r *Repository) BumpUnread(ctx context.Context, userID string, delta int64) (int64, error) {
	count, err := r.Counters.IncrBy(ctx, "unread:"+userID, delta).Result()
	if err != nil {
		return 0, err
	}
	if count < 0 {
		// Reads past zero clamp rather than going negative.
		if err := r.Counters.Set(ctx, "unread:"+userID, 0, 0).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return count, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.DB.PingContext(ctx); err != nil {
		return err
	}
	return r.Counters.Ping(ctx).Err()
}

// tableFor maps a channel kind to its table and owner column. Notification
// ownership is the recipient: only the user a notification belongs to may
// retract it.
func tableFor(ch event.Channel) (table, ownerCol string, err error) {
	switch ch.Kind {
	case event.KindDirectChat:
		return "messages", "author_id", nil
	case event.KindContentComments:
		return "comments", "author_id", nil
	case event.KindUserNotifications:
		return "notifications", "recipient_id", nil
	default:
		return "", "", fmt.Errorf("no table for channel kind %q", ch.Kind)
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeKeys(keys []string) sql.NullString {
	if len(keys) == 0 {
		return sql.NullString{}
	}
	out := keys[0]
	for _, k := range keys[1:] {
		out += "," + k
	}
	return sql.NullString{String: out, Valid: true}
}
