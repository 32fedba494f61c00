// Package codec translates wire frames to typed events and back. Attachment
// payloads are stripped out of inbound frames and swapped for durable
// references before an event is constructed.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/gateway"
)

const DefaultMaxAttachmentBytes = 8 << 20

type Codec struct {
	attachments gateway.AttachmentStore
	validate    *validator.Validate
	maxBlobSize int
}

func New(attachments gateway.AttachmentStore, maxBlobSize int) *Codec {
	if maxBlobSize <= 0 {
		maxBlobSize = DefaultMaxAttachmentBytes
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Codec{
		attachments: attachments,
		validate:    v,
		maxBlobSize: maxBlobSize,
	}
}

type messageFrame struct {
	ThreadID    string `json:"thread_id" validate:"required"`
	AuthorID    string `json:"author_id"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
	Image       string `json:"image"`
	Voice       string `json:"voice"`
}

type commentFrame struct {
	ObjectType  string   `json:"object_type" validate:"required"`
	ObjectID    string   `json:"object_id" validate:"required"`
	AuthorID    string   `json:"author_id"`
	Text        string   `json:"text" validate:"required"`
	Attachments []string `json:"attachments"`
}

type notificationFrame struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Text        string `json:"text" validate:"required"`
}

type deletionFrame struct {
	Channel       event.Channel `json:"channel"`
	TargetEventID string        `json:"target_event_id" validate:"required"`
	RequestedBy   string        `json:"requested_by"`
}

// Decode parses one inbound frame into a typed event. senderID is the
// connection's resolved principal and backfills author/requester identity
// when the frame omits it; ingest paths with no connection pass "" and must
// carry explicit identity in the frame.
func (c *Codec) Decode(ctx context.Context, raw []byte, senderID string) (event.Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &DecodeError{Kind: ErrMalformedEnvelope, cause: err}
	}

	switch probe.Kind {
	case "message":
		return c.decodeMessage(ctx, raw, senderID)
	case "comment":
		return c.decodeComment(ctx, raw, senderID)
	case "notification":
		return c.decodeNotification(raw)
	case "delete":
		return c.decodeDeletion(raw, senderID)
	case "":
		return nil, &DecodeError{Kind: ErrMissingField, Field: "kind"}
	default:
		return nil, &DecodeError{Kind: ErrUnknownEventKind, Field: probe.Kind}
	}
}

func (c *Codec) decodeMessage(ctx context.Context, raw []byte, senderID string) (event.Event, error) {
	var f messageFrame
	if err := c.unmarshalFrame(raw, &f); err != nil {
		return nil, err
	}

	author := f.AuthorID
	if author == "" {
		author = senderID
	}
	if author == "" {
		return nil, &DecodeError{Kind: ErrMissingField, Field: "author_id"}
	}

	m := &event.Message{
		ThreadID:    f.ThreadID,
		AuthorID:    author,
		RecipientID: f.RecipientID,
		Text:        strings.TrimSpace(f.Text),
	}

	if f.Image != "" {
		ref, err := c.intakeAttachment(ctx, f.Image, event.AttachmentImage)
		if err != nil {
			return nil, err
		}
		m.Image = &ref
	}
	if f.Voice != "" {
		ref, err := c.intakeAttachment(ctx, f.Voice, event.AttachmentVoice)
		if err != nil {
			return nil, err
		}
		m.Voice = &ref
	}

	// A message is either text or media; an empty frame carries nothing
	// worth fanning out.
	if m.Text == "" && m.Image == nil && m.Voice == nil {
		return nil, &DecodeError{Kind: ErrMissingField, Field: "text"}
	}
	return m, nil
}

func (c *Codec) decodeComment(ctx context.Context, raw []byte, senderID string) (event.Event, error) {
	var f commentFrame
	if err := c.unmarshalFrame(raw, &f); err != nil {
		return nil, err
	}

	author := f.AuthorID
	if author == "" {
		author = senderID
	}
	if author == "" {
		return nil, &DecodeError{Kind: ErrMissingField, Field: "author_id"}
	}

	if len(f.Attachments) > 2 {
		return nil, &DecodeError{Kind: ErrInvalidAttachment, cause: fmt.Errorf("comment carries %d attachments, limit is 2", len(f.Attachments))}
	}

	cm := &event.Comment{
		ObjectType: f.ObjectType,
		ObjectID:   f.ObjectID,
		AuthorID:   author,
		Text:       strings.TrimSpace(f.Text),
	}
	for _, uri := range f.Attachments {
		ref, err := c.intakeAttachment(ctx, uri, "")
		if err != nil {
			return nil, err
		}
		cm.Attachments = append(cm.Attachments, ref)
	}
	return cm, nil
}

func (c *Codec) decodeNotification(raw []byte) (event.Event, error) {
	var f notificationFrame
	if err := c.unmarshalFrame(raw, &f); err != nil {
		return nil, err
	}
	return &event.Notification{
		RecipientID: f.RecipientID,
		Text:        f.Text,
	}, nil
}

func (c *Codec) decodeDeletion(raw []byte, senderID string) (event.Event, error) {
	var f deletionFrame
	if err := c.unmarshalFrame(raw, &f); err != nil {
		return nil, err
	}
	if f.Channel.IsZero() {
		return nil, &DecodeError{Kind: ErrMissingField, Field: "channel"}
	}

	requester := f.RequestedBy
	if requester == "" {
		requester = senderID
	}
	if requester == "" {
		return nil, &DecodeError{Kind: ErrMissingField, Field: "requested_by"}
	}

	return &event.Deletion{
		Channel:       f.Channel,
		TargetEventID: f.TargetEventID,
		RequestedBy:   requester,
	}, nil
}

func (c *Codec) unmarshalFrame(raw []byte, frame any) error {
	if err := json.Unmarshal(raw, frame); err != nil {
		return &DecodeError{Kind: ErrMalformedEnvelope, cause: err}
	}
	if err := c.validate.Struct(frame); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &DecodeError{Kind: ErrMissingField, Field: verrs[0].Field()}
		}
		return &DecodeError{Kind: ErrMalformedEnvelope, cause: err}
	}
	return nil
}

// intakeAttachment decodes a data-URI blob, sniffs its real content type and
// hands it to the attachment store. wantKind "" means infer from the sniffed
// MIME (comment attachments are self-describing).
func (c *Codec) intakeAttachment(ctx context.Context, uri string, wantKind event.AttachmentKind) (event.AttachmentRef, error) {
	data, declaredMIME, err := parseDataURI(uri, c.maxBlobSize)
	if err != nil {
		return event.AttachmentRef{}, &DecodeError{Kind: ErrInvalidAttachment, cause: err}
	}

	detected := mimetype.Detect(data)
	kind, err := attachmentKind(detected.String(), wantKind)
	if err != nil {
		return event.AttachmentRef{}, &DecodeError{Kind: ErrInvalidAttachment, cause: err}
	}

	ref, err := c.attachments.Store(ctx, gateway.Blob{
		Kind: kind,
		MIME: declaredMIME,
		Data: data,
	})
	if err != nil {
		return event.AttachmentRef{}, &DecodeError{Kind: ErrInvalidAttachment, cause: err}
	}

	// The key alone is not retrievable; delivered frames carry the resolved
	// URL so clients can fetch the media directly.
	url, err := c.attachments.Resolve(ctx, ref)
	if err != nil {
		return event.AttachmentRef{}, &DecodeError{Kind: ErrInvalidAttachment, cause: err}
	}
	ref.URL = url
	return ref, nil
}

func attachmentKind(detectedMIME string, want event.AttachmentKind) (event.AttachmentKind, error) {
	var got event.AttachmentKind
	switch {
	case strings.HasPrefix(detectedMIME, "image/"):
		got = event.AttachmentImage
	case strings.HasPrefix(detectedMIME, "audio/"), strings.HasPrefix(detectedMIME, "video/"):
		// Browser voice recorders produce audio inside video containers
		// (webm/mp4), so both top-level types count as voice.
		got = event.AttachmentVoice
	default:
		return "", fmt.Errorf("unsupported attachment content type %q", detectedMIME)
	}
	if want != "" && got != want {
		return "", fmt.Errorf("attachment declared %s but content is %s", want, detectedMIME)
	}
	return got, nil
}
