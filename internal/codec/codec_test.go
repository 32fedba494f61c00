package codec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/gateway"
)

// pngSig is the 8-byte PNG signature, enough for content sniffing.
var pngSig = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngSig)
}

type fakeStore struct {
	stored      []gateway.Blob
	fail        bool
	failResolve bool
}

func (f *fakeStore) Store(ctx context.Context, blob gateway.Blob) (event.AttachmentRef, error) {
	if f.fail {
		return event.AttachmentRef{}, errors.New("store unavailable")
	}
	f.stored = append(f.stored, blob)
	return event.AttachmentRef{Kind: blob.Kind, Key: fmt.Sprintf("key-%d", len(f.stored))}, nil
}

func (f *fakeStore) Resolve(ctx context.Context, ref event.AttachmentRef) (string, error) {
	if f.failResolve {
		return "", errors.New("resolve unavailable")
	}
	return "https://cdn.example/" + ref.Key, nil
}

func decodeKind(t *testing.T, err error) DecodeErrorKind {
	t.Helper()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	return de.Kind
}

func TestDecode_Message(t *testing.T) {
	c := New(&fakeStore{}, 0)

	ev, err := c.Decode(context.Background(), []byte(`{"kind":"message","thread_id":"42","text":"  hi  "}`), "u7")
	require.NoError(t, err)

	m, ok := ev.(*event.Message)
	require.True(t, ok)
	assert.Equal(t, "42", m.ThreadID)
	assert.Equal(t, "u7", m.AuthorID)
	assert.Equal(t, "hi", m.Text)
}

func TestDecode_MessageWithImage(t *testing.T) {
	store := &fakeStore{}
	c := New(store, 0)

	frame := fmt.Sprintf(`{"kind":"message","thread_id":"42","text":"look","image":%q}`, pngDataURI())
	ev, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.NoError(t, err)

	m := ev.(*event.Message)
	require.NotNil(t, m.Image)
	assert.Equal(t, event.AttachmentImage, m.Image.Kind)
	assert.Equal(t, "https://cdn.example/key-1", m.Image.URL)
	require.Len(t, store.stored, 1)
	assert.Equal(t, "image/png", store.stored[0].MIME)
	assert.Equal(t, pngSig, store.stored[0].Data)
}

func TestDecode_AttachmentResolveFailure(t *testing.T) {
	c := New(&fakeStore{failResolve: true}, 0)

	frame := fmt.Sprintf(`{"kind":"message","thread_id":"42","text":"x","image":%q}`, pngDataURI())
	_, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidAttachment, decodeKind(t, err))
}

func TestDecode_MessageMissingThread(t *testing.T) {
	c := New(&fakeStore{}, 0)

	_, err := c.Decode(context.Background(), []byte(`{"kind":"message","text":"hi"}`), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrMissingField, decodeKind(t, err))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "thread_id", de.Field)
}

func TestDecode_MessageEmpty(t *testing.T) {
	c := New(&fakeStore{}, 0)

	// Whitespace-only text with no media carries nothing.
	_, err := c.Decode(context.Background(), []byte(`{"kind":"message","thread_id":"42","text":"   "}`), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrMissingField, decodeKind(t, err))
}

func TestDecode_MessageVoiceKindMismatch(t *testing.T) {
	c := New(&fakeStore{}, 0)

	// PNG bytes in the voice slot: sniffed kind contradicts the slot.
	frame := fmt.Sprintf(`{"kind":"message","thread_id":"42","text":"x","voice":%q}`, pngDataURI())
	_, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidAttachment, decodeKind(t, err))
}

func TestDecode_Comment(t *testing.T) {
	store := &fakeStore{}
	c := New(store, 0)

	frame := fmt.Sprintf(`{"kind":"comment","object_type":"thread","object_id":"10","text":"nice","attachments":[%q,%q]}`,
		pngDataURI(), pngDataURI())
	ev, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.NoError(t, err)

	cm := ev.(*event.Comment)
	assert.Equal(t, "thread", cm.ObjectType)
	assert.Equal(t, "10", cm.ObjectID)
	assert.Equal(t, "u7", cm.AuthorID)
	require.Len(t, cm.Attachments, 2)
	for i, ref := range cm.Attachments {
		assert.Equalf(t, "https://cdn.example/"+ref.Key, ref.URL, "attachment %d should carry a retrievable URL", i)
	}
}

func TestDecode_CommentTooManyAttachments(t *testing.T) {
	c := New(&fakeStore{}, 0)

	frame := fmt.Sprintf(`{"kind":"comment","object_type":"thread","object_id":"10","text":"x","attachments":[%q,%q,%q]}`,
		pngDataURI(), pngDataURI(), pngDataURI())
	_, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidAttachment, decodeKind(t, err))
}

func TestDecode_CommentMissingObject(t *testing.T) {
	c := New(&fakeStore{}, 0)

	_, err := c.Decode(context.Background(), []byte(`{"kind":"comment","object_type":"thread","text":"x"}`), "u7")
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ErrMissingField, de.Kind)
	assert.Equal(t, "object_id", de.Field)
}

func TestDecode_Notification(t *testing.T) {
	c := New(&fakeStore{}, 0)

	ev, err := c.Decode(context.Background(), []byte(`{"kind":"notification","recipient_id":"u9","text":"mentioned you"}`), "")
	require.NoError(t, err)

	n := ev.(*event.Notification)
	assert.Equal(t, "u9", n.RecipientID)
	assert.False(t, n.IsRead)
}

func TestDecode_Deletion(t *testing.T) {
	c := New(&fakeStore{}, 0)

	ev, err := c.Decode(context.Background(), []byte(`{"kind":"delete","channel":{"kind":"direct_chat","thread_id":"42"},"target_event_id":"e1"}`), "u7")
	require.NoError(t, err)

	d := ev.(*event.Deletion)
	assert.Equal(t, event.DirectChat("42"), d.Channel)
	assert.Equal(t, "e1", d.TargetEventID)
	assert.Equal(t, "u7", d.RequestedBy)
}

func TestDecode_DeletionMissingChannel(t *testing.T) {
	c := New(&fakeStore{}, 0)

	_, err := c.Decode(context.Background(), []byte(`{"kind":"delete","target_event_id":"e1"}`), "u7")
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ErrMissingField, de.Kind)
	assert.Equal(t, "channel", de.Field)
}

func TestDecode_UnknownKind(t *testing.T) {
	c := New(&fakeStore{}, 0)

	_, err := c.Decode(context.Background(), []byte(`{"kind":"poke"}`), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrUnknownEventKind, decodeKind(t, err))
}

func TestDecode_Malformed(t *testing.T) {
	c := New(&fakeStore{}, 0)

	_, err := c.Decode(context.Background(), []byte(`{nope`), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedEnvelope, decodeKind(t, err))
}

func TestDecode_AttachmentStoreFailure(t *testing.T) {
	c := New(&fakeStore{fail: true}, 0)

	frame := fmt.Sprintf(`{"kind":"message","thread_id":"42","text":"x","image":%q}`, pngDataURI())
	_, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidAttachment, decodeKind(t, err))
}

func TestDecode_AttachmentTooLarge(t *testing.T) {
	c := New(&fakeStore{}, 4)

	frame := fmt.Sprintf(`{"kind":"message","thread_id":"42","text":"x","image":%q}`, pngDataURI())
	_, err := c.Decode(context.Background(), []byte(frame), "u7")
	require.Error(t, err)
	assert.Equal(t, ErrInvalidAttachment, decodeKind(t, err))
}

func TestEncodeCreated(t *testing.T) {
	c := New(&fakeStore{}, 0)
	ch := event.DirectChat("42")

	raw, err := c.EncodeCreated(ch, &event.Message{ID: "e1", ThreadID: "42", AuthorID: "u7", Text: "hi"})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "created", frame.Kind)
	require.NotNil(t, frame.Channel)
	assert.Equal(t, ch, *frame.Channel)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	assert.Equal(t, "message", payload["kind"])
	assert.Equal(t, "e1", payload["id"])
}

func TestEncodeCreated_CarriesAttachmentURL(t *testing.T) {
	c := New(&fakeStore{}, 0)
	ch := event.DirectChat("42")

	raw, err := c.EncodeCreated(ch, &event.Message{
		ID:       "e1",
		ThreadID: "42",
		AuthorID: "u7",
		Image:    &event.AttachmentRef{Kind: event.AttachmentImage, Key: "attachments/image/k1", URL: "https://cdn.example/attachments/image/k1"},
	})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	image, ok := payload["image"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/attachments/image/k1", image["url"])
}

func TestEncodeDeleted(t *testing.T) {
	c := New(&fakeStore{}, 0)
	ch := event.DirectChat("42")

	raw, err := c.EncodeDeleted(ch, "e1")
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "deleted", frame.Kind)
	assert.Equal(t, "e1", frame.TargetEventID)
	assert.Empty(t, frame.Event)
}

func TestEncodeUnread(t *testing.T) {
	c := New(&fakeStore{}, 0)
	ch := event.UserNotifications("u9")

	raw, err := c.EncodeUnread(ch, 3)
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "created", frame.Kind)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Event, &payload))
	assert.Equal(t, "unread_count", payload["kind"])
	assert.Equal(t, float64(3), payload["unread"])
}
