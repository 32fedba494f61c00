// Package s3 implements the attachment store gateway on S3-compatible
// object storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/gateway"
)

type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

func NewStore(client *s3.Client, bucket, prefix string) *Store {
	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
		urlExpiry: 24 * time.Hour,
	}
}

func (s *Store) WithURLExpiry(d time.Duration) *Store {
	s.urlExpiry = d
	return s
}

// Store uploads one decoded blob under a kind-scoped key and returns the
// opaque reference that travels inside events.
func (s *Store) Store(ctx context.Context, blob gateway.Blob) (event.AttachmentRef, error) {
	key := fmt.Sprintf("%s%s/%s", s.prefix, blob.Kind, uuid.NewString())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob.Data),
		ContentType: aws.String(blob.MIME),
	})
	if err != nil {
		return event.AttachmentRef{}, fmt.Errorf("put attachment: %w", err)
	}

	return event.AttachmentRef{Kind: blob.Kind, Key: key}, nil
}

// Resolve exchanges a reference for a time-limited retrievable URL.
func (s *Store) Resolve(ctx context.Context, ref event.AttachmentRef) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref.Key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return req.URL, nil
}
