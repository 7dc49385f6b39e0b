// Package archive stores raw, signature-verified webhook bodies in S3 for
// audit and replay. Bodies are zstd-compressed and content-addressed, so a
// redelivered event overwrites its own object.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"tourbook/internal/types"
)

// S3API is the subset of *s3.Client used by the archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object metadata keys.
const (
	metaEventID  = "event-id"
	metaProvider = "provider"
)

// maxArchivedBody bounds decompressed reads; the webhook route never accepts
// more than 64 KB.
const maxArchivedBody = 1 << 20

// WebhookArchive implements payments.WebhookArchiver on S3.
type WebhookArchive struct {
	s3     S3API
	bucket string
	logger *slog.Logger
	now    func() time.Time

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewWebhookArchive creates an archive writing into bucket.
func NewWebhookArchive(client S3API, bucket string, logger *slog.Logger) *WebhookArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookArchive{
		s3:     client,
		bucket: bucket,
		logger: logger,
		now:    time.Now,
		encoderPool: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedDefault))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxArchivedBody))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Key returns the object key for body received on day:
// webhooks/{provider}/{yyyy/mm/dd}/{sha256}.json.zst.
func Key(provider types.ProviderName, day time.Time, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("webhooks/%s/%s/%s.json.zst",
		provider, day.UTC().Format("2006/01/02"), hex.EncodeToString(sum[:]))
}

// Archive compresses and uploads body. eventID may be empty for bodies that
// could not be decoded.
func (a *WebhookArchive) Archive(ctx context.Context, provider types.ProviderName, eventID string, body []byte) error {
	key := Key(provider, a.now(), body)

	enc := a.encoderPool.Get().(*zstd.Encoder)
	compressed := enc.EncodeAll(body, make([]byte, 0, len(body)/2))
	a.encoderPool.Put(enc)

	meta := map[string]string{metaProvider: string(provider)}
	if eventID != "" {
		meta[metaEventID] = eventID
	}

	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentLength:   aws.Int64(int64(len(compressed))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata:        meta,
	})
	if err != nil {
		return fmt.Errorf("archive: failed to put %s: %w", key, err)
	}

	a.logger.DebugContext(ctx, "webhook archived",
		"bucket", a.bucket,
		"key", key,
		"event_id", eventID,
		"raw_bytes", len(body),
		"stored_bytes", len(compressed),
	)
	return nil
}

// Fetch downloads and decompresses an archived body.
func (a *WebhookArchive) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(io.LimitReader(out.Body, maxArchivedBody))
	if err != nil {
		return nil, fmt.Errorf("archive: failed to read %s: %w", key, err)
	}

	dec := a.decoderPool.Get().(*zstd.Decoder)
	defer a.decoderPool.Put(dec)

	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: zstd decompression of %s failed: %w", key, err)
	}
	return body, nil
}
