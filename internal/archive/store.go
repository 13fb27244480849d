// Package archive keeps a PII-scrubbed copy of every appointment event in S3
// as an audit trail per tenant.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/appointment-intent-engine/internal/events"
	"github.com/wolfman30/appointment-intent-engine/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Record is the archived form of one event.
type Record struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	TenantID   string          `json:"tenant_id"`
	Aggregate  string          `json:"aggregate"`
	OccurredAt time.Time       `json:"occurred_at"`
	ArchivedAt time.Time       `json:"archived_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ManifestEntry is one line of a tenant's monthly JSONL manifest.
type ManifestEntry struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Aggregate  string `json:"aggregate"`
	S3Key      string `json:"s3_key"`
	ArchivedAt string `json:"archived_at"`
}

// Store archives appointment events to S3. It implements events.DeliveryHandler.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func objectKey(env events.Envelope, occurred time.Time) string {
	return fmt.Sprintf("appointments/v1/tenants/%s/%d/%02d/%02d/%s.json",
		env.TenantID, occurred.Year(), occurred.Month(), occurred.Day(), env.EventID)
}

func manifestKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("appointments/v1/manifests/%s/%d-%02d.jsonl", tenantID, at.Year(), at.Month())
}

// Handle writes the scrubbed event and appends it to the tenant manifest.
func (s *Store) Handle(ctx context.Context, env events.Envelope) error {
	if !s.Enabled() {
		return nil
	}

	payload, err := ScrubPayload(env.Payload)
	if err != nil {
		return err
	}
	occurred := time.UnixMicro(env.TimestampMicros).UTC()
	record := Record{
		EventID:    env.EventID.String(),
		EventType:  env.EventType,
		TenantID:   env.TenantID,
		Aggregate:  env.Aggregate,
		OccurredAt: occurred,
		ArchivedAt: s.now().UTC(),
		Payload:    payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := objectKey(env, occurred)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archived appointment event",
		"event_id", record.EventID,
		"event_type", record.EventType,
		"tenant_id", record.TenantID,
		"s3_key", key,
	)

	entry := ManifestEntry{
		EventID:    record.EventID,
		EventType:  record.EventType,
		Aggregate:  record.Aggregate,
		S3Key:      key,
		ArchivedAt: record.ArchivedAt.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, env.TenantID, entry); err != nil {
		// The event itself is archived; the manifest is an index.
		s.logger.Warn("failed to append manifest", "error", err, "event_id", record.EventID)
	}
	return nil
}

// AppendManifest appends a JSONL line to the tenant's monthly manifest.
// S3 has no append, so this is read-modify-write and concurrent writers can
// lose lines.
func (s *Store) AppendManifest(ctx context.Context, tenantID string, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	key := manifestKey(tenantID, s.now().UTC())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		_ = getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
