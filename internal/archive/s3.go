// Package archive retains submitted capture artifacts in S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/config"
)

// Store uploads capture artifacts to an S3 bucket. It satisfies
// capture.Archiver and is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	cfg    config.ArchiveConfig
	client *s3.Client
}

// NewStore creates an archive store. The store is inert until a configured
// snapshot is applied.
func NewStore(cfg config.ArchiveConfig) *Store {
	s := &Store{}
	s.ApplyConfig(cfg)
	return s
}

// ApplyConfig swaps in new archive settings, rebuilding the S3 client when
// credentials are present.
func (s *Store) ApplyConfig(cfg config.ArchiveConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if !cfg.IsConfigured() {
		s.client = nil
		return
	}
	s.client = newClient(&cfg)
}

// Enabled reports whether the store currently has usable credentials.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// newClient creates an S3 client for the given settings.
func newClient(cfg *config.ArchiveConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Store uploads the task's artifact and returns the object key.
func (s *Store) Store(ctx context.Context, t *capture.Task) (string, error) {
	s.mu.RLock()
	client := s.client
	cfg := s.cfg
	s.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("archive is not configured")
	}

	key := objectKey(cfg.Prefix, t)
	data := t.Payload.Data

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(t.Payload.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", t.ID, err)
	}

	return key, nil
}

// TestConnection uploads and deletes a probe object to verify credentials
// and bucket access.
func (s *Store) TestConnection(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	cfg := s.cfg
	s.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("archive is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("capture-agent connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}

// objectKey builds a date-partitioned key for an artifact.
func objectKey(prefix string, t *capture.Task) string {
	ext := extensionFor(t.Payload.ContentType)
	return path.Join(
		prefix,
		string(t.Payload.Kind),
		t.SubmittedAt.UTC().Format("2006/01/02"),
		t.ID+ext,
	)
}

// extensionFor maps known artifact content types to file extensions.
func extensionFor(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}
