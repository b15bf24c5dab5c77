/*
Package storage provides S3-compatible object storage for session room attachments.
*/
package storage

import (
	"context"
	"io"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// StorageService is the attachment store used by the HTTP handlers.
type StorageService interface {
	// PresignUpload returns a URL the client can PUT the file to.
	PresignUpload(ctx context.Context, key string, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// PresignDownload returns a time-limited GET URL for key.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Upload streams body to key. Used by clients that cannot PUT to a presigned URL.
	Upload(ctx context.Context, key string, mimeType string, body io.Reader) error
}

// NewStorageService builds the S3-backed StorageService.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
