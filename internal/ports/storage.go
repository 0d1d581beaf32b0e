package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// Publishing failures a StorageProvider reports through wrapped errors.
var (
	ErrSourceMissing         = errors.New("source file missing")
	ErrCredentialsMissing    = errors.New("storage credentials not available")
	ErrCredentialsIncomplete = errors.New("storage credentials incomplete")
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the key the provider stored the object under. For Drive
	// this is the file id.
	ObjectKey string
	Size      int64
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

// StorageProvider is implemented by s3, localfs and gdrive.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)

	// Check verifies the provider is reachable, for deep health checks.
	Check(ctx context.Context) error
}
