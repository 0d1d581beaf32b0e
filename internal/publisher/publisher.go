// Package publisher uploads a finished artifact to the configured storage
// provider and classifies upload failures.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

const contentType = "video/mp4"

type Publisher struct {
	sp  ports.StorageProvider
	log *logger.Logger
}

func New(sp ports.StorageProvider, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{sp: sp, log: log.WithComponent("publisher")}
}

// Result describes a stored artifact.
type Result struct {
	// StoredKey is the key reported by the provider, which differs from the
	// requested key for Drive.
	StoredKey string
	Size      int64
}

// Publish uploads localPath under objectKey. A missing local file wraps
// ports.ErrSourceMissing and no request is sent.
func (p *Publisher) Publish(ctx context.Context, localPath, objectKey string) (Result, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%s: %w", localPath, ports.ErrSourceMissing)
		}
		return Result{}, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if st.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory: %w", localPath, ports.ErrSourceMissing)
	}

	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%s: %w", localPath, ports.ErrSourceMissing)
		}
		return Result{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	start := time.Now()
	out, err := p.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return Result{}, err
	}

	p.log.FromContext(ctx).Info("artifact published",
		"provider", p.sp.Provider(),
		"object_key", objectKey,
		"stored_key", out.ObjectKey,
		"size_bytes", st.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{StoredKey: out.ObjectKey, Size: st.Size()}, nil
}

// Classify maps a Publish error to its failure kind. Anything that is not a
// missing source or a credential problem is a transport failure.
func Classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, ports.ErrSourceMissing):
		return models.FailureSourceMissing
	case errors.Is(err, ports.ErrCredentialsMissing), errors.Is(err, ports.ErrCredentialsIncomplete):
		return models.FailureCredentials
	default:
		return models.FailureTransport
	}
}
