// Package localfs implements ports.StorageProvider on a local directory.
package localfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekrata/echomimic-v2/internal/ports"
)

// LocalFS stores objects under root, one file per key.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) path(objectKey string) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("object_key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object_key %q escapes the storage root", objectKey)
	}
	return filepath.Join(l.root, clean), nil
}

// PutObject writes into a temporary sibling and renames it over the key, so
// readers never observe a partial object.
func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in.Reader)
	if err != nil {
		_ = tmp.Close()
		return ports.PutObjectOutput{}, err
	}
	if err := tmp.Close(); err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, err
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", 0, err
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	contentType = mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		contentType = http.DetectContentType(buf[:n])
	}

	return f, contentType, size, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.path(objectKey)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// GetSignedURL returns a file:// URL; there is nothing to sign locally.
func (l *LocalFS) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	p, err := l.path(objectKey)
	if err != nil {
		return ports.SignedURLOutput{}, err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ports.SignedURLOutput{}, err
	}
	return ports.SignedURLOutput{URL: "file://" + filepath.ToSlash(abs), ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// Check creates the root if needed and verifies it is a directory.
func (l *LocalFS) Check(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return err
	}
	st, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", l.root)
	}
	return nil
}
