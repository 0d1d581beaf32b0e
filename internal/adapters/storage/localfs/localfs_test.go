package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ekrata/echomimic-v2/internal/ports"
)

func TestPutGetDelete(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	ctx := context.Background()

	out, err := fs.PutObject(ctx, ports.PutObjectInput{ObjectKey: "acme/v1", Reader: strings.NewReader("video")})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if out.ObjectKey != "acme/v1" || out.Size != 5 {
		t.Errorf("unexpected output %+v", out)
	}
	if _, err := os.Stat(filepath.Join(root, "acme", "v1")); err != nil {
		t.Fatalf("object not on disk: %v", err)
	}

	rc, _, size, err := fs.GetObject(ctx, "acme/v1")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "video" || size != 5 {
		t.Errorf("got %q size %d", b, size)
	}

	if err := fs.DeleteObject(ctx, "acme/v1"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, _, _, err := fs.GetObject(ctx, "acme/v1"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist after delete, got %v", err)
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		if _, err := fs.PutObject(ctx, ports.PutObjectInput{ObjectKey: "acme/v1", Reader: strings.NewReader(body)}); err != nil {
			t.Fatal(err)
		}
	}
	b, _ := os.ReadFile(filepath.Join(root, "acme", "v1"))
	if string(b) != "second" {
		t.Errorf("expected overwrite, got %q", b)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "acme"))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	fs := New(t.TempDir())
	for _, key := range []string{"", "../outside", "/etc/passwd"} {
		if _, err := fs.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("x")}); err == nil {
			t.Errorf("expected %q to be rejected", key)
		}
	}
}

func TestSignedURLAndCheck(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	fs := New(root)

	if err := fs.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	out, err := fs.GetSignedURL(context.Background(), "acme/v1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.URL, "file://") || !strings.HasSuffix(out.URL, "/acme/v1") {
		t.Errorf("unexpected url %q", out.URL)
	}
}
