package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
)

func upload(ct, body string) *Upload {
	return &Upload{ContentType: ct, Body: strings.NewReader(body)}
}

func validUploads() Uploads {
	return Uploads{
		RefImage: upload("image/png", "png-bytes"),
		Audio:    upload("audio/wav", "wav-bytes"),
	}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func TestNormalizeMediaType(t *testing.T) {
	tests := map[string]string{
		"image/PNG":                 "image/png",
		"audio/wav; charset=binary": "audio/wav",
		"  Video/MP4 ":              "video/mp4",
		"":                          "",
		"audio/wav;;broken=":        "audio/wav",
	}
	for in, want := range tests {
		if got := NormalizeMediaType(in); got != want {
			t.Errorf("NormalizeMediaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Uploads)
		field string
	}{
		{"valid", func(*Uploads) {}, ""},
		{"jpeg with params", func(u *Uploads) { u.RefImage = upload("IMAGE/JPEG; q=1", "x") }, ""},
		{"webm source", func(u *Uploads) { u.SourceVideo = upload("video/webm", "x") }, ""},
		{"mp3 audio", func(u *Uploads) { u.Audio = upload("audio/mpeg", "x") }, "audio"},
		{"gif image", func(u *Uploads) { u.RefImage = upload("image/gif", "x") }, "refimg"},
		{"missing image", func(u *Uploads) { u.RefImage = nil }, "refimg"},
		{"missing audio", func(u *Uploads) { u.Audio = nil }, "audio"},
		{"bad source", func(u *Uploads) { u.SourceVideo = upload("video/quicktime", "x") }, "source_video_1"},
		{"empty type", func(u *Uploads) { u.Audio = upload("", "x") }, "audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUploads()
			tt.mut(&u)

			err := Validate(u)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperrors.GetFields(err)["field"]; got != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, got)
			}
		})
	}
}

func TestStageWritesInputs(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	u := validUploads()
	u.SourceVideo = upload("video/mp4", "mp4-bytes")

	staged, ws, err := s.Stage(context.Background(), "job_a", u)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if ws.Dir != filepath.Join(root, "jobs", "job_a") {
		t.Errorf("unexpected workspace %q", ws.Dir)
	}
	for path, want := range map[string]string{
		staged.RefImage:    "png-bytes",
		staged.Audio:       "wav-bytes",
		staged.SourceVideo: "mp4-bytes",
	} {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(b) != want {
			t.Errorf("%s = %q, want %q", path, b, want)
		}
	}
	if filepath.Ext(staged.RefImage) != ".png" || filepath.Ext(staged.SourceVideo) != ".mp4" {
		t.Errorf("unexpected extensions: %+v", staged)
	}
	if st, err := os.Stat(ws.WorkDir); err != nil || !st.IsDir() {
		t.Errorf("expected work dir to exist: %v", err)
	}
	for _, f := range listFiles(t, root) {
		if strings.HasSuffix(f, ".part") {
			t.Errorf("temporary file left behind: %s", f)
		}
	}
}

func TestStageSkipsAbsentSourceVideo(t *testing.T) {
	staged, _, err := New(t.TempDir()).Stage(context.Background(), "job_b", validUploads())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.SourceVideo != "" {
		t.Errorf("expected no source video, got %q", staged.SourceVideo)
	}
}

func TestStageInvalidTypeWritesNothing(t *testing.T) {
	root := t.TempDir()
	u := validUploads()
	u.Audio = upload("audio/mpeg", "mp3-bytes")

	_, _, err := New(root).Stage(context.Background(), "job_c", u)
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if files := listFiles(t, root); len(files) != 0 {
		t.Errorf("expected nothing written, found %v", files)
	}
	if _, err := os.Stat(filepath.Join(root, "jobs")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no jobs dir, stat err=%v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestStageReadFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	u := validUploads()
	u.Audio = &Upload{ContentType: "audio/wav", Body: failingReader{}}

	_, _, err := New(root).Stage(context.Background(), "job_d", u)
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.IsValidation(err) {
		t.Errorf("an I/O failure is not a client fault: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "jobs", "job_d")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected workspace removed, stat err=%v", err)
	}
}

func TestConcurrentJobsUseDistinctPaths(t *testing.T) {
	s := New(t.TempDir())

	a, _, err := s.Stage(context.Background(), "job_1", validUploads())
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := s.Stage(context.Background(), "job_2", validUploads())
	if err != nil {
		t.Fatal(err)
	}
	if a.RefImage == b.RefImage || a.Audio == b.Audio {
		t.Errorf("jobs share staging paths: %+v vs %+v", a, b)
	}
}

func TestRemove(t *testing.T) {
	s := New(t.TempDir())
	_, ws, err := s.Stage(context.Background(), "job_r", validUploads())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("job_r"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace still present: %v", err)
	}
	if err := s.Remove("job_r"); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
	if err := s.Remove("../escape"); err == nil {
		t.Error("expected invalid job id to be rejected")
	}
}
