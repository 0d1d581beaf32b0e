// Package staging validates uploaded media and writes it into a per-job
// workspace under the staging root.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ekrata/echomimic-v2/internal/models"
	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
)

// Field describes one upload slot of a generation request.
type Field struct {
	Name     string
	Accepted []string
	Required bool
}

var (
	RefImageField    = Field{Name: "refimg", Accepted: []string{"image/png", "image/jpeg"}, Required: true}
	AudioField       = Field{Name: "audio", Accepted: []string{"audio/wav"}, Required: true}
	SourceVideoField = Field{Name: "source_video_1", Accepted: []string{"video/mp4", "video/webm"}}
)

// Upload is one received stream with its declared content type.
type Upload struct {
	ContentType string
	Body        io.Reader
}

// Uploads groups the streams of one request. A nil entry means absent.
type Uploads struct {
	RefImage    *Upload
	Audio       *Upload
	SourceVideo *Upload
}

func (u Uploads) each(fn func(Field, *Upload) error) error {
	for _, e := range []struct {
		f Field
		u *Upload
	}{
		{RefImageField, u.RefImage},
		{AudioField, u.Audio},
		{SourceVideoField, u.SourceVideo},
	} {
		if err := fn(e.f, e.u); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks presence and declared content type of every upload. It
// never reads from the bodies.
func Validate(u Uploads) error {
	return u.each(func(f Field, up *Upload) error {
		if up == nil {
			if f.Required {
				return apperrors.ValidationField(f.Name, f.Name+" is required")
			}
			return nil
		}
		mt := NormalizeMediaType(up.ContentType)
		if !slices.Contains(f.Accepted, mt) {
			return apperrors.ValidationField(f.Name,
				fmt.Sprintf("invalid content type %q for %s, accepted: %s", up.ContentType, f.Name, strings.Join(f.Accepted, ", "))).
				WithField("accepted", f.Accepted)
		}
		return nil
	})
}

// Workspace is the per-job directory tree.
type Workspace struct {
	Dir       string
	InputsDir string
	WorkDir   string
}

// Stager owns the staging root.
type Stager struct {
	root string
}

// New returns a Stager rooted at root.
func New(root string) *Stager {
	return &Stager{root: root}
}

// Workspace returns the directory layout for jobID without creating it.
func (s *Stager) Workspace(jobID string) Workspace {
	dir := filepath.Join(s.root, "jobs", jobID)
	return Workspace{
		Dir:       dir,
		InputsDir: filepath.Join(dir, "inputs"),
		WorkDir:   filepath.Join(dir, "work"),
	}
}

// Stage validates u and writes every present stream into the job's inputs
// directory. On any failure the workspace is removed and nothing is left behind.
func (s *Stager) Stage(ctx context.Context, jobID string, u Uploads) (models.StagedInputs, Workspace, error) {
	if !models.ValidKeySegment(jobID) {
		return models.StagedInputs{}, Workspace{}, apperrors.Newf(apperrors.CodeInternal, "invalid job id %q", jobID)
	}
	if err := Validate(u); err != nil {
		return models.StagedInputs{}, Workspace{}, err
	}

	ws := s.Workspace(jobID)
	for _, d := range []string{ws.InputsDir, ws.WorkDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			_ = os.RemoveAll(ws.Dir)
			return models.StagedInputs{}, Workspace{}, apperrors.Wrap(err, "staging.mkdir", "failed to create job workspace")
		}
	}

	var staged models.StagedInputs
	err := u.each(func(f Field, up *Upload) error {
		if up == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dst := filepath.Join(ws.InputsDir, f.Name+ExtFromMime(up.ContentType))
		if err := writeScoped(dst, up.Body); err != nil {
			return apperrors.Wrap(err, "staging.write", "failed to stage "+f.Name).WithField("field", f.Name)
		}

		switch f.Name {
		case RefImageField.Name:
			staged.RefImage = dst
		case AudioField.Name:
			staged.Audio = dst
		case SourceVideoField.Name:
			staged.SourceVideo = dst
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(ws.Dir)
		return models.StagedInputs{}, Workspace{}, err
	}

	return staged, ws, nil
}

// Remove deletes the job's workspace. Missing workspaces are not an error.
func (s *Stager) Remove(jobID string) error {
	if !models.ValidKeySegment(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return os.RemoveAll(s.Workspace(jobID).Dir)
}

// writeScoped copies r into a temporary sibling of dst, syncs and closes it,
// then renames it into place. The temporary file never outlives a failure.
func writeScoped(dst string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
