package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ekrata/echomimic-v2/internal/models"
	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
)

// parseParams overlays form and query values onto the default bundle. The
// path video id wins over any video_id value.
func parseParams(form url.Values, videoID string) (models.GenerationParams, error) {
	p := models.DefaultParams()

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(form.Get(name)); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v := strings.TrimSpace(form.Get(name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.ValidationField(name, name+" must be an integer")
		}
		*dst = n
		return nil
	}

	for name, dst := range map[string]*int{
		"W":               &p.Width,
		"H":               &p.Height,
		"L":               &p.Length,
		"context_frames":  &p.ContextFrames,
		"context_overlap": &p.ContextOverlap,
		"steps":           &p.Steps,
		"sample_rate":     &p.SampleRate,
		"fps":             &p.FPS,
	} {
		if err := integer(name, dst); err != nil {
			return p, err
		}
	}

	if v := strings.TrimSpace(form.Get("seed")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, apperrors.ValidationField("seed", "seed must be an integer")
		}
		p.Seed = n
	}
	if v := strings.TrimSpace(form.Get("cfg")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, apperrors.ValidationField("cfg", "cfg must be a number")
		}
		p.CFG = f
	}

	str("config", &p.Config)
	str("device", &p.Device)
	str("ref_images_dir", &p.RefImagesDir)
	str("audio_dir", &p.AudioDir)
	str("pose_dir", &p.PoseDir)
	str("refimg_name", &p.RefImgName)
	str("audio_name", &p.AudioName)
	str("pose_name", &p.PoseName)
	str("language", &p.Language)
	str("output_style", &p.OutputStyle)
	str("source_video_1_name", &p.SourceVideo1Name)
	str("brand_id", &p.BrandID)
	p.VideoID = strings.TrimSpace(videoID)

	return p, nil
}
