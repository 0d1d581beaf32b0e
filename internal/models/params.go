package models

import (
	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
)

// GenerationParams is the parameter bundle handed to the inference model.
type GenerationParams struct {
	Config           string  `json:"config"`
	Width            int     `json:"W"`
	Height           int     `json:"H"`
	Length           int     `json:"L"`
	Seed             int64   `json:"seed"`
	ContextFrames    int     `json:"context_frames"`
	ContextOverlap   int     `json:"context_overlap"`
	CFG              float64 `json:"cfg"`
	Steps            int     `json:"steps"`
	SampleRate       int     `json:"sample_rate"`
	FPS              int     `json:"fps"`
	Device           string  `json:"device"`
	RefImagesDir     string  `json:"ref_images_dir"`
	AudioDir         string  `json:"audio_dir"`
	PoseDir          string  `json:"pose_dir"`
	RefImgName       string  `json:"refimg_name"`
	AudioName        string  `json:"audio_name"`
	PoseName         string  `json:"pose_name"`
	Language         string  `json:"language"`
	OutputStyle      string  `json:"output_style"`
	SourceVideo1Name string  `json:"source_video_1_name"`
	BrandID          string  `json:"brand_id"`
	VideoID          string  `json:"video_id"`
}

// DefaultParams returns the model defaults; BrandID and VideoID are left empty.
func DefaultParams() GenerationParams {
	return GenerationParams{
		Config:           "./configs/prompts/infer.yaml",
		Width:            768,
		Height:           768,
		Length:           240,
		Seed:             3407,
		ContextFrames:    12,
		ContextOverlap:   3,
		CFG:              2.5,
		Steps:            30,
		SampleRate:       16000,
		FPS:              24,
		Device:           "cuda",
		RefImagesDir:     "./assets/halfbody_demo/refimag",
		AudioDir:         "./assets/halfbody_demo/audio",
		PoseDir:          "./assets/halfbody_demo/pose",
		RefImgName:       "custom/avatar.png",
		AudioName:        "echomimicv2_woman.wav",
		PoseName:         "01",
		Language:         "english",
		OutputStyle:      "english",
		SourceVideo1Name: "source_video_1.mp4",
	}
}

// Validate rejects bundles that cannot produce a job. The returned error is a
// validation error naming the offending field.
func (p GenerationParams) Validate() error {
	switch {
	case p.BrandID == "":
		return apperrors.ValidationField("brand_id", "brand_id is required")
	case !ValidKeySegment(p.BrandID):
		return apperrors.ValidationField("brand_id", "brand_id must be a single key segment of letters, digits, '.', '_' or '-'")
	case p.VideoID == "":
		return apperrors.ValidationField("video_id", "video_id is required")
	case !ValidKeySegment(p.VideoID):
		return apperrors.ValidationField("video_id", "video_id must be a single key segment of letters, digits, '.', '_' or '-'")
	case p.Width <= 0:
		return apperrors.ValidationField("W", "W must be positive")
	case p.Height <= 0:
		return apperrors.ValidationField("H", "H must be positive")
	case p.Length <= 0:
		return apperrors.ValidationField("L", "L must be positive")
	case p.ContextFrames <= 0:
		return apperrors.ValidationField("context_frames", "context_frames must be positive")
	case p.ContextOverlap < 0 || p.ContextOverlap >= p.ContextFrames:
		return apperrors.ValidationField("context_overlap", "context_overlap must be >= 0 and smaller than context_frames")
	case p.Steps <= 0:
		return apperrors.ValidationField("steps", "steps must be positive")
	case p.CFG < 0:
		return apperrors.ValidationField("cfg", "cfg must not be negative")
	case p.SampleRate <= 0:
		return apperrors.ValidationField("sample_rate", "sample_rate must be positive")
	case p.FPS <= 0:
		return apperrors.ValidationField("fps", "fps must be positive")
	case p.Device == "":
		return apperrors.ValidationField("device", "device is required")
	}
	return nil
}
