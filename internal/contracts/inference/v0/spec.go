// Package v0 is the wire contract between the job pipeline and an HTTP
// inference service.
package v0

import "github.com/ekrata/echomimic-v2/internal/models"

// GenerateRequest is POSTed to {base}/generate.
type GenerateRequest struct {
	JobID  string                  `json:"job_id"`
	Params models.GenerationParams `json:"params"`
	Inputs Inputs                  `json:"inputs"`
	// OutputDir is where the service should write the generated video.
	OutputDir string `json:"output_dir"`
}

// Inputs are staged file paths on the shared staging volume.
type Inputs struct {
	RefImage    string `json:"refimg"`
	Audio       string `json:"audio"`
	SourceVideo string `json:"source_video_1,omitempty"`
}

// GenerateResponse is the 2xx response body.
type GenerateResponse struct {
	VideoPath string `json:"video_path"`
}

// ErrorResponse is the non-2xx response body, when the service sends one.
type ErrorResponse struct {
	Error string `json:"error"`
}
