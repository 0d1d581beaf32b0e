package ports

import (
	"context"

	"github.com/ekrata/echomimic-v2/internal/models"
)

// InferenceRequest is one generation call.
type InferenceRequest struct {
	JobID   string
	Params  models.GenerationParams
	Inputs  models.StagedInputs
	WorkDir string
}

// Inference runs the generative model and returns the path of the produced video.
type Inference interface {
	Generate(ctx context.Context, req InferenceRequest) (string, error)
}
