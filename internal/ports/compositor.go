package ports

import (
	"context"
	"errors"
)

// ErrNoOutput is returned when a compositing run exits cleanly but writes nothing.
var ErrNoOutput = errors.New("compositor produced no output")

// ComposeRequest describes one compositing run.
type ComposeRequest struct {
	Style       string
	Generated   string
	SourceVideo string
	WorkDir     string
}

// Compositor applies an output style to a generated video and returns the
// path of the final file. Styles without a transform return Generated as is.
type Compositor interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
}
