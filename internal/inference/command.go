package inference

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/textutil"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// CommandRunner runs the model as a child process. The parameter bundle is
// passed as --flag value pairs and the last non-empty stdout line is the
// path of the generated video.
type CommandRunner struct {
	argv []string
	dir  string
	log  *logger.Logger
}

// NewCommandRunner returns a runner for argv (e.g. ["python", "infer.py"]) executed in dir.
func NewCommandRunner(argv []string, dir string, log *logger.Logger) *CommandRunner {
	return &CommandRunner{argv: argv, dir: dir, log: log.WithComponent("inference")}
}

// Generate implements ports.Inference.
func (r *CommandRunner) Generate(ctx context.Context, req ports.InferenceRequest) (string, error) {
	if len(r.argv) == 0 {
		return "", fmt.Errorf("inference command not configured")
	}

	args := append(append([]string{}, r.argv[1:]...), Flags(req)...)
	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.FromContext(ctx).Debug("running inference command", "cmd", r.argv[0], "args", len(args))

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("inference command failed: %w: %s", err, textutil.Tail(stderr.String(), 2000))
	}

	path := lastLine(stdout.String())
	if path == "" {
		return "", fmt.Errorf("inference command printed no output path")
	}
	if !filepath.IsAbs(path) && r.dir != "" {
		path = filepath.Join(r.dir, path)
	}
	return path, nil
}

// Flags renders the request as command-line flags.
func Flags(req ports.InferenceRequest) []string {
	p := req.Params
	flags := []string{
		"--config", p.Config,
		"--W", strconv.Itoa(p.Width),
		"--H", strconv.Itoa(p.Height),
		"--L", strconv.Itoa(p.Length),
		"--seed", strconv.FormatInt(p.Seed, 10),
		"--context_frames", strconv.Itoa(p.ContextFrames),
		"--context_overlap", strconv.Itoa(p.ContextOverlap),
		"--cfg", strconv.FormatFloat(p.CFG, 'f', -1, 64),
		"--steps", strconv.Itoa(p.Steps),
		"--sample_rate", strconv.Itoa(p.SampleRate),
		"--fps", strconv.Itoa(p.FPS),
		"--device", p.Device,
		"--ref_images_dir", p.RefImagesDir,
		"--audio_dir", p.AudioDir,
		"--pose_dir", p.PoseDir,
		"--refimg_name", p.RefImgName,
		"--audio_name", p.AudioName,
		"--pose_name", p.PoseName,
		"--language", p.Language,
		"--output_style", p.OutputStyle,
		"--brand_id", p.BrandID,
		"--video_id", p.VideoID,
		"--refimg", req.Inputs.RefImage,
		"--audio", req.Inputs.Audio,
		"--output_dir", req.WorkDir,
	}
	if req.Inputs.SourceVideo != "" {
		flags = append(flags,
			"--source_video_1", req.Inputs.SourceVideo,
			"--source_video_1_name", p.SourceVideo1Name,
		)
	}
	return flags
}

func lastLine(s string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}
