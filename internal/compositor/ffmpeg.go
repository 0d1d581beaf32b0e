// Package compositor applies output-style transforms to generated videos with ffmpeg.
package compositor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/textutil"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// Profile is the encoder configuration.
type Profile struct {
	VideoCodec  string
	Preset      string
	RCLookahead int
}

// DefaultProfile is the NVENC profile used in production.
func DefaultProfile() Profile {
	return Profile{VideoCodec: "h264_nvenc", Preset: "fast", RCLookahead: 32}
}

// RunFunc executes a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg implements ports.Compositor.
type FFmpeg struct {
	bin     string
	profile Profile
	timeout time.Duration
	run     RunFunc
	log     *logger.Logger
}

// New returns an FFmpeg compositor. A zero timeout disables the per-run deadline.
func New(bin string, profile Profile, timeout time.Duration, log *logger.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{
		bin:     bin,
		profile: profile,
		timeout: timeout,
		run:     execRun,
		log:     log.WithComponent("compositor"),
	}
}

// Compose implements ports.Compositor. Styles other than horizontalSplit and
// overlay_video return the generated path unchanged.
func (f *FFmpeg) Compose(ctx context.Context, req ports.ComposeRequest) (string, error) {
	if !models.RequiresSourceVideo(req.Style) {
		return req.Generated, nil
	}
	if req.SourceVideo == "" {
		return "", fmt.Errorf("style %s needs a source video", req.Style)
	}

	final := filepath.Join(req.WorkDir, "final.mp4")
	tmp := final + ".part"
	defer os.Remove(tmp)

	args := Args(req.Style, req.Generated, req.SourceVideo, tmp, f.profile)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := f.run(ctx, f.bin, args...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg %s: %w: %s", req.Style, err, textutil.Tail(string(out), 2000))
	}

	st, err := os.Stat(tmp)
	if err != nil || st.Size() == 0 {
		return "", ports.ErrNoOutput
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize composed video: %w", err)
	}

	f.log.FromContext(ctx).Debug("composed video",
		"style", req.Style,
		"bytes", st.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return final, nil
}

// Args builds the ffmpeg argument list for a compositing style.
//
// horizontalSplit puts the generated video on the left and the source video,
// scaled to the same height, on the right. overlay_video scales the source to
// the generated video's size and draws the generated video over it.
func Args(style, generated, source, output string, p Profile) []string {
	var inputs []string
	var graph, audio string

	switch style {
	case models.StyleHorizontalSplit:
		inputs = []string{"-i", generated, "-i", source}
		graph = "[1:v][0:v]scale2ref=w=oh*mdar:h=ih[right][left];[left][right]hstack=inputs=2[v]"
		audio = "0:a?"
	case models.StyleOverlayVideo:
		inputs = []string{"-i", source, "-i", generated}
		graph = "[0:v][1:v]scale2ref[bg][fg];[bg][fg]overlay=format=auto[v]"
		audio = "1:a?"
	default:
		return nil
	}

	args := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, inputs...)
	args = append(args,
		"-filter_complex", graph,
		"-map", "[v]",
		"-map", audio,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-rc-lookahead", strconv.Itoa(p.RCLookahead),
		"-c:a", "aac",
		"-f", "mp4",
		output,
	)
	return args
}
