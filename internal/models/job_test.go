package models

import (
	"encoding/json"
	"testing"

	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
)

func validParams() GenerationParams {
	p := DefaultParams()
	p.BrandID = "acme"
	p.VideoID = "v1"
	return p
}

func TestDefaultParamsValidate(t *testing.T) {
	if err := validParams().Validate(); err != nil {
		t.Fatalf("defaults with ids should be valid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GenerationParams)
		field  string
	}{
		{"missing brand", func(p *GenerationParams) { p.BrandID = "" }, "brand_id"},
		{"brand with slash", func(p *GenerationParams) { p.BrandID = "acme/evil" }, "brand_id"},
		{"brand dot dot", func(p *GenerationParams) { p.BrandID = ".." }, "brand_id"},
		{"missing video", func(p *GenerationParams) { p.VideoID = "" }, "video_id"},
		{"zero width", func(p *GenerationParams) { p.Width = 0 }, "W"},
		{"negative height", func(p *GenerationParams) { p.Height = -1 }, "H"},
		{"zero length", func(p *GenerationParams) { p.Length = 0 }, "L"},
		{"overlap equals window", func(p *GenerationParams) { p.ContextOverlap = p.ContextFrames }, "context_overlap"},
		{"negative overlap", func(p *GenerationParams) { p.ContextOverlap = -1 }, "context_overlap"},
		{"zero steps", func(p *GenerationParams) { p.Steps = 0 }, "steps"},
		{"zero fps", func(p *GenerationParams) { p.FPS = 0 }, "fps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			err := p.Validate()
			if !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperrors.GetFields(err)["field"]; got != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, got)
			}
		})
	}
}

func TestObjectKeyAndStyles(t *testing.T) {
	if got := ObjectKey("acme", "v1"); got != "acme/v1" {
		t.Errorf("ObjectKey = %q", got)
	}
	if !RequiresSourceVideo(StyleHorizontalSplit) || !RequiresSourceVideo(StyleOverlayVideo) {
		t.Error("compositing styles should require a source video")
	}
	if RequiresSourceVideo("english") {
		t.Error("english is identity")
	}
}

func TestJobStateTerminal(t *testing.T) {
	for state, want := range map[JobState]bool{
		JobQueued:    false,
		JobRunning:   false,
		JobSucceeded: true,
		JobFailed:    true,
	} {
		if state.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", state, !want)
		}
	}
	if JobState("PAUSED").Valid() {
		t.Error("unknown state should be invalid")
	}
}

func TestDescriptorJSONUsesModelNames(t *testing.T) {
	d := JobDescriptor{JobID: "job_1", Params: validParams()}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	params, ok := raw["params"].(map[string]any)
	if !ok {
		t.Fatalf("params missing in %s", b)
	}
	for _, k := range []string{"W", "H", "L", "context_overlap", "source_video_1_name"} {
		if _, ok := params[k]; !ok {
			t.Errorf("expected key %q in params JSON", k)
		}
	}
}

func TestFailureError(t *testing.T) {
	f := Failure{Stage: StageUpload, Kind: FailureCredentials, Message: "no credentials"}
	if f.Error() != "upload: credentials: no credentials" {
		t.Errorf("unexpected %q", f.Error())
	}
}
