package models

import (
	"fmt"
	"regexp"
	"time"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSucceeded, JobFailed:
		return true
	}
	return false
}

// Stage is a pipeline stage.
type Stage string

const (
	StageStaging     Stage = "staging"
	StageDispatch    Stage = "dispatch"
	StageInference   Stage = "inference"
	StagePostprocess Stage = "postprocess"
	StageUpload      Stage = "upload"
)

// FailureKind classifies a stage failure.
type FailureKind string

const (
	FailureIO            FailureKind = "io"
	FailureRejected      FailureKind = "rejected"
	FailureInference     FailureKind = "inference_failed"
	FailureCompose       FailureKind = "compose_failed"
	FailureNoOutput      FailureKind = "no_output"
	FailureSourceMissing FailureKind = "source_missing"
	FailureCredentials   FailureKind = "credentials"
	FailureTransport     FailureKind = "transport"
	FailurePanic         FailureKind = "panic"
	FailureAbandoned     FailureKind = "abandoned"
)

// Failure describes why a job ended in FAILED.
type Failure struct {
	Stage   Stage       `json:"stage"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

func (f Failure) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("%s: %s", f.Stage, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", f.Stage, f.Kind, f.Message)
}

// Output styles that trigger compositing. Any other value is identity.
const (
	StyleHorizontalSplit = "horizontalSplit"
	StyleOverlayVideo    = "overlay_video"
)

// RequiresSourceVideo reports whether style composites with a source video.
func RequiresSourceVideo(style string) bool {
	return style == StyleHorizontalSplit || style == StyleOverlayVideo
}

var keySegment = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidKeySegment reports whether s can be used as one object-key or path segment.
func ValidKeySegment(s string) bool {
	return keySegment.MatchString(s) && s != "." && s != ".."
}

// ObjectKey is the storage key of a job's final artifact.
func ObjectKey(brandID, videoID string) string {
	return brandID + "/" + videoID
}

// StagedInputs are the per-job paths written by the stager.
type StagedInputs struct {
	RefImage    string `json:"ref_image"`
	Audio       string `json:"audio"`
	SourceVideo string `json:"source_video,omitempty"`
}

// JobDescriptor is everything a worker needs to run one job. It is passed by
// value and crosses process boundaries as JSON.
type JobDescriptor struct {
	JobID       string           `json:"job_id"`
	BrandID     string           `json:"brand_id"`
	VideoID     string           `json:"video_id"`
	ObjectKey   string           `json:"object_key"`
	OutputStyle string           `json:"output_style"`
	Params      GenerationParams `json:"params"`
	Inputs      StagedInputs     `json:"inputs"`
	WorkDir     string           `json:"work_dir"`
	RequestID   string           `json:"request_id,omitempty"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// JobRecord is the persisted status of a job.
type JobRecord struct {
	ID          string     `json:"id"`
	BrandID     string     `json:"brand_id"`
	VideoID     string     `json:"video_id"`
	ObjectKey   string     `json:"object_key"`
	OutputStyle string     `json:"output_style"`
	State       JobState   `json:"status"`
	Stage       Stage      `json:"stage,omitempty"`
	Failure     *Failure   `json:"failure,omitempty"`
	StoredKey   string     `json:"stored_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// JobFilter narrows a job listing. Zero values match everything.
type JobFilter struct {
	BrandID string
	VideoID string
	State   JobState
	Limit   int
}
