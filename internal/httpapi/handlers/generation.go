package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/models"
	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
	"github.com/ekrata/echomimic-v2/internal/pkg/ids"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
	"github.com/ekrata/echomimic-v2/internal/staging"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// recordTimeout bounds job store writes made after the request may be gone.
const recordTimeout = 10 * time.Second

type StartGenerationResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// StartGeneration handles POST /start_generation/{video_id}. It validates,
// records, stages and dispatches a job, then answers 202 without waiting for
// the job to run.
func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if r.ContentLength > h.maxUploadBytes {
		return apperrors.ValidationField("body", "request body exceeds "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes")
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.ValidationField("body", "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		}
		return apperrors.WrapWithCode(err, apperrors.CodeValidation, "generation.parse", "expected a multipart/form-data body").
			WithField("field", "body")
	}
	defer r.MultipartForm.RemoveAll()

	params, err := parseParams(r.Form, chi.URLParam(r, "video_id"))
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	uploads, closeAll, err := openUploads(r.MultipartForm)
	defer closeAll()
	if err != nil {
		return err
	}
	if err := staging.Validate(uploads); err != nil {
		return err
	}
	if models.RequiresSourceVideo(params.OutputStyle) && uploads.SourceVideo == nil {
		return apperrors.ValidationField(staging.SourceVideoField.Name,
			"output_style "+params.OutputStyle+" requires a source video").
			WithField("output_style", params.OutputStyle)
	}

	jobID := ids.NewID("job")
	ctx = logger.ContextWithJobID(ctx, jobID)
	log := h.log.FromContext(ctx)
	objectKey := models.ObjectKey(params.BrandID, params.VideoID)

	if err := h.jobs.Create(ctx, models.JobRecord{
		ID:          jobID,
		BrandID:     params.BrandID,
		VideoID:     params.VideoID,
		ObjectKey:   objectKey,
		OutputStyle: params.OutputStyle,
		State:       models.JobQueued,
	}); err != nil {
		if errors.Is(err, ports.ErrJobConflict) {
			return apperrors.Conflict("a job for this brand_id and video_id is already queued or running").
				WithField("brand_id", params.BrandID).
				WithField("video_id", params.VideoID)
		}
		return apperrors.Wrap(err, "generation.create", "failed to record job")
	}

	inputs, ws, err := h.stager.Stage(ctx, jobID, uploads)
	if err != nil {
		kind := models.FailureIO
		if apperrors.IsValidation(err) {
			kind = models.FailureRejected
		}
		h.markFailed(ctx, jobID, models.StageStaging, kind, err)
		if rmErr := h.stager.Remove(jobID); rmErr != nil {
			log.WithError(rmErr).Warn("workspace cleanup failed")
		}
		return apperrors.Wrap(err, "generation.stage", "failed to stage inputs")
	}

	desc := models.JobDescriptor{
		JobID:       jobID,
		BrandID:     params.BrandID,
		VideoID:     params.VideoID,
		ObjectKey:   objectKey,
		OutputStyle: params.OutputStyle,
		Params:      params,
		Inputs:      inputs,
		WorkDir:     ws.WorkDir,
		RequestID:   logger.RequestIDFromContext(ctx),
		EnqueuedAt:  time.Now().UTC(),
	}

	if _, err := h.dispatcher.Submit(ctx, desc); err != nil {
		h.markFailed(ctx, jobID, models.StageDispatch, models.FailureRejected, err)
		if rmErr := h.stager.Remove(jobID); rmErr != nil {
			log.WithError(rmErr).Warn("workspace cleanup failed")
		}
		if errors.Is(err, ports.ErrQueueFull) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.retryAfter)))
			return apperrors.ResourceExhausted("generation queue is full, retry later")
		}
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "generation.dispatch", "job dispatcher unavailable")
	}

	log.Info("generation accepted",
		"brand_id", params.BrandID,
		"video_id", params.VideoID,
		"output_style", params.OutputStyle,
		"source_video", inputs.SourceVideo != "",
	)
	httpkit.WriteJSON(w, http.StatusAccepted, StartGenerationResponse{
		Message: "Processing has started.",
		JobID:   jobID,
	})
	return nil
}

// markFailed records a terminal failure for a job the request created. The
// write outlives the request so a disconnected client cannot leave the job
// active with its (brand, video) pair held.
func (h *Handler) markFailed(ctx context.Context, jobID string, stage models.Stage, kind models.FailureKind, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	f := models.Failure{Stage: stage, Kind: kind, Message: cause.Error()}
	if err := h.jobs.MarkFailed(ctx, jobID, f); err != nil {
		h.log.LogError(ctx, "record failure failed", err, "stage", string(stage))
	}
}

// openUploads opens the known file parts. The returned func closes every
// opened part and is safe to call on error.
func openUploads(form *multipart.Form) (staging.Uploads, func(), error) {
	var (
		u      staging.Uploads
		opened []multipart.File
	)
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	for _, slot := range []struct {
		name string
		dst  **staging.Upload
	}{
		{staging.RefImageField.Name, &u.RefImage},
		{staging.AudioField.Name, &u.Audio},
		{staging.SourceVideoField.Name, &u.SourceVideo},
	} {
		files := form.File[slot.name]
		if len(files) == 0 {
			continue
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return u, closeAll, apperrors.WrapWithCode(err, apperrors.CodeValidation, "generation.open", "cannot read upload").
				WithField("field", slot.name)
		}
		opened = append(opened, f)
		*slot.dst = &staging.Upload{ContentType: fh.Header.Get("Content-Type"), Body: f}
	}
	return u, closeAll, nil
}

func retryAfterSeconds(d time.Duration) int {
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
