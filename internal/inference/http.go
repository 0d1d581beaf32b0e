// Package inference holds the adapters that run the generative model.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contracts "github.com/ekrata/echomimic-v2/internal/contracts/inference/v0"
	"github.com/ekrata/echomimic-v2/internal/pkg/textutil"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// HTTPClient calls an inference service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient returns a client for baseURL. A zero timeout means 2h.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 2 * time.Hour
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate implements ports.Inference.
func (c *HTTPClient) Generate(ctx context.Context, req ports.InferenceRequest) (string, error) {
	body := contracts.GenerateRequest{
		JobID:  req.JobID,
		Params: req.Params,
		Inputs: contracts.Inputs{
			RefImage:    req.Inputs.RefImage,
			Audio:       req.Inputs.Audio,
			SourceVideo: req.Inputs.SourceVideo,
		},
		OutputDir: req.WorkDir,
	}

	var out contracts.GenerateResponse
	if err := c.post(ctx, "/generate", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.VideoPath) == "" {
		return "", fmt.Errorf("inference response has no video_path")
	}
	return out.VideoPath, nil
}

// Ping checks {base}/health.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("inference health http %d", res.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var e contracts.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("inference http %d: %s", res.StatusCode, textutil.Head(e.Error, 2000))
		}
		return fmt.Errorf("inference http %d", res.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode inference response: %w", err)
	}
	return nil
}
