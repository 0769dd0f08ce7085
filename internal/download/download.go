// Package download translates Ollama pull requests into LM Studio catalog
// downloads, polling job status and re-emitting progress in Ollama's NDJSON
// shape.
package download

import (
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/stream"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/cache"
)

const pollInterval = 500 * time.Millisecond

// JobStatus mirrors the LM Studio download status payload.
type JobStatus struct {
	JobID               string   `json:"job_id,omitempty"`
	Status              string   `json:"status"`
	TotalSizeBytes      *uint64  `json:"total_size_bytes,omitempty"`
	DownloadedBytes     *uint64  `json:"downloaded_bytes,omitempty"`
	BytesPerSecond      *float64 `json:"bytes_per_second,omitempty"`
	EstimatedCompletion string   `json:"estimated_completion,omitempty"`
	StartedAt           string   `json:"started_at,omitempty"`
	CompletedAt         string   `json:"completed_at,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// TranslatedStatus maps LM Studio's terminal statuses onto Ollama's.
func (s JobStatus) TranslatedStatus() string {
	switch s.Status {
	case "completed", "already_downloaded":
		return "success"
	default:
		return s.Status
	}
}

func (s JobStatus) IsTerminal() bool {
	switch s.Status {
	case "completed", "already_downloaded", "failed":
		return true
	default:
		return false
	}
}

func (s JobStatus) IsFailure() bool {
	return s.Status == "failed"
}

// Chunk renders one NDJSON progress line for a pull stream.
func (s JobStatus) Chunk(model string) map[string]any {
	out := map[string]any{
		"status": s.TranslatedStatus(),
		"model":  model,
		"detail": s.Status,
	}
	if s.JobID != "" {
		out["job_id"] = s.JobID
	}
	if s.TotalSizeBytes != nil {
		out["total"] = *s.TotalSizeBytes
	}
	if s.DownloadedBytes != nil {
		out["completed"] = *s.DownloadedBytes
	}
	if s.BytesPerSecond != nil {
		out["bytes_per_second"] = *s.BytesPerSecond
	}
	if s.EstimatedCompletion != "" {
		out["estimated_completion"] = s.EstimatedCompletion
	}
	if s.StartedAt != "" {
		out["started_at"] = s.StartedAt
	}
	if s.CompletedAt != "" {
		out["completed_at"] = s.CompletedAt
	}
	if s.Error != "" {
		out["error"] = s.Error
	}
	return out
}

// FinalResponse renders the buffered (non-streaming) pull result.
func (s JobStatus) FinalResponse(model string) (map[string]any, error) {
	switch s.Status {
	case "completed", "already_downloaded":
		out := map[string]any{
			"status": "success",
			"model":  model,
			"detail": s.Status,
		}
		if s.JobID != "" {
			out["job_id"] = s.JobID
		}
		if s.TotalSizeBytes != nil {
			out["total"] = *s.TotalSizeBytes
		}
		if s.DownloadedBytes != nil {
			out["completed"] = *s.DownloadedBytes
		}
		if s.CompletedAt != "" {
			out["completed_at"] = s.CompletedAt
		}
		return out, nil
	case "failed":
		msg := s.Error
		if msg == "" {
			msg = "LM Studio reported download failure"
		}
		return nil, proxyerr.Internal("%s", msg)
	default:
		return nil, proxyerr.Internal("unexpected download status: %s", s.Status)
	}
}

// jobs remembers the last observed status per job so /api/pull retries and
// diagnostics can see in-flight downloads.
var jobs = cache.New[string, JobStatus](64)

// TrackedJobs snapshots the in-flight job table.
func TrackedJobs() map[string]JobStatus {
	return jobs.GetAll()
}

func track(s JobStatus) JobStatus {
	if s.JobID != "" {
		if s.IsTerminal() {
			jobs.Del(s.JobID)
		} else {
			jobs.Set(s.JobID, s)
		}
	}
	return s
}

// Initiate starts an upstream catalog download.
func Initiate(ctx context.Context, identifier, quantization string) (JobStatus, error) {
	payload := map[string]any{"model": identifier}
	if quantization != "" {
		payload["quantization"] = quantization
	}

	raw, err := client.DoJSON(ctx, http.MethodPost, lmstudio.EndpointDownload, payload)
	if err != nil {
		return JobStatus{}, err
	}
	status, err := decodeStatus(raw)
	if err != nil {
		return JobStatus{}, err
	}
	return track(status), nil
}

// FetchStatus polls one download job.
func FetchStatus(ctx context.Context, jobID string) (JobStatus, error) {
	path := fmt.Sprintf("%s/%s", lmstudio.EndpointDownloadStatus, jobID)
	raw, err := client.DoJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return JobStatus{}, err
	}
	status, err := decodeStatus(raw)
	if err != nil {
		return JobStatus{}, err
	}
	return track(status), nil
}

// Await polls until the job reaches a terminal status.
func Await(ctx context.Context, status JobStatus) (JobStatus, error) {
	for !status.IsTerminal() {
		if status.JobID == "" {
			return JobStatus{}, proxyerr.Internal("LM Studio download response missing job identifier")
		}
		select {
		case <-ctx.Done():
			return JobStatus{}, proxyerr.Cancelled()
		case <-time.After(pollInterval):
		}
		var err error
		status, err = FetchStatus(ctx, status.JobID)
		if err != nil {
			return JobStatus{}, err
		}
	}
	return status, nil
}

// StreamUpdates emits one progress line per poll until the job ends. A failed
// or unknown terminal status becomes a final error line rather than a success
// frame.
func StreamUpdates(ctx context.Context, w stream.Writer, model string, status JobStatus) {
	emit := func(obj map[string]any) bool {
		line, err := json.Marshal(obj)
		if err != nil {
			return false
		}
		if _, werr := w.Write(append(line, '\n')); werr != nil {
			return false
		}
		w.Flush()
		return true
	}

	for {
		if status.IsFailure() {
			msg := status.Error
			if msg == "" {
				msg = "LM Studio download failed"
			}
			emit(map[string]any{"status": "error", "error": msg, "model": model})
			return
		}

		if !emit(status.Chunk(model)) {
			return
		}
		if status.IsTerminal() {
			return
		}
		if status.JobID == "" {
			emit(map[string]any{"status": "error", "error": "LM Studio download response missing job identifier", "model": model})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		next, err := FetchStatus(ctx, status.JobID)
		if err != nil {
			emit(map[string]any{"status": "error", "error": err.Error(), "model": model})
			return
		}
		status = next
	}
}

func decodeStatus(raw map[string]any) (JobStatus, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return JobStatus{}, proxyerr.Internal("invalid download response: %v", err)
	}
	var status JobStatus
	if err := json.Unmarshal(encoded, &status); err != nil {
		return JobStatus{}, proxyerr.Internal("invalid download response: %v", err)
	}
	if status.Status == "" {
		return JobStatus{}, proxyerr.Internal("invalid download response: missing status")
	}
	return status, nil
}
