package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
)

type sink struct {
	bytes.Buffer
}

func (s *sink) Flush() {}

func setupUpstream(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := conf.Config{}
	cfg.Upstream.URL = srv.URL
	require.NoError(t, client.Init(&cfg))
}

func TestTranslatedStatus(t *testing.T) {
	assert.Equal(t, "success", JobStatus{Status: "completed"}.TranslatedStatus())
	assert.Equal(t, "success", JobStatus{Status: "already_downloaded"}.TranslatedStatus())
	assert.Equal(t, "downloading", JobStatus{Status: "downloading"}.TranslatedStatus())
	assert.Equal(t, "failed", JobStatus{Status: "failed"}.TranslatedStatus())

	assert.True(t, JobStatus{Status: "failed"}.IsTerminal())
	assert.False(t, JobStatus{Status: "paused"}.IsTerminal())
}

func TestChunkFields(t *testing.T) {
	total := uint64(1000)
	done := uint64(250)
	chunk := JobStatus{
		JobID:           "job-1",
		Status:          "downloading",
		TotalSizeBytes:  &total,
		DownloadedBytes: &done,
	}.Chunk("llama3")

	assert.Equal(t, "downloading", chunk["status"])
	assert.Equal(t, "llama3", chunk["model"])
	assert.Equal(t, "downloading", chunk["detail"])
	assert.Equal(t, uint64(1000), chunk["total"])
	assert.Equal(t, uint64(250), chunk["completed"])
	assert.NotContains(t, chunk, "error")
}

func TestFinalResponse(t *testing.T) {
	out, err := JobStatus{Status: "already_downloaded", JobID: "j"}.FinalResponse("m")
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "already_downloaded", out["detail"])

	_, err = JobStatus{Status: "failed", Error: "disk full"}.FinalResponse("m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = JobStatus{Status: "vanished"}.FinalResponse("m")
	require.Error(t, err)
}

func TestStreamUpdatesPollsToSuccess(t *testing.T) {
	var polls atomic.Int32
	setupUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/api/v1/models/download/status/job-7", r.URL.Path)
		if polls.Add(1) == 1 {
			w.Write([]byte(`{"job_id":"job-7","status":"downloading","downloaded_bytes":512,"total_size_bytes":1024}`))
			return
		}
		w.Write([]byte(`{"job_id":"job-7","status":"completed","downloaded_bytes":1024,"total_size_bytes":1024}`))
	}))

	w := &sink{}
	initial := JobStatus{JobID: "job-7", Status: "initiated"}
	StreamUpdates(context.Background(), w, "llama3", initial)

	lines := strings.Split(strings.TrimSpace(w.String()), "\n")
	require.Len(t, lines, 3)

	var first, last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "initiated", first["status"])
	assert.Equal(t, "success", last["status"])
	assert.Equal(t, "completed", last["detail"])
}

func TestStreamUpdatesFailureBecomesErrorLine(t *testing.T) {
	w := &sink{}
	StreamUpdates(context.Background(), w, "llama3", JobStatus{JobID: "j", Status: "failed", Error: "no space"})

	lines := strings.Split(strings.TrimSpace(w.String()), "\n")
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "error", line["status"])
	assert.Equal(t, "no space", line["error"])
}

func TestInitiateDecodesStatus(t *testing.T) {
	setupUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/models/download", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hf/model", body["model"])
		assert.Equal(t, "q4_k_m", body["quantization"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id":"job-9","status":"downloading"}`))
	}))

	status, err := Initiate(context.Background(), "hf/model", "q4_k_m")
	require.NoError(t, err)
	assert.Equal(t, "job-9", status.JobID)
	assert.Equal(t, "downloading", status.Status)
	assert.Contains(t, TrackedJobs(), "job-9")
}
