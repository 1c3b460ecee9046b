package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/pipeline"
	"github.com/luxfi/kanon/internal/queue"
	"github.com/luxfi/kanon/internal/storage"
)

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(data)))
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(Config{Modulus: 17, Slots: 4096}, queue.NewMemoryQueue(1))
	rec := get(s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 17, body["modulus"])
}

func TestSubmitValidation(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	h := New(Config{Modulus: 17, Slots: 64, MaxRows: 8}, q).Handler()

	valid := SubmitRequest{Method: "polynomial", Rows: 4, Cols: 8, Density: 0.5, User: 1, Threshold: 3}
	testCases := []struct {
		name   string
		mutate func(r *SubmitRequest)
	}{
		{"UnknownMethod", func(r *SubmitRequest) { r.Method = "bitwise" }},
		{"UnknownBackend", func(r *SubmitRequest) { r.Backend = "tpu" }},
		{"NoRows", func(r *SubmitRequest) { r.Rows = 0 }},
		{"TooManyRows", func(r *SubmitRequest) { r.Rows = 9 }},
		{"TooManyCols", func(r *SubmitRequest) { r.Cols = 65 }},
		{"Density", func(r *SubmitRequest) { r.Density = 1.5 }},
		{"User", func(r *SubmitRequest) { r.User = 4 }},
		{"ZeroThreshold", func(r *SubmitRequest) { r.Threshold = 0 }},
		{"EncryptedZeroThreshold", func(r *SubmitRequest) { r.Method = "polynomial-encrypted"; r.Threshold = 0 }},
		{"PolynomialThreshold", func(r *SubmitRequest) { r.Threshold = 9 }},
		{"RangeThreshold", func(r *SubmitRequest) { r.Method = "range"; r.Threshold = 17 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			rec := post(t, h, req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("UnknownField", func(t *testing.T) {
		rec := post(t, h, map[string]any{"method": "range", "bits": 8})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	require.Zero(t, q.Pending())
}

func TestSubmitQueueFull(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	h := New(Config{Modulus: 17, Slots: 64}, q).Handler()
	req := SubmitRequest{Method: "range", Rows: 4, Cols: 8, Density: 0.5, Threshold: 3}

	require.Equal(t, http.StatusAccepted, post(t, h, req).Code)
	require.Equal(t, http.StatusServiceUnavailable, post(t, h, req).Code)
}

func TestGetUnknownJob(t *testing.T) {
	h := New(Config{}, queue.NewMemoryQueue(1)).Handler()
	require.Equal(t, http.StatusNotFound, get(h, "/jobs/missing").Code)
}

func TestJobLifecycle(t *testing.T) {
	kc, err := kanon.NewContextFromLiteral(kanon.PN12QP275T17)
	require.NoError(t, err)

	q := queue.NewMemoryQueue(8)
	defer q.Close()
	h := New(Config{Modulus: kc.Modulus(), Slots: kc.Slots(), MaxRows: 8}, q).Handler()

	req := SubmitRequest{Method: "polynomial", Rows: 6, Cols: 8, Density: 0.6, Seed: 9, User: 3, Threshold: 4}
	rec := post(t, h, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sub))
	require.Equal(t, "pending", sub.Status)
	require.Len(t, sub.ID, 32)

	rec = get(h, "/jobs/"+sub.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := pipeline.DefaultBackendConfig()
	cfg.Host.Workers = 2
	backends := pipeline.NewBackends(kc, cfg, pipeline.BackendHost)
	defer backends.Close()
	pool := pipeline.NewWorkerPool(pipeline.WorkerConfig{}, q, kc, backends,
		pipeline.NewTableStore(storage.NewMemoryStorage(1)))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	var job JobResponse
	require.Eventually(t, func() bool {
		rec := get(h, "/jobs/"+sub.ID)
		if rec.Code != http.StatusOK {
			return false
		}
		job = JobResponse{}
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status == "completed" || job.Status == "failed"
	}, 2*time.Minute, 10*time.Millisecond)

	require.Equal(t, "completed", job.Status, job.Error)
	require.Len(t, job.Result, req.Cols)

	rows, err := pipeline.GenerateDataset(req.Rows, req.Cols, req.Density, req.Seed)
	require.NoError(t, err)
	pops := pipeline.Populations(rows)
	for j, in := range rows[req.User] {
		below := in == 1 && pops[j] < req.Threshold
		require.Equal(t, below, slices.Contains(job.Below, j), "region %d", j)
	}
}
