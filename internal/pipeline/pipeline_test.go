package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/gpu"
	"github.com/luxfi/kanon/internal/queue"
	"github.com/luxfi/kanon/internal/storage"
)

func newTestContext(t testing.TB) *kanon.Context {
	t.Helper()
	kc, err := kanon.NewContextFromLiteral(kanon.PN12QP275T17)
	require.NoError(t, err)
	return kc
}

func testBackendConfig() BackendConfig {
	cfg := DefaultBackendConfig()
	cfg.Host.Workers = 2
	cfg.Device.Streams = 2
	cfg.Device.MemoryMB = 64
	return cfg
}

// expected computes the plaintext answer of a request.
func expected(rows [][]uint64, user int, k uint64) ([]uint64, []int) {
	pops := Populations(rows)
	ind := make([]uint64, len(pops))
	below := []int{}
	for j, pop := range pops {
		if rows[user][j]*pop < k {
			ind[j] = 1
			if rows[user][j] == 1 {
				below = append(below, j)
			}
		}
	}
	return ind, below
}

func TestGenerateDataset(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a, err := GenerateDataset(10, 20, 0.5, 7)
		require.NoError(t, err)
		b, err := GenerateDataset(10, 20, 0.5, 7)
		require.NoError(t, err)
		require.Equal(t, a, b)

		c, err := GenerateDataset(10, 20, 0.5, 8)
		require.NoError(t, err)
		require.NotEqual(t, a, c)
	})

	t.Run("Extremes", func(t *testing.T) {
		zeros, err := GenerateDataset(4, 5, 0, 1)
		require.NoError(t, err)
		ones, err := GenerateDataset(4, 5, 1, 1)
		require.NoError(t, err)
		for i := range zeros {
			for j := range zeros[i] {
				require.Zero(t, zeros[i][j])
				require.Equal(t, uint64(1), ones[i][j])
			}
		}
	})

	t.Run("Density", func(t *testing.T) {
		data, err := GenerateDataset(200, 200, 0.3, 42)
		require.NoError(t, err)
		var n uint64
		for _, pop := range Populations(data) {
			n += pop
		}
		frac := float64(n) / (200 * 200)
		require.InDelta(t, 0.3, frac, 0.02)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, tc := range []struct {
			rows, cols int
			density    float64
		}{
			{0, 5, 0.5},
			{5, 0, 0.5},
			{-1, 5, 0.5},
			{5, 5, -0.1},
			{5, 5, 1.1},
		} {
			_, err := GenerateDataset(tc.rows, tc.cols, tc.density, 0)
			require.ErrorIs(t, err, kanon.ErrInvalidParameter, "%+v", tc)
		}
	})
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	require.Equal(t, MethodPolynomial, m)

	for _, name := range []string{"range", "polynomial", "polynomial-encrypted"} {
		m, err := ParseMethod(name)
		require.NoError(t, err)
		require.Equal(t, Method(name), m)
	}

	_, err = ParseMethod("bitwise")
	require.ErrorIs(t, err, kanon.ErrInvalidParameter)
}

func TestRun(t *testing.T) {
	kc := newTestContext(t)
	table, err := kanon.Coefficients(kc.Modulus())
	require.NoError(t, err)

	rows := [][]uint64{
		{1, 1, 0, 1, 1},
		{1, 0, 1, 1, 0},
		{1, 1, 1, 0, 0},
		{0, 1, 0, 1, 0},
		{1, 0, 0, 1, 0},
		{1, 1, 0, 1, 0},
	}
	const user = 0

	backends := NewBackends(kc, testBackendConfig(), BackendHost)
	defer backends.Close()

	for _, kind := range []string{BackendHost, BackendDevice} {
		b, err := backends.Get(kind)
		require.NoError(t, err)

		for _, method := range []Method{MethodRange, MethodPolynomial, MethodPolynomialEncrypted} {
			for _, k := range []uint64{2, 4} {
				t.Run(fmt.Sprintf("%s/%s/K=%d", kind, method, k), func(t *testing.T) {
					if testing.Short() && method == MethodRange && k == 4 {
						t.Skip("skipping in short mode")
					}
					res, err := Run(b, kc, Request{
						Rows:      rows,
						User:      user,
						Threshold: k,
						Method:    method,
						Table:     table,
					})
					require.NoError(t, err)

					wantInd, wantBelow := expected(rows, user, k)
					if diff := cmp.Diff(wantInd, res.Indicator); diff != "" {
						t.Fatalf("indicator (-want +got):\n%s", diff)
					}
					require.Equal(t, wantBelow, res.Below)
					require.Positive(t, res.Timings.Total())
				})
			}
		}
	}
}

func TestRunValidation(t *testing.T) {
	kc := newTestContext(t)
	table, err := kanon.Coefficients(kc.Modulus())
	require.NoError(t, err)
	other, err := kanon.Coefficients(97)
	require.NoError(t, err)

	host, err := kanon.NewHostBackend(kc, kanon.HostConfig{Workers: 1})
	require.NoError(t, err)
	defer host.Close()

	rows := [][]uint64{{1, 0}, {0, 1}}
	nine := make([][]uint64, 9)
	for i := range nine {
		nine[i] = []uint64{1}
	}

	testCases := []struct {
		name string
		req  Request
	}{
		{"Empty", Request{Method: MethodRange, Threshold: 2}},
		{"Ragged", Request{Rows: [][]uint64{{1, 0}, {1}}, Method: MethodRange, Threshold: 2}},
		{"TooManyRegions", Request{Rows: [][]uint64{make([]uint64, kc.Slots()+1)}, Method: MethodRange, Threshold: 2}},
		{"UserOutOfRange", Request{Rows: rows, User: 2, Method: MethodRange, Threshold: 2}},
		{"RangeZeroThreshold", Request{Rows: rows, Method: MethodRange}},
		{"RangeThresholdAtModulus", Request{Rows: rows, Method: MethodRange, Threshold: 17}},
		{"PolynomialZeroThreshold", Request{Rows: rows, Method: MethodPolynomial, Table: table}},
		{"EncryptedZeroThreshold", Request{Rows: rows, Method: MethodPolynomialEncrypted, Table: table}},
		{"PolynomialThresholdTooLarge", Request{Rows: rows, Method: MethodPolynomial, Threshold: 9, Table: table}},
		{"PolynomialTooManyRows", Request{Rows: nine, Method: MethodPolynomial, Threshold: 2, Table: table}},
		{"PolynomialNoTable", Request{Rows: rows, Method: MethodPolynomial, Threshold: 2}},
		{"PolynomialWrongTable", Request{Rows: rows, Method: MethodPolynomialEncrypted, Threshold: 2, Table: other}},
		{"UnknownMethod", Request{Rows: rows, Method: "bitwise", Threshold: 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := kc.Stats()
			_, err := Run(host, kc, tc.req)
			require.ErrorIs(t, err, kanon.ErrInvalidParameter)
			require.Equal(t, before, kc.Stats(), "rejected before any encryption")
		})
	}
}

func TestTableStore(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage(16)
	ts := NewTableStore(mem)
	defer ts.Close()

	want, err := kanon.Coefficients(17)
	require.NoError(t, err)

	t.Run("MissStores", func(t *testing.T) {
		got, err := ts.Load(ctx, 17)
		require.NoError(t, err)
		require.Equal(t, want.Odd(), got.Odd())

		ok, err := mem.Exists(ctx, tableHandle(17))
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("Hit", func(t *testing.T) {
		got, err := ts.Load(ctx, 17)
		require.NoError(t, err)
		require.Equal(t, want.Checksum(), got.Checksum())
	})

	t.Run("CorruptRecomputed", func(t *testing.T) {
		data, err := mem.Load(ctx, tableHandle(17))
		require.NoError(t, err)
		bad := append([]byte(nil), data...)
		bad[20] ^= 0xff
		require.NoError(t, mem.Put(ctx, tableHandle(17), bad))

		got, err := ts.Load(ctx, 17)
		require.NoError(t, err)
		require.Equal(t, want.Odd(), got.Odd())

		fixed, err := mem.Load(ctx, tableHandle(17))
		require.NoError(t, err)
		require.Equal(t, data, fixed)
	})

	t.Run("FileStore", func(t *testing.T) {
		fs, err := storage.NewFileStorage(t.TempDir())
		require.NoError(t, err)
		ts := NewTableStore(fs)
		got, err := ts.Load(ctx, 97)
		require.NoError(t, err)
		require.Equal(t, uint64(97), got.Modulus())
	})

	t.Run("InvalidModulus", func(t *testing.T) {
		_, err := ts.Load(ctx, 16)
		require.ErrorIs(t, err, kanon.ErrInvalidParameter)
	})
}

func TestBackends(t *testing.T) {
	kc := newTestContext(t)
	s := NewBackends(kc, testBackendConfig(), "")

	a, err := s.Get("")
	require.NoError(t, err)
	require.Equal(t, "host", a.Name())
	b, err := s.Get(BackendHost)
	require.NoError(t, err)
	require.Same(t, a, b)

	d, err := s.Get(BackendDevice)
	require.NoError(t, err)
	require.IsType(t, &gpu.Backend{}, d)

	_, err = s.Get("tpu")
	require.ErrorIs(t, err, kanon.ErrInvalidParameter)

	require.NoError(t, s.Close())
	_, err = a.RangeCompare(nil, 1)
	require.ErrorIs(t, err, kanon.ErrBackendClosed)
}

func waitJob(t *testing.T, q queue.Queue, id string) *queue.Job {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		j, err := q.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == queue.StatusCompleted || j.Status == queue.StatusFailed
	}, 2*time.Minute, 10*time.Millisecond)
	return job
}

func TestWorkerPool(t *testing.T) {
	ctx := context.Background()
	kc := newTestContext(t)
	q := queue.NewMemoryQueue(16)
	defer q.Close()

	backends := NewBackends(kc, testBackendConfig(), BackendHost)
	defer backends.Close()
	tables := NewTableStore(storage.NewMemoryStorage(16))

	pool := NewWorkerPool(WorkerConfig{Workers: 2, MaxRows: 8, DefaultTable: kc.Modulus()}, q, kc, backends, tables)
	require.NoError(t, pool.Start(ctx))
	require.ErrorIs(t, pool.Start(ctx), ErrPoolRunning)

	good := []*queue.Job{
		{ID: "poly", Method: "polynomial", Rows: 6, Cols: 8, Density: 0.5, Seed: 1, User: 2, Threshold: 3},
		{ID: "poly-enc", Method: "polynomial-encrypted", Backend: "device", Rows: 6, Cols: 7, Density: 0.5, Seed: 2, User: 0, Threshold: 4},
		{ID: "range", Method: "range", Rows: 5, Cols: 8, Density: 0.7, Seed: 3, User: 1, Threshold: 2},
	}
	bad := []*queue.Job{
		{ID: "bad-method", Method: "bitwise", Rows: 4, Cols: 4, Density: 0.5, Threshold: 2},
		{ID: "too-many-rows", Method: "range", Rows: 9, Cols: 4, Density: 0.5, Threshold: 2},
		{ID: "bad-density", Method: "range", Rows: 4, Cols: 4, Density: 2, Threshold: 2},
		{ID: "bad-backend", Method: "range", Backend: "tpu", Rows: 4, Cols: 4, Density: 0.5, Threshold: 2},
	}
	for _, job := range append(append([]*queue.Job{}, good...), bad...) {
		require.NoError(t, q.Push(ctx, job))
	}

	for _, j := range good {
		job := waitJob(t, q, j.ID)
		require.Equal(t, queue.StatusCompleted, job.Status, job.Error)

		rows, err := GenerateDataset(j.Rows, j.Cols, j.Density, j.Seed)
		require.NoError(t, err)
		wantInd, wantBelow := expected(rows, j.User, j.Threshold)
		require.Equal(t, wantInd, job.Result, j.ID)
		require.Equal(t, wantBelow, append([]int{}, job.Below...), j.ID)
	}
	for _, j := range bad {
		job := waitJob(t, q, j.ID)
		require.Equal(t, queue.StatusFailed, job.Status, j.ID)
		require.NotEmpty(t, job.Error)
	}

	require.NoError(t, pool.Stop())
	require.False(t, pool.Running())
	require.Equal(t, int64(len(good)), pool.Succeeded())
	require.Equal(t, int64(len(bad)), pool.Failed())
}

func TestLoadOrCreateKeys(t *testing.T) {
	ctx := context.Background()
	params, err := kanon.NewParametersFromLiteral(kanon.PN12QP275T17)
	require.NoError(t, err)
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	first, created, err := LoadOrCreateKeys(ctx, fs, "worker", params)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := LoadOrCreateKeys(ctx, fs, "worker", params)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, first.SK.Equal(second.SK))

	other, err := kanon.NewParametersFromLiteral(kanon.PN12QP385T97)
	require.NoError(t, err)
	_, created, err = LoadOrCreateKeys(ctx, fs, "worker", other)
	require.NoError(t, err)
	require.True(t, created, "keys are kept apart per parameter set")

	_, _, err = LoadOrCreateKeys(ctx, fs, "bad name", params)
	require.ErrorIs(t, err, storage.ErrInvalidHandle)
}
