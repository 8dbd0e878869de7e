package pdf

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-batch/internal/batch"
)

type collected struct {
	mu        sync.Mutex
	successes []string
	failures  []error
}

func (c *collected) success(out string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes = append(c.successes, out)
}

func (c *collected) failure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPDF(t, dir, "in.pdf", 0, 0)

	out, err := Execute(RotateJob{Input: in, Output: filepath.Join(dir, "r.pdf"), Angle: 180})
	require.NoError(t, err)
	assert.Equal(t, []int{180, 180}, readRotations(t, out))

	out, err = Execute(&RotatePageJob{Input: in, Output: filepath.Join(dir, "p.pdf"), PageNumber: 2, Angle: 270})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 270}, readRotations(t, out))

	_, err = Execute(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var nilJob *MergeJob
	_, err = Execute(nilJob)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBatchRotatePages(t *testing.T) {
	dir := t.TempDir()
	jobs := []RotateJob{
		{Input: writeTestPDF(t, dir, "a.pdf", 0), Output: filepath.Join(dir, "a-out.pdf"), Angle: 90},
		{Input: writeTestPDF(t, dir, "b.pdf", 0), Output: filepath.Join(dir, "b-out.pdf"), Angle: 180},
		{Input: writeTestPDF(t, dir, "c.pdf", 90), Output: filepath.Join(dir, "c-out.pdf"), Angle: -90},
	}

	var got collected
	result := BatchRotatePages(jobs, got.success, got.failure)

	require.True(t, result.AllSuccessful())
	assert.Equal(t, 3, result.Total())
	assert.ElementsMatch(t, result.Successes, got.successes)
	assert.Empty(t, got.failures)

	assert.Equal(t, []int{90}, readRotations(t, jobs[0].Output))
	assert.Equal(t, []int{180}, readRotations(t, jobs[1].Output))
	assert.Equal(t, []int{0}, readRotations(t, jobs[2].Output))
}

func TestBatchRotatePage_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPDF(t, dir, "in.pdf", 0, 0)
	jobs := []RotatePageJob{
		{Input: in, Output: filepath.Join(dir, "ok.pdf"), PageNumber: 1, Angle: 90},
		{Input: in, Output: filepath.Join(dir, "bad.pdf"), PageNumber: 5, Angle: 90},
	}

	var got collected
	result := BatchRotatePage(jobs, got.success, got.failure)

	assert.False(t, result.AllSuccessful())
	assert.Equal(t, 2, result.Total())
	assert.Equal(t, []string{jobs[0].Output}, result.Successes)
	require.Len(t, result.Failures, 1)

	var jobErr *JobError
	require.True(t, errors.As(result.Failures[0], &jobErr))
	assert.Equal(t, KindRotatePage, jobErr.Kind)
	assert.Equal(t, jobs[1].Output, jobErr.Output)
	assert.ErrorIs(t, result.Failures[0], ErrInvalidArgument)
	assert.NoFileExists(t, jobs[1].Output)
}

func TestBatchMerge_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	a := writeTestPDF(t, dir, "a.pdf", 0)
	b := writeTestPDF(t, dir, "b.pdf", 90)
	jobs := []MergeJob{
		{Inputs: []string{a, b}, Output: filepath.Join(dir, "ab.pdf")},
		{Inputs: []string{a, filepath.Join(dir, "missing.pdf")}, Output: filepath.Join(dir, "broken.pdf")},
		{Inputs: nil, Output: filepath.Join(dir, "empty.pdf")},
	}

	var got collected
	result := BatchMerge(jobs, got.success, got.failure)

	assert.Equal(t, 3, result.Total())
	assert.Equal(t, []string{jobs[0].Output}, result.Successes)
	require.Len(t, result.Failures, 2)
	assert.Len(t, got.failures, 2)

	codes := map[string]string{}
	for _, err := range result.Failures {
		var jobErr *JobError
		require.True(t, errors.As(err, &jobErr))
		codes[filepath.Base(jobErr.Output)] = ErrorCode(err)
	}
	assert.Equal(t, CodeIOFailure, codes["broken.pdf"])
	assert.Equal(t, CodeInvalidInput, codes["empty.pdf"])
	assert.Equal(t, []int{0, 90}, readRotations(t, jobs[0].Output))
	assertNoTempFiles(t, dir)
}

func TestRunBatch_MixedKinds(t *testing.T) {
	dir := t.TempDir()
	a := writeTestPDF(t, dir, "a.pdf", 0, 0)
	b := writeTestPDF(t, dir, "b.pdf", 0)
	jobs := []Job{
		MergeJob{Inputs: []string{a, b}, Output: filepath.Join(dir, "m.pdf")},
		RotateJob{Input: a, Output: filepath.Join(dir, "r.pdf"), Angle: 90},
		&RotatePageJob{Input: a, Output: filepath.Join(dir, "p.pdf"), PageNumber: 2, Angle: 180},
		RotateJob{Input: b, Output: filepath.Join(dir, "x.pdf"), Angle: 45},
		nil,
	}

	result := RunBatch(jobs, nil, nil)

	assert.Equal(t, len(jobs), result.Total())
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "m.pdf"),
		filepath.Join(dir, "r.pdf"),
		filepath.Join(dir, "p.pdf"),
	}, result.Successes)
	assert.Len(t, result.Failures, 2)
	for _, err := range result.Failures {
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	assert.Equal(t, []int{0, 180}, readRotations(t, filepath.Join(dir, "p.pdf")))
}

func TestRunBatch_DuplicateOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPDF(t, dir, "in.pdf", 0)
	out := filepath.Join(dir, "same.pdf")
	jobs := []Job{
		RotateJob{Input: in, Output: out, Angle: 90},
		RotateJob{Input: in, Output: filepath.Join(dir, ".", "same.pdf"), Angle: 180},
	}

	result := RunBatch(jobs, nil, nil)

	require.Len(t, result.Successes, 1)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], ErrInvalidArgument)
	assert.Equal(t, []int{90}, readRotations(t, out))
}

func TestRunBatch_DuplicateOutputRelativeAndAbsolute(t *testing.T) {
	dir := t.TempDir()
	in := writeTestPDF(t, dir, "in.pdf", 0)
	t.Chdir(dir)

	jobs := []RotateJob{
		{Input: in, Output: "o.pdf", Angle: 90},
		{Input: in, Output: filepath.Join(dir, "o.pdf"), Angle: 180},
	}
	result := BatchRotatePages(jobs, nil, nil)

	require.Len(t, result.Successes, 1)
	require.Len(t, result.Failures, 1)
	var jobErr *JobError
	require.ErrorAs(t, result.Failures[0], &jobErr)
	assert.Equal(t, filepath.Join(dir, "o.pdf"), jobErr.Output)
	assert.ErrorIs(t, jobErr, ErrInvalidArgument)
	assert.Equal(t, []int{90}, readRotations(t, filepath.Join(dir, "o.pdf")))
}

func TestRunBatch_LogsOnlyThroughInjectedLogger(t *testing.T) {
	var global bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&global, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	jobs := []Job{
		RotateJob{Input: filepath.Join(dir, "missing.pdf"), Output: filepath.Join(dir, "a.pdf"), Angle: 90},
		RotatePageJob{Input: filepath.Join(dir, "missing.pdf"), Output: filepath.Join(dir, "b.pdf"), PageNumber: 1, Angle: 90},
	}
	result := RunBatch(jobs, nil, nil, batch.WithLogger(logger))

	require.Len(t, result.Failures, 2)
	assert.Empty(t, global.String())
}

func TestRunBatch_Empty(t *testing.T) {
	result := RunBatch(nil, nil, nil)
	assert.Equal(t, 0, result.Total())
	assert.True(t, result.AllSuccessful())
}
