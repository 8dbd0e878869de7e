package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/pdf"
)

const testJobID = "6f1c2f7e-8a43-4d7b-9a1e-2b5c3d4e5f60"

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*Record{}}
}

func (s *fakeStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.JobID] = &cp
	return nil
}

func (s *fakeStore) update(jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return ErrRecordNotFound
	}
	mutate(r)
	return nil
}

func (s *fakeStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(jobID, func(r *Record) { r.Status = StatusRunning })
}

func (s *fakeStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.update(jobID, func(r *Record) {
		if !r.Finished() {
			r.Progress = progress
		}
	})
}

func (s *fakeStore) RecordItem(ctx context.Context, jobID string, item pdf.ItemOutcome) error {
	return s.update(jobID, func(r *Record) { applyItem(r, item) })
}

func (s *fakeStore) MarkDone(ctx context.Context, jobID string, downloadURL string, meta *pdf.BatchMeta) error {
	return s.update(jobID, func(r *Record) { applyDone(r, downloadURL, meta) })
}

func (s *fakeStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = errInfo
	})
}

type stubRunner struct {
	items  []pdf.ItemOutcome
	result *pdf.Result
	err    error
}

func (s *stubRunner) RunJob(ctx context.Context, jobID string, hooks pdf.JobHooks) (*pdf.Result, error) {
	if hooks.Progress != nil {
		hooks.Progress("load", 10)
	}
	for _, item := range s.items {
		if hooks.Item != nil {
			hooks.Item(item)
		}
	}
	return s.result, s.err
}

func newTestManager(store recordStore, runner jobRunner, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate: validator.New(),
	}
}

func pdfTask(t *testing.T, payload TaskPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskTypePDF, body)
}

func TestHandlePDFTask_Success(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(context.Background(), &Record{JobID: testJobID, Status: StatusQueued}))
	runner := &stubRunner{
		items: []pdf.ItemOutcome{{Output: "rotated-01.pdf", Status: pdf.ItemSucceeded}},
		result: &pdf.Result{
			JobID:          testJobID,
			OutputFilename: "rotated-01.pdf",
			Meta: &pdf.BatchMeta{
				TotalJobs: 1,
				Succeeded: []pdf.OutputFile{{Filename: "rotated-01.pdf", Size: 10}},
			},
		},
	}
	m := newTestManager(store, runner, nil)

	err := m.handlePDFTask(context.Background(), pdfTask(t, TaskPayload{JobID: testJobID, Operation: pdf.OperationRotate}))
	require.NoError(t, err)

	record, err := store.Get(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, record.Status)
	assert.Equal(t, 100, record.Progress.Percent)
	assert.Equal(t, "/api/jobs/"+testJobID+"/download", record.DownloadURL)
	assert.Equal(t, Summary{Total: 1, Succeeded: 1}, record.Summary)
	assert.Len(t, record.Items, 1)
}

func TestHandlePDFTask_Partial(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(context.Background(), &Record{JobID: testJobID, Status: StatusQueued}))
	runner := &stubRunner{
		items: []pdf.ItemOutcome{
			{Output: "rotated-01.pdf", Status: pdf.ItemSucceeded},
			{Output: "rotated-02.pdf", Status: pdf.ItemFailed, Code: pdf.CodeIOFailure},
		},
		result: &pdf.Result{
			JobID:          testJobID,
			OutputFilename: "rotated-01.pdf",
			PublishedURL:   "https://bucket.example.com/jobs/x/rotated-01.pdf",
			Meta: &pdf.BatchMeta{
				TotalJobs: 2,
				Succeeded: []pdf.OutputFile{{Filename: "rotated-01.pdf"}},
				Failed:    []pdf.FailedJob{{Output: "rotated-02.pdf", Code: pdf.CodeIOFailure}},
			},
		},
	}
	m := newTestManager(store, runner, nil)

	require.NoError(t, m.handlePDFTask(context.Background(), pdfTask(t, TaskPayload{JobID: testJobID, Operation: pdf.OperationRotate})))

	record, err := store.Get(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, record.Status)
	assert.Equal(t, "https://bucket.example.com/jobs/x/rotated-01.pdf", record.DownloadURL)
	assert.Equal(t, Summary{Total: 2, Succeeded: 1, Failed: 1}, record.Summary)
}

func TestHandlePDFTask_Failure(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Upsert(context.Background(), &Record{JobID: testJobID, Status: StatusQueued}))
	runner := &stubRunner{err: &pdf.Error{Code: pdf.CodeIOFailure, Message: "読み込みに失敗しました"}}
	m := newTestManager(store, runner, nil)

	err := m.handlePDFTask(context.Background(), pdfTask(t, TaskPayload{JobID: testJobID, Operation: pdf.OperationMerge}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	record, err := store.Get(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, pdf.CodeIOFailure, record.Error.Code)
}

func TestHandlePDFTask_RecreatesMissingRecord(t *testing.T) {
	store := newFakeStore()
	runner := &stubRunner{result: &pdf.Result{JobID: testJobID, OutputFilename: "merged.pdf", Meta: &pdf.BatchMeta{TotalJobs: 1}}}
	m := newTestManager(store, runner, nil)

	require.NoError(t, m.handlePDFTask(context.Background(), pdfTask(t, TaskPayload{JobID: testJobID, Operation: pdf.OperationMerge})))

	record, err := store.Get(context.Background(), testJobID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusSucceeded, record.Status)
}

func TestHandlePDFTask_InvalidPayload(t *testing.T) {
	m := newTestManager(newFakeStore(), &stubRunner{}, nil)

	err := m.handlePDFTask(context.Background(), asynq.NewTask(taskTypePDF, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	for _, payload := range []TaskPayload{
		{JobID: "", Operation: pdf.OperationMerge},
		{JobID: "not-a-uuid", Operation: pdf.OperationMerge},
		{JobID: testJobID, Operation: "split"},
	} {
		err := m.handlePDFTask(context.Background(), pdfTask(t, payload))
		assert.True(t, errors.Is(err, asynq.SkipRetry), "payload=%+v", payload)
	}
}

func TestBuildDownloadURL(t *testing.T) {
	result := &pdf.Result{JobID: "job-1", OutputFilename: "results 1.zip"}

	m := newTestManager(newFakeStore(), &stubRunner{}, &config.Config{})
	assert.Equal(t, "/api/jobs/job-1/download", m.buildDownloadURL(result))

	m = newTestManager(newFakeStore(), &stubRunner{}, &config.Config{JobResultBaseURL: "https://files.example.com/jobs/"})
	assert.Equal(t, "https://files.example.com/jobs/job-1/results%201.zip", m.buildDownloadURL(result))

	result.PublishedURL = "https://s3.example.com/x"
	assert.Equal(t, "https://s3.example.com/x", m.buildDownloadURL(result))
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, &stubRunner{}, newFakeStore(), nil)
	assert.Error(t, err)

	_, err = NewManager(&config.Config{}, nil, newFakeStore(), nil)
	assert.Error(t, err)

	_, err = NewManager(&config.Config{}, &stubRunner{}, nil, nil)
	assert.Error(t, err)

	_, err = NewManager(&config.Config{QueueRedisURL: "http://not-redis"}, &stubRunner{}, newFakeStore(), nil)
	assert.Error(t, err)
}

func TestRecordHelpers(t *testing.T) {
	var r Record
	applyItem(&r, pdf.ItemOutcome{Status: pdf.ItemSucceeded})
	applyItem(&r, pdf.ItemOutcome{Status: pdf.ItemFailed})
	applyItem(&r, pdf.ItemOutcome{Status: pdf.ItemSucceeded})
	assert.Equal(t, 2, r.Summary.Succeeded)
	assert.Equal(t, 1, r.Summary.Failed)
	assert.False(t, r.Finished())

	assert.Equal(t, StatusSucceeded, statusFor(nil))
	assert.Equal(t, StatusPartial, statusFor(&pdf.BatchMeta{Failed: []pdf.FailedJob{{}}}))

	applyDone(&r, "/dl", &pdf.BatchMeta{TotalJobs: 3, Succeeded: make([]pdf.OutputFile, 2), Failed: make([]pdf.FailedJob, 1)})
	assert.True(t, r.Finished())
	assert.Equal(t, StatusPartial, r.Status)
	assert.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1}, r.Summary)
}
