package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/pdf"
)

const (
	taskTypePDF = "pdf:process"
	queueName   = "pdf"

	defaultConcurrency = 4
)

// recordStore はジョブ状態の保存先です。本番では *Store を使用します。
type recordStore interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkRunning(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error
	RecordItem(ctx context.Context, jobID string, item pdf.ItemOutcome) error
	MarkDone(ctx context.Context, jobID string, downloadURL string, meta *pdf.BatchMeta) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
}

// jobRunner はマニフェスト済みのジョブを実行します。本番では *pdf.Service を使用します。
type jobRunner interface {
	RunJob(ctx context.Context, jobID string, hooks pdf.JobHooks) (*pdf.Result, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg      *config.Config
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    recordStore
	runner   jobRunner
	logger   *slog.Logger
	validate *validator.Validate
}

// TaskPayload はPDF操作ジョブのペイロードです。
type TaskPayload struct {
	JobID     string            `json:"jobId" validate:"required,uuid"`
	Operation pdf.OperationType `json:"operation" validate:"required,oneof=merge rotate"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner jobRunner, store recordStore, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: &asynqLogger{logger: logger.With(slog.String("component", "asynq"))},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:      cfg,
		client:   client,
		server:   server,
		mux:      mux,
		store:    store,
		runner:   runner,
		logger:   logger,
		validate: validator.New(),
	}
	mux.HandleFunc(taskTypePDF, manager.handlePDFTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入します。
// バッチ内の失敗はジョブ単位で記録されるため、タスク自体は再試行しません。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if err := m.validatePayload(payload); err != nil {
		return "", err
	}

	record := &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypePDF, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.TaskID(payload.JobID))
	if err != nil {
		return "", err
	}
	m.logger.Info("job enqueued",
		slog.String("job_id", payload.JobID),
		slog.String("operation", string(payload.Operation)),
		slog.String("task_id", info.ID),
	)
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) validatePayload(payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if err := m.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid task payload: %w", err)
	}
	return nil
}

func (m *Manager) buildDownloadURL(result *pdf.Result) string {
	if result.PublishedURL != "" {
		return result.PublishedURL
	}
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}
