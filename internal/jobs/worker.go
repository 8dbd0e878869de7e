// Package jobs は非同期ジョブ管理機能を提供します。
//
// HTTP ハンドラーが作成したマニフェストを Asynq 経由でワーカーに渡し、
// 進捗とバッチ内の各ジョブの結果を Redis 上のレコードに記録します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/yourusername/paper-batch/internal/pdf"
)

func (m *Manager) handlePDFTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := m.validatePayload(&payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := m.logger.With(slog.String("job_id", payload.JobID))
	if err := m.store.MarkRunning(ctx, payload.JobID); err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		// レコードが期限切れで消えている場合は作り直す
		if err := m.store.Upsert(ctx, &Record{
			JobID:     payload.JobID,
			Operation: string(payload.Operation),
			Status:    StatusRunning,
			Progress:  ProgressInfo{Stage: "load"},
		}); err != nil {
			return err
		}
	}

	hooks := pdf.JobHooks{
		Progress: func(stage string, percent int) {
			if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
				Stage:   stage,
				Percent: percent,
			}); err != nil {
				logger.Warn("failed to update progress", slog.String("error", err.Error()))
			}
		},
		Item: func(item pdf.ItemOutcome) {
			if err := m.store.RecordItem(ctx, payload.JobID, item); err != nil {
				logger.Warn("failed to record item", slog.String("output", item.Output), slog.String("error", err.Error()))
			}
		},
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, hooks)
	if err != nil {
		logger.Error("job failed", slog.String("error", err.Error()))
		if markErr := m.failJobWithError(ctx, payload.JobID, err); markErr != nil {
			return markErr
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *pdf.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	downloadURL := m.buildDownloadURL(result)
	if err := m.store.MarkDone(ctx, jobID, downloadURL, result.Meta); err != nil {
		return err
	}
	m.logger.Info("job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(statusFor(result.Meta))),
		slog.String("artifact", result.OutputFilename),
	)
	return nil
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		return m.store.MarkFailed(ctx, jobID, &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message})
	}
	return m.store.MarkFailed(ctx, jobID, &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()})
}

// asynqLogger は asynq.Logger を slog に中継します。
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

// Fatal は asynq の契約どおりプロセスを終了します。
func (l *asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
