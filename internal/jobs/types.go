package jobs

import (
	"time"

	"github.com/yourusername/paper-batch/internal/pdf"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "error"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary はバッチ内ジョブの成否の集計です。
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string            `json:"jobId"`
	Operation   string            `json:"operation"`
	Status      Status            `json:"status"`
	Progress    ProgressInfo      `json:"progress"`
	Summary     Summary           `json:"summary"`
	Items       []pdf.ItemOutcome `json:"items,omitempty"`
	DownloadURL string            `json:"downloadUrl,omitempty"`
	Meta        *pdf.BatchMeta    `json:"meta,omitempty"`
	Error       *ErrorInfo        `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Finished は完了済み（成功・一部成功・失敗）の場合に true を返します。
func (r *Record) Finished() bool {
	switch r.Status {
	case StatusSucceeded, StatusPartial, StatusFailed:
		return true
	}
	return false
}

func applyItem(record *Record, item pdf.ItemOutcome) {
	record.Items = append(record.Items, item)
	switch item.Status {
	case pdf.ItemSucceeded:
		record.Summary.Succeeded++
	case pdf.ItemFailed:
		record.Summary.Failed++
	}
}

// attachItems はリストから読み込んだジョブ結果をレコードに反映します。
// 完了済みでメタデータがある場合は、集計はメタデータの値を優先します。
func attachItems(record *Record, items []pdf.ItemOutcome) {
	record.Items = nil
	if record.Meta != nil {
		if len(items) > 0 {
			record.Items = items
		}
		return
	}
	record.Summary.Succeeded = 0
	record.Summary.Failed = 0
	for _, item := range items {
		applyItem(record, item)
	}
}

func applyDone(record *Record, downloadURL string, meta *pdf.BatchMeta) {
	record.Status = statusFor(meta)
	record.Progress = ProgressInfo{
		Percent: 100,
		Stage:   "completed",
	}
	record.DownloadURL = downloadURL
	record.Meta = meta
	record.Error = nil
	if meta != nil {
		record.Summary = Summary{
			Total:     meta.TotalJobs,
			Succeeded: len(meta.Succeeded),
			Failed:    len(meta.Failed),
		}
	}
}

// statusFor は失敗したジョブが含まれていれば partial、なければ done を返します。
func statusFor(meta *pdf.BatchMeta) Status {
	if meta != nil && len(meta.Failed) > 0 {
		return StatusPartial
	}
	return StatusSucceeded
}
