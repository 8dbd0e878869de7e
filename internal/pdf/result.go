package pdf

import (
	"sync"

	"github.com/yourusername/paper-batch/internal/storage"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationMerge  OperationType = "merge"
	OperationRotate OperationType = "rotate"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// Result はPDF処理の成果を表します。
// 一部のジョブが失敗しても、成功したジョブがあれば Result が返ります。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	PublishedURL   string        `json:"publishedUrl,omitempty"`
	Meta           *BatchMeta    `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// AllSuccessful はバッチ内のすべてのジョブが成功した場合に true を返します。
func (r *Result) AllSuccessful() bool {
	return r != nil && r.Meta != nil && len(r.Meta.Failed) == 0
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = storage.RemoveDir(r.jobDir)
	})
	return r.cleanupErr
}

// BatchMeta はバッチ処理のメタデータです。
type BatchMeta struct {
	TotalJobs int              `json:"totalJobs"`
	Succeeded []OutputFile     `json:"succeeded"`
	Failed    []FailedJob      `json:"failed"`
	Sources   []SourceFileMeta `json:"sources"`
}

// OutputFile は成功したジョブの出力ファイルです。
type OutputFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// FailedJob は失敗したジョブの情報です。
type FailedJob struct {
	Kind    JobKind `json:"kind,omitempty"`
	Output  string  `json:"output,omitempty"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

// ItemStatus はバッチ内の1ジョブの結果です。
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
)

// ItemOutcome はジョブ単位の完了通知です。
type ItemOutcome struct {
	Output  string     `json:"output"`
	Status  ItemStatus `json:"status"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ItemReporter はジョブ単位の完了通知を受け取るコールバックです。
// バッチ内の各ジョブの goroutine から並行に呼ばれます。
type ItemReporter func(ItemOutcome)

// JobHooks は RunJob 実行中の通知先です。いずれも nil で構いません。
type JobHooks struct {
	Progress ProgressReporter
	Item     ItemReporter
}
