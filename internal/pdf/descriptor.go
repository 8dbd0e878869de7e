package pdf

import (
	"fmt"
	"path/filepath"

	"github.com/yourusername/paper-batch/internal/batch"
)

// JobKind はジョブ記述子の種別です。
type JobKind string

const (
	KindMerge      JobKind = "merge"
	KindRotate     JobKind = "rotate"
	KindRotatePage JobKind = "rotate-page"
)

// Job は1件の文書変換ジョブの記述子です。MergeJob / RotateJob / RotatePageJob のいずれかです。
type Job interface {
	Kind() JobKind
	OutputPath() string
	job()
}

// MergeJob は Inputs を順に連結して Output に書き出すジョブです。
type MergeJob struct {
	Inputs []string
	Output string
}

// RotateJob は Input の全ページを Angle 度回転して Output に書き出すジョブです。
type RotateJob struct {
	Input  string
	Output string
	Angle  int
}

// RotatePageJob は Input の PageNumber ページ（1始まり）のみを Angle 度回転するジョブです。
type RotatePageJob struct {
	Input      string
	Output     string
	PageNumber int
	Angle      int
}

func (MergeJob) Kind() JobKind      { return KindMerge }
func (RotateJob) Kind() JobKind     { return KindRotate }
func (RotatePageJob) Kind() JobKind { return KindRotatePage }

func (j MergeJob) OutputPath() string      { return j.Output }
func (j RotateJob) OutputPath() string     { return j.Output }
func (j RotatePageJob) OutputPath() string { return j.Output }

func (MergeJob) job()      {}
func (RotateJob) job()     {}
func (RotatePageJob) job() {}

// Execute は記述子の種別に応じた処理を同期的に実行し、出力パスを返します。
func Execute(job Job) (string, error) {
	job, ok := derefJob(job)
	if !ok {
		return "", invalidArgument("ジョブが指定されていません。")
	}
	switch j := job.(type) {
	case MergeJob:
		return MergeFiles(j.Inputs, j.Output)
	case RotateJob:
		return RotatePages(j.Input, j.Output, j.Angle)
	case RotatePageJob:
		return RotatePage(j.Input, j.Output, j.PageNumber, j.Angle)
	default:
		return "", invalidArgument(fmt.Sprintf("未対応のジョブ種別です: %T", job))
	}
}

// derefJob はポインタで渡された記述子を値に揃えます。nil は ok=false です。
func derefJob(job Job) (Job, bool) {
	switch j := job.(type) {
	case nil:
		return nil, false
	case *MergeJob:
		if j == nil {
			return nil, false
		}
		return *j, true
	case *RotateJob:
		if j == nil {
			return nil, false
		}
		return *j, true
	case *RotatePageJob:
		if j == nil {
			return nil, false
		}
		return *j, true
	}
	return job, true
}

// RunBatch は種別の混在したジョブ群を並行実行します。
// 失敗はジョブ情報付きの *JobError として onFailure と Result.Failures に渡されます。
func RunBatch(jobs []Job, onSuccess func(string), onFailure func(error), opts ...batch.Option) *batch.Result[string] {
	return runJobs(jobs, onSuccess, onFailure, opts...)
}

func runJobs[J Job](jobs []J, onSuccess func(string), onFailure func(error), opts ...batch.Option) *batch.Result[string] {
	units := make([]batch.Unit[string], len(jobs))
	seen := make(map[string]struct{}, len(jobs))

	for i, job := range jobs {
		job, ok := derefJob(job)
		if !ok {
			units[i] = func() (string, error) {
				return "", &JobError{Err: invalidArgument("ジョブが指定されていません。")}
			}
			continue
		}

		output := job.OutputPath()
		key := outputKey(output)
		if _, dup := seen[key]; dup && output != "" {
			units[i] = func() (string, error) {
				return "", &JobError{
					Kind:   job.Kind(),
					Output: output,
					Err:    invalidArgument(fmt.Sprintf("出力先 %s が同じバッチ内で重複しています。", filepath.Base(output))),
				}
			}
			continue
		}
		seen[key] = struct{}{}

		units[i] = func() (string, error) {
			out, err := Execute(job)
			if err != nil {
				return "", &JobError{Kind: job.Kind(), Output: output, Err: err}
			}
			return out, nil
		}
	}

	return batch.Run(units, onSuccess, onFailure, opts...)
}

// outputKey は相対パスと絶対パスで同じファイルを指す出力先を同一視するためのキーです。
func outputKey(output string) string {
	if abs, err := filepath.Abs(output); err == nil {
		return abs
	}
	return filepath.Clean(output)
}
