package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/yourusername/paper-batch/internal/batch"
)

const resultMetaFilename = "meta.json"

// resultRecord は meta.json に保存する成果物情報です。
type resultRecord struct {
	Type      OperationType `json:"type"`
	CreatedAt string        `json:"createdAt"`
	Artifact  string        `json:"artifact"`
	Kind      ResultKind    `json:"kind"`
	Meta      *BatchMeta    `json:"meta"`
}

// RunJob はジョブIDに対応するマニフェストのジョブ群をバッチ実行します。
//
// 一部のジョブが失敗しても成功分の成果物を含む Result を返します。
// すべてのジョブが失敗した場合はエラーを返し、作業ディレクトリを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, hooks JobHooks) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := s.workspace.Lookup(jobID)
	if err != nil {
		return nil, err
	}

	fail := func(runErr error) (*Result, error) {
		if cleanupErr := s.workspace.Remove(jobID); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}

	manifest, err := loadManifest(ws.Dir)
	if err != nil {
		return fail(err)
	}
	if manifest.Operation == "" {
		return fail(fmt.Errorf("manifest missing operation"))
	}
	jobs, err := jobsFromManifest(ws, manifest)
	if err != nil {
		return fail(err)
	}
	if len(jobs) == 0 {
		return fail(fmt.Errorf("manifest has no jobs"))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("operation", string(manifest.Operation)))
	logger.Info("batch started", slog.Int("jobs", len(jobs)))
	reportProgress(hooks.Progress, "load", 10)

	total := len(jobs)
	var done atomic.Int32
	advance := func() {
		n := int(done.Add(1))
		reportProgress(hooks.Progress, "process", batchPercent(n, total))
	}

	started := s.now()
	result := RunBatch(jobs,
		func(output string) {
			if hooks.Item != nil {
				hooks.Item(ItemOutcome{Output: filepath.Base(output), Status: ItemSucceeded})
			}
			advance()
		},
		func(err error) {
			failed := toFailedJob(err)
			logger.Warn("batch job failed",
				slog.String("output", failed.Output),
				slog.String("code", failed.Code),
				slog.String("error", err.Error()),
			)
			if hooks.Item != nil {
				hooks.Item(ItemOutcome{Output: failed.Output, Status: ItemFailed, Code: failed.Code, Message: failed.Message})
			}
			advance()
		},
		batch.WithLogger(logger),
	)

	logger.Info("batch finished",
		slog.Int("succeeded", len(result.Successes)),
		slog.Int("failed", len(result.Failures)),
		slog.Duration("elapsed", s.now().Sub(started)),
	)

	meta := &BatchMeta{
		TotalJobs: total,
		Succeeded: make([]OutputFile, 0, len(result.Successes)),
		Failed:    make([]FailedJob, 0, len(result.Failures)),
		Sources:   toSourceMeta(manifest.Files),
	}
	for _, err := range result.Failures {
		meta.Failed = append(meta.Failed, toFailedJob(err))
	}
	sort.Slice(meta.Failed, func(i, j int) bool { return meta.Failed[i].Output < meta.Failed[j].Output })

	if len(result.Successes) == 0 {
		first := result.Failures[0]
		return fail(newError(ErrorCode(first), ErrorMessage(first), errors.Join(result.Failures...)))
	}

	outputs := append([]string(nil), result.Successes...)
	sort.Strings(outputs)
	for _, out := range outputs {
		info, err := os.Stat(out)
		if err != nil {
			return fail(fmt.Errorf("出力ファイルの確認に失敗しました: %w", err))
		}
		meta.Succeeded = append(meta.Succeeded, OutputFile{Filename: filepath.Base(out), Size: info.Size()})
	}

	artifactPath, kind := outputs[0], ResultKindPDF
	if len(outputs) > 1 {
		artifactPath, kind = filepath.Join(ws.OutDir, resultsFilename), ResultKindZIP
		if err := createZip(artifactPath, outputs); err != nil {
			return fail(err)
		}
	}
	reportProgress(hooks.Progress, "write", 95)

	artifactInfo, err := os.Stat(artifactPath)
	if err != nil {
		return fail(fmt.Errorf("成果物の確認に失敗しました: %w", err))
	}

	record := resultRecord{
		Type:      manifest.Operation,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Artifact:  filepath.Base(artifactPath),
		Kind:      kind,
		Meta:      meta,
	}
	if err := writeJSON(filepath.Join(ws.Dir, resultMetaFilename), record); err != nil {
		return fail(fmt.Errorf("メタデータの保存に失敗しました: %w", err))
	}

	res := &Result{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     artifactPath,
		OutputFilename: filepath.Base(artifactPath),
		OutputSize:     artifactInfo.Size(),
		ResultKind:     kind,
		Meta:           meta,
		jobDir:         ws.Dir,
	}

	if s.publisher != nil {
		key := fmt.Sprintf("jobs/%s/%s", jobID, res.OutputFilename)
		url, err := s.publisher.Publish(ctx, key, artifactPath)
		if err != nil {
			// 公開に失敗してもローカルの成果物はダウンロード可能なため処理は継続する
			logger.Error("failed to publish artifact", slog.String("error", err.Error()))
		} else {
			res.PublishedURL = url
		}
	}

	s.expireWorkspace(jobID)
	reportProgress(hooks.Progress, "completed", 100)
	return res, nil
}

func toFailedJob(err error) FailedJob {
	failed := FailedJob{
		Code:    ErrorCode(err),
		Message: ErrorMessage(err),
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		failed.Kind = jobErr.Kind
		if jobErr.Output != "" {
			failed.Output = filepath.Base(jobErr.Output)
		}
	}
	return failed
}
