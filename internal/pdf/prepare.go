package pdf

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/yourusername/paper-batch/internal/storage"
)

const (
	mergedFilename  = "merged.pdf"
	resultsFilename = "results.zip"
)

// PrepareMergeJob はアップロードファイルを保存し、結合ジョブのマニフェストを作成します。
//
// groups が空の場合は order（省略時はアップロード順）で全ファイルを1つに結合します。
// groups を指定した場合はグループごとに1つの結合ジョブを作成します。
func (s *Service) PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader, order []int, groups [][]int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(order) > 0 && len(groups) > 0 {
		return nil, newError(CodeInvalidInput, "order と groups は同時に指定できません。", nil)
	}

	var merges []MergeEntry
	switch {
	case len(groups) > 0:
		for i, g := range groups {
			if len(g) == 0 {
				return nil, newError(CodeInvalidInput, fmt.Sprintf("groups[%d] が空です。", i), nil)
			}
			for _, idx := range g {
				if idx < 0 || idx >= len(files) {
					return nil, newError(CodeInvalidInput, fmt.Sprintf("groups[%d] に不正なファイル番号が含まれています。", i), nil)
				}
			}
			merges = append(merges, MergeEntry{
				Files:  append([]int(nil), g...),
				Output: fmt.Sprintf("merged-%02d.pdf", i+1),
			})
		}
	default:
		if len(order) == 0 {
			order = make([]int, len(files))
			for i := range order {
				order[i] = i
			}
		}
		if err := validateOrder(order, len(files)); err != nil {
			return nil, err
		}
		merges = []MergeEntry{{Files: append([]int(nil), order...), Output: mergedFilename}}
	}

	return s.prepare(ctx, OperationMerge, files, func(_ []storedFile, m *JobManifest) error {
		m.Merges = merges
		return nil
	})
}

// PrepareRotateJob はアップロードファイルを保存し、ファイルごとの回転ジョブのマニフェストを作成します。
//
// angles は1要素なら全ファイル共通、ファイル数と同じ長さならファイルごとの角度です。
// page が 1 以上の場合はそのページのみを回転します。
func (s *Service) PrepareRotateJob(ctx context.Context, files []*multipart.FileHeader, angles []int, page int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(angles) == 0 {
		return nil, newError(CodeInvalidInput, "回転角度を指定してください。", nil)
	}
	if len(angles) != 1 && len(angles) != len(files) {
		return nil, newError(CodeInvalidInput, "angles の数はファイル数と一致させてください。", nil)
	}
	if page < 0 {
		return nil, newError(CodeInvalidInput, "ページ番号は1以上で指定してください。", nil)
	}
	for _, a := range angles {
		if _, err := NormalizeRotation(a); err != nil {
			return nil, err
		}
	}

	return s.prepare(ctx, OperationRotate, files, func(stored []storedFile, m *JobManifest) error {
		for i, sf := range stored {
			if page > sf.pages {
				return newError(CodeInvalidInput, fmt.Sprintf("%s のページ数は %d です。ページ番号を確認してください。", sf.originalName, sf.pages), nil)
			}
			angle := angles[0]
			if len(angles) > 1 {
				angle = angles[i]
			}
			m.Rotations = append(m.Rotations, RotateEntry{
				File:   i,
				Angle:  angle,
				Page:   page,
				Output: fmt.Sprintf("rotated-%02d.pdf", i+1),
			})
		}
		return nil
	})
}

func (s *Service) prepare(ctx context.Context, op OperationType, files []*multipart.FileHeader, build func([]storedFile, *JobManifest) error) (*JobManifest, error) {
	ws, stored, err := s.prepareUploads(ctx, files)
	if err != nil {
		return nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.JobID,
		Operation: op,
		Files:     toJobFiles(stored),
		CreatedAt: s.now().UTC(),
	}
	if err := build(stored, manifest); err != nil {
		_ = storage.RemoveDir(ws.Dir)
		return nil, err
	}
	if err := writeManifest(ws.Dir, manifest); err != nil {
		_ = storage.RemoveDir(ws.Dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

func validateOrder(order []int, fileCount int) error {
	if len(order) != fileCount {
		return newError(CodeInvalidInput, "order配列の長さがファイル数と一致していません。", nil)
	}

	seen := make([]bool, fileCount)
	for _, idx := range order {
		if idx < 0 || idx >= fileCount {
			return newError(CodeInvalidInput, "order配列に不正なファイル番号が含まれています。", nil)
		}
		if seen[idx] {
			return newError(CodeInvalidInput, "order配列に重複した番号が含まれています。", nil)
		}
		seen[idx] = true
	}
	return nil
}
