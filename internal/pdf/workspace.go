package pdf

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/paper-batch/internal/storage"
)

type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

// prepareUploads は作業ディレクトリを作成し、アップロードファイルを in/ に保存します。
// 失敗した場合は作業ディレクトリを削除します。
func (s *Service) prepareUploads(ctx context.Context, files []*multipart.FileHeader) (storage.Workspace, []storedFile, error) {
	if len(files) == 0 {
		return storage.Workspace{}, nil, newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	}
	if limit := s.cfg.MaxBatchFiles; limit > 0 && len(files) > limit {
		return storage.Workspace{}, nil, newError(CodeLimitExceeded, fmt.Sprintf("一度に処理できるファイルは %d 件までです。", limit), nil)
	}

	ws, err := s.workspace.Create()
	if err != nil {
		return storage.Workspace{}, nil, err
	}

	stored := make([]storedFile, 0, len(files))
	for i, fh := range files {
		sf, err := s.storeMultipartFile(ctx, fh, ws.InDir, i)
		if err != nil {
			_ = storage.RemoveDir(ws.Dir)
			return storage.Workspace{}, nil, err
		}
		stored = append(stored, sf)
	}
	return ws, stored, nil
}

// storeMultipartFile はアップロードファイルを検証しつつ dir に保存します。
func (s *Service) storeMultipartFile(ctx context.Context, fh *multipart.FileHeader, dir string, index int) (storedFile, error) {
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}
	if fh == nil {
		return storedFile{}, newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	}
	if limit := s.cfg.MaxFileSize; limit > 0 && fh.Size > limit {
		return storedFile{}, newError(CodeLimitExceeded, fmt.Sprintf("%s はサイズ上限を超えています。", fh.Filename), nil)
	}

	src, err := fh.Open()
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, fmt.Sprintf("%03d.pdf", index+1))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return storedFile{}, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return storedFile{}, newError(CodeUnsupportedPDF, fmt.Sprintf("%s はPDFファイルではありません。", fh.Filename), nil)
	}

	doc, err := OpenDocument(path)
	if err != nil {
		return storedFile{}, newError(CodeUnsupportedPDF, fmt.Sprintf("%s を読み込めませんでした。ファイルが破損していないか確認してください。", fh.Filename), err)
	}
	if limit := s.cfg.MaxPages; limit > 0 && doc.PageCount() > limit {
		return storedFile{}, newError(CodeLimitExceeded, fmt.Sprintf("%s はページ数の上限（%d頁）を超えています。", fh.Filename, limit), nil)
	}

	return storedFile{
		path:         path,
		originalName: fh.Filename,
		size:         size,
		pages:        doc.PageCount(),
	}, nil
}
