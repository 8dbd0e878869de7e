package pdf

import (
	"context"
	"mime/multipart"

	"github.com/yourusername/paper-batch/internal/storage"
)

// InspectResult はアップロードされたPDFの基本メタデータを表します。
type InspectResult struct {
	Source    SourceFileMeta `json:"source"`
	Rotations []int          `json:"rotations"`
}

// InspectMultipart は単一PDFファイルを受け取り、ページ数とページごとの回転角を返します。
func (s *Service) InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	}

	ws, err := s.workspace.Create()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = storage.RemoveDir(ws.Dir)
	}()

	stored, err := s.storeMultipartFile(ctx, file, ws.InDir, 0)
	if err != nil {
		return nil, err
	}

	rotations, err := pageRotations(stored.path)
	if err != nil {
		return nil, err
	}

	return &InspectResult{
		Source: SourceFileMeta{
			Name:  stored.originalName,
			Size:  stored.size,
			Pages: stored.pages,
		},
		Rotations: rotations,
	}, nil
}

// pageRotations は path の各ページの回転角を返します。
func pageRotations(path string) ([]int, error) {
	doc, err := OpenDocument(path)
	if err != nil {
		return nil, err
	}
	rotations := make([]int, doc.PageCount())
	for i := range rotations {
		rot, err := doc.PageRotation(i + 1)
		if err != nil {
			return nil, err
		}
		rotations[i] = rot
	}
	return rotations, nil
}
