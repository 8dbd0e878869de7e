package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws, err := s.workspace.Lookup(jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", os.ErrNotExist, err)
	}
	var record resultRecord
	if err := readJSON(filepath.Join(ws.Dir, resultMetaFilename), &record); err != nil {
		return nil, nil, err
	}
	if record.Artifact == "" || filepath.Base(record.Artifact) != record.Artifact {
		return nil, nil, fmt.Errorf("invalid artifact name in result metadata: %q", record.Artifact)
	}

	outputPath := filepath.Join(ws.OutDir, record.Artifact)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		Operation:      record.Type,
		OutputPath:     outputPath,
		OutputFilename: record.Artifact,
		OutputSize:     info.Size(),
		ResultKind:     record.Kind,
		Meta:           record.Meta,
		jobDir:         ws.Dir,
	}

	return result, file, nil
}
