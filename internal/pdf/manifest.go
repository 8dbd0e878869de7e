package pdf

import (
	"fmt"
	"path/filepath"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブに必要な情報を保持します。
// ワーカーはマニフェストのみからジョブ記述子を組み立てます。
type JobManifest struct {
	JobID     string        `json:"jobId"`
	Operation OperationType `json:"operation"`
	Files     []JobFile     `json:"files"`
	Merges    []MergeEntry  `json:"merges,omitempty"`
	Rotations []RotateEntry `json:"rotations,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
}

// MergeEntry は1つの結合ジョブです。Files は Files 配列の添字（0始まり）を結合順に並べたものです。
type MergeEntry struct {
	Files  []int  `json:"files"`
	Output string `json:"output"`
}

// RotateEntry は1つの回転ジョブです。Page が 0 の場合は全ページを回転します。
type RotateEntry struct {
	File   int    `json:"file"`
	Angle  int    `json:"angle"`
	Page   int    `json:"page,omitempty"`
	Output string `json:"output"`
}

// JobCount はマニフェストに含まれるジョブ数を返します。
func (m *JobManifest) JobCount() int {
	if m == nil {
		return 0
	}
	return len(m.Merges) + len(m.Rotations)
}

func writeManifest(jobDir string, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	if err := writeJSON(filepath.Join(jobDir, manifestFilename), manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func loadManifest(jobDir string) (*JobManifest, error) {
	var manifest JobManifest
	if err := readJSON(filepath.Join(jobDir, manifestFilename), &manifest); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &manifest, nil
}
