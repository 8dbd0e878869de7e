package pdf

import (
	"fmt"
	"path/filepath"

	"github.com/yourusername/paper-batch/internal/storage"
)

func toJobFiles(stored []storedFile) []JobFile {
	files := make([]JobFile, len(stored))
	for i, sf := range stored {
		files[i] = JobFile{
			StoredName:   filepath.Base(sf.path),
			OriginalName: sf.originalName,
			Size:         sf.size,
			Pages:        sf.pages,
		}
	}
	return files
}

func toSourceMeta(files []JobFile) []SourceFileMeta {
	meta := make([]SourceFileMeta, len(files))
	for i, f := range files {
		meta[i] = SourceFileMeta{Name: f.OriginalName, Size: f.Size, Pages: f.Pages}
	}
	return meta
}

// jobsFromManifest はマニフェストを作業ディレクトリ上のジョブ記述子に変換します。
func jobsFromManifest(ws storage.Workspace, manifest *JobManifest) ([]Job, error) {
	if manifest == nil {
		return nil, fmt.Errorf("manifest is nil")
	}
	inputPath := func(idx int) (string, error) {
		if idx < 0 || idx >= len(manifest.Files) {
			return "", fmt.Errorf("manifest refers to unknown file index %d", idx)
		}
		return filepath.Join(ws.InDir, manifest.Files[idx].StoredName), nil
	}
	outputPath := func(name string) (string, error) {
		if name == "" || filepath.Base(name) != name {
			return "", fmt.Errorf("manifest has invalid output name %q", name)
		}
		return filepath.Join(ws.OutDir, name), nil
	}

	jobs := make([]Job, 0, manifest.JobCount())
	for _, m := range manifest.Merges {
		inputs := make([]string, len(m.Files))
		for i, idx := range m.Files {
			p, err := inputPath(idx)
			if err != nil {
				return nil, err
			}
			inputs[i] = p
		}
		out, err := outputPath(m.Output)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, MergeJob{Inputs: inputs, Output: out})
	}

	for _, r := range manifest.Rotations {
		in, err := inputPath(r.File)
		if err != nil {
			return nil, err
		}
		out, err := outputPath(r.Output)
		if err != nil {
			return nil, err
		}
		if r.Page > 0 {
			jobs = append(jobs, RotatePageJob{Input: in, Output: out, PageNumber: r.Page, Angle: r.Angle})
			continue
		}
		jobs = append(jobs, RotateJob{Input: in, Output: out, Angle: r.Angle})
	}
	return jobs, nil
}
