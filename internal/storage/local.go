// Package storage はジョブ作業ディレクトリと成果物公開の抽象化レイヤーを提供します。
//
// ローカル作業ディレクトリの構成: <root>/<jobID>/in|out/
// 作業ディレクトリはジョブ完了後、または有効期限経過後に削除されます。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrWorkspaceNotFound は指定されたジョブの作業ディレクトリが存在しない場合に返されます。
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Workspace は1ジョブ分の作業ディレクトリです。
type Workspace struct {
	JobID  string
	Dir    string
	InDir  string
	OutDir string
}

// Local はローカルファイルシステム上の作業ディレクトリを管理します。
type Local struct {
	root string
}

// NewLocal は root 以下に作業ディレクトリを作る Local を返します。
// root が空の場合は os.TempDir()/paper-batch を使用します。
func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "paper-batch")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Local{root: root}, nil
}

// Root は作業ディレクトリのルートを返します。
func (l *Local) Root() string {
	return l.root
}

// Create は新しいジョブIDで作業ディレクトリを作成します。
func (l *Local) Create() (Workspace, error) {
	ws := l.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = os.RemoveAll(ws.Dir)
			return Workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// Lookup は既存の作業ディレクトリを返します。
func (l *Local) Lookup(jobID string) (Workspace, error) {
	if !validJobID(jobID) {
		return Workspace{}, fmt.Errorf("invalid jobID %q: %w", jobID, ErrWorkspaceNotFound)
	}
	ws := l.workspaceFor(jobID)
	info, err := os.Stat(ws.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Workspace{}, fmt.Errorf("job %s: %w", jobID, ErrWorkspaceNotFound)
		}
		return Workspace{}, err
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("job %s: %w", jobID, ErrWorkspaceNotFound)
	}
	return ws, nil
}

// Remove は作業ディレクトリを削除します。存在しない場合は何もしません。
func (l *Local) Remove(jobID string) error {
	if !validJobID(jobID) {
		return nil
	}
	return RemoveDir(l.workspaceFor(jobID).Dir)
}

// ExpireAfter は d 経過後に作業ディレクトリを削除します。
func (l *Local) ExpireAfter(jobID string, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = l.Remove(jobID)
	})
}

func (l *Local) workspaceFor(jobID string) Workspace {
	dir := filepath.Join(l.root, jobID)
	return Workspace{
		JobID:  jobID,
		Dir:    dir,
		InDir:  filepath.Join(dir, "in"),
		OutDir: filepath.Join(dir, "out"),
	}
}

// RemoveDir はディレクトリを再帰的に削除します。空文字は無視します。
func RemoveDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// jobID は uuid 形式のみ受け付け、パスの逸脱を防ぐ。
func validJobID(jobID string) bool {
	_, err := uuid.Parse(jobID)
	return err == nil
}
