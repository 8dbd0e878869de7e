package pdf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/storage"
)

const defaultCleanupMin = 10

// Service はアップロードされたPDFを作業ディレクトリに保存し、バッチ処理を実行します。
type Service struct {
	cfg       *config.Config
	workspace *storage.Local
	publisher storage.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService は Service を作成します。publisher は nil でも構いません。
func NewService(cfg *config.Config, workspace *storage.Local, publisher storage.Publisher, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if workspace == nil {
		return nil, errors.New("workspace is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		workspace: workspace,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SourceFileMeta は入力ファイルの基本情報です。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// DiscardJob はジョブの作業ディレクトリを破棄します。
func (s *Service) DiscardJob(jobID string) error {
	return s.workspace.Remove(jobID)
}

func (s *Service) expireWorkspace(jobID string) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	s.workspace.ExpireAfter(jobID, time.Duration(expireMinutes)*time.Minute)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
