// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// release モードで必須となる設定の欠落を表すエラーです。
var (
	ErrUsernameRequired      = errors.New("config: APP_USERNAME is required in release mode")
	ErrPasswordHashRequired  = errors.New("config: APP_PASSWORD_HASH is required in release mode")
	ErrSessionSecretRequired = errors.New("config: SESSION_SECRET is required in release mode")
	ErrQueueRedisURLRequired = errors.New("config: QUEUE_REDIS_URL is required in release mode")
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string `env:"APP_USERNAME"`      // ログイン用ユーザー名
	AppPasswordHash string `env:"APP_PASSWORD_HASH"` // bcryptでハッシュ化されたパスワード
	SessionSecret   string `env:"SESSION_SECRET"`    // セッション署名用の秘密鍵

	// サーバー設定
	Port    string `env:"PORT, default=8080"`
	GinMode string `env:"GIN_MODE, default=debug"`

	// CORS設定（カンマ区切り）
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS, default=http://localhost:5173"`

	// ファイル制限
	MaxFileSize      int64 `env:"MAX_FILE_SIZE, default=104857600"` // 100MB
	MaxPages         int   `env:"MAX_PAGES, default=200"`
	MaxBatchFiles    int   `env:"MAX_BATCH_FILES, default=50"`
	JobExpireMinutes int   `env:"JOB_EXPIRE_MINUTES, default=10"`

	// 作業ディレクトリ（<WorkspaceDir>/<jobID>/in|out）
	WorkspaceDir string `env:"WORKSPACE_DIR, default=/tmp/app"`

	// ジョブ/キュー設定
	QueueRedisURL       string `env:"QUEUE_REDIS_URL, default=redis://127.0.0.1:6379/0"`
	QueueConcurrency    int    `env:"QUEUE_CONCURRENCY, default=4"`
	AsyncThresholdBytes int64  `env:"ASYNC_THRESHOLD_BYTES, default=52428800"` // 50MB
	AsyncThresholdPages int    `env:"ASYNC_THRESHOLD_PAGES, default=120"`
	JobResultBaseURL    string `env:"JOB_RESULT_BASE_URL"`

	// S3設定（任意）
	S3Bucket           string `env:"S3_BUCKET"`
	S3Region           string `env:"S3_REGION"`
	S3Endpoint         string `env:"S3_ENDPOINT"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	// ログ設定
	LogFormat string `env:"LOG_FORMAT, default=text"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info"`
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合は先にそちらを環境変数へ反映します。
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
// ローカル開発では認証設定は任意で、release モードのみ厳格にチェックします。
func (c *Config) Validate() error {
	if c.GinMode != "release" {
		return nil
	}
	if c.AppUsername == "" {
		return ErrUsernameRequired
	}
	if c.AppPasswordHash == "" {
		return ErrPasswordHashRequired
	}
	if c.SessionSecret == "" {
		return ErrSessionSecretRequired
	}
	if c.QueueRedisURL == "" {
		return ErrQueueRedisURLRequired
	}
	return nil
}

// S3Enabled は S3 への成果物公開が設定されている場合に true を返します。
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// NewLogger は設定に従って構造化ロガーを生成します。
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// String は秘密情報を伏せた設定の文字列表現を返します。
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %s, GinMode: %s, WorkspaceDir: %s, MaxFileSize: %d, MaxPages: %d, MaxBatchFiles: %d, QueueConcurrency: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GinMode,
		c.WorkspaceDir,
		c.MaxFileSize,
		c.MaxPages,
		c.MaxBatchFiles,
		c.QueueConcurrency,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
