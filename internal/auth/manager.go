package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-batch/internal/config"
)

const (
	SessionCookieName    = "pb_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"

	// ContextUserKey はハンドラー間でログイン済みユーザー名を共有するためのキーです。
	ContextUserKey = "auth.user"
)

const (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager はログイン状態の検証とログイン試行の制限を扱います。
type Manager struct {
	cfg     *config.Config
	limiter *loginLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager は認証マネージャーを作成します。logger は nil でも構いません。
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		limiter: newLoginLimiter(),
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Manager) ensureCredentials() error {
	switch {
	case m.cfg.AppUsername == "":
		return errors.New("APP_USERNAME が設定されていません")
	case m.cfg.AppPasswordHash == "":
		return errors.New("APP_PASSWORD_HASH が設定されていません")
	case m.cfg.SessionSecret == "":
		return errors.New("SESSION_SECRET が設定されていません")
	}
	return nil
}

// authenticate はユーザー名とパスワードを照合します。
// ユーザー名が一致しない場合も bcrypt の比較を行い、応答時間を揃えます。
func (m *Manager) authenticate(username, password string) bool {
	hashErr := bcrypt.CompareHashAndPassword([]byte(m.cfg.AppPasswordHash), []byte(password))
	return username == m.cfg.AppUsername && hashErr == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
