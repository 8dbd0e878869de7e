package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-batch/internal/config"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{
		AppUsername:     "admin",
		AppPasswordHash: string(hash),
		SessionSecret:   "0123456789abcdef0123456789abcdef",
	}
	m := NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte(cfg.SessionSecret))))
	router.POST("/login", m.Login)
	protected := router.Group("")
	protected.Use(m.RequireLogin(), m.VerifyCSRF())
	protected.GET("/session", m.Session)
	protected.POST("/action", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router, m
}

func login(t *testing.T, router *gin.Engine, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := bytes.NewBufferString(`{"username":"admin","password":"` + password + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/login", body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func withCookies(req *http.Request, rec *httptest.ResponseRecorder) *http.Request {
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	loginRec := login(t, router, "s3cret")
	require.Equal(t, http.StatusNoContent, loginRec.Code)
	token := loginRec.Header().Get(csrfHeader)
	require.NotEmpty(t, token)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/session", nil), loginRec))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, rec.Header().Get(csrfHeader))
	assert.Contains(t, rec.Body.String(), "admin")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodPost, "/action", nil), loginRec))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := withCookies(httptest.NewRequest(http.MethodPost, "/action", nil), loginRec)
	req.Header.Set(csrfHeader, token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireLogin_Unauthenticated(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireLogin_IdleTimeout(t *testing.T) {
	router, m := newTestRouter(t)

	loginRec := login(t, router, "s3cret")
	require.Equal(t, http.StatusNoContent, loginRec.Code)

	m.now = func() time.Time { return time.Now().Add(idleTimeout + time.Minute) }
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/session", nil), loginRec))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_IDLE_TIMEOUT")
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := login(t, router, "wrong")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := login(t, router, "s3cret")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLoginLimiter(t *testing.T) {
	l := newLoginLimiter()
	now := time.Now()

	assert.Equal(t, maxLoginAttempts-1, l.fail("ip", now))
	assert.Zero(t, l.retryAfter("ip", now))

	// ウィンドウ外の失敗はカウントし直す
	assert.Equal(t, maxLoginAttempts-1, l.fail("ip", now.Add(loginWindow+time.Second)))

	for i := 0; i < maxLoginAttempts; i++ {
		l.fail("other", now)
	}
	assert.Equal(t, lockDuration, l.retryAfter("other", now))
	assert.Zero(t, l.retryAfter("other", now.Add(lockDuration)))

	l.reset("other")
	assert.Zero(t, l.retryAfter("other", now))
}
