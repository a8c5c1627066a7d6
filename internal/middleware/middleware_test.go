package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/utils"
)

const secret = "test-secret"

func protected() *echo.Echo {
	e := echo.New()
	e.POST("/confirm", func(c echo.Context) error {
		return c.String(http.StatusOK, Subject(c))
	}, JWTAuth(secret), RequireRole(RoleFinalizer))
	return e
}

func call(e *echo.Echo, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, key, role string, ttl time.Duration) http.Header {
	t.Helper()
	tok, err := utils.NewServiceToken(key, "payments", role, ttl)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + tok.Token}}
}

func TestJWTAuth_AcceptsFinalizer(t *testing.T) {
	rec := call(protected(), http.MethodPost, "/confirm", bearer(t, secret, RoleFinalizer, time.Minute))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payments", rec.Body.String())
}

func TestJWTAuth_Rejections(t *testing.T) {
	e := protected()

	rec := call(e, http.MethodPost, "/confirm", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(e, http.MethodPost, "/confirm", bearer(t, "other-secret", RoleFinalizer, time.Minute))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(e, http.MethodPost, "/confirm", bearer(t, secret, "CUSTOMER", time.Minute))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// tokens without exp are refused
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "role": RoleFinalizer}).SignedString([]byte(secret))
	require.NoError(t, err)
	rec = call(e, http.MethodPost, "/confirm", http.Header{"Authorization": {"Bearer " + raw}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func limited(t *testing.T, capacity int) (*echo.Echo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg := config.RateLimitConfig{Enabled: true, Capacity: capacity, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.POST("/hold", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, rdb, zap.NewNop()))
	return e, mr
}

func TestTokenBucket_LimitsPerSession(t *testing.T) {
	e, _ := limited(t, 2)
	a := http.Header{SessionHeader: {"sess-a"}}

	assert.Equal(t, http.StatusNoContent, call(e, http.MethodPost, "/hold", a).Code)
	rec := call(e, http.MethodPost, "/hold", a)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call(e, http.MethodPost, "/hold", a)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// another session has its own bucket
	assert.Equal(t, http.StatusNoContent, call(e, http.MethodPost, "/hold", http.Header{SessionHeader: {"sess-b"}}).Code)
}

func TestTokenBucket_FailsOpenWithoutRedis(t *testing.T) {
	e, mr := limited(t, 1)
	mr.Close()
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, call(e, http.MethodPost, "/hold", nil).Code)
	}
}

func TestTokenBucket_DisabledIsPassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil))
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/", nil).Code)
}

func TestClientKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?sessionId=from-query", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "from-query", clientKey(c))

	req.Header.Set(SessionHeader, "from-header")
	assert.Equal(t, "from-header", clientKey(c))

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "anon", clientKey(c))
	c.Set(ctxSubject, "payments")
	assert.Equal(t, "payments", clientKey(c))
}

func TestClientKey_ReadsSessionFromBody(t *testing.T) {
	e := echo.New()
	body := `{"seatIds":[1,2],"sessionId":"from-body"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "text/plain;charset=UTF-8")
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "from-body", clientKey(c))

	// the handler still sees the whole body
	rest, err := io.ReadAll(c.Request().Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	c = e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "anon", clientKey(c))
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusServiceUnavailable, "down") })

	call(e, http.MethodGet, "/ok", nil)
	rec := call(e, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, int64(503), entries[1].ContextMap()["status"])
}
