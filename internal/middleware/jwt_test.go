package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func runJWT(t *testing.T, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := JWTAuth(testSecret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return rec, c
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("valid token injects identity", func(t *testing.T) {
		raw := signToken(t, testSecret, jwt.MapClaims{
			"sub":  "42",
			"role": "user",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		rec, c := runJWT(t, "Bearer "+raw)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "42", c.Get("user_id"))
		assert.Equal(t, "user", c.Get("role"))
	})

	t.Run("missing header", func(t *testing.T) {
		rec, _ := runJWT(t, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		raw := signToken(t, "other-secret", jwt.MapClaims{"sub": "42", "role": "user"})
		rec, _ := runJWT(t, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		raw := signToken(t, testSecret, jwt.MapClaims{
			"sub":  "42",
			"role": "user",
			"exp":  time.Now().Add(-time.Hour).Unix(),
		})
		rec, _ := runJWT(t, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	run := func(role any) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != nil {
			c.Set("role", role)
		}
		h := RequireRole("admin")(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		require.NoError(t, h(c))
		return rec
	}

	assert.Equal(t, http.StatusOK, run("admin").Code)
	assert.Equal(t, http.StatusForbidden, run("user").Code)
	assert.Equal(t, http.StatusForbidden, run(nil).Code)
	assert.Equal(t, http.StatusForbidden, run(123).Code)
}
