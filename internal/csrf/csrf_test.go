package csrf

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/edugate/edugate/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuard(t *testing.T) *Guard {
	t.Helper()
	return NewGuard(&config.CsrfConfig{
		CookieName: "edugate_csrf",
		HeaderName: "X-CSRF-Token",
		FormField:  "csrf_token",
		TokenTTL:   util.Duration(time.Hour),
		SkipPaths:  []string{"/webhooks/", "/api/v1/auth/"},
	}, true, logrus.New())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// issueToken performs a safe-method request and returns the issued cookie.
func issueToken(t *testing.T, guard *Guard) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest("GET", "/students", nil)
	w := httptest.NewRecorder()
	guard.Middleware(okHandler()).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestGuardIssuesCookieOnSafeMethod(t *testing.T) {
	guard := testGuard(t)
	cookie := issueToken(t, guard)

	assert.Equal(t, "edugate_csrf", cookie.Name)
	assert.Len(t, cookie.Value, tokenLen)
	assert.True(t, guard.valid(cookie.Value))
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
}

func TestGuardDoesNotReissueValidToken(t *testing.T) {
	guard := testGuard(t)
	cookie := issueToken(t, guard)

	req := httptest.NewRequest("GET", "/students", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	guard.Middleware(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies(), "a valid cookie is not rotated")
}

func TestGuardRoundTrip(t *testing.T) {
	guard := testGuard(t)
	cookie := issueToken(t, guard)

	t.Run("echo via header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/students", nil)
		req.AddCookie(cookie)
		req.Header.Set("X-CSRF-Token", cookie.Value)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("echo via form field", func(t *testing.T) {
		form := url.Values{"csrf_token": {cookie.Value}}
		req := httptest.NewRequest("POST", "/students", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("token validates multiple requests until expiry", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("DELETE", "/students/42", nil)
			req.AddCookie(cookie)
			req.Header.Set("X-CSRF-Token", cookie.Value)
			w := httptest.NewRecorder()
			guard.Middleware(okHandler()).ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

func TestGuardRejections(t *testing.T) {
	guard := testGuard(t)
	cookie := issueToken(t, guard)

	t.Run("missing echo", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/students", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing cookie", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/students", nil)
		req.Header.Set("X-CSRF-Token", cookie.Value)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("single character mutation", func(t *testing.T) {
		mutated := []byte(cookie.Value)
		if mutated[0] == 'a' {
			mutated[0] = 'b'
		} else {
			mutated[0] = 'a'
		}
		req := httptest.NewRequest("POST", "/students", nil)
		req.AddCookie(cookie)
		req.Header.Set("X-CSRF-Token", string(mutated))
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "CsrfMismatch")
	})

	t.Run("truncated echo", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/students", nil)
		req.AddCookie(cookie)
		req.Header.Set("X-CSRF-Token", cookie.Value[:tokenLen-1])
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("rejections carry the csrf sentinel", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/students", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		assert.ErrorIs(t, guard.Check(w, req), gateerrors.ErrCsrfMismatch)
	})
}

func TestGuardExpiry(t *testing.T) {
	guard := testGuard(t)
	cookie := issueToken(t, guard)

	// Shift the guard's clock past the token TTL.
	guard.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	req := httptest.NewRequest("POST", "/students", nil)
	req.AddCookie(cookie)
	req.Header.Set("X-CSRF-Token", cookie.Value)
	w := httptest.NewRecorder()
	guard.Middleware(okHandler()).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	t.Run("expired cookie is rotated on safe method", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/students", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		require.Len(t, w.Result().Cookies(), 1)
		assert.NotEqual(t, cookie.Value, w.Result().Cookies()[0].Value)
	})
}

func TestGuardSkipPaths(t *testing.T) {
	guard := testGuard(t)

	for _, path := range []string{"/webhooks/payments", "/api/v1/auth/login"} {
		req := httptest.NewRequest("POST", path, nil)
		w := httptest.NewRecorder()
		guard.Middleware(okHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %q is exempt", path)
	}
}

func TestTokenEntropyAndShape(t *testing.T) {
	guard := testGuard(t)

	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		token := guard.generate()
		require.Len(t, token, tokenLen)
		require.False(t, seen[token], "tokens must not repeat")
		seen[token] = true
	}
}
