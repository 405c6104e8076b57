package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adminRequest targets the root domain so the tenant stage passes the
// request through untouched.
func adminRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Host = "edugate.io"
	return req
}

func TestAdminWhitelist(t *testing.T) {
	_, router := newTestServer(t)

	t.Run("empty list", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodGet, "/api/v1/admin/whitelist", ""))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Items []struct {
				Address  string `json:"address"`
				Category string `json:"category"`
				Source   string `json:"source"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Items)
	})

	t.Run("add entry", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodPost, "/api/v1/admin/whitelist",
			`{"address":"203.0.113.0/24","category":"monitoring"}`))
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("duplicate entry conflicts", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodPost, "/api/v1/admin/whitelist",
			`{"address":"203.0.113.0/24"}`))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid address rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodPost, "/api/v1/admin/whitelist",
			`{"address":"not-an-ip"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list reflects runtime entry", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodGet, "/api/v1/admin/whitelist", ""))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "203.0.113.0/24")
		assert.Contains(t, w.Body.String(), "monitoring")
	})

	t.Run("remove entry", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodDelete,
			"/api/v1/admin/whitelist?address=203.0.113.0%2F24", ""))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("remove unknown entry", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodDelete,
			"/api/v1/admin/whitelist?address=198.51.100.1", ""))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("remove without address", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodDelete, "/api/v1/admin/whitelist", ""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminUnblock(t *testing.T) {
	srv, router := newTestServer(t)

	// Drive an address into the blocked state through the public surface.
	for i := 0; i < 7; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.Host = "alpha.edugate.io"
		req.RemoteAddr = "198.51.100.77:1111"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	blocked := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.Host = "alpha.edugate.io"
		req.RemoteAddr = "198.51.100.77:1111"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	require.Equal(t, http.StatusTooManyRequests, blocked().Code)

	t.Run("unknown profile", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodDelete,
			"/api/v1/admin/blocks/nope/ip:198.51.100.77", ""))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("clears the block", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, adminRequest(http.MethodDelete,
			"/api/v1/admin/blocks/auth/ip:198.51.100.77", ""))
		require.Equal(t, http.StatusNoContent, w.Code)

		// The window counter is still saturated, so the next request is a
		// plain quota rejection rather than a block.
		resp := blocked()
		assert.Equal(t, http.StatusTooManyRequests, resp.Code)
		assert.Contains(t, resp.Body.String(), "TooManyRequests")
	})

	t.Run("unblocked identifier may be checked directly", func(t *testing.T) {
		require.NoError(t, srv.limiter.Unblock(context.Background(), "auth", "ip:198.51.100.77"))
	})
}

func TestAdminOnTenantSubdomainRedirects(t *testing.T) {
	_, router := newTestServer(t)

	t.Run("keeps the request scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/whitelist", nil)
		req.Host = "alpha.edugate.io"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "http://edugate.io/api/v1/admin/whitelist", w.Header().Get("Location"))
	})

	t.Run("honors the forwarded proto", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/whitelist", nil)
		req.Host = "alpha.edugate.io"
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "https://edugate.io/api/v1/admin/whitelist", w.Header().Get("Location"))
	})
}

func TestUnknownAdminPath(t *testing.T) {
	_, router := newTestServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest(http.MethodGet, "/api/v1/admin/nope", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
