package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/sirupsen/logrus"
)

const (
	// tokenBytes is the random portion: 32 bytes = 256 bits of entropy.
	tokenBytes = 32
	// tokenLen is the fixed hex length: 64 chars of randomness plus 16 chars
	// of big-endian issuance timestamp, so validity can be checked without
	// any server-side state shared across instances.
	tokenLen = 2*tokenBytes + 16
)

// Guard implements the double-submit-cookie CSRF defense. On safe methods it
// ensures a token cookie exists; on unsafe methods the client must echo the
// cookie value via header or form field. The token value is the unit of
// validation together with the cookie, never alone.
type Guard struct {
	cookieName string
	headerName string
	formField  string
	ttl        time.Duration
	secure     bool
	skipPaths  []string
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewGuard(cfg *config.CsrfConfig, secure bool, log logrus.FieldLogger) *Guard {
	ttl := time.Duration(cfg.TokenTTL)
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Guard{
		cookieName: cfg.CookieName,
		headerName: cfg.HeaderName,
		formField:  cfg.FormField,
		ttl:        ttl,
		secure:     secure,
		skipPaths:  cfg.SkipPaths,
		log:        log,
		now:        time.Now,
	}
}

// Check applies the guard to one request. For safe methods it issues a token
// when needed and always passes. For unsafe methods it writes the 403 and
// returns an error wrapping ErrCsrfMismatch; the caller must not invoke later
// stages on a non-nil return.
func (g *Guard) Check(w http.ResponseWriter, r *http.Request) error {
	if g.skipped(r.URL.Path) {
		return nil
	}

	if isSafeMethod(r.Method) {
		g.ensureToken(w, r)
		return nil
	}

	cookie, err := r.Cookie(g.cookieName)
	if err != nil || !g.valid(cookie.Value) {
		return g.reject(w, r, "missing or expired csrf cookie")
	}

	echoed := r.Header.Get(g.headerName)
	if echoed == "" {
		echoed = r.PostFormValue(g.formField)
	}
	// Constant-time comparison; length equality alone must not leak timing.
	if len(echoed) != len(cookie.Value) ||
		subtle.ConstantTimeCompare([]byte(echoed), []byte(cookie.Value)) != 1 {
		return g.reject(w, r, "csrf token does not match cookie")
	}
	return nil
}

// Middleware wraps a handler with the guard, for deployments that mount it
// standalone rather than through the gate pipeline.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(w, r); err != nil {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ensureToken guarantees the response carries a valid token cookie,
// generating or rotating one as needed.
func (g *Guard) ensureToken(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(g.cookieName); err == nil && g.valid(cookie.Value) {
		return
	}
	token := g.generate()
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// generate produces a fixed-length hex token: 256 bits from a
// cryptographically secure source plus the issuance timestamp.
func (g *Guard) generate() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; refusing to issue
		// a weaker token is the only acceptable response if it does.
		panic("csrf: secure random source unavailable: " + err.Error())
	}
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(g.now().Unix()))
	return hex.EncodeToString(buf) + hex.EncodeToString(ts)
}

// valid checks shape and expiry of a token value.
func (g *Guard) valid(token string) bool {
	if len(token) != tokenLen {
		return false
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(raw[tokenBytes:])), 0)
	now := g.now()
	return !issued.After(now) && now.Before(issued.Add(g.ttl))
}

func (g *Guard) skipped(path string) bool {
	for _, prefix := range g.skipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, detail string) error {
	g.log.WithFields(logrus.Fields{
		"event":  "csrf_rejected",
		"path":   r.URL.Path,
		"method": r.Method,
		"remote": r.RemoteAddr,
	}).Warn(detail)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusForbidden,
		"message": "CSRF token missing or invalid, reload the page and try again",
		"reason":  "CsrfMismatch",
	})
	return fmt.Errorf("%w: %s", gateerrors.ErrCsrfMismatch, detail)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
