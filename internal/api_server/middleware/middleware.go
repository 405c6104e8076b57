package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/edugate/edugate/pkg/reqid"
	chi "github.com/go-chi/chi/v5/middleware"
)

// RequestSizeLimiter returns a middleware that limits the URL length and the number of request headers.
func RequestSizeLimiter(maxURLLength int, maxNumHeaders int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(r.URL.String()) > maxURLLength {
				http.Error(w, fmt.Sprintf("URL too long, exceeds %d characters", maxURLLength), http.StatusRequestURITooLong)
				return
			}
			if len(r.Header) > maxNumHeaders {
				http.Error(w, fmt.Sprintf("Request has too many headers, exceeds %d", maxNumHeaders), http.StatusRequestHeaderFieldsTooLarge)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(chi.RequestIDHeader)
		if requestID == "" {
			requestID = reqid.NextRequestID()
		}
		ctx := context.WithValue(r.Context(), chi.RequestIDKey, requestID)
		w.Header().Set(chi.RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets conservative browser-facing defaults on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// WriteJSONError writes the standard error envelope.
func WriteJSONError(w http.ResponseWriter, code int, reason string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": err.Error(),
		"reason":  reason,
	})
}

// ClientIP extracts the client IP from the request's RemoteAddr.
// Returns the IP portion, falling back to the full RemoteAddr if parsing fails.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedRealIP middleware extracts the real client IP from trusted proxy headers.
// It only trusts X-Forwarded-For, X-Real-IP, and True-Client-IP headers when the
// immediate peer (r.RemoteAddr) is in the trustedProxies list.
// If the peer is not trusted, headers are silently ignored and r.RemoteAddr is used.
func TrustedRealIP(trustedProxies []string) func(http.Handler) http.Handler {
	// Pre-parse trusted proxy CIDRs and literal IPs once at middleware construction time
	// This avoids parsing on every request, keeping the hot path allocation-free
	var trustedNets []*net.IPNet
	for _, entry := range trustedProxies {
		s := strings.TrimSpace(entry)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			if _, n, err := net.ParseCIDR(s); err == nil {
				trustedNets = append(trustedNets, n)
			}
			continue
		}
		if ip := net.ParseIP(s); ip != nil {
			// Convert literal IP to a single-host network
			if ip.To4() != nil {
				trustedNets = append(trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)})
			} else {
				trustedNets = append(trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)})
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check if the immediate peer is trusted
			if len(trustedNets) > 0 {
				host := ClientIP(r)
				if peerIP := net.ParseIP(host); peerIP != nil {
					for _, trustedNet := range trustedNets {
						if trustedNet.Contains(peerIP) {
							// Peer is trusted, extract real IP from headers
							// Priority: True-Client-IP > X-Real-IP > X-Forwarded-For
							if tc := strings.TrimSpace(r.Header.Get("True-Client-IP")); tc != "" {
								if ip := net.ParseIP(tc); ip != nil {
									r.RemoteAddr = ip.String()
									break
								}
							}
							if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
								if ip := net.ParseIP(xr); ip != nil {
									r.RemoteAddr = ip.String()
									break
								}
							}
							if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
								first := strings.TrimSpace(strings.Split(xff, ",")[0])
								if ip := net.ParseIP(first); ip != nil {
									r.RemoteAddr = ip.String()
									break
								}
							}
							break
						}
					}
				}
				// silent ignore: untrusted headers are simply ignored, no logging or blocking
			}
			next.ServeHTTP(w, r)
		})
	}
}
