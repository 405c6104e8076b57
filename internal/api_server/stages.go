package apiserver

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/edugate/edugate/internal/api_server/middleware"
	"github.com/edugate/edugate/internal/audit"
	"github.com/edugate/edugate/internal/auth"
	"github.com/edugate/edugate/internal/bypass"
	"github.com/edugate/edugate/internal/csrf"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/edugate/edugate/internal/metrics"
	"github.com/edugate/edugate/internal/ratelimit"
	"github.com/edugate/edugate/internal/tenant"
	"github.com/sirupsen/logrus"
)

// DefaultProfile is applied to any route without a more specific mapping.
const DefaultProfile = "api"

type bypassStage struct {
	classifier *bypass.Classifier
	sink       *audit.Sink
}

func NewBypassStage(classifier *bypass.Classifier, sink *audit.Sink) Stage {
	return &bypassStage{classifier: classifier, sink: sink}
}

func (s *bypassStage) Name() string { return "bypass" }

func (s *bypassStage) Process(w http.ResponseWriter, r *http.Request, gc *GateContext) (*http.Request, bool) {
	decision := s.classifier.Classify(r)
	if decision.Trusted {
		gc.Trusted = true
		gc.BypassReason = decision.Reason
		metrics.BypassTotal.WithLabelValues(decision.Reason).Inc()
		s.sink.Emit(audit.Event{
			Type:       audit.EventBypass,
			Reason:     decision.Reason,
			Identifier: "ip:" + middleware.ClientIP(r),
			Fields:     logrus.Fields{"path": r.URL.Path},
		})
	}
	return r, true
}

type rateLimitStage struct {
	limiter *ratelimit.Limiter
	// prefixes is sorted longest-first so the most specific route wins.
	prefixes []routePrefix
	sink     *audit.Sink
	log      logrus.FieldLogger
}

type routePrefix struct {
	prefix  string
	profile string
}

func NewRateLimitStage(limiter *ratelimit.Limiter, routes map[string]string, sink *audit.Sink, log logrus.FieldLogger) Stage {
	prefixes := make([]routePrefix, 0, len(routes))
	for prefix, profile := range routes {
		prefixes = append(prefixes, routePrefix{prefix: prefix, profile: profile})
	}
	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i].prefix) > len(prefixes[j].prefix)
	})
	return &rateLimitStage{limiter: limiter, prefixes: prefixes, sink: sink, log: log}
}

func (s *rateLimitStage) Name() string { return "ratelimit" }

func (s *rateLimitStage) Process(w http.ResponseWriter, r *http.Request, gc *GateContext) (*http.Request, bool) {
	if gc.Trusted {
		return r, true
	}

	profileName := s.profileFor(r.URL.Path)
	metrics.RequestsTotal.WithLabelValues(profileName).Inc()

	identifier := s.identifierFor(r, profileName)
	result, err := s.limiter.Check(r.Context(), profileName, identifier)
	if err != nil {
		// Throttling must never take the platform down with it; an internal
		// failure fails open and gets logged loudly instead.
		s.log.WithError(err).WithFields(logrus.Fields{
			"profile":    profileName,
			"identifier": identifier,
		}).Error("rate limit check failed, allowing request")
		return r, true
	}
	gc.RateLimit = &result

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if result.Allowed {
		metrics.AllowedTotal.WithLabelValues(profileName).Inc()
		return r, true
	}

	reason := "TooManyRequests"
	message := "Request quota exceeded, slow down and retry later"
	if errors.Is(result.Err(), gateerrors.ErrIdentifierBlocked) {
		reason = "IdentifierBlocked"
		message = "Too many repeated violations, access temporarily suspended"
	}
	metrics.RejectedTotal.WithLabelValues(reason).Inc()
	s.sink.Emit(audit.Event{
		Type:       audit.EventViolation,
		Reason:     reason,
		Identifier: identifier,
		Profile:    profileName,
		Fields:     logrus.Fields{"violations": result.Violations},
	})

	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
	middleware.WriteJSONError(w, http.StatusTooManyRequests, reason, fmt.Errorf("%s", message))
	return r, false
}

func (s *rateLimitStage) profileFor(path string) string {
	for _, rp := range s.prefixes {
		if strings.HasPrefix(path, rp.prefix) {
			return rp.profile
		}
	}
	return DefaultProfile
}

// identifierFor picks the quota key per the profile's subject policy. Subject
// profiles fall back to the client address for anonymous traffic.
func (s *rateLimitStage) identifierFor(r *http.Request, profileName string) string {
	if p, ok := s.limiter.Profile(profileName); ok && p.PerSubject {
		if identity, err := auth.GetIdentity(r.Context()); err == nil {
			if username := identity.GetUsername(); username != "" {
				return "user:" + username
			}
			if uid := identity.GetUID(); uid != "" {
				return "uid:" + uid
			}
		}
	}
	return "ip:" + middleware.ClientIP(r)
}

type tenantStage struct {
	resolver   *tenant.Resolver
	landingURL string
	log        logrus.FieldLogger
}

func NewTenantStage(resolver *tenant.Resolver, landingURL string, log logrus.FieldLogger) Stage {
	return &tenantStage{resolver: resolver, landingURL: landingURL, log: log}
}

func (s *tenantStage) Name() string { return "tenant" }

func (s *tenantStage) Process(w http.ResponseWriter, r *http.Request, gc *GateContext) (*http.Request, bool) {
	if gc.Trusted {
		return r, true
	}

	tc, err := s.resolver.Resolve(r.Context(), r.Host)
	if err != nil {
		s.log.WithError(err).WithField("host", r.Host).Error("tenant resolution failed")
		middleware.WriteJSONError(w, http.StatusServiceUnavailable, "TenantLookupFailed",
			fmt.Errorf("temporarily unable to resolve workspace"))
		return r, false
	}
	gc.Tenant = &tc

	switch tc.Outcome {
	case tenant.OutcomeResolved:
		return r.WithContext(tenant.WithContext(r.Context(), tc)), true
	case tenant.OutcomeRootDomain:
		// The apex host serves the public site and the admin surface; no
		// tenant is attached.
		return r, true
	default:
		metrics.RejectedTotal.WithLabelValues("TenantNotFound").Inc()
		if strings.HasPrefix(r.URL.Path, "/api/") {
			middleware.WriteJSONError(w, http.StatusNotFound, "TenantNotFound",
				fmt.Errorf("no active workspace for host %q", tc.Host))
			return r, false
		}
		// Browser traffic for unknown or retired subdomains lands on the
		// public site rather than an error page.
		http.Redirect(w, r, s.landingURL, http.StatusTemporaryRedirect)
		return r, false
	}
}

type csrfStage struct {
	guard *csrf.Guard
}

func NewCsrfStage(guard *csrf.Guard) Stage {
	return &csrfStage{guard: guard}
}

func (s *csrfStage) Name() string { return "csrf" }

func (s *csrfStage) Process(w http.ResponseWriter, r *http.Request, gc *GateContext) (*http.Request, bool) {
	if gc.Trusted {
		return r, true
	}
	err := s.guard.Check(w, r)
	gc.CsrfChecked = err == nil
	if err != nil {
		metrics.RejectedTotal.WithLabelValues("CsrfMismatch").Inc()
		return r, false
	}
	return r, true
}
