package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	fcmiddleware "github.com/edugate/edugate/internal/api_server/middleware"
	"github.com/edugate/edugate/internal/audit"
	"github.com/edugate/edugate/internal/auth"
	"github.com/edugate/edugate/internal/bypass"
	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/csrf"
	"github.com/edugate/edugate/internal/ratelimit"
	"github.com/edugate/edugate/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const gracefulShutdownTimeout = 5 * time.Second

// Server hosts the gating pipeline in front of the downstream application
// handler, plus the operational endpoints (health, metrics, admin).
type Server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	listener   net.Listener
	limiter    *ratelimit.Limiter
	classifier *bypass.Classifier
	whitelist  *bypass.Whitelist
	resolver   *tenant.Resolver
	guard      *csrf.Guard
	sink       *audit.Sink
	next       http.Handler
	checks     []HealthChecker
}

// New returns a new instance of the gateway server. next is the downstream
// application handler that gated requests are forwarded to.
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	listener net.Listener,
	limiter *ratelimit.Limiter,
	classifier *bypass.Classifier,
	whitelist *bypass.Whitelist,
	resolver *tenant.Resolver,
	guard *csrf.Guard,
	sink *audit.Sink,
	next http.Handler,
	checks ...HealthChecker,
) *Server {
	if next == nil {
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	return &Server{
		log:        log,
		cfg:        cfg,
		listener:   listener,
		limiter:    limiter,
		classifier: classifier,
		whitelist:  whitelist,
		resolver:   resolver,
		guard:      guard,
		sink:       sink,
		next:       next,
		checks:     checks,
	}
}

// Router assembles the full handler tree. Split out from Run so tests can
// exercise the wiring without opening a listener.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()

	// request size limits come before logging to keep abusive requests from
	// filling the logs
	router.Use(
		fcmiddleware.RequestSizeLimiter(s.cfg.Service.HttpMaxUrlLength, s.cfg.Service.HttpMaxNumHeaders),
		fcmiddleware.SecurityHeaders,
		fcmiddleware.RequestID,
		fcmiddleware.TrustedRealIP(s.cfg.Service.TrustedProxies),
		// the upstream auth proxy announces the principal via header; it must
		// be attached before the pipeline so subject-keyed quotas see it
		auth.SubjectHeaderMiddleware(s.cfg.Service.AuthSubjectHeader),
		fcmiddleware.RequestLogger(s.log, "/healthz", "/readyz", "/metrics"),
		middleware.Recoverer,
	)

	// probes and metrics bypass the pipeline entirely
	router.Method(http.MethodGet, "/healthz", HealthzHandler())
	router.Method(http.MethodGet, "/readyz", ReadyzHandler(2*time.Second, s.checks...))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	pipeline := NewPipeline(s.log,
		NewBypassStage(s.classifier, s.sink),
		NewRateLimitStage(s.limiter, s.cfg.RateLimit.Routes, s.sink, s.log),
		NewTenantStage(s.resolver, s.cfg.Service.LandingURL, s.log),
		NewCsrfStage(s.guard),
	)

	admin := NewAdminHandler(s.whitelist, s.limiter, s.sink, s.log)

	router.Group(func(r chi.Router) {
		r.Use(pipeline.Handler)
		r.Route("/api/v1/admin", func(ar chi.Router) {
			ar.Use(s.rootDomainOnly)
			admin.Register(ar)
		})
		r.Handle("/*", s.next)
	})

	return router
}

// rootDomainOnly redirects admin requests issued against a tenant subdomain
// to the root-domain equivalent. The admin surface is platform-wide and must
// never appear to be scoped to one tenant.
func (s *Server) rootDomainOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gc := GateContextFrom(r.Context())
		if gc != nil && gc.Tenant != nil && gc.Tenant.Outcome == tenant.OutcomeResolved {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}
			target := scheme + "://" + s.cfg.Service.RootDomain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.log.Println("Initializing gateway server")
	srv := fcmiddleware.NewHTTPServer(s.Router(), s.log, s.cfg.Service.Address, s.cfg)

	go func() {
		<-ctx.Done()
		s.log.Println("Shutdown signal received:", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		s.resolver.Close()
		s.sink.Close()
	}()

	s.log.Printf("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
