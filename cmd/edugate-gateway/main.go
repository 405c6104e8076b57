package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiserver "github.com/edugate/edugate/internal/api_server"
	"github.com/edugate/edugate/internal/audit"
	"github.com/edugate/edugate/internal/bypass"
	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/csrf"
	"github.com/edugate/edugate/internal/kvstore"
	"github.com/edugate/edugate/internal/metrics"
	"github.com/edugate/edugate/internal/ratelimit"
	"github.com/edugate/edugate/internal/tenant"
	"github.com/edugate/edugate/pkg/log"
	"github.com/sirupsen/logrus"
)

func main() {
	log := log.InitLogs()
	log.Println("Starting gateway service")
	defer log.Println("Gateway service stopped")

	cfg, err := config.LoadOrGenerate(config.ConfigFile())
	if err != nil {
		log.Fatalf("reading configuration: %v", err)
	}
	log.Printf("Using config: %s", cfg)

	logLvl, err := logrus.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = logrus.InfoLevel
	}
	log.SetLevel(logLvl)

	metrics.Register()

	kv, err := kvstore.NewKVStore(cfg.KV.Hostname, cfg.KV.Port, cfg.KV.Password, time.Duration(cfg.KV.Timeout))
	if err != nil {
		log.Fatalf("initializing kv store: %v", err)
	}
	defer kv.Close()

	sink := audit.NewSink(log.WithField("pkg", "audit"), 1024)

	counter := ratelimit.NewFailoverCounter(
		ratelimit.NewRemoteCounter(kv),
		ratelimit.NewMemoryCounter(),
		log.WithField("pkg", "ratelimit"),
		func(op string, err error) {
			metrics.DegradedTotal.Inc()
			sink.Emit(audit.Event{
				Type:   audit.EventDegradation,
				Reason: op,
			})
		},
	)
	limiter, err := ratelimit.NewLimiter(counter, ratelimit.OptionsFromConfig(cfg.RateLimit), log.WithField("pkg", "ratelimit"))
	if err != nil {
		log.Fatalf("initializing rate limiter: %v", err)
	}

	whitelist, err := bypass.NewWhitelist(cfg.Bypass.Whitelist, log.WithField("pkg", "bypass"))
	if err != nil {
		log.Fatalf("initializing whitelist: %v", err)
	}
	classifier := bypass.NewClassifier(cfg.Bypass, cfg.Service.DeploymentMode, whitelist, log.WithField("pkg", "bypass"))

	lookup, err := tenant.NewStaticLookup(cfg.Tenants)
	if err != nil {
		log.Fatalf("initializing tenant lookup: %v", err)
	}
	resolver := tenant.NewResolver(cfg.Service.RootDomain, lookup, time.Duration(cfg.Service.TenantCacheTTL))

	secureCookies := cfg.Service.DeploymentMode == config.ModeProduction
	guard := csrf.NewGuard(cfg.Csrf, secureCookies, log.WithField("pkg", "csrf"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	listener, err := net.Listen("tcp", cfg.Service.Address)
	if err != nil {
		log.Fatalf("creating listener: %v", err)
	}

	server := apiserver.New(log, cfg, listener, limiter, classifier, whitelist, resolver, guard, sink, appPlaceholder(), kv)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}

// appPlaceholder stands in for the proxied application in deployments that
// run the gateway standalone.
func appPlaceholder() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
