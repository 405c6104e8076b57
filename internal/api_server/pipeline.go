package apiserver

import (
	"context"
	"net/http"

	"github.com/edugate/edugate/internal/consts"
	"github.com/edugate/edugate/internal/ratelimit"
	"github.com/edugate/edugate/internal/tenant"
	"github.com/sirupsen/logrus"
)

// GateContext accumulates per-request verdicts as the request moves through
// the pipeline. Later stages and the downstream application read it from the
// request context.
type GateContext struct {
	Trusted      bool
	BypassReason string
	RateLimit    *ratelimit.Result
	Tenant       *tenant.Context
	CsrfChecked  bool
}

// GateContextFrom returns the pipeline verdicts for the request, or nil when
// the request did not pass through the pipeline.
func GateContextFrom(ctx context.Context) *GateContext {
	gc, _ := ctx.Value(consts.GateContextCtxKey).(*GateContext)
	return gc
}

// Stage is one step of the gating pipeline. Process reports whether the
// request may continue; a false return means the stage has already written
// the response and later stages must not run. Stages may derive a new request
// to attach context values.
type Stage interface {
	Name() string
	Process(w http.ResponseWriter, r *http.Request, gc *GateContext) (*http.Request, bool)
}

// Pipeline runs stages in a fixed order. The order is part of the contract:
// bypass classification first so trusted traffic skips the rest, then
// throttling before any tenant work, then CSRF last.
type Pipeline struct {
	stages []Stage
	log    logrus.FieldLogger
}

func NewPipeline(log logrus.FieldLogger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, log: log}
}

// Handler mounts the pipeline as a middleware around the downstream
// application handler.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gc := &GateContext{}
		r = r.WithContext(context.WithValue(r.Context(), consts.GateContextCtxKey, gc))

		for _, stage := range p.stages {
			var ok bool
			r, ok = stage.Process(w, r, gc)
			if !ok {
				p.log.WithFields(logrus.Fields{
					"stage":  stage.Name(),
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Debug("request stopped by pipeline stage")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
