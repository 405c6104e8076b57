package bypass

import (
	"net"
	"net/http"
	"strings"

	"github.com/edugate/edugate/internal/config"
)

// Signal is one independent trust predicate. Signals are evaluated in order
// and the first match wins; each is cheaper and more reliable than the next.
type Signal interface {
	// Name doubles as the reason code recorded for audit.
	Name() string
	Match(r *http.Request) bool
}

// headerSignal matches the deployment header the platform edge injects.
// External callers cannot set it, making this the most trustworthy signal.
type headerSignal struct {
	header string
}

func (s headerSignal) Name() string { return "deployment-header" }

func (s headerSignal) Match(r *http.Request) bool {
	return s.header != "" && r.Header.Get(s.header) != ""
}

// envSignal trusts all traffic when the process runs outside production
// (local development, ephemeral preview builds). Acceptable only because
// such deployments are not production-facing.
type envSignal struct {
	mode string
}

func (s envSignal) Name() string { return "non-production-env" }

func (s envSignal) Match(*http.Request) bool {
	return s.mode != "" && s.mode != config.ModeProduction
}

// userAgentSignal matches known health-check and uptime-monitor signatures.
// Spoofable, so it is a fallback classifier only and never grants admin
// access on its own.
type userAgentSignal struct {
	agents []string
}

func (s userAgentSignal) Name() string { return "monitor-agent" }

func (s userAgentSignal) Match(r *http.Request) bool {
	ua := strings.ToLower(r.UserAgent())
	if ua == "" {
		return false
	}
	for _, agent := range s.agents {
		if strings.Contains(ua, strings.ToLower(agent)) {
			return true
		}
	}
	return false
}

// whitelistSignal matches the static/runtime address set. Checked last
// because it needs a list lookup.
type whitelistSignal struct {
	whitelist *Whitelist
}

func (s whitelistSignal) Name() string { return "whitelist" }

func (s whitelistSignal) Match(r *http.Request) bool {
	_, ok := s.whitelist.Contains(clientIP(r))
	return ok
}

// clientIP extracts the IP portion of RemoteAddr, tolerating a missing port.
func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
