package bypass

import (
	"net/http"

	"github.com/edugate/edugate/internal/config"
	"github.com/sirupsen/logrus"
)

// Decision is the classifier's verdict plus the matched reason code.
type Decision struct {
	Trusted bool
	Reason  string
}

// Classifier decides whether a request originates from trusted
// infrastructure and should skip throttling and tenant resolution.
type Classifier struct {
	signals []Signal
	log     logrus.FieldLogger
}

// NewClassifier builds the ordered signal list from configuration. Adding a
// new detection signal means appending to this list, nothing else.
func NewClassifier(cfg *config.BypassConfig, deploymentMode string, whitelist *Whitelist, log logrus.FieldLogger) *Classifier {
	signals := []Signal{
		headerSignal{header: cfg.DeploymentHeader},
		envSignal{mode: deploymentMode},
		userAgentSignal{agents: cfg.MonitorAgents},
		whitelistSignal{whitelist: whitelist},
	}
	return &Classifier{signals: signals, log: log}
}

// Classify evaluates the signals in order and short-circuits on the first
// match. Every trusted decision is logged with the matched reason for audit.
func (c *Classifier) Classify(r *http.Request) Decision {
	for _, signal := range c.signals {
		if signal.Match(r) {
			c.log.WithFields(logrus.Fields{
				"event":  "bypass_granted",
				"reason": signal.Name(),
				"remote": r.RemoteAddr,
				"path":   r.URL.Path,
			}).Debug("request classified as trusted infrastructure")
			return Decision{Trusted: true, Reason: signal.Name()}
		}
	}
	return Decision{}
}
