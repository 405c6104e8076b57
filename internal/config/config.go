package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edugate/edugate/internal/util"
	"sigs.k8s.io/yaml"
)

const (
	appName = "edugate"

	// DeploymentModeEnvKey overrides the configured deployment mode, so
	// ephemeral preview builds can mark themselves without editing config.
	DeploymentModeEnvKey = "EDUGATE_DEPLOYMENT_MODE"

	ModeProduction  = "production"
	ModePreview     = "preview"
	ModeDevelopment = "development"
)

type Config struct {
	Service   *svcConfig       `json:"service,omitempty"`
	KV        *kvConfig        `json:"kv,omitempty"`
	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
	Bypass    *BypassConfig    `json:"bypass,omitempty"`
	Csrf      *CsrfConfig      `json:"csrf,omitempty"`
	Tenants   []TenantEntry    `json:"tenants,omitempty"`
}

type svcConfig struct {
	Address               string        `json:"address,omitempty"`
	RootDomain            string        `json:"rootDomain,omitempty"`
	LandingURL            string        `json:"landingUrl,omitempty"`
	LogLevel              string        `json:"logLevel,omitempty"`
	DeploymentMode        string        `json:"deploymentMode,omitempty"`
	TrustedProxies        []string      `json:"trustedProxies,omitempty"`
	AuthSubjectHeader     string        `json:"authSubjectHeader,omitempty"`
	HttpMaxUrlLength      int           `json:"httpMaxUrlLength,omitempty"`
	HttpMaxNumHeaders     int           `json:"httpMaxNumHeaders,omitempty"`
	HttpReadTimeout       util.Duration `json:"httpReadTimeout,omitempty"`
	HttpReadHeaderTimeout util.Duration `json:"httpReadHeaderTimeout,omitempty"`
	HttpWriteTimeout      util.Duration `json:"httpWriteTimeout,omitempty"`
	HttpIdleTimeout       util.Duration `json:"httpIdleTimeout,omitempty"`
	HttpMaxHeaderBytes    int           `json:"httpMaxHeaderBytes,omitempty"`
	TenantCacheTTL        util.Duration `json:"tenantCacheTtl,omitempty"`
}

type kvConfig struct {
	Hostname string        `json:"hostname,omitempty"`
	Port     uint          `json:"port,omitempty"`
	Password string        `json:"password,omitempty"`
	Timeout  util.Duration `json:"timeout,omitempty"`
}

// RateLimitProfile is a named request quota. Subject selects the identifier
// policy: "ip" keys on the client address, "subject" keys on the
// authenticated principal and falls back to the address for anonymous
// traffic.
type RateLimitProfile struct {
	Requests int           `json:"requests"`
	Window   util.Duration `json:"window"`
	Subject  string        `json:"subject,omitempty"`
}

type RateLimitConfig struct {
	Profiles map[string]RateLimitProfile `json:"profiles,omitempty"`
	// Routes maps URL path prefixes to profile names; the longest matching
	// prefix wins, everything else uses the "api" profile.
	Routes          map[string]string `json:"routes,omitempty"`
	BlockThreshold  int               `json:"blockThreshold,omitempty"`
	BlockBase       util.Duration     `json:"blockBase,omitempty"`
	BlockMax        util.Duration     `json:"blockMax,omitempty"`
	ViolationExpiry util.Duration     `json:"violationExpiry,omitempty"`
}

type BypassConfig struct {
	// DeploymentHeader is injected by the platform edge and cannot originate
	// from external callers.
	DeploymentHeader string           `json:"deploymentHeader,omitempty"`
	MonitorAgents    []string         `json:"monitorAgents,omitempty"`
	Whitelist        []WhitelistEntry `json:"whitelist,omitempty"`
}

type WhitelistEntry struct {
	Address  string `json:"address"`
	Category string `json:"category,omitempty"`
}

type CsrfConfig struct {
	CookieName string        `json:"cookieName,omitempty"`
	HeaderName string        `json:"headerName,omitempty"`
	FormField  string        `json:"formField,omitempty"`
	TokenTTL   util.Duration `json:"tokenTtl,omitempty"`
	SkipPaths  []string      `json:"skipPaths,omitempty"`
}

type TenantEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func ConfigDir() string {
	return filepath.Join(mustString(os.UserHomeDir), "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func NewDefault() *Config {
	c := &Config{
		Service: &svcConfig{
			Address:               ":3000",
			RootDomain:            "app.local",
			LandingURL:            "https://app.local/",
			LogLevel:              "info",
			DeploymentMode:        ModeProduction,
			AuthSubjectHeader:     "X-Auth-Subject",
			HttpMaxUrlLength:      2048,
			HttpMaxNumHeaders:     64,
			HttpReadTimeout:       util.Duration(5 * time.Minute),
			HttpReadHeaderTimeout: util.Duration(5 * time.Minute),
			HttpWriteTimeout:      util.Duration(5 * time.Minute),
			HttpIdleTimeout:       util.Duration(5 * time.Minute),
			HttpMaxHeaderBytes:    32 * 1024,
			TenantCacheTTL:        util.Duration(5 * time.Minute),
		},
		KV: &kvConfig{
			Hostname: "localhost",
			Port:     6379,
			Timeout:  util.Duration(500 * time.Millisecond),
		},
		RateLimit: &RateLimitConfig{
			Profiles: map[string]RateLimitProfile{
				"api":       {Requests: 100, Window: util.Duration(15 * time.Minute), Subject: "subject"},
				"auth":      {Requests: 3, Window: util.Duration(5 * time.Minute), Subject: "ip"},
				"payments":  {Requests: 5, Window: util.Duration(10 * time.Second), Subject: "subject"},
				"uploads":   {Requests: 20, Window: util.Duration(time.Minute), Subject: "subject"},
				"messaging": {Requests: 30, Window: util.Duration(time.Minute), Subject: "subject"},
			},
			Routes: map[string]string{
				"/api/v1/auth":     "auth",
				"/api/v1/payments": "payments",
				"/api/v1/uploads":  "uploads",
				"/api/v1/messages": "messaging",
			},
			BlockThreshold:  3,
			BlockBase:       util.Duration(time.Minute),
			BlockMax:        util.Duration(time.Hour),
			ViolationExpiry: util.Duration(time.Hour),
		},
		Bypass: &BypassConfig{
			DeploymentHeader: "X-Edge-Deployment-Id",
			MonitorAgents:    []string{"UptimeRobot", "Pingdom", "GoogleHC", "kube-probe"},
		},
		Csrf: &CsrfConfig{
			CookieName: "edugate_csrf",
			HeaderName: "X-CSRF-Token",
			FormField:  "csrf_token",
			TokenTTL:   util.Duration(12 * time.Hour),
			SkipPaths:  []string{"/api/v1/auth/", "/webhooks/", "/api/v1/admin/"},
		},
	}
	if mode := os.Getenv(DeploymentModeEnvKey); mode != "" {
		c.Service.DeploymentMode = mode
	}
	return c
}

func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrGenerate(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgFile), os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("creating directory for config file: %v", err)
		}
		if err := Save(NewDefault(), cfgFile); err != nil {
			return nil, err
		}
	}
	return NewFromFile(cfgFile)
}

func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %v", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %v", err)
	}
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %v", err)
	}
	if err := os.WriteFile(cfgFile, contents, 0600); err != nil {
		return fmt.Errorf("writing config file: %v", err)
	}
	return nil
}

func Validate(cfg *Config) error {
	if cfg.Service == nil || cfg.Service.RootDomain == "" {
		return fmt.Errorf("service.rootDomain must be set")
	}
	if cfg.RateLimit != nil {
		for name, p := range cfg.RateLimit.Profiles {
			if p.Requests <= 0 {
				return fmt.Errorf("rateLimit profile %q: requests must be positive", name)
			}
			if p.Window <= 0 {
				return fmt.Errorf("rateLimit profile %q: window must be positive", name)
			}
			if p.Subject != "" && p.Subject != "ip" && p.Subject != "subject" {
				return fmt.Errorf("rateLimit profile %q: subject must be \"ip\" or \"subject\"", name)
			}
		}
		for prefix, profile := range cfg.RateLimit.Routes {
			if _, ok := cfg.RateLimit.Profiles[profile]; !ok {
				return fmt.Errorf("rateLimit route %q references unknown profile %q", prefix, profile)
			}
		}
	}
	return nil
}

func (cfg *Config) String() string {
	contents, err := json.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}

func mustString(fn func() (string, error)) string {
	s, err := fn()
	if err != nil {
		panic(err)
	}
	return s
}
