package webhook

import (
	"time"

	"github.com/pdfshrink/pdfshrink/internal/pkg/env"
)

const (
	DefaultSignatureHeader      = "X-Webhook-Signature"
	DefaultSignatureTolerance   = 5 * time.Minute
	DefaultRateLimitMax         = 100
	DefaultRateLimitWindow      = 15 * time.Minute
	DefaultIdempotencyWindow    = time.Hour
	DefaultIdempotencyRetention = 2 * time.Hour
)

// DefaultTrustedIPs are the payment provider's published webhook egress
// addresses. Calls from these skip the rate limiter only.
var DefaultTrustedIPs = []string{
	"3.18.12.63",
	"3.130.192.231",
	"13.235.14.237",
	"13.235.122.149",
	"18.211.135.69",
	"35.154.171.200",
	"52.15.183.38",
	"54.88.130.119",
	"54.88.130.237",
	"54.187.174.169",
	"54.187.205.235",
	"54.187.216.72",
}

// Config holds the webhook ingestion settings.
type Config struct {
	Secret             string
	SignatureHeader    string
	SignatureTolerance time.Duration

	// Production enables the IP allowlist gate.
	Production bool
	// AllowedIPs accepts exact addresses and CIDR ranges. Empty disables the gate.
	AllowedIPs []string
	TrustedIPs []string
	// TrustProxy derives the source IP from X-Real-Ip / X-Forwarded-For.
	TrustProxy bool

	RateLimitMax    int
	RateLimitWindow time.Duration

	IdempotencyWindow    time.Duration
	IdempotencyRetention time.Duration

	// Now is the clock used for timestamp tolerance and dedupe windows.
	Now func() time.Time
}

// DefaultConfig returns the fixed production limits with no secret set.
func DefaultConfig() Config {
	return Config{
		SignatureHeader:      DefaultSignatureHeader,
		SignatureTolerance:   DefaultSignatureTolerance,
		Production:           true,
		TrustedIPs:           append([]string(nil), DefaultTrustedIPs...),
		RateLimitMax:         DefaultRateLimitMax,
		RateLimitWindow:      DefaultRateLimitWindow,
		IdempotencyWindow:    DefaultIdempotencyWindow,
		IdempotencyRetention: DefaultIdempotencyRetention,
		Now:                  time.Now,
	}
}

// LoadConfig loads the webhook configuration from environment variables
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = env.GetEnv("WEBHOOK_SECRET", "")
	cfg.SignatureHeader = env.GetEnv("WEBHOOK_SIGNATURE_HEADER", DefaultSignatureHeader)
	cfg.SignatureTolerance = env.GetDuration("WEBHOOK_SIGNATURE_TOLERANCE", DefaultSignatureTolerance)
	cfg.Production = env.IsProduction()
	cfg.AllowedIPs = env.GetList("WEBHOOK_ALLOWED_IPS")
	if trusted := env.GetList("WEBHOOK_TRUSTED_IPS"); len(trusted) > 0 {
		cfg.TrustedIPs = trusted
	}
	cfg.TrustProxy = env.GetBool("WEBHOOK_TRUST_PROXY", false)
	cfg.RateLimitMax = env.GetInt("WEBHOOK_RATE_LIMIT_MAX", DefaultRateLimitMax)
	cfg.RateLimitWindow = env.GetDuration("WEBHOOK_RATE_LIMIT_WINDOW", DefaultRateLimitWindow)
	cfg.IdempotencyWindow = env.GetDuration("WEBHOOK_IDEMPOTENCY_WINDOW", DefaultIdempotencyWindow)
	cfg.IdempotencyRetention = env.GetDuration("WEBHOOK_IDEMPOTENCY_RETENTION", DefaultIdempotencyRetention)
	return cfg
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
