package webhook

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Rejection codes returned in the "error" field.
const (
	CodeMissingSignature   = "missing_signature"
	CodeMalformedSignature = "invalid_signature_format"
	CodeInvalidSignature   = "invalid_signature"
	CodeStaleTimestamp     = "stale_timestamp"
	CodeNotConfigured      = "webhook_not_configured"
	CodeIPNotAllowed       = "ip_not_allowed"
	CodeRateLimited        = "rate_limited"
	CodeInvalidContentType = "invalid_content_type"
	CodeEmptyBody          = "empty_body"
	CodeInvalidJSON        = "invalid_json"
	CodeMissingFields      = "missing_event_fields"
)

const rateLimitKeyPrefix = "webhook:ratelimit:"

// Pipeline holds the security stages that run in front of the event handler:
// rate limiter, signature verifier, IP allowlist, request validator and
// idempotency guard, in that order.
type Pipeline struct {
	cfg            Config
	trusted        ipSet
	allowed        ipSet
	idempotency    IdempotencyStore
	limiterStorage fiber.Storage
	validate       *validator.Validate
}

type Option func(*Pipeline)

// WithIdempotencyStore swaps the default in-memory store, e.g. for Redis.
func WithIdempotencyStore(s IdempotencyStore) Option {
	return func(p *Pipeline) { p.idempotency = s }
}

// WithLimiterStorage shares rate-limit counters through a fiber storage.
func WithLimiterStorage(s fiber.Storage) Option {
	return func(p *Pipeline) { p.limiterStorage = s }
}

func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = DefaultSignatureTolerance
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = DefaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}

	p := &Pipeline{
		cfg:      cfg,
		trusted:  newIPSet(cfg.TrustedIPs),
		allowed:  newIPSet(cfg.AllowedIPs),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.idempotency == nil {
		p.idempotency = NewMemoryIdempotencyStore(cfg.IdempotencyWindow, cfg.IdempotencyRetention)
	}

	if cfg.Production && p.allowed.empty() {
		log.Warn("[Webhook] IP allowlist is empty in production: allowlisting is disabled and all callers pass")
	}
	return p
}

// Stages returns the pipeline handlers in execution order.
func (p *Pipeline) Stages() []fiber.Handler {
	return []fiber.Handler{
		p.RateLimit(),
		p.VerifySignature(),
		p.EnforceAllowlist(),
		p.ValidateRequest(),
		p.Deduplicate(),
	}
}

func (p *Pipeline) sourceIP(c *fiber.Ctx) string {
	env := EnvelopeFrom(c)
	if env.SourceIP == "" {
		env.SourceIP = ClientIP(c, p.cfg.TrustProxy)
	}
	return env.SourceIP
}

// RateLimit counts calls per source IP in a fixed window. Trusted provider
// addresses bypass the counter but still go through every later stage.
func (p *Pipeline) RateLimit() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        p.cfg.RateLimitMax,
		Expiration: p.cfg.RateLimitWindow,
		Next: func(c *fiber.Ctx) bool {
			return p.trusted.contains(p.sourceIP(c))
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKeyPrefix + p.sourceIP(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warnf("[Webhook] rate limit exceeded for %s (correlation=%s)", p.sourceIP(c), EnvelopeFrom(c).CorrelationID)
			return reject(c, fiber.StatusTooManyRequests, CodeRateLimited, "Too many webhook requests, please try again later")
		},
		Storage:           p.limiterStorage,
		LimiterMiddleware: limiter.FixedWindow{},
	})
}

// VerifySignature authenticates the raw body against the shared secret.
func (p *Pipeline) VerifySignature() fiber.Handler {
	return func(c *fiber.Ctx) error {
		env := EnvelopeFrom(c)
		header := c.Get(p.cfg.SignatureHeader)

		sig, err := VerifySignature(header, env.RawBody, p.cfg.Secret, p.cfg.now(), p.cfg.SignatureTolerance)
		if err != nil {
			log.Warnf("[Webhook] signature rejected for %s (correlation=%s, signature_present=%t): %v",
				p.sourceIP(c), env.CorrelationID, strings.TrimSpace(header) != "", err)

			switch {
			case errors.Is(err, ErrSecretNotConfigured):
				return reject(c, fiber.StatusInternalServerError, CodeNotConfigured, "Webhook secret is not configured")
			case errors.Is(err, ErrMissingSignature):
				return reject(c, fiber.StatusBadRequest, CodeMissingSignature, "Missing webhook signature")
			case errors.Is(err, ErrMalformedSignature):
				return reject(c, fiber.StatusBadRequest, CodeMalformedSignature, "Invalid signature format")
			case errors.Is(err, ErrStaleTimestamp):
				return reject(c, fiber.StatusBadRequest, CodeStaleTimestamp, "Webhook timestamp is outside the tolerance window")
			default:
				return reject(c, fiber.StatusBadRequest, CodeInvalidSignature, "Invalid webhook signature")
			}
		}

		env.Signature = sig
		return c.Next()
	}
}

// EnforceAllowlist is a pass-through outside production. In production an
// empty allowlist also passes everything (fail-open until configured).
func (p *Pipeline) EnforceAllowlist() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !p.cfg.Production || p.allowed.empty() {
			return c.Next()
		}
		ip := p.sourceIP(c)
		if p.allowed.contains(ip) {
			return c.Next()
		}

		log.Warnf("[Webhook] IP %s not allowlisted (correlation=%s, headers=%v)",
			ip, EnvelopeFrom(c).CorrelationID, redactedHeaders(c, p.cfg.SignatureHeader))
		return reject(c, fiber.StatusForbidden, CodeIPNotAllowed, "IP address not allowed")
	}
}

// ValidateRequest checks the request structure: JSON content type, a body,
// and at least one of id/type. Event semantics are left to the handler.
func (p *Pipeline) ValidateRequest() fiber.Handler {
	return func(c *fiber.Ctx) error {
		env := EnvelopeFrom(c)

		if !isJSONContentType(string(c.Request().Header.ContentType())) {
			return p.invalid(c, CodeInvalidContentType, "Content-Type must be application/json")
		}
		if len(env.RawBody) == 0 {
			return p.invalid(c, CodeEmptyBody, "Request body is empty")
		}

		var evt Event
		if err := json.Unmarshal(env.RawBody, &evt); err != nil {
			return p.invalid(c, CodeInvalidJSON, "Request body is not a valid JSON event")
		}
		evt.ID = strings.TrimSpace(evt.ID)
		evt.Type = strings.TrimSpace(evt.Type)
		if err := p.validate.Struct(&evt); err != nil {
			return p.invalid(c, CodeMissingFields, "Event id or type is required")
		}
		evt.Payload = env.RawBody

		env.Event = &evt
		return c.Next()
	}
}

func (p *Pipeline) invalid(c *fiber.Ctx, code, message string) error {
	log.Warnf("[Webhook] invalid request from %s (correlation=%s): %s", p.sourceIP(c), EnvelopeFrom(c).CorrelationID, code)
	return reject(c, fiber.StatusBadRequest, code, message)
}

// Deduplicate acknowledges repeated event ids without calling the handler.
// Events without an id are never deduplicated.
func (p *Pipeline) Deduplicate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		env := EnvelopeFrom(c)
		if env.Event == nil || env.Event.ID == "" {
			log.Debugf("[Webhook] event without id, skipping deduplication (correlation=%s)", env.CorrelationID)
			return c.Next()
		}

		id := env.Event.ID
		acquired, first, err := p.idempotency.TryAcquire(c.UserContext(), id, p.cfg.now())
		if err != nil {
			// A broken store must not block deliveries; the handler keeps its
			// own durable record of processed events.
			log.Errorf("[Webhook] idempotency store failed for %s, processing without dedupe: %v", id, err)
			return c.Next()
		}
		if !acquired {
			env.Duplicate = true
			log.Infof("[Webhook] duplicate event %s (first accepted %s, correlation=%s)", id, first.UTC().Format("2006-01-02T15:04:05Z"), env.CorrelationID)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"success": true,
				"message": "Event already processed",
				"eventId": id,
			})
		}
		return c.Next()
	}
}

func reject(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   code,
		"message": message,
	})
}

func isJSONContentType(ct string) bool {
	mediaType, _, _ := strings.Cut(ct, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return mediaType == fiber.MIMEApplicationJSON || strings.HasSuffix(mediaType, "+json")
}

// redactedHeaders lists request headers with secrets replaced by a marker.
func redactedHeaders(c *fiber.Ctx, signatureHeader string) map[string]string {
	out := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		switch strings.ToLower(k) {
		case strings.ToLower(signatureHeader), "authorization", "cookie":
			out[k] = "[present]"
		default:
			out[k] = string(value)
		}
	})
	return out
}
