package webhooklog

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
)

const (
	CorrelationHeader   = "X-Correlation-ID"
	maxLoggedBodyLength = 1000
	truncatedMarker     = "...(truncated)"
)

// MiddlewareConfig configures the request/response logging hook.
type MiddlewareConfig struct {
	SignatureHeader string
	TrustProxy      bool
	// OnComplete runs after the closing record was queued.
	OnComplete func(c *fiber.Ctx, rec Record)
	Now        func() time.Time
}

// NewCorrelationID returns "wh_<unix ms>_<random>".
func NewCorrelationID(now time.Time) string {
	return fmt.Sprintf("wh_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Middleware wraps the whole webhook pipeline: it stamps the envelope with a
// correlation id, logs receipt, and logs the final response whichever stage
// produced it.
func Middleware(l *Logger, cfg MiddlewareConfig) fiber.Handler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = webhook.DefaultSignatureHeader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(c *fiber.Ctx) error {
		now := cfg.Now()
		env := webhook.EnvelopeFrom(c)
		env.CorrelationID = NewCorrelationID(now)
		env.ReceivedAt = now
		if env.SourceIP == "" {
			env.SourceIP = webhook.ClientIP(c, cfg.TrustProxy)
		}
		c.Set(CorrelationHeader, env.CorrelationID)

		received := Record{
			CorrelationID: env.CorrelationID,
			Direction:     DirectionReceived,
			Method:        c.Method(),
			Path:          c.Path(),
			IP:            env.SourceIP,
			UserAgent:     c.Get(fiber.HeaderUserAgent),
			HasSignature:  strings.TrimSpace(c.Get(cfg.SignatureHeader)) != "",
			ContentType:   string(c.Request().Header.ContentType()),
			ContentLength: c.Request().Header.ContentLength(),
			BodySize:      len(env.RawBody),
			Timestamp:     now,
		}
		log.Infof("[Webhook] received %s %s correlation=%s ip=%s body=%dB signature=%t",
			received.Method, received.Path, received.CorrelationID, received.IP, received.BodySize, received.HasSignature)
		l.Log(received)

		if err := nextRecovered(c); err != nil {
			// Let the app's error handler write the response so the
			// logged status matches what the caller gets.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		done := cfg.Now()
		status := c.Response().StatusCode()
		latency := done.Sub(env.ReceivedAt).Milliseconds()
		if latency < 0 {
			latency = 0
		}

		closing := received
		closing.Direction = DirectionResponse
		if status >= fiber.StatusBadRequest {
			closing.Direction = DirectionError
		}
		closing.StatusCode = status
		closing.LatencyMs = latency
		closing.ResponseBody = truncateBody(c.Response().Body())
		closing.Duplicate = env.Duplicate
		closing.Timestamp = done
		if env.Event != nil {
			closing.EventID = env.Event.ID
			closing.EventType = env.Event.Type
		}

		if closing.Direction == DirectionError {
			log.Warnf("[Webhook] %s %s -> %d in %dms correlation=%s", closing.Method, closing.Path, status, latency, closing.CorrelationID)
		} else {
			log.Infof("[Webhook] %s %s -> %d in %dms correlation=%s event=%s", closing.Method, closing.Path, status, latency, closing.CorrelationID, closing.EventID)
		}
		l.Log(closing)

		if cfg.OnComplete != nil {
			cfg.OnComplete(c, closing)
		}
		return nil
	}
}

// nextRecovered runs the rest of the chain and turns a panic into an error
// so the closing record is still written.
func nextRecovered(c *fiber.Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Webhook] panic in webhook chain (correlation=%s): %v", webhook.EnvelopeFrom(c).CorrelationID, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Next()
}

func truncateBody(body []byte) string {
	if len(body) <= maxLoggedBodyLength {
		return string(body)
	}
	return string(body[:maxLoggedBodyLength]) + truncatedMarker
}
