package webhook

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
)

const envelopeLocalsKey = "webhook_envelope"

// Event is the provider payload once parsed. Payload keeps the whole body so
// handlers can read fields beyond id/type/data.
type Event struct {
	ID      string          `json:"id" validate:"required_without=Type"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"-"`
}

// Envelope is the per-request state shared by the pipeline stages. It lives
// in the fiber locals and is dropped with the request.
type Envelope struct {
	CorrelationID string
	ReceivedAt    time.Time
	SourceIP      string
	RawBody       []byte
	Signature     *Signature
	Event         *Event
	Duplicate     bool
}

// EnvelopeFrom returns the request's envelope, creating it on first use.
func EnvelopeFrom(c *fiber.Ctx) *Envelope {
	if env, ok := c.Locals(envelopeLocalsKey).(*Envelope); ok && env != nil {
		return env
	}
	env := &Envelope{
		ReceivedAt: time.Now(),
		// fasthttp reuses the body buffer once the handler returns
		RawBody: append([]byte(nil), c.BodyRaw()...),
	}
	c.Locals(envelopeLocalsKey, env)
	return env
}
