// Package webhooklog keeps the audit trail of webhook calls: one "received"
// record when a call arrives and one "response" or "error" record when it
// completes, correlated by id and appended to day-partitioned NDJSON files.
package webhooklog

import "time"

type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionResponse Direction = "response"
	DirectionError    Direction = "error"
)

// Record is one appended log line. Header values are never stored, only
// whether the signature header was present.
type Record struct {
	CorrelationID string    `json:"correlation_id"`
	Direction     Direction `json:"direction"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	HasSignature  bool      `json:"has_signature"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int       `json:"content_length"`
	BodySize      int       `json:"body_size"`
	StatusCode    int       `json:"status_code"`
	LatencyMs     int64     `json:"latency_ms"`
	ResponseBody  string    `json:"response_body,omitempty"`
	EventID       string    `json:"event_id,omitempty"`
	EventType     string    `json:"event_type,omitempty"`
	Duplicate     bool      `json:"duplicate,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
