package webhook

import (
	"context"
	"fmt"
)

// EventHandler applies the business side effects of a validated,
// deduplicated event. Returning a *HandlerError controls the response
// status; any other error is reported as a 500.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, evt *Event) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// HandlerError is a handler failure with the status and code the caller
// should see.
type HandlerError struct {
	Status int
	Code   string
	Err    error
}

func NewHandlerError(status int, code string, err error) *HandlerError {
	return &HandlerError{Status: status, Code: code, Err: err}
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type correlationKey struct{}

// WithCorrelationID stores the request's correlation id for handlers.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the id stored by WithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
