package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pdfshrink/pdfshrink/internal/pkg/metrics/counter"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

const (
	codeHandlerFailed = "handler_failed"
	codeInvalidDate   = "invalid_date"

	defaultHandlerTimeout = 15 * time.Second
)

// WebhookController serves the provider webhook endpoint and its operator
// routes. The security pipeline runs before HandleProviderWebhook.
type WebhookController struct {
	handler webhook.EventHandler
	logs    *webhooklog.Store
	counter *counter.Counter
	timeout time.Duration
}

func NewWebhookController(handler webhook.EventHandler, logs *webhooklog.Store, c *counter.Counter) *WebhookController {
	return &WebhookController{
		handler: handler,
		logs:    logs,
		counter: c,
		timeout: defaultHandlerTimeout,
	}
}

// HandleProviderWebhook hands the validated event to the event handler and
// reports its outcome.
func (wc *WebhookController) HandleProviderWebhook(c *fiber.Ctx) error {
	env := webhook.EnvelopeFrom(c)
	if env.Event == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   webhook.CodeInvalidJSON,
			"message": "No validated event on request",
		})
	}

	ctx, cancel := context.WithTimeout(webhook.WithCorrelationID(c.UserContext(), env.CorrelationID), wc.timeout)
	defer cancel()

	if err := wc.handler.HandleEvent(ctx, env.Event); err != nil {
		var herr *webhook.HandlerError
		if errors.As(err, &herr) {
			log.Warnf("[WebhookController] event %s rejected by handler (correlation=%s): %v", env.Event.ID, env.CorrelationID, err)
			return c.Status(herr.Status).JSON(fiber.Map{
				"success":       false,
				"error":         herr.Code,
				"message":       herr.Error(),
				"eventId":       env.Event.ID,
				"correlationId": env.CorrelationID,
			})
		}
		log.Errorf("[WebhookController] event %s failed (correlation=%s): %v", env.Event.ID, env.CorrelationID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":       false,
			"error":         codeHandlerFailed,
			"message":       "Webhook processing failed",
			"eventId":       env.Event.ID,
			"correlationId": env.CorrelationID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"message":       "Webhook processed",
		"eventId":       env.Event.ID,
		"correlationId": env.CorrelationID,
	})
}

func (wc *WebhookController) HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":   true,
		"message":   "Webhook endpoint is healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleLogs returns the logged records of one day (?date=YYYY-MM-DD,
// default today).
func (wc *WebhookController) HandleLogs(c *fiber.Ctx) error {
	day, err := webhooklog.ParseDay(c.Query("date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   codeInvalidDate,
			"message": err.Error(),
		})
	}

	records, err := wc.logs.Query(day)
	if err != nil {
		log.Errorf("[WebhookController] failed to query webhook logs for %s: %v", day.Format("2006-01-02"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "log_query_failed",
			"message": "Could not read webhook logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"date":    day.Format("2006-01-02"),
		"count":   len(records),
		"records": records,
	})
}

func (wc *WebhookController) HandleStats(c *fiber.Ctx) error {
	stats, err := wc.counter.Snapshot(c.UserContext())
	if err != nil {
		log.Errorf("[WebhookController] failed to read webhook counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "stats_unavailable",
			"message": "Could not read webhook counters",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"outcomes": stats,
	})
}

// RecordOutcome is the logging hook that feeds the outcome counters.
func (wc *WebhookController) RecordOutcome(c *fiber.Ctx, rec webhooklog.Record) {
	if err := wc.counter.Add(c.UserContext(), counter.Outcome(rec.StatusCode, rec.Duplicate)); err != nil {
		log.Warnf("[WebhookController] failed to count outcome for %s: %v", rec.CorrelationID, err)
	}
}
