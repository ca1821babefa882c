package router

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"golang.org/x/crypto/bcrypt"

	"github.com/pdfshrink/pdfshrink/app/controllers"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

// Dependencies are the components the webhook routes are built from.
type Dependencies struct {
	Pipeline   *webhook.Pipeline
	Logger     *webhooklog.Logger
	Controller *controllers.WebhookController

	SignatureHeader string
	TrustProxy      bool
	// OpsUsers guards the log and stats routes. Values are bcrypt hashes or
	// plain passwords. Empty locks the routes.
	OpsUsers map[string]string
}

type WebhookRouter struct {
	deps Dependencies
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}

func (w WebhookRouter) InstallRouter(app *fiber.App) {
	ctrl := w.deps.Controller
	group := app.Group("/webhooks")

	group.Get("/health", ctrl.HandleHealth)

	if len(w.deps.OpsUsers) == 0 {
		log.Warn("[Router] no operator credentials configured, /webhooks/logs and /webhooks/stats will reject every request")
	}
	opsAuth := basicauth.New(basicauth.Config{
		Realm:      "Webhook Operations",
		Authorizer: OpsAuthorizer(w.deps.OpsUsers),
	})
	group.Get("/logs", opsAuth, ctrl.HandleLogs)
	group.Get("/stats", opsAuth, ctrl.HandleStats)

	// The logger wraps every stage so rejections are logged too.
	handlers := []fiber.Handler{
		webhooklog.Middleware(w.deps.Logger, webhooklog.MiddlewareConfig{
			SignatureHeader: w.deps.SignatureHeader,
			TrustProxy:      w.deps.TrustProxy,
			OnComplete:      ctrl.RecordOutcome,
		}),
	}
	handlers = append(handlers, w.deps.Pipeline.Stages()...)
	handlers = append(handlers, ctrl.HandleProviderWebhook)
	group.Post("/provider", handlers...)
}

// OpsAuthorizer checks basic auth credentials against users.
func OpsAuthorizer(users map[string]string) func(user, pass string) bool {
	return func(user, pass string) bool {
		stored, ok := users[user]
		if !ok || stored == "" {
			return false
		}
		if strings.HasPrefix(stored, "$2") {
			return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pass)) == nil
		}
		return subtle.ConstantTimeCompare([]byte(stored), []byte(pass)) == 1
	}
}
