// Package apidocs serves the OpenAPI description of the webhook routes.
package apidocs

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
)

// Load parses and validates the document at path.
func Load(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return doc, nil
}

// Middleware serves the document under /docs/webhooks.
func Middleware(path string) fiber.Handler {
	return swagger.New(swagger.Config{
		BasePath: "/docs/",
		FilePath: path,
		Path:     "webhooks",
		Title:    "pdfshrink webhooks",
	})
}
