package http

import (
	"github.com/gofiber/fiber/v2"
	fiberSwagger "github.com/swaggo/fiber-swagger"
)

// DocAPI mounts the static OpenAPI document and the Swagger UI that
// renders it, at /docs and /swagger/* respectively.
func DocAPI(specPath string, app *fiber.App) {
	app.Get("/docs", func(c *fiber.Ctx) error {
		return c.SendFile(specPath)
	})

	app.Get("/swagger/*", fiberSwagger.WrapHandler)
}
