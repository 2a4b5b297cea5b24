package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// WithCORS enables CORS for origin, which is either "*" or a single
// configured origin (spec.md §6's cors.origin setting).
func WithCORS(origin string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     origin,
		AllowMethods:     "POST, GET, OPTIONS, PUT, DELETE, PATCH",
		AllowHeaders:     "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization",
		AllowCredentials: origin != "*",
	})
}
