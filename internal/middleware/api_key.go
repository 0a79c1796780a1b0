package middleware

import (
	"crypto/subtle"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	APIKeyHeader = "X-API-Key"
	APIKeyEnv    = "BRIDGE_API_KEY"
)

type apiKeyMiddleware struct {
	key string
}

func newAPIKeyMiddleware() *apiKeyMiddleware {
	return &apiKeyMiddleware{key: os.Getenv(APIKeyEnv)}
}

// NewAPIKeyMiddleware guards operator endpoints. With no key configured every
// request passes. Browsers cannot set headers on a websocket upgrade, so the
// api_key query parameter is accepted as well.
func (m *middleware) NewAPIKeyMiddleware(ctx *fiber.Ctx) error {
	if m.apiKey.key == "" {
		return ctx.Next()
	}

	provided := ctx.Get(APIKeyHeader)
	if provided == "" {
		provided = ctx.Query("api_key")
	}
	if provided == "" {
		m.log.WithFields(logrus.Fields{
			"path":      ctx.Path(),
			"client_ip": ctx.IP(),
		}).Warn("API key header is missing")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized, API key missing",
			"code":  "UNAUTHORIZED",
		})
	}

	if subtle.ConstantTimeCompare([]byte(provided), []byte(m.apiKey.key)) != 1 {
		m.log.WithFields(logrus.Fields{
			"path":      ctx.Path(),
			"client_ip": ctx.IP(),
		}).Warn("API key mismatch")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized, API key invalid",
			"code":  "UNAUTHORIZED",
		})
	}

	return ctx.Next()
}
