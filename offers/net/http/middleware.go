package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"

	"github.com/calyxpay/lib-offers/offers"
	"github.com/calyxpay/lib-offers/offers/log"
)

const (
	// HeaderAccountID carries the trusted caller identity set by the edge.
	HeaderAccountID = "X-Account-Id"
	// HeaderRequestID carries the per-request correlation id.
	HeaderRequestID = "X-Request-Id"

	defaultAccessControlAllowOrigin  = "*"
	defaultAccessControlAllowMethods = "POST, GET, OPTIONS, PUT, DELETE"
	defaultAccessControlAllowHeaders = "Accept, Content-Type, Content-Length, Accept-Encoding, X-Account-Id, X-Request-Id"
)

// WithCORS is a middleware that enables CORS with env-configurable policy.
func WithCORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: offers.GetenvOrDefault("ACCESS_CONTROL_ALLOW_ORIGIN", defaultAccessControlAllowOrigin),
		AllowMethods: offers.GetenvOrDefault("ACCESS_CONTROL_ALLOW_METHODS", defaultAccessControlAllowMethods),
		AllowHeaders: offers.GetenvOrDefault("ACCESS_CONTROL_ALLOW_HEADERS", defaultAccessControlAllowHeaders),
	})
}

// WithLogging logs one access line per request with method, path, status,
// caller and duration. A request id is generated when the edge did not set
// one and is echoed back in the response.
func WithLogging(logger log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(HeaderRequestID, requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		level := log.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = log.LevelError
		}

		logger.Log(c.UserContext(), level, "http request",
			log.String("request_id", requestID),
			log.String("method", c.Method()),
			log.String("path", c.Path()),
			log.Int("status", status),
			log.String("caller", c.Get(HeaderAccountID)),
			log.Int64("duration_ms", time.Since(start).Milliseconds()),
		)

		return err
	}
}
