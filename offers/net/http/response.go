package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/calyxpay/lib-offers/offers"
	"github.com/calyxpay/lib-offers/offers/transfer"
)

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusOK).JSON(s)
}

// Created sends an HTTP 201 Created response with a custom body.
func Created(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusCreated).JSON(s)
}

// NoContent sends an HTTP 204 No Content response without a body.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

// BadRequest sends an HTTP 400 Bad Request response with a custom body.
func BadRequest(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusBadRequest).JSON(s)
}

// Unauthorized sends an HTTP 401 Unauthorized response with a code, title
// and message.
func Unauthorized(c *fiber.Ctx, code, title, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(offers.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// JSONResponse sends a custom status code and body as a JSON response.
func JSONResponse(c *fiber.Ctx, status int, s any) error {
	return c.Status(status).JSON(s)
}

// statusForCode maps domain error codes to HTTP status codes. Unknown codes
// fall through to 500 so new domain failures are loud instead of masked.
func statusForCode(code transfer.ErrorCode) int {
	switch code {
	case transfer.ErrorInvalidInput:
		return http.StatusBadRequest
	case transfer.ErrorOfferNotFound:
		return http.StatusNotFound
	case transfer.ErrorUnauthorized:
		return http.StatusForbidden
	case transfer.ErrorInsufficientBalance,
		transfer.ErrorAllowanceExceeded,
		transfer.ErrorOverflow,
		transfer.ErrorInvalidExpiration,
		transfer.ErrorOfferNotExpired:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WithError writes err as a JSON business-error envelope with the HTTP
// status derived from its domain code. Non-domain errors become a generic
// 500 so internal details never leak to clients.
func WithError(c *fiber.Ctx, err error) error {
	var domainErr transfer.DomainError
	if errors.As(err, &domainErr) {
		business := offers.ValidateBusinessError(err, "Offer")

		var response offers.Response
		if errors.As(business, &response) {
			// The wrapped cause is for logs, not for the wire.
			response.Err = nil
			return JSONResponse(c, statusForCode(domainErr.Code), response)
		}
	}

	return JSONResponse(c, http.StatusInternalServerError, offers.Response{
		Code:    "0500",
		Title:   "Internal Server Error",
		Message: "The server encountered an unexpected condition. Please try again later.",
	})
}
