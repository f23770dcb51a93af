package offers

import (
	"errors"

	"github.com/calyxpay/lib-offers/offers/transfer"
)

// Response represents a business error with code, title, and message.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e Response) Error() string {
	return e.Message
}

// ValidateBusinessError maps a transfer domain error to a business error
// with a human-readable title and message. Errors without a mapping are
// returned unchanged.
func ValidateBusinessError(err error, entityType string) error {
	var domainErr transfer.DomainError
	if !errors.As(err, &domainErr) {
		return err
	}

	responses := map[transfer.ErrorCode]Response{
		transfer.ErrorInsufficientBalance: {
			Title:   "Insufficient Balance",
			Message: "The offer could not be created due to insufficient balance in the sender account. Please add sufficient funds and try again.",
		},
		transfer.ErrorAllowanceExceeded: {
			Title:   "Allowance Exceeded",
			Message: "The delegated offer exceeds the allowance granted by the sender. Please request a higher allowance or lower the amount.",
		},
		transfer.ErrorOverflow: {
			Title:   "Overflow Error",
			Message: "The request could not be completed because the resulting balance would overflow. Please check the values and try again.",
		},
		transfer.ErrorOfferNotFound: {
			Title:   "Offer Not Found",
			Message: "The requested offer does not exist or has already been resolved. Please verify the offer identifier and try again.",
		},
		transfer.ErrorUnauthorized: {
			Title:   "Unauthorized Caller",
			Message: "The caller is not allowed to resolve this offer. Only the recipient or its registered handler may act on it.",
		},
		transfer.ErrorInvalidExpiration: {
			Title:   "Invalid Expiration",
			Message: "The expiration is in the past or the offer has already expired. Expired offers can only be reclaimed by their sender.",
		},
		transfer.ErrorOfferNotExpired: {
			Title:   "Offer Not Expired",
			Message: "The offer cannot be reclaimed before its expiration. Please wait for the offer to expire or ask the recipient to resolve it.",
		},
		transfer.ErrorInvalidInput: {
			Title:   "Invalid Input",
			Message: "The request payload failed validation. Please review the provided fields and try again.",
		},
	}

	response, found := responses[domainErr.Code]
	if !found {
		return err
	}

	response.EntityType = entityType
	response.Code = string(domainErr.Code)
	response.Err = err

	return response
}
