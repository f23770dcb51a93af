package transfer

import (
	"context"
	"fmt"
	"time"
)

// Account is an opaque ledger account identifier.
type Account string

// MaxMemoLength bounds the size of an offer memo in bytes.
const MaxMemoLength = 256

// ErrorCode is a domain error code used by offer protocol validations.
type ErrorCode string

const (
	// ErrorInsufficientBalance indicates the sender balance cannot cover the amount.
	ErrorInsufficientBalance ErrorCode = "0018"
	// ErrorAllowanceExceeded indicates a delegated offer exceeds the granted allowance.
	ErrorAllowanceExceeded ErrorCode = "0045"
	// ErrorOverflow indicates a credit would overflow the target balance.
	ErrorOverflow ErrorCode = "0057"
	// ErrorOfferNotFound indicates the offer is absent or already resolved.
	ErrorOfferNotFound ErrorCode = "0062"
	// ErrorUnauthorized indicates the caller may not resolve the offer.
	ErrorUnauthorized ErrorCode = "0070"
	// ErrorInvalidExpiration indicates an expiry in the past or an expired offer.
	ErrorInvalidExpiration ErrorCode = "0081"
	// ErrorOfferNotExpired indicates a reclaim before the offer expired.
	ErrorOfferNotExpired ErrorCode = "0082"
	// ErrorInvalidInput indicates request payload validation failed.
	ErrorInvalidInput ErrorCode = "1001"
)

// DomainError represents a structured offer protocol validation error.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// Offer is an escrowed, not-yet-finalized transfer from Sender to Recipient.
//
// Offers are immutable once created. The ID is unique within the
// (Recipient, Sender) bucket for the lifetime of the ledger and is never
// reused after the offer is resolved.
type Offer struct {
	ID        uint64     `json:"id"`
	Sender    Account    `json:"sender"`
	Recipient Account    `json:"recipient"`
	Amount    int64      `json:"amount"`
	Memo      string     `json:"memo,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the offer is past its expiration at the given time.
// Offers without an expiration never expire.
func (o Offer) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// Handler processes incoming offers on behalf of the account it serves.
//
// A handler runs synchronously inside the offer-creating call, after the
// debit and the offer record are committed. It may reenter any Engine
// operation before returning, including resolving the offer that triggered
// it. HandleOffer reports whether the offer was resolved during the call.
type Handler interface {
	// Token returns the ledger asset account this handler operates on.
	Token() Account
	// Account returns the handler's own ledger account, credited by redirects.
	Account() Account
	// Owner returns the account this handler processes offers for.
	Owner() Account
	// HandleOffer is invoked once per incoming offer for the owner.
	HandleOffer(ctx context.Context, from Account, id uint64) (bool, error)
}

// Resolution labels the terminal state of a resolved offer.
type Resolution string

const (
	// ResolutionTaken marks an offer credited to its recipient.
	ResolutionTaken Resolution = "TAKEN"
	// ResolutionRedirected marks an offer credited to the recipient's handler.
	ResolutionRedirected Resolution = "REDIRECTED"
	// ResolutionReclaimed marks an expired offer returned to its sender.
	ResolutionReclaimed Resolution = "RECLAIMED"
)

// JournalEntry is an audit record of a resolved offer.
type JournalEntry struct {
	Sender     Account
	Recipient  Account
	OfferID    uint64
	Amount     int64
	Memo       string
	Resolution Resolution
	ResolvedTo Account
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// Journal archives resolved offers for audit. Implementations must be safe
// to call after the resolution committed; a journal failure never unwinds
// the resolution itself.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}
