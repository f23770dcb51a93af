package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/calyxpay/lib-offers/offers/log"
	"github.com/calyxpay/lib-offers/offers/transfer"
)

// OffersHandler wires the offer engine into Fiber routes.
//
// The engine is cooperatively single-threaded: handlers reenter it within
// the calling goroutine and it carries no internal locking. The HTTP layer
// therefore serializes requests with one mutex, held for the whole request
// so synchronous handler dispatch stays inside the critical section.
type OffersHandler struct {
	mu         sync.Mutex
	engine     *transfer.Engine
	ledger     *transfer.Ledger
	allowances *transfer.AllowanceRegistry
	logger     log.Logger
	started    time.Time
}

// NewOffersHandler creates the HTTP handler over the given engine and its
// ledger components.
func NewOffersHandler(engine *transfer.Engine, ledger *transfer.Ledger, allowances *transfer.AllowanceRegistry, logger log.Logger) *OffersHandler {
	if logger == nil {
		logger = log.NewNop()
	}

	return &OffersHandler{
		engine:     engine,
		ledger:     ledger,
		allowances: allowances,
		logger:     logger,
		started:    time.Now().UTC(),
	}
}

// RegisterRoutes mounts every API route on the app. The pending listing is
// registered before the single-offer lookup so the literal "pending"
// segment wins over the :sender parameter.
func (h *OffersHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.serialize, h.Health)

	v1 := app.Group("/v1", h.serialize)

	v1.Post("/offers", h.CreateOffer)
	v1.Post("/offers/delegated", h.CreateDelegatedOffer)
	v1.Get("/offers/pending/:sender", h.ListPendingOffers)
	v1.Get("/offers/:sender/:id", h.GetOffer)
	v1.Post("/offers/:sender/:id/take", h.TakeOffer)
	v1.Post("/offers/:sender/:id/redirect", h.RedirectOffer)
	v1.Post("/offers/:sender/:id/reclaim", h.ReclaimOffer)

	v1.Get("/balances/:account", h.GetBalance)
	v1.Get("/allowances/:sender/:spender", h.GetAllowance)
	v1.Put("/allowances", h.Approve)

	v1.Put("/handler", h.RegisterHandler)

	v1.Post("/mint", h.Mint)
	v1.Post("/burn", h.Burn)
}

// serialize is the middleware enforcing single-threaded engine access.
func (h *OffersHandler) serialize(c *fiber.Ctx) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return c.Next()
}

// caller extracts the trusted caller identity from the request headers.
// The header bytes belong to fasthttp's reusable request buffer, and the
// identity outlives the request as an engine map key, so it must be copied.
func caller(c *fiber.Ctx) (transfer.Account, bool) {
	id := c.Get(HeaderAccountID)
	if id == "" {
		return "", false
	}

	return transfer.Account(utils.CopyString(id)), true
}

// missingCaller writes the canonical 401 for requests without identity.
func missingCaller(c *fiber.Ctx) error {
	return Unauthorized(c, "0401", "Missing Caller Identity",
		"The X-Account-Id header is required. Please authenticate and try again.")
}

// offerPath extracts the sender path segment and the numeric offer id.
func offerPath(c *fiber.Ctx) (transfer.Account, uint64, error) {
	sender := transfer.Account(c.Params("sender"))

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return "", 0, transfer.NewDomainError(transfer.ErrorInvalidInput, "id",
			"offer id must be an unsigned integer")
	}

	return sender, id, nil
}

// recipientOrCaller resolves the recipient bucket for offer resolution
// routes. Handlers acting for another account pass ?recipient=; everyone
// else defaults to their own identity.
func recipientOrCaller(c *fiber.Ctx, account transfer.Account) transfer.Account {
	if recipient := c.Query("recipient"); recipient != "" {
		return transfer.Account(recipient)
	}

	return account
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	UptimeSecs  int64  `json:"uptimeSecs"`
	TotalSupply int64  `json:"totalSupply"`
	EscrowTotal int64  `json:"escrowTotal"`
}

// Health reports liveness plus the headline ledger figures.
func (h *OffersHandler) Health(c *fiber.Ctx) error {
	return OK(c, HealthResponse{
		Status:      "ok",
		UptimeSecs:  int64(time.Since(h.started).Seconds()),
		TotalSupply: h.ledger.TotalSupply(),
		EscrowTotal: h.engine.EscrowTotal(),
	})
}

// CreateOfferInput is the POST /v1/offers body. The sender is the caller.
type CreateOfferInput struct {
	Recipient string     `json:"recipient" validate:"required,account"`
	Amount    int64      `json:"amount" validate:"required,gt=0"`
	Memo      string     `json:"memo" validate:"max=256"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// OfferResult is the response for offer-creating routes.
type OfferResult struct {
	Resolved bool `json:"resolved"`
}

// CreateOffer escrows a new offer from the caller. An expiresAt timestamp
// turns it into a limited-time offer.
func (h *OffersHandler) CreateOffer(c *fiber.Ctx) error {
	sender, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	var input CreateOfferInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	ctx := c.UserContext()
	recipient := transfer.Account(input.Recipient)

	var (
		resolved bool
		err      error
	)

	if input.ExpiresAt != nil {
		resolved, err = h.engine.MakeLimitedTimeOffer(ctx, sender, recipient, input.Amount, input.Memo, *input.ExpiresAt)
	} else {
		resolved, err = h.engine.MakeOffer(ctx, sender, recipient, input.Amount, input.Memo)
	}

	if err != nil {
		return WithError(c, err)
	}

	return Created(c, OfferResult{Resolved: resolved})
}

// CreateDelegatedOfferInput is the POST /v1/offers/delegated body. The
// caller is the spender acting under the sender's allowance.
type CreateDelegatedOfferInput struct {
	Sender    string `json:"sender" validate:"required,account"`
	Recipient string `json:"recipient" validate:"required,account"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Memo      string `json:"memo" validate:"max=256"`
}

// CreateDelegatedOffer escrows an offer funded by the sender but initiated
// by the calling spender.
func (h *OffersHandler) CreateDelegatedOffer(c *fiber.Ctx) error {
	spender, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	var input CreateDelegatedOfferInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	resolved, err := h.engine.MakeDelegatedOffer(c.UserContext(), spender,
		transfer.Account(input.Sender), transfer.Account(input.Recipient), input.Amount, input.Memo)
	if err != nil {
		return WithError(c, err)
	}

	return Created(c, OfferResult{Resolved: resolved})
}

// TakeOffer credits a pending offer to its recipient.
func (h *OffersHandler) TakeOffer(c *fiber.Ctx) error {
	account, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	sender, id, err := offerPath(c)
	if err != nil {
		return WithError(c, err)
	}

	recipient := recipientOrCaller(c, account)
	if err := h.engine.TakeOffer(c.UserContext(), account, sender, recipient, id); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}

// RedirectOffer credits a pending offer to the recipient's handler account.
func (h *OffersHandler) RedirectOffer(c *fiber.Ctx) error {
	account, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	sender, id, err := offerPath(c)
	if err != nil {
		return WithError(c, err)
	}

	recipient := recipientOrCaller(c, account)
	if err := h.engine.RedirectOffer(c.UserContext(), account, sender, recipient, id); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}

// ReclaimOffer returns an expired offer to its sender. The sender path
// segment must match the caller; the recipient bucket comes from the
// ?recipient query parameter.
func (h *OffersHandler) ReclaimOffer(c *fiber.Ctx) error {
	account, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	sender, id, err := offerPath(c)
	if err != nil {
		return WithError(c, err)
	}

	if sender != account {
		return WithError(c, transfer.NewDomainError(transfer.ErrorUnauthorized, "sender",
			"only the offer sender may reclaim it"))
	}

	recipient := transfer.Account(c.Query("recipient"))
	if recipient == "" {
		return WithError(c, transfer.NewDomainError(transfer.ErrorInvalidInput, "recipient",
			"the recipient query parameter is required"))
	}

	if err := h.engine.ReclaimOffer(c.UserContext(), account, recipient, id); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}

// GetOffer returns one pending offer addressed to the caller.
func (h *OffersHandler) GetOffer(c *fiber.Ctx) error {
	account, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	sender, id, err := offerPath(c)
	if err != nil {
		return WithError(c, err)
	}

	offer, err := h.engine.GetOffer(sender, recipientOrCaller(c, account), id)
	if err != nil {
		return WithError(c, err)
	}

	return OK(c, offer)
}

// PendingOffersResponse is the GET /v1/offers/pending/:sender body.
type PendingOffersResponse struct {
	Sender    string           `json:"sender"`
	Recipient string           `json:"recipient"`
	Count     int              `json:"count"`
	Offers    []transfer.Offer `json:"offers"`
}

// ListPendingOffers lists the caller's pending offers from one sender in
// creation order.
func (h *OffersHandler) ListPendingOffers(c *fiber.Ctx) error {
	account, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	sender := transfer.Account(c.Params("sender"))
	recipient := recipientOrCaller(c, account)
	pending := h.engine.PendingOffers(recipient, sender)

	return OK(c, PendingOffersResponse{
		Sender:    string(sender),
		Recipient: string(recipient),
		Count:     len(pending),
		Offers:    pending,
	})
}

// BalanceResponse is the GET /v1/balances/:account body.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// GetBalance returns the free (non-escrowed) balance of an account.
func (h *OffersHandler) GetBalance(c *fiber.Ctx) error {
	if _, ok := caller(c); !ok {
		return missingCaller(c)
	}

	account := transfer.Account(c.Params("account"))

	return OK(c, BalanceResponse{
		Account: string(account),
		Balance: h.ledger.BalanceOf(account),
	})
}

// AllowanceResponse is the GET /v1/allowances/:sender/:spender body.
type AllowanceResponse struct {
	Sender    string `json:"sender"`
	Spender   string `json:"spender"`
	Allowance int64  `json:"allowance"`
}

// GetAllowance returns the remaining allowance a sender granted a spender.
func (h *OffersHandler) GetAllowance(c *fiber.Ctx) error {
	if _, ok := caller(c); !ok {
		return missingCaller(c)
	}

	sender := transfer.Account(c.Params("sender"))
	spender := transfer.Account(c.Params("spender"))

	return OK(c, AllowanceResponse{
		Sender:    string(sender),
		Spender:   string(spender),
		Allowance: h.allowances.AllowanceOf(sender, spender),
	})
}

// ApproveInput is the PUT /v1/allowances body. The granting sender is the
// caller; amount zero revokes.
type ApproveInput struct {
	Spender string `json:"spender" validate:"required,account"`
	Amount  int64  `json:"amount" validate:"gte=0"`
}

// Approve sets the caller's allowance for a spender.
func (h *OffersHandler) Approve(c *fiber.Ctx) error {
	sender, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	var input ApproveInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	if err := h.allowances.Approve(sender, transfer.Account(input.Spender), input.Amount); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}

// RegisterHandlerInput is the PUT /v1/handler body. An empty account clears
// the caller's registration.
type RegisterHandlerInput struct {
	Account string `json:"account" validate:"omitempty,account"`
	Token   string `json:"token" validate:"omitempty,account"`
}

// RegisterHandler installs a built-in accept-all handler for the caller, or
// clears the registration when account is empty. The handler account must
// differ from the caller: a handler registered under its owner's own
// identity is indistinguishable from no handler at all.
func (h *OffersHandler) RegisterHandler(c *fiber.Ctx) error {
	owner, ok := caller(c)
	if !ok {
		return missingCaller(c)
	}

	var input RegisterHandlerInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	if input.Account == "" {
		h.engine.RegisterDefaultHandler(owner, nil)
		h.logger.Log(c.UserContext(), log.LevelInfo, "handler cleared",
			log.String("owner", string(owner)))

		return NoContent(c)
	}

	account := transfer.Account(input.Account)
	if account == owner {
		return WithError(c, transfer.NewDomainError(transfer.ErrorInvalidInput, "account",
			"handler account must differ from the owner account"))
	}

	h.engine.RegisterDefaultHandler(owner,
		transfer.NewAcceptHandler(h.engine, transfer.Account(input.Token), account, owner))
	h.logger.Log(c.UserContext(), log.LevelInfo, "handler registered",
		log.String("owner", string(owner)),
		log.String("handler", string(account)))

	return NoContent(c)
}

// SupplyInput is the POST /v1/mint and /v1/burn body.
type SupplyInput struct {
	Account string `json:"account" validate:"required,account"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
}

// Mint creates new supply on an account. Operator endpoint; the trusted
// edge decides who may reach it.
func (h *OffersHandler) Mint(c *fiber.Ctx) error {
	if _, ok := caller(c); !ok {
		return missingCaller(c)
	}

	var input SupplyInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	if err := h.ledger.Mint(transfer.Account(input.Account), input.Amount); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}

// Burn destroys supply held by an account.
func (h *OffersHandler) Burn(c *fiber.Ctx) error {
	if _, ok := caller(c); !ok {
		return missingCaller(c)
	}

	var input SupplyInput
	if err := ParseAndValidate(c, &input); err != nil {
		return WithError(c, err)
	}

	if err := h.ledger.Burn(transfer.Account(input.Account), input.Amount); err != nil {
		return WithError(c, err)
	}

	return NoContent(c)
}
