package transfer

import "context"

// AcceptHandler is a built-in handler that takes every incoming offer for
// its owner as soon as the offer is committed. It lets an account opt into
// push-like semantics without writing a custom handler.
type AcceptHandler struct {
	engine  *Engine
	token   Account
	account Account
	owner   Account
}

// NewAcceptHandler creates a handler that auto-takes offers addressed to
// owner. The handler acts under its own account identity so the engine's
// authorization check recognizes it as the owner's registered handler.
func NewAcceptHandler(engine *Engine, token, account, owner Account) *AcceptHandler {
	return &AcceptHandler{engine: engine, token: token, account: account, owner: owner}
}

// Token returns the ledger asset account this handler operates on.
func (h *AcceptHandler) Token() Account { return h.token }

// Account returns the handler's own ledger account.
func (h *AcceptHandler) Account() Account { return h.account }

// Owner returns the account this handler processes offers for.
func (h *AcceptHandler) Owner() Account { return h.owner }

// HandleOffer takes the incoming offer on behalf of the owner. An expired
// offer cannot be taken; the error surfaces to the offering caller while
// the offer itself stays pending.
func (h *AcceptHandler) HandleOffer(ctx context.Context, from Account, id uint64) (bool, error) {
	if err := h.engine.TakeOffer(ctx, h.account, from, h.owner, id); err != nil {
		return false, err
	}

	return true, nil
}
