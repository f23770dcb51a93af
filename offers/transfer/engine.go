package transfer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/calyxpay/lib-offers/offers/events"
	"github.com/calyxpay/lib-offers/offers/log"
	"github.com/calyxpay/lib-offers/offers/metrics"
)

// Engine is the offer protocol state machine. It owns the offer store and
// handler registry and is the only mutator of the ledger and allowance
// registry it is constructed with.
//
// The engine is intentionally not safe for concurrent use from multiple
// goroutines: the hosting environment serializes top-level calls, and
// handler dispatch relies on same-goroutine reentrancy. Holding a lock
// across dispatch would deadlock any handler that calls back in.
type Engine struct {
	ledger     *Ledger
	allowances *AllowanceRegistry
	store      *Store
	handlers   *HandlerRegistry
	logger     log.Logger
	clock      func() time.Time
	publisher  events.Publisher
	journal    Journal
	metrics    *metrics.Factory
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source. Used by expiration tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPublisher sets a lifecycle event publisher. Publishing happens after a
// transition commits and never fails the transition.
func WithPublisher(publisher events.Publisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithJournal sets an audit journal for resolved offers.
func WithJournal(journal Journal) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithMetrics sets the metrics factory.
func WithMetrics(factory *metrics.Factory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.metrics = factory
		}
	}
}

// NewEngine creates an engine over the given ledger and allowance registry.
func NewEngine(ledger *Ledger, allowances *AllowanceRegistry, opts ...Option) *Engine {
	engine := &Engine{
		ledger:     ledger,
		allowances: allowances,
		store:      NewStore(),
		handlers:   NewHandlerRegistry(),
		logger:     log.NewNop(),
		clock:      time.Now,
		metrics:    metrics.NewNopFactory(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// MakeOffer debits the sender and records a pending offer for the recipient.
//
// If the recipient has a registered handler it is dispatched synchronously
// after the debit and the offer record are committed; the handler's report
// of whether it resolved the offer is returned. Without a handler the offer
// stays pending and MakeOffer returns false.
func (e *Engine) MakeOffer(ctx context.Context, sender, recipient Account, amount int64, memo string) (bool, error) {
	return e.makeOffer(ctx, sender, recipient, amount, memo, nil)
}

// MakeLimitedTimeOffer is MakeOffer with an expiration. The expiration must
// be strictly in the future; after it passes, the offer can no longer be
// taken or redirected and becomes reclaimable by the sender.
func (e *Engine) MakeLimitedTimeOffer(ctx context.Context, sender, recipient Account, amount int64, memo string, expiresAt time.Time) (bool, error) {
	if !expiresAt.After(e.clock()) {
		return false, NewDomainError(ErrorInvalidExpiration, "expiresAt", "expiration must be in the future")
	}

	return e.makeOffer(ctx, sender, recipient, amount, memo, &expiresAt)
}

// MakeDelegatedOffer creates an offer on behalf of sender, drawing the
// amount from the allowance the sender granted to the calling spender.
func (e *Engine) MakeDelegatedOffer(ctx context.Context, spender, sender, recipient Account, amount int64, memo string) (bool, error) {
	if err := validateOfferInput(amount, memo); err != nil {
		return false, err
	}

	if err := e.allowances.Consume(sender, spender, amount); err != nil {
		return false, err
	}

	id, err := e.commitOffer(ctx, sender, recipient, amount, memo, nil)
	if err != nil {
		// The debit failed after the allowance was consumed; restore it so
		// the top-level call has no partial effect. Handler failures happen
		// after this point and never reach the rollback.
		e.allowances.refund(sender, spender, amount)
		return false, err
	}

	return e.dispatch(ctx, sender, recipient, id)
}

func (e *Engine) makeOffer(ctx context.Context, sender, recipient Account, amount int64, memo string, expiresAt *time.Time) (bool, error) {
	id, err := e.commitOffer(ctx, sender, recipient, amount, memo, expiresAt)
	if err != nil {
		return false, err
	}

	return e.dispatch(ctx, sender, recipient, id)
}

// commitOffer applies the debit and records the offer. Everything it does is
// durable before any handler can observe the offer.
func (e *Engine) commitOffer(ctx context.Context, sender, recipient Account, amount int64, memo string, expiresAt *time.Time) (uint64, error) {
	if err := validateOfferInput(amount, memo); err != nil {
		return 0, err
	}

	if err := e.ledger.Debit(sender, amount); err != nil {
		return 0, err
	}

	now := e.clock()

	id := e.store.Append(recipient, sender, Offer{
		Amount:    amount,
		Memo:      memo,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})

	e.metrics.Add(ctx, metrics.MetricOffersCreated, 1)
	e.publish(ctx, events.TypeOfferCreated, events.OfferPayload{
		Sender:    string(sender),
		Recipient: string(recipient),
		OfferID:   id,
		Amount:    amount,
		Memo:      memo,
		ExpiresAt: expiresAt,
	})

	return id, nil
}

// dispatch invokes the recipient's handler, if any, for a committed offer.
func (e *Engine) dispatch(ctx context.Context, sender, recipient Account, id uint64) (bool, error) {
	handler, ok := e.handlers.Lookup(recipient)
	if !ok {
		return false, nil
	}

	// The debit and the offer record are already committed: the handler may
	// reenter any engine operation and observe consistent state. A handler
	// failure surfaces to the caller but does not unwind the offer.
	e.metrics.Add(ctx, metrics.MetricHandlerDispatches, 1,
		attribute.String("handler", string(handler.Account())))

	resolved, err := handler.HandleOffer(ctx, sender, id)
	if err != nil {
		e.logger.Log(ctx, log.LevelWarn, "offer handler failed",
			log.String("recipient", string(recipient)),
			log.Uint64("offer_id", id),
			log.Err(err))

		return false, err
	}

	return resolved, nil
}

// TakeOffer resolves a pending offer by crediting the recipient.
//
// The caller must be the recipient or the recipient's registered handler.
// Offers carrying an expiration must be taken strictly before it.
func (e *Engine) TakeOffer(ctx context.Context, caller, sender, recipient Account, id uint64) error {
	offer, err := e.store.Get(recipient, sender, id)
	if err != nil {
		return err
	}

	if !e.authorizedToTake(caller, recipient) {
		return NewDomainError(ErrorUnauthorized, "caller", "caller is neither recipient nor registered handler")
	}

	if offer.Expired(e.clock()) {
		return NewDomainError(ErrorInvalidExpiration, "id", "offer has expired")
	}

	return e.resolve(ctx, offer, recipient, ResolutionTaken)
}

// RedirectOffer resolves a pending offer by crediting the handler's own
// account instead of the recipient. Only the registered handler may call it;
// the handler alone is responsible for forwarding the funds afterwards.
func (e *Engine) RedirectOffer(ctx context.Context, caller, sender, recipient Account, id uint64) error {
	offer, err := e.store.Get(recipient, sender, id)
	if err != nil {
		return err
	}

	handler, ok := e.handlers.Lookup(recipient)
	if !ok || caller != handler.Account() {
		return NewDomainError(ErrorUnauthorized, "caller", "only the registered handler may redirect")
	}

	if offer.Expired(e.clock()) {
		return NewDomainError(ErrorInvalidExpiration, "id", "offer has expired")
	}

	return e.resolve(ctx, offer, handler.Account(), ResolutionRedirected)
}

// ReclaimOffer returns an expired offer's escrowed amount to its sender.
// Only the original sender may reclaim, and only after the expiration has
// passed; offers without an expiration stay pending until resolved.
func (e *Engine) ReclaimOffer(ctx context.Context, caller, recipient Account, id uint64) error {
	offer, err := e.store.Get(recipient, caller, id)
	if err != nil {
		return err
	}

	if offer.ExpiresAt == nil {
		return NewDomainError(ErrorOfferNotExpired, "id", "offer has no expiration")
	}

	if !offer.Expired(e.clock()) {
		return NewDomainError(ErrorOfferNotExpired, "id", "offer has not expired yet")
	}

	return e.resolve(ctx, offer, caller, ResolutionReclaimed)
}

// resolve credits the beneficiary and tombstones the offer. The credit runs
// first: if it fails (overflow) the offer stays pending and the call has no
// effect. No callback runs between credit and removal, so the pair is
// atomic with respect to reentrancy.
func (e *Engine) resolve(ctx context.Context, offer Offer, beneficiary Account, resolution Resolution) error {
	if err := e.ledger.Credit(beneficiary, offer.Amount); err != nil {
		return err
	}

	if err := e.store.Remove(offer.Recipient, offer.Sender, offer.ID); err != nil {
		return err
	}

	eventType := events.TypeOfferTaken

	switch resolution {
	case ResolutionTaken:
		e.metrics.Add(ctx, metrics.MetricOffersTaken, 1)
	case ResolutionRedirected:
		eventType = events.TypeOfferRedirected
		e.metrics.Add(ctx, metrics.MetricOffersRedirected, 1)
	case ResolutionReclaimed:
		eventType = events.TypeOfferReclaimed
		e.metrics.Add(ctx, metrics.MetricOffersReclaimed, 1)
	}

	e.publish(ctx, eventType, events.OfferPayload{
		Sender:     string(offer.Sender),
		Recipient:  string(offer.Recipient),
		OfferID:    offer.ID,
		Amount:     offer.Amount,
		Memo:       offer.Memo,
		ResolvedTo: string(beneficiary),
	})

	if e.journal != nil {
		entry := JournalEntry{
			Sender:     offer.Sender,
			Recipient:  offer.Recipient,
			OfferID:    offer.ID,
			Amount:     offer.Amount,
			Memo:       offer.Memo,
			Resolution: resolution,
			ResolvedTo: beneficiary,
			CreatedAt:  offer.CreatedAt,
			ResolvedAt: e.clock(),
		}

		if err := e.journal.Record(ctx, entry); err != nil {
			e.logger.Log(ctx, log.LevelWarn, "journal record failed",
				log.Uint64("offer_id", offer.ID), log.Err(err))
		}
	}

	return nil
}

// GetOffer returns a pending offer.
func (e *Engine) GetOffer(sender, recipient Account, id uint64) (Offer, error) {
	return e.store.Get(recipient, sender, id)
}

// PendingOffers returns the live offers from sender to recipient in
// creation order.
func (e *Engine) PendingOffers(recipient, sender Account) []Offer {
	ids := e.store.PendingIDs(recipient, sender)
	offers := make([]Offer, 0, len(ids))

	for _, id := range ids {
		offer, err := e.store.Get(recipient, sender, id)
		if err != nil {
			continue
		}

		offers = append(offers, offer)
	}

	return offers
}

// CountLive returns the number of pending offers for diagnostics and tests.
func (e *Engine) CountLive(recipient, sender Account) int {
	return e.store.CountLive(recipient, sender)
}

// EscrowTotal returns the sum of all pending offer amounts.
func (e *Engine) EscrowTotal() int64 {
	return e.store.EscrowTotal()
}

// RegisterDefaultHandler installs handler as the owner's default offer
// processor. A nil handler restores the "no handler" behavior.
func (e *Engine) RegisterDefaultHandler(owner Account, handler Handler) {
	e.handlers.Register(owner, handler)
}

// LookupHandler returns the owner's registered handler, if any.
func (e *Engine) LookupHandler(owner Account) (Handler, bool) {
	return e.handlers.Lookup(owner)
}

func (e *Engine) authorizedToTake(caller, recipient Account) bool {
	if caller == recipient {
		return true
	}

	handler, ok := e.handlers.Lookup(recipient)

	return ok && caller == handler.Account()
}

func (e *Engine) publish(ctx context.Context, eventType string, payload events.OfferPayload) {
	if e.publisher == nil {
		return
	}

	event, err := events.New(eventType, e.clock(), payload)
	if err != nil {
		e.logger.Log(ctx, log.LevelWarn, "build event failed",
			log.String("type", eventType), log.Err(err))

		return
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Log(ctx, log.LevelWarn, "publish event failed",
			log.String("type", eventType), log.Err(err))
	}
}

func validateOfferInput(amount int64, memo string) error {
	if amount <= 0 {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	if len(memo) > MaxMemoLength {
		return NewDomainError(ErrorInvalidInput, "memo", "memo exceeds maximum length")
	}

	return nil
}
