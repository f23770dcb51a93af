package transfer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger     *Ledger
	allowances *AllowanceRegistry
	engine     *Engine
	now        time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		ledger:     NewLedger(),
		allowances: NewAllowanceRegistry(),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.engine = NewEngine(f.ledger, f.allowances, opts...)

	return f
}

func (f *fixture) mint(t *testing.T, account Account, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(account, amount))
}

// assertConservation checks sum(balances) + sum(pending offers) == supply.
func (f *fixture) assertConservation(t *testing.T) {
	t.Helper()
	assert.Equal(t, f.ledger.TotalSupply(), f.ledger.BalanceSum()+f.engine.EscrowTotal(),
		"balances plus escrow must equal total supply")
}

// ---------------------------------------------------------------------------
// MakeOffer / TakeOffer -- the plain path
// ---------------------------------------------------------------------------

func TestMakeOfferWithoutHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	resolved, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "memo1")
	require.NoError(t, err)
	assert.False(t, resolved)

	assert.Equal(t, int64(70), f.ledger.BalanceOf("A"))
	assert.Equal(t, int64(0), f.ledger.BalanceOf("B"))
	assert.Equal(t, 1, f.engine.CountLive("B", "A"))
	f.assertConservation(t)

	offer, err := f.engine.GetOffer("A", "B", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), offer.Amount)
	assert.Equal(t, "memo1", offer.Memo)
	assert.Nil(t, offer.ExpiresAt)
}

func TestTakeOfferCreditsRecipient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "memo1")
	require.NoError(t, err)

	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0))

	assert.Equal(t, int64(70), f.ledger.BalanceOf("A"))
	assert.Equal(t, int64(30), f.ledger.BalanceOf("B"))
	assert.Equal(t, 0, f.engine.CountLive("B", "A"))
	f.assertConservation(t)

	_, err = f.engine.GetOffer("A", "B", 0)
	requireDomainCode(t, err, ErrorOfferNotFound)
}

func TestMakeOfferFailures(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "A", 100)

	longMemo := make([]byte, MaxMemoLength+1)
	for i := range longMemo {
		longMemo[i] = 'x'
	}

	tests := []struct {
		name   string
		amount int64
		memo   string
		code   ErrorCode
	}{
		{name: "insufficient balance", amount: 101, memo: "m", code: ErrorInsufficientBalance},
		{name: "zero amount", amount: 0, memo: "m", code: ErrorInvalidInput},
		{name: "negative amount", amount: -1, memo: "m", code: ErrorInvalidInput},
		{name: "memo too long", amount: 1, memo: string(longMemo), code: ErrorInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.MakeOffer(context.Background(), "A", "B", tt.amount, tt.memo)
			requireDomainCode(t, err, tt.code)

			assert.Equal(t, int64(100), f.ledger.BalanceOf("A"), "failed call must have no effect")
			assert.Equal(t, 0, f.engine.CountLive("B", "A"))
		})
	}
}

// ---------------------------------------------------------------------------
// Single-use resolution
// ---------------------------------------------------------------------------

func TestResolveSameOfferTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)

	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0))

	requireDomainCode(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0), ErrorOfferNotFound)
	assert.Equal(t, int64(30), f.ledger.BalanceOf("B"), "second resolution must not double-credit")
	f.assertConservation(t)
}

func TestTakeThenRedirectSameOffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	f.engine.RegisterDefaultHandler("B", handler)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)

	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0))
	requireDomainCode(t, f.engine.RedirectOffer(context.Background(), "H", "A", "B", 0), ErrorOfferNotFound)

	assert.Equal(t, int64(0), f.ledger.BalanceOf("H"))
	f.assertConservation(t)
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

func TestTakeOfferAuthorization(t *testing.T) {
	f := newFixture(t)
	f.mint(t, "A", 100)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	f.engine.RegisterDefaultHandler("B", handler)

	tests := []struct {
		name   string
		caller Account
		ok     bool
	}{
		{name: "recipient", caller: "B", ok: true},
		{name: "registered handler", caller: "H", ok: true},
		{name: "sender", caller: "A", ok: false},
		{name: "stranger", caller: "M", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.MakeOffer(context.Background(), "A", "B", 10, "m")
			require.NoError(t, err)

			ids := f.engine.PendingOffers("B", "A")
			require.NotEmpty(t, ids)
			id := ids[len(ids)-1].ID

			err = f.engine.TakeOffer(context.Background(), tt.caller, "A", "B", id)

			if tt.ok {
				require.NoError(t, err)
				return
			}

			requireDomainCode(t, err, ErrorUnauthorized)
		})
	}
}

func TestRedirectOfferAuthorization(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	f.engine.RegisterDefaultHandler("B", handler)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)

	// The recipient itself may not redirect.
	requireDomainCode(t, f.engine.RedirectOffer(context.Background(), "B", "A", "B", 0), ErrorUnauthorized)
	requireDomainCode(t, f.engine.RedirectOffer(context.Background(), "M", "A", "B", 0), ErrorUnauthorized)

	// The handler redirects to its own balance, never the recipient's.
	require.NoError(t, f.engine.RedirectOffer(context.Background(), "H", "A", "B", 0))
	assert.Equal(t, int64(30), f.ledger.BalanceOf("H"))
	assert.Equal(t, int64(0), f.ledger.BalanceOf("B"))
	f.assertConservation(t)
}

func TestRedirectWithoutRegisteredHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)

	requireDomainCode(t, f.engine.RedirectOffer(context.Background(), "H", "A", "B", 0), ErrorUnauthorized)
}

// ---------------------------------------------------------------------------
// Handler dispatch and reentrancy
// ---------------------------------------------------------------------------

func TestHandlerResolvesOfferDuringDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		// The offer must already be committed and observable.
		offer, err := f.engine.GetOffer(from, "B", id)
		require.NoError(t, err)
		require.Equal(t, int64(30), offer.Amount)

		if err := f.engine.TakeOffer(ctx, "H", from, "B", id); err != nil {
			return false, err
		}

		return true, nil
	}
	f.engine.RegisterDefaultHandler("B", handler)

	resolved, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)
	assert.True(t, resolved)

	assert.Equal(t, int64(30), f.ledger.BalanceOf("B"))
	assert.Equal(t, 0, f.engine.CountLive("B", "A"))
	f.assertConservation(t)
}

func TestHandlerReentersWithNewOffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	f.mint(t, "H", 50)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		// Redirect the incoming offer, then pay a third party before the
		// outer MakeOffer returns.
		if err := f.engine.RedirectOffer(ctx, "H", from, "B", id); err != nil {
			return false, err
		}

		if _, err := f.engine.MakeOffer(ctx, "H", "C", 10, "forward"); err != nil {
			return false, err
		}

		return true, nil
	}
	f.engine.RegisterDefaultHandler("B", handler)

	resolved, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)
	assert.True(t, resolved)

	assert.Equal(t, int64(70), f.ledger.BalanceOf("A"))
	assert.Equal(t, int64(70), f.ledger.BalanceOf("H"), "50 minted + 30 redirected - 10 forwarded")
	assert.Equal(t, 1, f.engine.CountLive("C", "H"))
	f.assertConservation(t)
}

func TestHandlerCreatesSecondOfferIDsStayStable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	f.mint(t, "H", 50)

	var outerID, innerID uint64

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		if from == "H" {
			// The nested offer below dispatches here again; leave it pending.
			return false, nil
		}

		outerID = id

		// Creating another offer into the same bucket must not disturb the
		// identifier of the offer being dispatched.
		if _, err := f.engine.MakeOffer(ctx, "H", "B", 5, "nested"); err != nil {
			return false, err
		}

		innerID = f.engine.PendingOffers("B", "H")[0].ID

		return false, nil
	}
	f.engine.RegisterDefaultHandler("B", handler)

	resolved, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)
	assert.False(t, resolved)

	// Both offers remain independently resolvable afterward.
	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", outerID))
	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "H", "B", innerID))

	assert.Equal(t, int64(35), f.ledger.BalanceOf("B"))
	f.assertConservation(t)
}

func TestHandlerFailureKeepsOfferCommitted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	handlerErr := errors.New("handler exploded")
	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		return false, handlerErr
	}
	f.engine.RegisterDefaultHandler("B", handler)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.ErrorIs(t, err, handlerErr)

	// The outer transition committed before the handler ran.
	assert.Equal(t, int64(70), f.ledger.BalanceOf("A"))
	assert.Equal(t, 1, f.engine.CountLive("B", "A"))
	f.assertConservation(t)

	// The offer stays resolvable.
	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0))
	assert.Equal(t, int64(30), f.ledger.BalanceOf("B"))
}

// ---------------------------------------------------------------------------
// Delegated offers
// ---------------------------------------------------------------------------

func TestMakeDelegatedOffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	require.NoError(t, f.allowances.Approve("A", "S", 50))

	resolved, err := f.engine.MakeDelegatedOffer(context.Background(), "S", "A", "B", 40, "m")
	require.NoError(t, err)
	assert.False(t, resolved)

	assert.Equal(t, int64(10), f.allowances.AllowanceOf("A", "S"))
	assert.Equal(t, int64(60), f.ledger.BalanceOf("A"))
	assert.Equal(t, 1, f.engine.CountLive("B", "A"))
	f.assertConservation(t)

	_, err = f.engine.MakeDelegatedOffer(context.Background(), "S", "A", "B", 40, "m")
	requireDomainCode(t, err, ErrorAllowanceExceeded)
	assert.Equal(t, int64(10), f.allowances.AllowanceOf("A", "S"))
}

func TestMakeDelegatedOfferDebitFailureRestoresAllowance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 30)
	require.NoError(t, f.allowances.Approve("A", "S", 50))

	_, err := f.engine.MakeDelegatedOffer(context.Background(), "S", "A", "B", 40, "m")
	requireDomainCode(t, err, ErrorInsufficientBalance)

	assert.Equal(t, int64(50), f.allowances.AllowanceOf("A", "S"), "consumed allowance must be restored")
	assert.Equal(t, int64(30), f.ledger.BalanceOf("A"))
	assert.Equal(t, 0, f.engine.CountLive("B", "A"))
}

func TestMakeDelegatedOfferHandlerFailureKeepsAllowanceConsumed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	require.NoError(t, f.allowances.Approve("A", "S", 50))

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		return false, errors.New("handler exploded")
	}
	f.engine.RegisterDefaultHandler("B", handler)

	_, err := f.engine.MakeDelegatedOffer(context.Background(), "S", "A", "B", 40, "m")
	require.Error(t, err)

	// The offer committed before the handler ran; the allowance stays spent.
	assert.Equal(t, int64(10), f.allowances.AllowanceOf("A", "S"))
	assert.Equal(t, 1, f.engine.CountLive("B", "A"))
	f.assertConservation(t)
}

// ---------------------------------------------------------------------------
// Expiration and reclaim
// ---------------------------------------------------------------------------

func TestMakeLimitedTimeOfferValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	_, err := f.engine.MakeLimitedTimeOffer(context.Background(), "A", "B", 30, "m", f.now.Add(-time.Minute))
	requireDomainCode(t, err, ErrorInvalidExpiration)

	_, err = f.engine.MakeLimitedTimeOffer(context.Background(), "A", "B", 30, "m", f.now)
	requireDomainCode(t, err, ErrorInvalidExpiration)

	assert.Equal(t, int64(100), f.ledger.BalanceOf("A"))
}

func TestLimitedTimeOfferLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	expiresAt := f.now.Add(time.Hour)

	_, err := f.engine.MakeLimitedTimeOffer(context.Background(), "A", "B", 30, "m", expiresAt)
	require.NoError(t, err)

	// Before expiry the sender cannot reclaim.
	requireDomainCode(t, f.engine.ReclaimOffer(context.Background(), "A", "B", 0), ErrorOfferNotExpired)

	// After expiry neither take nor redirect work.
	f.now = expiresAt
	requireDomainCode(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0), ErrorInvalidExpiration)

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	f.engine.RegisterDefaultHandler("B", handler)
	requireDomainCode(t, f.engine.RedirectOffer(context.Background(), "H", "A", "B", 0), ErrorInvalidExpiration)

	// The sender reclaims the escrowed funds.
	require.NoError(t, f.engine.ReclaimOffer(context.Background(), "A", "B", 0))
	assert.Equal(t, int64(100), f.ledger.BalanceOf("A"))
	assert.Equal(t, 0, f.engine.CountLive("B", "A"))
	f.assertConservation(t)

	requireDomainCode(t, f.engine.ReclaimOffer(context.Background(), "A", "B", 0), ErrorOfferNotFound)
}

func TestTakeBeforeExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)

	_, err := f.engine.MakeLimitedTimeOffer(context.Background(), "A", "B", 30, "m", f.now.Add(time.Hour))
	require.NoError(t, err)

	f.now = f.now.Add(59 * time.Minute)
	require.NoError(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0))
	assert.Equal(t, int64(30), f.ledger.BalanceOf("B"))
}

func TestReclaimRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	f.mint(t, "M", 100)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "no expiry")
	require.NoError(t, err)

	// Offers without expiration are never reclaimable.
	requireDomainCode(t, f.engine.ReclaimOffer(context.Background(), "A", "B", 0), ErrorOfferNotExpired)

	// A stranger reclaiming addresses a bucket that does not exist for it.
	requireDomainCode(t, f.engine.ReclaimOffer(context.Background(), "M", "B", 0), ErrorOfferNotFound)
}

// ---------------------------------------------------------------------------
// Overflow during resolution
// ---------------------------------------------------------------------------

func TestTakeOfferOverflowLeavesOfferPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 100)
	f.mint(t, "B", math.MaxInt64-10)

	_, err := f.engine.MakeOffer(context.Background(), "A", "B", 30, "m")
	require.NoError(t, err)

	requireDomainCode(t, f.engine.TakeOffer(context.Background(), "B", "A", "B", 0), ErrorOverflow)

	// The failed resolution has no partial effect.
	assert.Equal(t, int64(math.MaxInt64-10), f.ledger.BalanceOf("B"))
	assert.Equal(t, 1, f.engine.CountLive("B", "A"))
	f.assertConservation(t)
}

// ---------------------------------------------------------------------------
// Conservation under a mixed workload
// ---------------------------------------------------------------------------

func TestConservationAcrossMixedOperations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mint(t, "A", 1000)
	f.mint(t, "H", 200)
	require.NoError(t, f.allowances.Approve("A", "S", 300))

	handler := &stubHandler{token: "token", account: "H", owner: "B"}
	handler.handle = func(ctx context.Context, from Account, id uint64) (bool, error) {
		if id%2 == 0 {
			return true, f.engine.RedirectOffer(ctx, "H", from, "B", id)
		}

		return false, nil
	}
	f.engine.RegisterDefaultHandler("B", handler)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.engine.MakeOffer(ctx, "A", "B", 50, "direct")
		require.NoError(t, err)
		f.assertConservation(t)
	}

	for i := 0; i < 3; i++ {
		_, err := f.engine.MakeDelegatedOffer(ctx, "S", "A", "C", 40, "delegated")
		require.NoError(t, err)
		f.assertConservation(t)
	}

	for _, offer := range f.engine.PendingOffers("C", "A") {
		require.NoError(t, f.engine.TakeOffer(ctx, "C", "A", "C", offer.ID))
		f.assertConservation(t)
	}

	assert.Equal(t, int64(1200), f.ledger.TotalSupply())
	assert.Equal(t, int64(120), f.ledger.BalanceOf("C"))
}
