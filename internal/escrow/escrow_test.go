package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/marketstate"
)

const now = uint64(1_700_000_000)

type stubOracle struct{}

func (stubOracle) LastPrice() uint64     { return 10_000 }
func (stubOracle) LastTimestamp() uint64 { return now + 1 }

type fixture struct {
	escrow *TokenEscrow
	state  *marketstate.MarketState
	admin  domain.AdminCap
	mgr    domain.TokenManagerCap
}

// newFixture builds an escrow for n outcomes with supplies registered and
// trading open.
func newFixture(t *testing.T, n uint64) *fixture {
	t.Helper()
	id := domain.NewMarketID()
	msgs := make([]string, n)
	for i := range msgs {
		msgs[i] = "outcome"
	}
	state, err := marketstate.New(id, n, "0xadmin", msgs)
	require.NoError(t, err)

	admin := domain.NewAdminCap(id)
	mgr := domain.NewTokenManagerCap(id)
	require.NoError(t, state.StartTrading(admin, now, 86_400))

	e := New(state)
	for i := uint64(0); i < n; i++ {
		require.NoError(t, e.RegisterSupplies(mgr, i,
			&domain.Supply{MarketID: id, AssetType: domain.AssetTypeAsset, Outcome: i},
			&domain.Supply{MarketID: id, AssetType: domain.AssetTypeStable, Outcome: i},
		))
	}
	return &fixture{escrow: e, state: state, admin: admin, mgr: mgr}
}

// checkConservation asserts the global escrow invariant for both legs.
func checkConservation(t *testing.T, e *TokenEscrow) {
	t.Helper()
	sumAsset := e.AssetBalance()
	sumStable := e.StableBalance()
	for i := uint64(0); i < e.OutcomeCount(); i++ {
		a, err := e.OutcomeAssetBalance(i)
		require.NoError(t, err)
		s, err := e.OutcomeStableBalance(i)
		require.NoError(t, err)
		sumAsset += a
		sumStable += s
	}
	assert.Equal(t, e.TotalAssetDeposited()-e.TotalAssetWithdrawn(), sumAsset, "asset conservation")
	assert.Equal(t, e.TotalStableDeposited()-e.TotalStableWithdrawn(), sumStable, "stable conservation")
}

func TestRegisterSuppliesInOrder(t *testing.T) {
	id := domain.NewMarketID()
	state, err := marketstate.New(id, 3, "0xadmin", []string{"a", "b", "c"})
	require.NoError(t, err)
	mgr := domain.NewTokenManagerCap(id)
	e := New(state)

	mk := func(at domain.AssetType, outcome uint64) *domain.Supply {
		return &domain.Supply{MarketID: id, AssetType: at, Outcome: outcome}
	}

	// Index 1 before 0 is out of sequence.
	err = e.RegisterSupplies(mgr, 1, mk(domain.AssetTypeAsset, 1), mk(domain.AssetTypeStable, 1))
	assert.ErrorIs(t, err, ErrOutOfSequence)

	require.NoError(t, e.RegisterSupplies(mgr, 0, mk(domain.AssetTypeAsset, 0), mk(domain.AssetTypeStable, 0)))

	// Duplicate registration of index 0.
	err = e.RegisterSupplies(mgr, 0, mk(domain.AssetTypeAsset, 0), mk(domain.AssetTypeStable, 0))
	assert.ErrorIs(t, err, ErrOutOfSequence)

	// Out-of-range index.
	err = e.RegisterSupplies(mgr, 3, mk(domain.AssetTypeAsset, 3), mk(domain.AssetTypeStable, 3))
	assert.ErrorIs(t, err, domain.ErrOutcomeOutOfRange)

	// A supply bound to the wrong slot is rejected.
	err = e.RegisterSupplies(mgr, 1, mk(domain.AssetTypeAsset, 2), mk(domain.AssetTypeStable, 1))
	assert.ErrorIs(t, err, ErrInvalidSupply)

	require.NoError(t, e.RegisterSupplies(mgr, 1, mk(domain.AssetTypeAsset, 1), mk(domain.AssetTypeStable, 1)))
	require.NoError(t, e.RegisterSupplies(mgr, 2, mk(domain.AssetTypeAsset, 2), mk(domain.AssetTypeStable, 2)))
	assert.True(t, e.AllSuppliesRegistered())
}

func TestUnauthorizedCap(t *testing.T) {
	f := newFixture(t, 2)
	foreign := domain.NewTokenManagerCap(domain.NewMarketID())

	assert.ErrorIs(t, f.escrow.DepositAsset(foreign, 100), ErrUnauthorized)
	_, err := f.escrow.MintCompleteSetAsset(foreign, now+1, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.escrow.RedeemCompleteSetAsset(foreign, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMintCompleteSet(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow

	require.NoError(t, e.DepositAsset(f.mgr, 1000))
	checkConservation(t, e)

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	// Deposit of 100 plus 2x100 carved out of the pot: 1000+100-200 = 900.
	assert.Equal(t, uint64(900), e.AssetBalance())
	for i := uint64(0); i < 2; i++ {
		sub, err := e.OutcomeAssetBalance(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), sub)
		assert.Equal(t, uint64(100), tokens[i].Balance)
		assert.Equal(t, i, tokens[i].Outcome)
		total, err := e.SupplyTotal(domain.AssetTypeAsset, i)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), total)
	}
	checkConservation(t, e)
}

func TestMintRequiresBackingForEveryOutcome(t *testing.T) {
	f := newFixture(t, 3)
	e := f.escrow

	require.NoError(t, e.DepositAsset(f.mgr, 100))

	// Deposit credit of 100 gives a pot of 200; three outcomes need 300.
	_, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The failed mint must unwind its deposit credit.
	assert.Equal(t, uint64(100), e.AssetBalance())
	assert.Equal(t, uint64(100), e.TotalAssetDeposited())
	checkConservation(t, e)
}

func TestMintRequiresTradingActive(t *testing.T) {
	id := domain.NewMarketID()
	state, err := marketstate.New(id, 2, "0xadmin", []string{"a", "b"})
	require.NoError(t, err)
	mgr := domain.NewTokenManagerCap(id)
	e := New(state)
	for i := uint64(0); i < 2; i++ {
		require.NoError(t, e.RegisterSupplies(mgr, i,
			&domain.Supply{MarketID: id, AssetType: domain.AssetTypeAsset, Outcome: i},
			&domain.Supply{MarketID: id, AssetType: domain.AssetTypeStable, Outcome: i},
		))
	}
	require.NoError(t, e.DepositAsset(mgr, 1000))

	_, err = e.MintCompleteSetAsset(mgr, now, 100)
	assert.ErrorIs(t, err, marketstate.ErrTradingNotStarted)
	assert.Equal(t, uint64(1000), e.AssetBalance())
	checkConservation(t, e)
}

func TestMintRequiresAllSupplies(t *testing.T) {
	id := domain.NewMarketID()
	state, err := marketstate.New(id, 2, "0xadmin", []string{"a", "b"})
	require.NoError(t, err)
	admin := domain.NewAdminCap(id)
	mgr := domain.NewTokenManagerCap(id)
	require.NoError(t, state.StartTrading(admin, now, 86_400))
	e := New(state)
	require.NoError(t, e.DepositAsset(mgr, 1000))

	_, err = e.MintCompleteSetAsset(mgr, now+1, 100)
	assert.ErrorIs(t, err, ErrSuppliesNotRegistered)
}

func TestSwapTokens(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow

	require.NoError(t, e.DepositAsset(f.mgr, 1000))
	require.NoError(t, e.DepositStable(f.mgr, 1000))

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	require.NoError(t, err)
	checkConservation(t, e)

	// Sell the outcome-0 asset token for 90 stable (AMM-computed amount).
	out, err := e.SwapAssetToStable(f.mgr, now+2, 0, tokens[0], 90)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetTypeStable, out.AssetType)
	assert.Equal(t, uint64(0), out.Outcome)
	assert.Equal(t, uint64(90), out.Balance)

	// Asset backing returned to main; stable carved out for outcome 0.
	sub0, err := e.OutcomeAssetBalance(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sub0)
	stable0, err := e.OutcomeStableBalance(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), stable0)
	assert.Equal(t, uint64(1000-90), e.StableBalance())
	checkConservation(t, e)

	// Supply totals track the burn and the mint.
	aTotal, err := e.SupplyTotal(domain.AssetTypeAsset, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), aTotal)
	sTotal, err := e.SupplyTotal(domain.AssetTypeStable, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), sTotal)

	// Swap back the other way.
	back, err := e.SwapStableToAsset(f.mgr, now+3, 0, out, 80)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetTypeAsset, back.AssetType)
	assert.Equal(t, uint64(80), back.Balance)
	checkConservation(t, e)
}

func TestSwapRejectsForeignToken(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))
	require.NoError(t, e.DepositStable(f.mgr, 1000))
	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	require.NoError(t, err)

	// Wrong outcome index for the token being burned.
	_, err = e.SwapAssetToStable(f.mgr, now+2, 1, tokens[0], 90)
	assert.ErrorIs(t, err, domain.ErrMismatchedOutcome)

	// Wrong token type for the direction.
	_, err = e.SwapStableToAsset(f.mgr, now+2, 0, tokens[0], 90)
	assert.ErrorIs(t, err, domain.ErrMismatchedType)

	foreign := &domain.ConditionalToken{MarketID: domain.NewMarketID(), AssetType: domain.AssetTypeAsset, Outcome: 0, Balance: 100}
	_, err = e.SwapAssetToStable(f.mgr, now+2, 0, foreign, 90)
	assert.ErrorIs(t, err, domain.ErrMismatchedMarket)
	checkConservation(t, e)
}

// Complete-set redemption with two outcomes, 50 per token.
func TestRedeemCompleteSet(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 50)
	require.NoError(t, err)

	amount, err := e.RedeemCompleteSetAsset(f.mgr, tokens)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), amount)
	assert.Equal(t, uint64(50), e.TotalAssetWithdrawn())
	for i := uint64(0); i < 2; i++ {
		sub, err := e.OutcomeAssetBalance(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), sub)
	}
	checkConservation(t, e)
}

func TestRedeemCompleteSetMismatchedAmounts(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 50)
	require.NoError(t, err)

	// Split 10 off the second token: 50 vs 40 must abort.
	_, err = tokens[1].Split(10)
	require.NoError(t, err)
	_, err = e.RedeemCompleteSetAsset(f.mgr, tokens)
	assert.ErrorIs(t, err, domain.ErrMismatchedAmounts)

	// Nothing was burned.
	total, err := e.SupplyTotal(domain.AssetTypeAsset, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), total)
	checkConservation(t, e)
}

func TestRedeemCompleteSetRequiresOneTokenPerOutcome(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 50)
	require.NoError(t, err)

	_, err = e.RedeemCompleteSetAsset(f.mgr, tokens[:1])
	assert.ErrorIs(t, err, ErrIncompleteSet)

	// Two tokens of the same outcome are not a complete set.
	_, err = e.RedeemCompleteSetAsset(f.mgr, []*domain.ConditionalToken{tokens[0], tokens[0]})
	assert.ErrorIs(t, err, domain.ErrMismatchedOutcome)
}

func finalize(t *testing.T, f *fixture, winner uint64) {
	t.Helper()
	require.NoError(t, f.state.EndTrading(f.admin, now+86_400, stubOracle{}))
	require.NoError(t, f.state.Finalize(f.admin, now+86_500, winner))
}

func TestRedeemWinning(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))

	tokens, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	require.NoError(t, err)

	// Before finalization winning redemption is unavailable.
	_, err = e.RedeemWinningAsset(f.mgr, tokens[1])
	assert.ErrorIs(t, err, marketstate.ErrNotFinalized)

	finalize(t, f, 1)

	// The losing token cannot redeem.
	_, err = e.RedeemWinningAsset(f.mgr, tokens[0])
	assert.ErrorIs(t, err, ErrWrongOutcome)

	amount, err := e.RedeemWinningAsset(f.mgr, tokens[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)
	sub, err := e.OutcomeAssetBalance(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sub)
	checkConservation(t, e)

	// Complete-set redemption is closed after finalization.
	_, err = e.RedeemCompleteSetAsset(f.mgr, tokens)
	assert.ErrorIs(t, err, marketstate.ErrAlreadyFinalized)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, 2)
	e := f.escrow
	require.NoError(t, e.DepositAsset(f.mgr, 1000))

	snap := e.Snapshot()
	_, err := e.MintCompleteSetAsset(f.mgr, now+1, 100)
	require.NoError(t, err)

	e.Restore(snap)
	assert.Equal(t, uint64(1000), e.AssetBalance())
	assert.Equal(t, uint64(1000), e.TotalAssetDeposited())
	total, err := e.SupplyTotal(domain.AssetTypeAsset, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), total)
	checkConservation(t, e)
}

func TestRedeemCompleteSetChecksSupplyBeforeBurning(t *testing.T) {
	id := domain.NewMarketID()
	state, err := marketstate.New(id, 2, "0xadmin", []string{"reject", "accept"})
	require.NoError(t, err)
	admin := domain.NewAdminCap(id)
	mgr := domain.NewTokenManagerCap(id)
	require.NoError(t, state.StartTrading(admin, now, 86_400))

	e := New(state)
	supplies := make([]*domain.Supply, 2)
	for i := uint64(0); i < 2; i++ {
		supplies[i] = &domain.Supply{MarketID: id, AssetType: domain.AssetTypeAsset, Outcome: i}
		require.NoError(t, e.RegisterSupplies(mgr, i,
			supplies[i],
			&domain.Supply{MarketID: id, AssetType: domain.AssetTypeStable, Outcome: i},
		))
	}
	tokens, err := e.MintCompleteSetAsset(mgr, now+1, 100)
	require.NoError(t, err)

	// Drain one supply behind the escrow's back so the burn of the second
	// token would underflow it.
	supplies[1].Total = 50

	_, err = e.RedeemCompleteSetAsset(mgr, tokens)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No token was zeroed before the redemption was rejected.
	for i, tok := range tokens {
		assert.Equal(t, uint64(100), tok.Balance, "token %d", i)
	}
}
