package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSplitMerge(t *testing.T) {
	id := NewMarketID()
	sup := &Supply{MarketID: id, AssetType: AssetTypeAsset, Outcome: 0}

	tok, err := sup.Mint(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sup.Total)

	part, err := tok.Split(30)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), tok.Balance)
	assert.Equal(t, uint64(30), part.Balance)
	// Supply is untouched by split: same value, different holders.
	assert.Equal(t, uint64(100), sup.Total)

	require.NoError(t, tok.Merge(part))
	assert.Equal(t, uint64(100), tok.Balance)
	assert.Equal(t, uint64(0), part.Balance)
}

func TestTokenSplitErrors(t *testing.T) {
	id := NewMarketID()
	tok := &ConditionalToken{MarketID: id, Balance: 10}

	_, err := tok.Split(0)
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = tok.Split(11)
	assert.ErrorIs(t, err, ErrMismatchedAmounts)
	assert.Equal(t, uint64(10), tok.Balance)
}

func TestTokenMergeRejectsMismatch(t *testing.T) {
	a := &ConditionalToken{MarketID: NewMarketID(), AssetType: AssetTypeAsset, Outcome: 0, Balance: 5}

	other := &ConditionalToken{MarketID: NewMarketID(), AssetType: AssetTypeAsset, Outcome: 0, Balance: 5}
	assert.ErrorIs(t, a.Merge(other), ErrMismatchedMarket)

	other = &ConditionalToken{MarketID: a.MarketID, AssetType: AssetTypeStable, Outcome: 0, Balance: 5}
	assert.ErrorIs(t, a.Merge(other), ErrMismatchedType)

	other = &ConditionalToken{MarketID: a.MarketID, AssetType: AssetTypeAsset, Outcome: 1, Balance: 5}
	assert.ErrorIs(t, a.Merge(other), ErrMismatchedOutcome)

	assert.Equal(t, uint64(5), a.Balance)
}

func TestSupplyBurn(t *testing.T) {
	id := NewMarketID()
	sup := &Supply{MarketID: id, AssetType: AssetTypeStable, Outcome: 2}

	tok, err := sup.Mint(50)
	require.NoError(t, err)

	require.NoError(t, sup.Burn(tok))
	assert.Equal(t, uint64(0), sup.Total)
	assert.Equal(t, uint64(0), tok.Balance)

	// Burning a token from another market must not touch the supply.
	foreign := &ConditionalToken{MarketID: NewMarketID(), AssetType: AssetTypeStable, Outcome: 2, Balance: 1}
	assert.ErrorIs(t, sup.Burn(foreign), ErrMismatchedMarket)
}

func TestCapabilityBinding(t *testing.T) {
	id := NewMarketID()
	admin := NewAdminCap(id)
	assert.True(t, admin.BoundTo(id))
	assert.False(t, admin.BoundTo(NewMarketID()))

	mgr := NewTokenManagerCap(id)
	assert.True(t, mgr.BoundTo(id))
	assert.False(t, mgr.BoundTo(NewMarketID()))
}
