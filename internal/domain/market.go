// Package domain holds the value objects shared by every engine package:
// market identity, collateral types, conditional tokens and the capability
// handles that gate privileged operations.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

// MarketID identifies one proposal's market instance. All pools, the escrow
// and the state machine of a proposal share the same MarketID.
type MarketID = uuid.UUID

// NewMarketID returns a fresh market identifier.
func NewMarketID() MarketID {
	return uuid.New()
}

// AssetType distinguishes the two collateral legs backing a market.
type AssetType uint8

const (
	// AssetTypeAsset is the governed asset leg (e.g. the DAO token).
	AssetTypeAsset AssetType = iota
	// AssetTypeStable is the stable collateral leg.
	AssetTypeStable
)

func (a AssetType) String() string {
	switch a {
	case AssetTypeAsset:
		return "asset"
	case AssetTypeStable:
		return "stable"
	default:
		return "unknown"
	}
}

// SwapDirection selects which leg enters the pool on a swap.
type SwapDirection uint8

const (
	// SwapAssetToStable sells asset into the pool for stable.
	SwapAssetToStable SwapDirection = iota
	// SwapStableToAsset sells stable into the pool for asset.
	SwapStableToAsset
)

func (d SwapDirection) String() string {
	if d == SwapAssetToStable {
		return "asset_to_stable"
	}
	return "stable_to_asset"
}

// Shared validation errors (the "Validation" kind of the error taxonomy).
var (
	ErrZeroAmount        = errors.New("domain: amount must be positive")
	ErrOutcomeOutOfRange = errors.New("domain: outcome index out of range")
	ErrMismatchedMarket  = errors.New("domain: token belongs to a different market")
	ErrMismatchedType    = errors.New("domain: token asset type mismatch")
	ErrMismatchedOutcome = errors.New("domain: token outcome mismatch")
	ErrMismatchedAmounts = errors.New("domain: complete set amounts differ")
)
