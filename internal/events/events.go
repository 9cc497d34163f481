package events

import (
	"github.com/futarchybot/gomarket/internal/domain"
)

// SwapExecutedEvent fires after a pool swap has been applied to both the
// AMM reserves and the escrow ledger.
type SwapExecutedEvent struct {
	MarketID  domain.MarketID
	Outcome   uint64
	Direction domain.SwapDirection
	AmountIn  uint64
	AmountOut uint64
	FeeAmount uint64
	NewPrice  uint64
	Timestamp uint64
}

// LiquidityAddedEvent fires after reserves are added to an outcome pool.
type LiquidityAddedEvent struct {
	MarketID     domain.MarketID
	Outcome      uint64
	AssetAmount  uint64
	StableAmount uint64
	Timestamp    uint64
}

// LiquidityRemovedEvent fires after a percentage withdrawal from an
// outcome pool.
type LiquidityRemovedEvent struct {
	MarketID     domain.MarketID
	Outcome      uint64
	PercentBps   uint64
	AssetAmount  uint64
	StableAmount uint64
	Timestamp    uint64
}

// OracleUpdatedEvent fires whenever an observation lands in an outcome's
// price oracle.
type OracleUpdatedEvent struct {
	MarketID    domain.MarketID
	Outcome     uint64
	CappedPrice uint64
	Liquidity   uint64
	Timestamp   uint64
}

// TradingStartedEvent fires on the review -> trading transition.
type TradingStartedEvent struct {
	MarketID   domain.MarketID
	StartTime  uint64
	TradingEnd uint64
}

// TradingEndedEvent fires when the trading window is closed.
type TradingEndedEvent struct {
	MarketID   domain.MarketID
	FinalPrice uint64
	Timestamp  uint64
}

// MarketFinalizedEvent carries the winning outcome chosen at settlement.
type MarketFinalizedEvent struct {
	MarketID       domain.MarketID
	WinningOutcome uint64
	WinningTwap    uint64
	Timestamp      uint64
}

// CompleteSetMintedEvent fires after collateral is escrowed for a full
// set of conditional tokens.
type CompleteSetMintedEvent struct {
	MarketID  domain.MarketID
	AssetType domain.AssetType
	Amount    uint64
	Timestamp uint64
}

// CompleteSetRedeemedEvent fires after a pre-settlement complete-set
// redemption pays out collateral.
type CompleteSetRedeemedEvent struct {
	MarketID  domain.MarketID
	AssetType domain.AssetType
	Amount    uint64
	Timestamp uint64
}

// TokenSplitEvent fires when a conditional token is split in two.
type TokenSplitEvent struct {
	MarketID         domain.MarketID
	AssetType        domain.AssetType
	Outcome          uint64
	Amount           uint64
	RemainingBalance uint64
	Timestamp        uint64
}

// TokenMergeEvent fires when two fungible conditional tokens are folded
// into one.
type TokenMergeEvent struct {
	MarketID     domain.MarketID
	AssetType    domain.AssetType
	Outcome      uint64
	MergedAmount uint64
	NewBalance   uint64
	Timestamp    uint64
}

// WinningsRedeemedEvent fires for each post-settlement winner redemption.
type WinningsRedeemedEvent struct {
	MarketID  domain.MarketID
	AssetType domain.AssetType
	Outcome   uint64
	Amount    uint64
	Timestamp uint64
}
