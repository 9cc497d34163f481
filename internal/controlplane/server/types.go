package server

import (
	"github.com/shopspring/decimal"

	"github.com/futarchybot/gomarket/internal/domain"
)

type createProposalRequest struct {
	Admin           string   `json:"admin" binding:"required"`
	OutcomeMessages []string `json:"outcome_messages" binding:"required"`
	TradingStart    uint64   `json:"trading_start"` // unix seconds; 0 means now
}

type startTradingRequest struct {
	Duration uint64 `json:"duration" binding:"required"` // seconds
}

type mintRequest struct {
	AssetType string `json:"asset_type" binding:"required"` // "asset" or "stable"
	Amount    uint64 `json:"amount" binding:"required"`
}

type swapRequest struct {
	Outcome uint64 `json:"outcome"`
	Token   string `json:"token" binding:"required"` // handle from mint/swap
	MinOut  uint64 `json:"min_out"`
}

type liquidityAddRequest struct {
	Outcome      uint64 `json:"outcome"`
	AssetAmount  uint64 `json:"asset_amount" binding:"required"`
	StableAmount uint64 `json:"stable_amount" binding:"required"`
}

type liquidityRemoveRequest struct {
	Outcome      uint64 `json:"outcome"`
	PercentBps   uint64 `json:"percent_bps" binding:"required"`
	MinAssetOut  uint64 `json:"min_asset_out"`
	MinStableOut uint64 `json:"min_stable_out"`
}

type tokenSplitRequest struct {
	Token  string `json:"token" binding:"required"` // handle to split
	Amount uint64 `json:"amount" binding:"required"`
}

type tokenMergeRequest struct {
	Into string `json:"into" binding:"required"` // surviving handle
	From string `json:"from" binding:"required"` // handle folded in and spent
}

type redeemSetRequest struct {
	Tokens []string `json:"tokens" binding:"required"`
}

type redeemWinningRequest struct {
	Token string `json:"token" binding:"required"`
}

type tokenView struct {
	Handle    string `json:"handle"`
	AssetType string `json:"asset_type"`
	Outcome   uint64 `json:"outcome"`
	Balance   uint64 `json:"balance"`
}

type poolView struct {
	Outcome       uint64 `json:"outcome"`
	Message       string `json:"message"`
	AssetReserve  uint64 `json:"asset_reserve"`
	StableReserve uint64 `json:"stable_reserve"`
	Price         string `json:"price"`
	Twap          string `json:"twap,omitempty"`
}

type proposalView struct {
	MarketID       string     `json:"market_id"`
	Status         string     `json:"status"`
	OutcomeCount   uint64     `json:"outcome_count"`
	WinningOutcome *uint64    `json:"winning_outcome,omitempty"`
	Pools          []poolView `json:"pools"`
}

// formatPrice renders a basis-point price as a decimal string, e.g.
// 8266 -> "0.8266" at the default scale.
func formatPrice(price, bps uint64) string {
	return decimal.New(int64(price), 0).
		Div(decimal.New(int64(bps), 0)).
		String()
}

func assetTypeFromString(s string) (domain.AssetType, bool) {
	switch s {
	case "asset":
		return domain.AssetTypeAsset, true
	case "stable":
		return domain.AssetTypeStable, true
	default:
		return 0, false
	}
}
