package events

// Kind returns the wire name for a bus event, or "" for foreign types.
func Kind(event any) string {
	switch event.(type) {
	case SwapExecutedEvent:
		return "swap_executed"
	case LiquidityAddedEvent:
		return "liquidity_added"
	case LiquidityRemovedEvent:
		return "liquidity_removed"
	case OracleUpdatedEvent:
		return "oracle_updated"
	case TradingStartedEvent:
		return "trading_started"
	case TradingEndedEvent:
		return "trading_ended"
	case MarketFinalizedEvent:
		return "market_finalized"
	case TokenSplitEvent:
		return "token_split"
	case TokenMergeEvent:
		return "token_merge"
	case CompleteSetMintedEvent:
		return "complete_set_minted"
	case CompleteSetRedeemedEvent:
		return "complete_set_redeemed"
	case WinningsRedeemedEvent:
		return "winnings_redeemed"
	default:
		return ""
	}
}
