// Package proposal orchestrates one futarchy proposal: a shared market
// state, a collateral escrow, and one constant-product pool per candidate
// outcome. It routes trading calls by outcome index, drives the lifecycle
// transitions, and picks the winning outcome from the per-pool TWAPs.
package proposal

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/futarchybot/gomarket/internal/amm"
	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/escrow"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/marketstate"
	"github.com/futarchybot/gomarket/internal/oracle"
	"github.com/futarchybot/gomarket/pkg/ammmath"
)

var log = logrus.WithField("component", "proposal")

var (
	ErrInvalidConfig = errors.New("proposal: invalid config")
)

// Config describes a new proposal. One pool per outcome message is seeded
// with the initial reserves; the oracle integral for every pool starts at
// TradingStart.
type Config struct {
	Admin           string
	OutcomeMessages []string

	// MarketID pins the market identifier; the zero value generates a
	// fresh one. Set when rebuilding a proposal from a saved definition.
	MarketID domain.MarketID

	// InitialAsset and InitialStable seed every outcome pool's reserves
	// and the escrow's collateral backing.
	InitialAsset  uint64
	InitialStable uint64

	// TradingStart is the scheduled trading start (unix seconds); oracle
	// observations before it are uncapped bootstrap writes.
	TradingStart uint64

	Pool amm.Config

	TwapStartDelay uint64
	TwapStepMax    uint64
	TwapInitPrice  uint64
	TickSeconds    uint64
}

// Proposal owns the market state, the escrow, and the outcome pools.
// Not safe for concurrent use; callers serialize access.
type Proposal struct {
	marketID domain.MarketID
	state    *marketstate.MarketState
	escrow   *escrow.TokenEscrow
	pools    []*amm.Pool

	adminCap domain.AdminCap
	mgrCap   domain.TokenManagerCap

	bus *events.Bus
}

// New creates the proposal: market state, registered escrow supplies in
// index order, seeded pools, and the escrow collateral deposits backing
// the initial reserves. The returned AdminCap gates lifecycle calls.
func New(cfg Config, bus *events.Bus) (*Proposal, domain.AdminCap, error) {
	var zero domain.AdminCap
	n := uint64(len(cfg.OutcomeMessages))
	if n < 2 || cfg.InitialAsset == 0 || cfg.InitialStable == 0 {
		return nil, zero, ErrInvalidConfig
	}
	if bus == nil {
		bus = events.NewBus()
	}

	marketID := cfg.MarketID
	if marketID == (domain.MarketID{}) {
		marketID = domain.NewMarketID()
	}
	state, err := marketstate.New(marketID, n, cfg.Admin, cfg.OutcomeMessages)
	if err != nil {
		return nil, zero, err
	}
	adminCap := domain.NewAdminCap(marketID)
	mgrCap := domain.NewTokenManagerCap(marketID)

	esc := escrow.New(state)
	for i := uint64(0); i < n; i++ {
		err := esc.RegisterSupplies(mgrCap, i,
			&domain.Supply{MarketID: marketID, AssetType: domain.AssetTypeAsset, Outcome: i},
			&domain.Supply{MarketID: marketID, AssetType: domain.AssetTypeStable, Outcome: i},
		)
		if err != nil {
			return nil, zero, err
		}
	}

	ocfg := oracle.Config{
		BasisPoints:     cfg.Pool.BasisPoints,
		TwapStartDelay:  cfg.TwapStartDelay,
		TwapStepMax:     cfg.TwapStepMax,
		MarketStartTime: cfg.TradingStart,
		TwapInitPrice:   cfg.TwapInitPrice,
		TickSeconds:     cfg.TickSeconds,
	}
	pools := make([]*amm.Pool, n)
	for i := uint64(0); i < n; i++ {
		pool, err := amm.New(marketID, i, cfg.InitialAsset, cfg.InitialStable, cfg.Pool, ocfg)
		if err != nil {
			return nil, zero, err
		}
		pools[i] = pool
	}

	// Escrow collateral backs one pool's reserves per outcome.
	for i := uint64(0); i < n; i++ {
		if err := esc.DepositAsset(mgrCap, cfg.InitialAsset); err != nil {
			return nil, zero, err
		}
		if err := esc.DepositStable(mgrCap, cfg.InitialStable); err != nil {
			return nil, zero, err
		}
	}

	log.WithFields(logrus.Fields{
		"market_id": marketID,
		"outcomes":  n,
	}).Info("proposal created")

	return &Proposal{
		marketID: marketID,
		state:    state,
		escrow:   esc,
		pools:    pools,
		adminCap: adminCap,
		mgrCap:   mgrCap,
		bus:      bus,
	}, adminCap, nil
}

// MarketID returns the proposal's market identifier.
func (p *Proposal) MarketID() domain.MarketID { return p.marketID }

// OutcomeCount returns the number of candidate outcomes.
func (p *Proposal) OutcomeCount() uint64 { return p.state.OutcomeCount() }

// Status returns the lifecycle status.
func (p *Proposal) Status() marketstate.Status { return p.state.Status() }

// State exposes the market state for read access.
func (p *Proposal) State() *marketstate.MarketState { return p.state }

// Escrow exposes the token escrow for read access.
func (p *Proposal) Escrow() *escrow.TokenEscrow { return p.escrow }

// Pool returns the pool trading the given outcome.
func (p *Proposal) Pool(outcome uint64) (*amm.Pool, error) {
	if outcome >= uint64(len(p.pools)) {
		return nil, domain.ErrOutcomeOutOfRange
	}
	return p.pools[outcome], nil
}

// TWAP returns the time-weighted average price for one outcome.
func (p *Proposal) TWAP(outcome, now uint64) (uint64, error) {
	pool, err := p.Pool(outcome)
	if err != nil {
		return 0, err
	}
	return pool.Oracle().TWAP(now)
}

// transact snapshots every mutable component, runs fn, and restores all
// snapshots if fn fails. The engine assumes all-or-nothing application of
// each call; this is that boundary.
func (p *Proposal) transact(fn func() error) error {
	stateSnap := p.state.Snapshot()
	escrowSnap := p.escrow.Snapshot()
	poolSnaps := make([]amm.Snapshot, len(p.pools))
	for i, pool := range p.pools {
		poolSnaps[i] = pool.Snapshot()
	}
	if err := fn(); err != nil {
		p.state.Restore(stateSnap)
		p.escrow.Restore(escrowSnap)
		for i, pool := range p.pools {
			pool.Restore(poolSnaps[i])
		}
		return err
	}
	return nil
}

// StartTrading opens the trading window for duration seconds.
func (p *Proposal) StartTrading(cap domain.AdminCap, now, duration uint64) error {
	return p.transact(func() error {
		if err := p.state.StartTrading(cap, now, duration); err != nil {
			return err
		}
		end, err := p.state.TradingEnd()
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"market_id":   p.marketID,
			"trading_end": end,
		}).Info("trading started")
		p.bus.Publish(events.TradingStartedEvent{
			MarketID:   p.marketID,
			StartTime:  now,
			TradingEnd: end,
		})
		return nil
	})
}

// EndTrading closes the trading window once the deadline has passed.
// Outcome 0 is the reference pool: its oracle must hold a live
// observation, and its last price is recorded as the closing price.
func (p *Proposal) EndTrading(cap domain.AdminCap, now uint64) error {
	return p.transact(func() error {
		ref := p.pools[0].Oracle()
		if err := p.state.EndTrading(cap, now, ref); err != nil {
			return err
		}
		log.WithField("market_id", p.marketID).Info("trading ended")
		p.bus.Publish(events.TradingEndedEvent{
			MarketID:   p.marketID,
			FinalPrice: ref.LastPrice(),
			Timestamp:  now,
		})
		return nil
	})
}

// Finalize picks the winner as the outcome whose pool has the highest
// TWAP at now; ties resolve to the lowest index.
func (p *Proposal) Finalize(cap domain.AdminCap, now uint64) error {
	return p.transact(func() error {
		winner := uint64(0)
		best := uint64(0)
		for i, pool := range p.pools {
			twap, err := pool.Oracle().TWAP(now)
			if err != nil {
				return err
			}
			if twap > best {
				best = twap
				winner = uint64(i)
			}
		}
		if err := p.state.Finalize(cap, now, winner); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"market_id": p.marketID,
			"winner":    winner,
			"twap":      best,
		}).Info("proposal finalized")
		p.bus.Publish(events.MarketFinalizedEvent{
			MarketID:       p.marketID,
			WinningOutcome: winner,
			WinningTwap:    best,
			Timestamp:      now,
		})
		return nil
	})
}

// Swap burns the caller's conditional token into one outcome's pool and
// returns the minted token on the other leg. The direction follows the
// input token's type. AMM reserves, oracle, and escrow ledger all move in
// one transaction.
func (p *Proposal) Swap(now, outcome uint64, tokenIn *domain.ConditionalToken, minOut uint64) (*domain.ConditionalToken, error) {
	pool, err := p.Pool(outcome)
	if err != nil {
		return nil, err
	}
	if tokenIn == nil {
		return nil, domain.ErrZeroAmount
	}

	var tokenOut *domain.ConditionalToken
	err = p.transact(func() error {
		amountIn := tokenIn.Balance
		var dir domain.SwapDirection
		if tokenIn.AssetType == domain.AssetTypeAsset {
			dir = domain.SwapAssetToStable
		} else {
			dir = domain.SwapStableToAsset
		}

		out, err := pool.Swap(now, dir, amountIn, minOut)
		if err != nil {
			return err
		}
		price, err := pool.CurrentPrice()
		if err != nil {
			return err
		}
		fee, err := ammmath.MulDiv(amountIn, pool.Config().FeeBps, pool.Config().BasisPoints)
		if err != nil {
			return err
		}

		// The escrow call burns tokenIn, so it comes after every other
		// fallible step; a failure before this point leaves the caller's
		// token untouched.
		if dir == domain.SwapAssetToStable {
			tokenOut, err = p.escrow.SwapAssetToStable(p.mgrCap, now, outcome, tokenIn, out)
		} else {
			tokenOut, err = p.escrow.SwapStableToAsset(p.mgrCap, now, outcome, tokenIn, out)
		}
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"market_id": p.marketID,
			"outcome":   outcome,
			"direction": dir,
			"in":        amountIn,
			"out":       out,
			"price":     price,
		}).Debug("swap executed")
		p.bus.Publish(events.SwapExecutedEvent{
			MarketID:  p.marketID,
			Outcome:   outcome,
			Direction: dir,
			AmountIn:  amountIn,
			AmountOut: out,
			FeeAmount: fee,
			NewPrice:  price,
			Timestamp: now,
		})
		p.bus.Publish(events.OracleUpdatedEvent{
			MarketID:    p.marketID,
			Outcome:     outcome,
			CappedPrice: pool.Oracle().LastPrice(),
			Liquidity:   pool.Oracle().LastLiquidity(),
			Timestamp:   now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokenOut, nil
}

// QuoteSwap prices a swap without mutating anything.
func (p *Proposal) QuoteSwap(outcome uint64, dir domain.SwapDirection, amountIn uint64) (uint64, error) {
	pool, err := p.Pool(outcome)
	if err != nil {
		return 0, err
	}
	return pool.QuoteSwap(dir, amountIn)
}

// AddLiquidity grows one pool's reserves, preserving the current price.
func (p *Proposal) AddLiquidity(now, outcome, assetAmt, stableAmt uint64) (uint64, uint64, error) {
	pool, err := p.Pool(outcome)
	if err != nil {
		return 0, 0, err
	}
	var usedAsset, usedStable uint64
	err = p.transact(func() error {
		var err error
		usedAsset, usedStable, err = pool.AddLiquidity(assetAmt, stableAmt)
		if err != nil {
			return err
		}
		p.bus.Publish(events.LiquidityAddedEvent{
			MarketID:     p.marketID,
			Outcome:      outcome,
			AssetAmount:  usedAsset,
			StableAmount: usedStable,
			Timestamp:    now,
		})
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return usedAsset, usedStable, nil
}

// RemoveLiquidity withdraws a basis-point percentage of one pool's
// reserves.
func (p *Proposal) RemoveLiquidity(now, outcome, pctBps, minAssetOut, minStableOut uint64) (uint64, uint64, error) {
	pool, err := p.Pool(outcome)
	if err != nil {
		return 0, 0, err
	}
	var outAsset, outStable uint64
	err = p.transact(func() error {
		var err error
		outAsset, outStable, err = pool.RemoveLiquidity(pctBps, minAssetOut, minStableOut)
		if err != nil {
			return err
		}
		p.bus.Publish(events.LiquidityRemovedEvent{
			MarketID:     p.marketID,
			Outcome:      outcome,
			PercentBps:   pctBps,
			AssetAmount:  outAsset,
			StableAmount: outStable,
			Timestamp:    now,
		})
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return outAsset, outStable, nil
}

// MintCompleteSetAsset escrows amount of asset collateral and returns one
// conditional token per outcome.
func (p *Proposal) MintCompleteSetAsset(now, amount uint64) ([]*domain.ConditionalToken, error) {
	return p.mintCompleteSet(now, amount, domain.AssetTypeAsset)
}

// MintCompleteSetStable is MintCompleteSetAsset on the stable leg.
func (p *Proposal) MintCompleteSetStable(now, amount uint64) ([]*domain.ConditionalToken, error) {
	return p.mintCompleteSet(now, amount, domain.AssetTypeStable)
}

func (p *Proposal) mintCompleteSet(now, amount uint64, at domain.AssetType) ([]*domain.ConditionalToken, error) {
	var tokens []*domain.ConditionalToken
	err := p.transact(func() error {
		var err error
		if at == domain.AssetTypeAsset {
			tokens, err = p.escrow.MintCompleteSetAsset(p.mgrCap, now, amount)
		} else {
			tokens, err = p.escrow.MintCompleteSetStable(p.mgrCap, now, amount)
		}
		if err != nil {
			return err
		}
		p.bus.Publish(events.CompleteSetMintedEvent{
			MarketID:  p.marketID,
			AssetType: at,
			Amount:    amount,
			Timestamp: now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// RedeemCompleteSetAsset redeems a full set of asset tokens before
// finalization.
func (p *Proposal) RedeemCompleteSetAsset(now uint64, tokens []*domain.ConditionalToken) (uint64, error) {
	return p.redeemCompleteSet(now, tokens, domain.AssetTypeAsset)
}

// RedeemCompleteSetStable redeems a full set of stable tokens before
// finalization.
func (p *Proposal) RedeemCompleteSetStable(now uint64, tokens []*domain.ConditionalToken) (uint64, error) {
	return p.redeemCompleteSet(now, tokens, domain.AssetTypeStable)
}

func (p *Proposal) redeemCompleteSet(now uint64, tokens []*domain.ConditionalToken, at domain.AssetType) (uint64, error) {
	var amount uint64
	err := p.transact(func() error {
		var err error
		if at == domain.AssetTypeAsset {
			amount, err = p.escrow.RedeemCompleteSetAsset(p.mgrCap, tokens)
		} else {
			amount, err = p.escrow.RedeemCompleteSetStable(p.mgrCap, tokens)
		}
		if err != nil {
			return err
		}
		p.bus.Publish(events.CompleteSetRedeemedEvent{
			MarketID:  p.marketID,
			AssetType: at,
			Amount:    amount,
			Timestamp: now,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// RedeemWinningAsset pays out a winning-outcome asset token after
// finalization.
func (p *Proposal) RedeemWinningAsset(now uint64, token *domain.ConditionalToken) (uint64, error) {
	return p.redeemWinning(now, token, domain.AssetTypeAsset)
}

// RedeemWinningStable pays out a winning-outcome stable token after
// finalization.
func (p *Proposal) RedeemWinningStable(now uint64, token *domain.ConditionalToken) (uint64, error) {
	return p.redeemWinning(now, token, domain.AssetTypeStable)
}

func (p *Proposal) redeemWinning(now uint64, token *domain.ConditionalToken, at domain.AssetType) (uint64, error) {
	var amount uint64
	err := p.transact(func() error {
		var err error
		if at == domain.AssetTypeAsset {
			amount, err = p.escrow.RedeemWinningAsset(p.mgrCap, token)
		} else {
			amount, err = p.escrow.RedeemWinningStable(p.mgrCap, token)
		}
		if err != nil {
			return err
		}
		outcome := uint64(0)
		if token != nil {
			outcome = token.Outcome
		}
		p.bus.Publish(events.WinningsRedeemedEvent{
			MarketID:  p.marketID,
			AssetType: at,
			Outcome:   outcome,
			Amount:    amount,
			Timestamp: now,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}
