// Package amm implements one constant-product market per proposal outcome.
// Swaps quote against x*y=k with the fee retained in the pool, so the
// reserve product never decreases on a successful swap. Every successful
// swap records one observation in the pool's oracle.
package amm

import (
	"errors"

	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/oracle"
	"github.com/futarchybot/gomarket/pkg/ammmath"
)

var (
	ErrSlippageExceeded   = errors.New("amm: output below minimum")
	ErrPoolDrained        = errors.New("amm: swap would drain the pool")
	ErrPriceImpactTooHigh = errors.New("amm: price impact over ceiling")
	ErrLiquidityTooLow    = errors.New("amm: liquidity too low to seed market")
	ErrInvalidPercent     = errors.New("amm: withdrawal percent out of range")
	ErrInvalidConfig      = errors.New("amm: invalid config")
)

// Config collects the pool's numeric parameters.
type Config struct {
	// FeeBps is the swap fee in basis points of the input amount.
	FeeBps uint64
	// MaxImpactBps caps the price impact of a single swap, measured in basis
	// points against the no-fee ideal output.
	MaxImpactBps uint64
	// MinLiquidity is the minimum sqrt(asset*stable) required to seed a pool.
	MinLiquidity uint64
	// BasisPoints is the price scale shared with the oracle.
	BasisPoints uint64
}

// DefaultConfig are the engine defaults: 0.3% fee, 10% impact ceiling.
func DefaultConfig() Config {
	return Config{
		FeeBps:       30,
		MaxImpactBps: 1000,
		MinLiquidity: 1000,
		BasisPoints:  10_000,
	}
}

// Pool is the constant-product market for a single outcome. Not safe for
// concurrent use; the host transaction order serializes all calls.
type Pool struct {
	marketID domain.MarketID
	outcome  uint64

	assetReserve  uint64
	stableReserve uint64
	// k caches the reserve product for display. It is advisory: swap
	// correctness derives from the closed-form output, not from k.
	k uint64

	cfg Config
	orc *oracle.Oracle
}

// New seeds a pool with initial reserves and creates its oracle. The
// geometric mean of the reserves must clear MinLiquidity.
func New(marketID domain.MarketID, outcome uint64, initialAsset, initialStable uint64, cfg Config, ocfg oracle.Config) (*Pool, error) {
	if cfg.BasisPoints == 0 || cfg.FeeBps >= cfg.BasisPoints {
		return nil, ErrInvalidConfig
	}
	if ocfg.BasisPoints != cfg.BasisPoints {
		return nil, ErrInvalidConfig
	}
	if initialAsset == 0 || initialStable == 0 {
		return nil, domain.ErrZeroAmount
	}
	product, err := ammmath.CheckedMul(initialAsset, initialStable)
	if err == nil && ammmath.Sqrt(product) < cfg.MinLiquidity {
		return nil, ErrLiquidityTooLow
	}
	orc, err := oracle.New(ocfg)
	if err != nil {
		return nil, err
	}
	return &Pool{
		marketID:      marketID,
		outcome:       outcome,
		assetReserve:  initialAsset,
		stableReserve: initialStable,
		k:             ammmath.SaturatingMul(initialAsset, initialStable),
		cfg:           cfg,
		orc:           orc,
	}, nil
}

// MarketID returns the owning market's identifier.
func (p *Pool) MarketID() domain.MarketID { return p.marketID }

// Outcome returns the outcome index this pool trades.
func (p *Pool) Outcome() uint64 { return p.outcome }

// AssetReserve returns the asset-leg reserve.
func (p *Pool) AssetReserve() uint64 { return p.assetReserve }

// StableReserve returns the stable-leg reserve.
func (p *Pool) StableReserve() uint64 { return p.stableReserve }

// K returns the cached (advisory) reserve product.
func (p *Pool) K() uint64 { return p.k }

// Config returns the pool's economic parameters.
func (p *Pool) Config() Config { return p.cfg }

// Oracle returns the pool's price oracle.
func (p *Pool) Oracle() *oracle.Oracle { return p.orc }

// CurrentPrice returns the spot price, stable per asset scaled by
// BasisPoints (10000 = parity).
func (p *Pool) CurrentPrice() (uint64, error) {
	return ammmath.MulDiv(p.stableReserve, p.cfg.BasisPoints, p.assetReserve)
}

// reserves returns (in, out) reserves for the given direction.
func (p *Pool) reserves(dir domain.SwapDirection) (uint64, uint64) {
	if dir == domain.SwapAssetToStable {
		return p.assetReserve, p.stableReserve
	}
	return p.stableReserve, p.assetReserve
}

// QuoteSwap computes the output of a swap without mutating state and
// without applying the economic guards.
func (p *Pool) QuoteSwap(dir domain.SwapDirection, amountIn uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, domain.ErrZeroAmount
	}
	reserveIn, reserveOut := p.reserves(dir)
	return swapOutput(amountIn, reserveIn, reserveOut, p.cfg.FeeBps, p.cfg.BasisPoints)
}

func swapOutput(amountIn, reserveIn, reserveOut, feeBps, bps uint64) (uint64, error) {
	fee, err := ammmath.MulDiv(amountIn, feeBps, bps)
	if err != nil {
		return 0, err
	}
	net := amountIn - fee
	if net == 0 {
		return 0, domain.ErrZeroAmount
	}
	den, err := ammmath.CheckedAdd(reserveIn, net)
	if err != nil {
		return 0, err
	}
	return ammmath.MulDiv(net, reserveOut, den)
}

// Swap executes amountIn against the pool in the given direction. Reserves
// mutate only after every guard passes; the oracle is then written with the
// post-swap spot price and liquidity.
func (p *Pool) Swap(now uint64, dir domain.SwapDirection, amountIn, minOut uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, domain.ErrZeroAmount
	}
	reserveIn, reserveOut := p.reserves(dir)

	out, err := swapOutput(amountIn, reserveIn, reserveOut, p.cfg.FeeBps, p.cfg.BasisPoints)
	if err != nil {
		return 0, err
	}
	if out < minOut {
		return 0, ErrSlippageExceeded
	}
	if out >= reserveOut {
		return 0, ErrPoolDrained
	}
	// Impact against the fee-free ideal output.
	ideal, err := ammmath.MulDiv(amountIn, reserveOut, reserveIn)
	if err != nil {
		return 0, err
	}
	if ideal > 0 {
		impact, err := ammmath.MulDiv(ideal-out, p.cfg.BasisPoints, ideal)
		if err != nil {
			return 0, err
		}
		if impact > p.cfg.MaxImpactBps {
			return 0, ErrPriceImpactTooHigh
		}
	}

	if dir == domain.SwapAssetToStable {
		p.assetReserve += amountIn
		p.stableReserve -= out
	} else {
		p.stableReserve += amountIn
		p.assetReserve -= out
	}
	p.k = ammmath.SaturatingMul(p.assetReserve, p.stableReserve)

	price, err := p.CurrentPrice()
	if err != nil {
		return 0, err
	}
	liquidity, err := ammmath.CheckedAdd(p.assetReserve, p.stableReserve)
	if err != nil {
		return 0, err
	}
	if err := p.orc.WriteObservation(now, price, liquidity); err != nil {
		return 0, err
	}
	return out, nil
}

// QuoteAddLiquidity returns the reserve-proportional pair that would be
// consumed for the given amounts: always the smaller scaled pair, so the
// post-add price is unchanged.
func (p *Pool) QuoteAddLiquidity(assetAmt, stableAmt uint64) (uint64, uint64, error) {
	if assetAmt == 0 || stableAmt == 0 {
		return 0, 0, domain.ErrZeroAmount
	}
	stableNeeded, err := ammmath.MulDiv(assetAmt, p.stableReserve, p.assetReserve)
	if err != nil {
		return 0, 0, err
	}
	if stableNeeded <= stableAmt {
		if stableNeeded == 0 {
			return 0, 0, domain.ErrZeroAmount
		}
		return assetAmt, stableNeeded, nil
	}
	assetNeeded, err := ammmath.MulDiv(stableAmt, p.assetReserve, p.stableReserve)
	if err != nil {
		return 0, 0, err
	}
	if assetNeeded == 0 {
		return 0, 0, domain.ErrZeroAmount
	}
	return assetNeeded, stableAmt, nil
}

// AddLiquidity deposits a reserve-proportional pair and returns the amounts
// actually used.
func (p *Pool) AddLiquidity(assetAmt, stableAmt uint64) (uint64, uint64, error) {
	assetUsed, stableUsed, err := p.QuoteAddLiquidity(assetAmt, stableAmt)
	if err != nil {
		return 0, 0, err
	}
	newAsset, err := ammmath.CheckedAdd(p.assetReserve, assetUsed)
	if err != nil {
		return 0, 0, err
	}
	newStable, err := ammmath.CheckedAdd(p.stableReserve, stableUsed)
	if err != nil {
		return 0, 0, err
	}
	p.assetReserve = newAsset
	p.stableReserve = newStable
	p.k = ammmath.SaturatingMul(p.assetReserve, p.stableReserve)
	return assetUsed, stableUsed, nil
}

// QuoteRemoveLiquidity returns the proportional withdrawal for pctBps
// basis points of both reserves.
func (p *Pool) QuoteRemoveLiquidity(pctBps uint64) (uint64, uint64, error) {
	if pctBps == 0 || pctBps >= p.cfg.BasisPoints {
		return 0, 0, ErrInvalidPercent
	}
	assetOut, err := ammmath.MulDiv(p.assetReserve, pctBps, p.cfg.BasisPoints)
	if err != nil {
		return 0, 0, err
	}
	stableOut, err := ammmath.MulDiv(p.stableReserve, pctBps, p.cfg.BasisPoints)
	if err != nil {
		return 0, 0, err
	}
	return assetOut, stableOut, nil
}

// RemoveLiquidity withdraws pctBps basis points of both reserves. Amounts
// below the caller minimums abort: slippage protection applies to
// withdrawal, not just deposit.
func (p *Pool) RemoveLiquidity(pctBps, minAssetOut, minStableOut uint64) (uint64, uint64, error) {
	assetOut, stableOut, err := p.QuoteRemoveLiquidity(pctBps)
	if err != nil {
		return 0, 0, err
	}
	if assetOut < minAssetOut || stableOut < minStableOut {
		return 0, 0, ErrSlippageExceeded
	}
	p.assetReserve -= assetOut
	p.stableReserve -= stableOut
	p.k = ammmath.SaturatingMul(p.assetReserve, p.stableReserve)
	return assetOut, stableOut, nil
}

// Snapshot captures the pool (including its oracle) for rollback.
type Snapshot struct {
	assetReserve  uint64
	stableReserve uint64
	k             uint64
	orc           oracle.Oracle
}

// Snapshot returns a copy of the pool's mutable state.
func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		assetReserve:  p.assetReserve,
		stableReserve: p.stableReserve,
		k:             p.k,
		orc:           p.orc.Snapshot(),
	}
}

// Restore resets the pool to a previously taken snapshot.
func (p *Pool) Restore(s Snapshot) {
	p.assetReserve = s.assetReserve
	p.stableReserve = s.stableReserve
	p.k = s.k
	p.orc.Restore(s.orc)
}
