// Package oracle tracks per-pool price history: a step-capped spot price and
// a cumulative price-time integral used for TWAP. The step cap bounds how
// far a single trade can move the recorded price, independently of the AMM's
// own price-impact guard; the integral advances in whole ticks (60s by
// default) so accumulation cost stays constant per observation.
package oracle

import (
	"errors"

	"github.com/futarchybot/gomarket/pkg/ammmath"
)

var (
	ErrTimestampRegression = errors.New("oracle: observation timestamp regressed")
	ErrZeroPrice           = errors.New("oracle: price must be positive")
	ErrTwapNotReady        = errors.New("oracle: twap window not ready")
	ErrBeforeMarketStart   = errors.New("oracle: market has not started")
	ErrArithmeticOverflow  = errors.New("oracle: twap exceeds uint64 range")
	ErrInvalidConfig       = errors.New("oracle: invalid config")
)

// DefaultTickSeconds is the accumulation interval of the price integral.
const DefaultTickSeconds = 60

// Config collects the oracle's numeric parameters. Passing them at
// construction keeps behavior reproducible per instance instead of
// process-wide.
type Config struct {
	// BasisPoints is the price scale (10000 = parity).
	BasisPoints uint64
	// TwapStartDelay is the minimum age in seconds of the last observation
	// before TWAP may be read.
	TwapStartDelay uint64
	// TwapStepMax caps, in basis points relative to the prior stored price,
	// how far one observation may move the recorded price after market start.
	TwapStepMax uint64
	// MarketStartTime is the unix second trading opens; prices before it are
	// stored uncapped (bootstrap phase) and excluded from the integral.
	MarketStartTime uint64
	// TwapInitPrice seeds the recorded price at creation.
	TwapInitPrice uint64
	// TickSeconds is the accumulation interval; zero means DefaultTickSeconds.
	TickSeconds uint64
}

// Oracle is the price history of a single pool. It is not safe for
// concurrent use; the host transaction order serializes all writes.
type Oracle struct {
	cfg Config

	lastPrice     uint64
	lastLiquidity uint64
	lastTimestamp uint64

	cumulative     ammmath.Uint128
	lastTickUpdate uint64 // tick-aligned, never before MarketStartTime
}

// New creates an oracle seeded with the configured initial price.
func New(cfg Config) (*Oracle, error) {
	if cfg.BasisPoints == 0 || cfg.TwapInitPrice == 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.TickSeconds == 0 {
		cfg.TickSeconds = DefaultTickSeconds
	}
	return &Oracle{
		cfg:            cfg,
		lastPrice:      cfg.TwapInitPrice,
		lastTickUpdate: cfg.MarketStartTime,
	}, nil
}

// Config returns the oracle's construction parameters.
func (o *Oracle) Config() Config { return o.cfg }

// LastPrice returns the most recently stored (step-capped) price.
func (o *Oracle) LastPrice() uint64 { return o.lastPrice }

// LastLiquidity returns the liquidity recorded with the last observation.
func (o *Oracle) LastLiquidity() uint64 { return o.lastLiquidity }

// LastTimestamp returns the time of the last observation.
func (o *Oracle) LastTimestamp() uint64 { return o.lastTimestamp }

// WriteObservation records a new spot price and pool liquidity at now.
// Timestamps must be non-decreasing. The price folded into the integral for
// the interval since the previous tick is the previous stored price; only
// then does the new (possibly step-capped) price take effect.
func (o *Oracle) WriteObservation(now, price, liquidity uint64) error {
	if now < o.lastTimestamp {
		return ErrTimestampRegression
	}
	if price == 0 {
		return ErrZeroPrice
	}

	o.cumulative, o.lastTickUpdate = o.extend(now)

	stored := price
	if now >= o.cfg.MarketStartTime {
		stored = o.capStep(price)
	}
	o.lastPrice = stored
	o.lastLiquidity = liquidity
	o.lastTimestamp = now
	return nil
}

// capStep clamps price to within TwapStepMax basis points of the prior
// stored price, in either direction.
func (o *Oracle) capStep(price uint64) uint64 {
	maxDelta, err := ammmath.MulDiv(o.lastPrice, o.cfg.TwapStepMax, o.cfg.BasisPoints)
	if err != nil {
		// lastPrice*stepMax overflowing 128/64-bit division cannot happen for
		// sane configs; clamp hard to the prior price if it somehow does.
		return o.lastPrice
	}
	if price > o.lastPrice {
		if price-o.lastPrice > maxDelta {
			return o.lastPrice + maxDelta
		}
		return price
	}
	if o.lastPrice-price > maxDelta {
		return o.lastPrice - maxDelta
	}
	return price
}

// extend folds whole elapsed ticks at the current stored price into the
// integral, returning the would-be accumulator and tick cursor at now.
func (o *Oracle) extend(now uint64) (ammmath.Uint128, uint64) {
	cum, cursor := o.cumulative, o.lastTickUpdate
	if now <= cursor {
		return cum, cursor
	}
	ticks := (now - cursor) / o.cfg.TickSeconds
	if ticks == 0 {
		return cum, cursor
	}
	elapsed := ticks * o.cfg.TickSeconds
	return cum.AddProduct(o.lastPrice, elapsed), cursor + elapsed
}

// TWAP returns the time-weighted average price at now, scaled by
// BasisPoints, averaged over the whole time since market start. It is a
// read: the stored integral is extended on a copy, not mutated.
func (o *Oracle) TWAP(now uint64) (uint64, error) {
	if now < o.cfg.MarketStartTime {
		return 0, ErrBeforeMarketStart
	}
	if now < o.lastTimestamp || now-o.lastTimestamp < o.cfg.TwapStartDelay {
		return 0, ErrTwapNotReady
	}
	elapsed := now - o.cfg.MarketStartTime
	if elapsed == 0 {
		return 0, ErrTwapNotReady
	}
	cum, _ := o.extend(now)
	v, err := cum.MulDiv64(o.cfg.BasisPoints, elapsed)
	if err != nil {
		return 0, ErrArithmeticOverflow
	}
	return v, nil
}

// Snapshot returns a copy of the oracle for transactional rollback.
func (o *Oracle) Snapshot() Oracle { return *o }

// Restore resets the oracle to a previously taken snapshot.
func (o *Oracle) Restore(s Oracle) { *o = s }
