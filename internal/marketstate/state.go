// Package marketstate holds the lifecycle of one proposal's market, shared
// by all of its outcome pools: Review → Trading → Settlement → Finalized,
// strictly forward. Every mutator is gated by an AdminCap bound to this
// exact market instance.
package marketstate

import (
	"errors"

	"github.com/futarchybot/gomarket/internal/domain"
)

var (
	ErrUnauthorized         = errors.New("marketstate: capability not bound to this market")
	ErrInvalidOutcomeCount  = errors.New("marketstate: at least two outcomes required")
	ErrMessageCountMismatch = errors.New("marketstate: outcome message count mismatch")
	ErrInvalidDuration      = errors.New("marketstate: trading duration must be positive")
	ErrAlreadyStarted       = errors.New("marketstate: trading already started")
	ErrTradingNotStarted    = errors.New("marketstate: trading not started")
	ErrTradingEnded         = errors.New("marketstate: trading already ended")
	ErrTradingNotEnded      = errors.New("marketstate: trading not ended")
	ErrTradingWindowOpen    = errors.New("marketstate: trading window still open")
	ErrAlreadyFinalized     = errors.New("marketstate: market already finalized")
	ErrNotFinalized         = errors.New("marketstate: market not finalized")
)

// Status is the derived lifecycle stage, values 0-3.
type Status uint8

const (
	StatusReview Status = iota
	StatusTrading
	StatusSettlement
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusReview:
		return "review"
	case StatusTrading:
		return "trading"
	case StatusSettlement:
		return "settlement"
	default:
		return "finalized"
	}
}

// PriceReader is the slice of the oracle EndTrading reads as a liveness
// check. Satisfied by *oracle.Oracle.
type PriceReader interface {
	LastPrice() uint64
	LastTimestamp() uint64
}

// optU64 is an explicit tagged-optional: getters on an unset field are a
// precondition violation, never a zero-value read.
type optU64 struct {
	set bool
	v   uint64
}

// MarketState is one proposal's lifecycle record. Not safe for concurrent
// use; the host transaction order serializes all calls.
type MarketState struct {
	marketID        domain.MarketID
	outcomeCount    uint64
	outcomeMessages []string
	admin           string

	tradingStarted bool
	tradingEnded   bool
	finalized      bool

	tradingStart     uint64
	tradingEnd       optU64
	winningOutcome   optU64
	finalizationTime optU64
}

// New creates the state record for a market with the given outcomes.
// One message per outcome is required.
func New(marketID domain.MarketID, outcomeCount uint64, admin string, outcomeMessages []string) (*MarketState, error) {
	if outcomeCount < 2 {
		return nil, ErrInvalidOutcomeCount
	}
	if uint64(len(outcomeMessages)) != outcomeCount {
		return nil, ErrMessageCountMismatch
	}
	msgs := make([]string, len(outcomeMessages))
	copy(msgs, outcomeMessages)
	return &MarketState{
		marketID:        marketID,
		outcomeCount:    outcomeCount,
		outcomeMessages: msgs,
		admin:           admin,
	}, nil
}

func (m *MarketState) checkCap(cap domain.AdminCap) error {
	if !cap.BoundTo(m.marketID) {
		return ErrUnauthorized
	}
	return nil
}

// MarketID returns the market identifier.
func (m *MarketState) MarketID() domain.MarketID { return m.marketID }

// OutcomeCount returns the number of candidate outcomes.
func (m *MarketState) OutcomeCount() uint64 { return m.outcomeCount }

// OutcomeMessage returns the description of one outcome.
func (m *MarketState) OutcomeMessage(outcome uint64) (string, error) {
	if outcome >= m.outcomeCount {
		return "", domain.ErrOutcomeOutOfRange
	}
	return m.outcomeMessages[outcome], nil
}

// Admin returns the admin address recorded at creation.
func (m *MarketState) Admin() string { return m.admin }

// Status derives the lifecycle stage from the monotonic flags.
func (m *MarketState) Status() Status {
	switch {
	case m.finalized:
		return StatusFinalized
	case m.tradingEnded:
		return StatusSettlement
	case m.tradingStarted:
		return StatusTrading
	default:
		return StatusReview
	}
}

// StartTrading opens the trading window for duration seconds.
func (m *MarketState) StartTrading(cap domain.AdminCap, now, duration uint64) error {
	if err := m.checkCap(cap); err != nil {
		return err
	}
	if m.tradingStarted {
		return ErrAlreadyStarted
	}
	if duration == 0 {
		return ErrInvalidDuration
	}
	m.tradingStarted = true
	m.tradingStart = now
	m.tradingEnd = optU64{set: true, v: now + duration}
	return nil
}

// EndTrading closes the window once the deadline has passed. The referenced
// oracle is read as a liveness check; no particular value is required, but a
// pool that never produced an observation cannot settle.
func (m *MarketState) EndTrading(cap domain.AdminCap, now uint64, ref PriceReader) error {
	if err := m.checkCap(cap); err != nil {
		return err
	}
	if !m.tradingStarted {
		return ErrTradingNotStarted
	}
	if m.tradingEnded {
		return ErrTradingEnded
	}
	if now < m.tradingEnd.v {
		return ErrTradingWindowOpen
	}
	if ref == nil || ref.LastTimestamp() == 0 {
		return ErrTradingNotStarted
	}
	_ = ref.LastPrice()
	m.tradingEnded = true
	return nil
}

// Finalize records the winning outcome. Irreversible.
func (m *MarketState) Finalize(cap domain.AdminCap, now, winner uint64) error {
	if err := m.checkCap(cap); err != nil {
		return err
	}
	if !m.tradingEnded {
		return ErrTradingNotEnded
	}
	if m.finalized {
		return ErrAlreadyFinalized
	}
	if winner >= m.outcomeCount {
		return domain.ErrOutcomeOutOfRange
	}
	m.finalized = true
	m.winningOutcome = optU64{set: true, v: winner}
	m.finalizationTime = optU64{set: true, v: now}
	return nil
}

// AssertTradingActive errors unless the market currently accepts trades.
func (m *MarketState) AssertTradingActive(now uint64) error {
	if !m.tradingStarted || now < m.tradingStart {
		return ErrTradingNotStarted
	}
	if m.tradingEnded || now >= m.tradingEnd.v {
		return ErrTradingEnded
	}
	return nil
}

// Finalized reports whether the market has been finalized.
func (m *MarketState) Finalized() bool { return m.finalized }

// TradingStart returns the window open time.
func (m *MarketState) TradingStart() (uint64, error) {
	if !m.tradingStarted {
		return 0, ErrTradingNotStarted
	}
	return m.tradingStart, nil
}

// TradingEnd returns the window close time.
func (m *MarketState) TradingEnd() (uint64, error) {
	if !m.tradingEnd.set {
		return 0, ErrTradingNotStarted
	}
	return m.tradingEnd.v, nil
}

// WinningOutcome returns the winner, only after finalization.
func (m *MarketState) WinningOutcome() (uint64, error) {
	if !m.winningOutcome.set {
		return 0, ErrNotFinalized
	}
	return m.winningOutcome.v, nil
}

// FinalizationTime returns when the market was finalized.
func (m *MarketState) FinalizationTime() (uint64, error) {
	if !m.finalizationTime.set {
		return 0, ErrNotFinalized
	}
	return m.finalizationTime.v, nil
}

// Snapshot returns a copy for transactional rollback.
func (m *MarketState) Snapshot() MarketState { return *m }

// Restore resets the state to a previously taken snapshot.
func (m *MarketState) Restore(s MarketState) { *m = s }
