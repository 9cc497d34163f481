package domain

import (
	"github.com/futarchybot/gomarket/pkg/ammmath"
)

// ConditionalToken is a claim on collateral for one outcome of a market.
// Tokens are fungible value objects: splittable, and mergeable only with a
// token of the same market, asset type and outcome. Minting and burning go
// through the escrow so that every balance move is backed.
type ConditionalToken struct {
	MarketID  MarketID
	AssetType AssetType
	Outcome   uint64
	Balance   uint64
}

// SameKind reports whether two tokens are fungible with each other.
func (t *ConditionalToken) SameKind(other *ConditionalToken) bool {
	return t.MarketID == other.MarketID &&
		t.AssetType == other.AssetType &&
		t.Outcome == other.Outcome
}

// Split carves amount off t into a new token of the same kind.
func (t *ConditionalToken) Split(amount uint64) (*ConditionalToken, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	rest, err := ammmath.CheckedSub(t.Balance, amount)
	if err != nil {
		return nil, ErrMismatchedAmounts
	}
	t.Balance = rest
	return &ConditionalToken{
		MarketID:  t.MarketID,
		AssetType: t.AssetType,
		Outcome:   t.Outcome,
		Balance:   amount,
	}, nil
}

// Merge folds other into t. The merged-in token is zeroed so a stale
// reference cannot double-spend its balance.
func (t *ConditionalToken) Merge(other *ConditionalToken) error {
	if t.MarketID != other.MarketID {
		return ErrMismatchedMarket
	}
	if t.AssetType != other.AssetType {
		return ErrMismatchedType
	}
	if t.Outcome != other.Outcome {
		return ErrMismatchedOutcome
	}
	sum, err := ammmath.CheckedAdd(t.Balance, other.Balance)
	if err != nil {
		return err
	}
	t.Balance = sum
	other.Balance = 0
	return nil
}

// Supply tracks total minted-minus-burned for one (market, asset type,
// outcome) triple. The escrow owns one per outcome per collateral leg.
type Supply struct {
	MarketID  MarketID
	AssetType AssetType
	Outcome   uint64
	Total     uint64
}

// Mint increases the tracked supply and returns a freshly minted token.
func (s *Supply) Mint(amount uint64) (*ConditionalToken, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	total, err := ammmath.CheckedAdd(s.Total, amount)
	if err != nil {
		return nil, err
	}
	s.Total = total
	return &ConditionalToken{
		MarketID:  s.MarketID,
		AssetType: s.AssetType,
		Outcome:   s.Outcome,
		Balance:   amount,
	}, nil
}

// Burn destroys the token and decreases the tracked supply.
func (s *Supply) Burn(t *ConditionalToken) error {
	if t.MarketID != s.MarketID {
		return ErrMismatchedMarket
	}
	if t.AssetType != s.AssetType {
		return ErrMismatchedType
	}
	if t.Outcome != s.Outcome {
		return ErrMismatchedOutcome
	}
	total, err := ammmath.CheckedSub(s.Total, t.Balance)
	if err != nil {
		return err
	}
	s.Total = total
	t.Balance = 0
	return nil
}
