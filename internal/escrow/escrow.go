// Package escrow is the collateral ledger of one proposal. It holds the main
// asset/stable balances, partitions them across per-outcome sub-balances,
// and mints/burns conditional tokens against those moves, so that
//
//	mainBalance + Σ subBalances == totalDeposited − totalWithdrawn
//
// holds for each collateral leg at every point in time. All mutators are
// gated by a TokenManagerCap bound to this market.
package escrow

import (
	"errors"

	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/marketstate"
	"github.com/futarchybot/gomarket/pkg/ammmath"
)

var (
	ErrUnauthorized          = errors.New("escrow: capability not bound to this market")
	ErrOutOfSequence         = errors.New("escrow: supplies must be registered in index order")
	ErrSuppliesNotRegistered = errors.New("escrow: supplies not fully registered")
	ErrInsufficientBalance   = errors.New("escrow: insufficient escrow balance")
	ErrIncompleteSet         = errors.New("escrow: complete set requires one token per outcome")
	ErrWrongOutcome          = errors.New("escrow: token outcome is not the winner")
	ErrInvalidSupply         = errors.New("escrow: supply does not match this escrow slot")
)

// TokenEscrow is the ledger record. Not safe for concurrent use; the host
// transaction order serializes all calls.
type TokenEscrow struct {
	marketID domain.MarketID
	state    *marketstate.MarketState

	assetBalance  uint64
	stableBalance uint64

	outcomeAssetBalances  []uint64
	outcomeStableBalances []uint64

	assetSupplies  []*domain.Supply
	stableSupplies []*domain.Supply
	registered     uint64

	totalAssetDeposited  uint64
	totalAssetWithdrawn  uint64
	totalStableDeposited uint64
	totalStableWithdrawn uint64
}

// New creates the escrow for a market. One per proposal.
func New(state *marketstate.MarketState) *TokenEscrow {
	n := state.OutcomeCount()
	return &TokenEscrow{
		marketID:              state.MarketID(),
		state:                 state,
		outcomeAssetBalances:  make([]uint64, n),
		outcomeStableBalances: make([]uint64, n),
		assetSupplies:         make([]*domain.Supply, n),
		stableSupplies:        make([]*domain.Supply, n),
	}
}

func (e *TokenEscrow) checkCap(cap domain.TokenManagerCap) error {
	if !cap.BoundTo(e.marketID) {
		return ErrUnauthorized
	}
	return nil
}

// MarketID returns the owning market's identifier.
func (e *TokenEscrow) MarketID() domain.MarketID { return e.marketID }

// OutcomeCount returns the number of outcomes this escrow partitions over.
func (e *TokenEscrow) OutcomeCount() uint64 { return e.state.OutcomeCount() }

// AssetBalance returns the main asset-collateral balance.
func (e *TokenEscrow) AssetBalance() uint64 { return e.assetBalance }

// StableBalance returns the main stable-collateral balance.
func (e *TokenEscrow) StableBalance() uint64 { return e.stableBalance }

// OutcomeAssetBalance returns one outcome's asset sub-balance.
func (e *TokenEscrow) OutcomeAssetBalance(outcome uint64) (uint64, error) {
	if outcome >= uint64(len(e.outcomeAssetBalances)) {
		return 0, domain.ErrOutcomeOutOfRange
	}
	return e.outcomeAssetBalances[outcome], nil
}

// OutcomeStableBalance returns one outcome's stable sub-balance.
func (e *TokenEscrow) OutcomeStableBalance(outcome uint64) (uint64, error) {
	if outcome >= uint64(len(e.outcomeStableBalances)) {
		return 0, domain.ErrOutcomeOutOfRange
	}
	return e.outcomeStableBalances[outcome], nil
}

// SupplyTotal returns minted-minus-burned for one (asset type, outcome).
func (e *TokenEscrow) SupplyTotal(assetType domain.AssetType, outcome uint64) (uint64, error) {
	if outcome >= e.registered {
		return 0, domain.ErrOutcomeOutOfRange
	}
	if assetType == domain.AssetTypeAsset {
		return e.assetSupplies[outcome].Total, nil
	}
	return e.stableSupplies[outcome].Total, nil
}

// TotalAssetDeposited returns lifetime asset deposits.
func (e *TokenEscrow) TotalAssetDeposited() uint64 { return e.totalAssetDeposited }

// TotalAssetWithdrawn returns lifetime asset withdrawals.
func (e *TokenEscrow) TotalAssetWithdrawn() uint64 { return e.totalAssetWithdrawn }

// TotalStableDeposited returns lifetime stable deposits.
func (e *TokenEscrow) TotalStableDeposited() uint64 { return e.totalStableDeposited }

// TotalStableWithdrawn returns lifetime stable withdrawals.
func (e *TokenEscrow) TotalStableWithdrawn() uint64 { return e.totalStableWithdrawn }

// RegisterSupplies installs the supply trackers for one outcome. Must be
// called once per outcome, strictly in increasing index order starting at
// zero, so later code can address supplies by position.
func (e *TokenEscrow) RegisterSupplies(cap domain.TokenManagerCap, outcome uint64, assetSupply, stableSupply *domain.Supply) error {
	if err := e.checkCap(cap); err != nil {
		return err
	}
	if outcome >= e.state.OutcomeCount() {
		return domain.ErrOutcomeOutOfRange
	}
	if outcome != e.registered {
		return ErrOutOfSequence
	}
	if !supplyMatches(assetSupply, e.marketID, domain.AssetTypeAsset, outcome) ||
		!supplyMatches(stableSupply, e.marketID, domain.AssetTypeStable, outcome) {
		return ErrInvalidSupply
	}
	e.assetSupplies[outcome] = assetSupply
	e.stableSupplies[outcome] = stableSupply
	e.registered++
	return nil
}

func supplyMatches(s *domain.Supply, id domain.MarketID, at domain.AssetType, outcome uint64) bool {
	return s != nil && s.MarketID == id && s.AssetType == at && s.Outcome == outcome && s.Total == 0
}

// AllSuppliesRegistered reports whether every outcome has its supplies.
func (e *TokenEscrow) AllSuppliesRegistered() bool {
	return e.registered == e.state.OutcomeCount()
}

func (e *TokenEscrow) requireRegistered() error {
	if !e.AllSuppliesRegistered() {
		return ErrSuppliesNotRegistered
	}
	return nil
}

// DepositAsset credits asset collateral to the main balance.
func (e *TokenEscrow) DepositAsset(cap domain.TokenManagerCap, amount uint64) error {
	if err := e.checkCap(cap); err != nil {
		return err
	}
	return e.deposit(&e.assetBalance, &e.totalAssetDeposited, amount)
}

// DepositStable credits stable collateral to the main balance.
func (e *TokenEscrow) DepositStable(cap domain.TokenManagerCap, amount uint64) error {
	if err := e.checkCap(cap); err != nil {
		return err
	}
	return e.deposit(&e.stableBalance, &e.totalStableDeposited, amount)
}

func (e *TokenEscrow) deposit(balance, total *uint64, amount uint64) error {
	if amount == 0 {
		return domain.ErrZeroAmount
	}
	newBalance, err := ammmath.CheckedAdd(*balance, amount)
	if err != nil {
		return err
	}
	newTotal, err := ammmath.CheckedAdd(*total, amount)
	if err != nil {
		return err
	}
	*balance = newBalance
	*total = newTotal
	return nil
}

// mintCompleteSet moves amount from the main balance into every outcome's
// sub-balance and mints one token per outcome. Validation runs fully before
// the first mutation so a failure leaves no partial state.
func (e *TokenEscrow) mintCompleteSet(now, amount uint64, balance *uint64, subBalances []uint64, supplies []*domain.Supply) ([]*domain.ConditionalToken, error) {
	if amount == 0 {
		return nil, domain.ErrZeroAmount
	}
	if err := e.requireRegistered(); err != nil {
		return nil, err
	}
	if err := e.state.AssertTradingActive(now); err != nil {
		return nil, err
	}
	n := e.state.OutcomeCount()
	needed, err := ammmath.CheckedMul(n, amount)
	if err != nil {
		return nil, err
	}
	if *balance < needed {
		return nil, ErrInsufficientBalance
	}
	for i := uint64(0); i < n; i++ {
		if _, err := ammmath.CheckedAdd(subBalances[i], amount); err != nil {
			return nil, err
		}
		if _, err := ammmath.CheckedAdd(supplies[i].Total, amount); err != nil {
			return nil, err
		}
	}

	*balance -= needed
	tokens := make([]*domain.ConditionalToken, n)
	for i := uint64(0); i < n; i++ {
		subBalances[i] += amount
		tok, err := supplies[i].Mint(amount)
		if err != nil {
			// Pre-validated above; a failure here would be a programming
			// error, surface it rather than continue half-minted.
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

// MintCompleteSetAsset deposits amount of asset collateral and mints a
// complete set (one asset-type conditional token per outcome, each of
// amount). The deposit is credited to the main balance first; the per-
// outcome backing is then carved out of the main balance, so the pot must
// already hold enough to back the remaining outcomes.
func (e *TokenEscrow) MintCompleteSetAsset(cap domain.TokenManagerCap, now, amount uint64) ([]*domain.ConditionalToken, error) {
	if err := e.checkCap(cap); err != nil {
		return nil, err
	}
	if err := e.deposit(&e.assetBalance, &e.totalAssetDeposited, amount); err != nil {
		return nil, err
	}
	tokens, err := e.mintCompleteSet(now, amount, &e.assetBalance, e.outcomeAssetBalances, e.assetSupplies)
	if err != nil {
		// Unwind the deposit credit: the call must be all-or-nothing.
		e.assetBalance -= amount
		e.totalAssetDeposited -= amount
		return nil, err
	}
	return tokens, nil
}

// MintCompleteSetStable is MintCompleteSetAsset for the stable leg.
func (e *TokenEscrow) MintCompleteSetStable(cap domain.TokenManagerCap, now, amount uint64) ([]*domain.ConditionalToken, error) {
	if err := e.checkCap(cap); err != nil {
		return nil, err
	}
	if err := e.deposit(&e.stableBalance, &e.totalStableDeposited, amount); err != nil {
		return nil, err
	}
	tokens, err := e.mintCompleteSet(now, amount, &e.stableBalance, e.outcomeStableBalances, e.stableSupplies)
	if err != nil {
		e.stableBalance -= amount
		e.totalStableDeposited -= amount
		return nil, err
	}
	return tokens, nil
}

func (e *TokenEscrow) checkToken(t *domain.ConditionalToken, at domain.AssetType, outcome uint64) error {
	if t == nil || t.Balance == 0 {
		return domain.ErrZeroAmount
	}
	if t.MarketID != e.marketID {
		return domain.ErrMismatchedMarket
	}
	if t.AssetType != at {
		return domain.ErrMismatchedType
	}
	if t.Outcome != outcome {
		return domain.ErrMismatchedOutcome
	}
	return nil
}

// SwapAssetToStable burns the caller's asset conditional token for one
// outcome (its backing returns from the sub-balance to the main pool) and
// mints amountOut of the stable conditional token for the same outcome out
// of the main stable pool. amountOut is computed by the AMM; the escrow only
// realizes the implied balance moves.
func (e *TokenEscrow) SwapAssetToStable(cap domain.TokenManagerCap, now uint64, outcome uint64, tokenIn *domain.ConditionalToken, amountOut uint64) (*domain.ConditionalToken, error) {
	if err := e.checkCap(cap); err != nil {
		return nil, err
	}
	return e.swapTokens(now, outcome, tokenIn, amountOut,
		domain.AssetTypeAsset, e.outcomeAssetBalances, &e.assetBalance, e.assetSupplies,
		e.outcomeStableBalances, &e.stableBalance, e.stableSupplies)
}

// SwapStableToAsset is the mirrored direction.
func (e *TokenEscrow) SwapStableToAsset(cap domain.TokenManagerCap, now uint64, outcome uint64, tokenIn *domain.ConditionalToken, amountOut uint64) (*domain.ConditionalToken, error) {
	if err := e.checkCap(cap); err != nil {
		return nil, err
	}
	return e.swapTokens(now, outcome, tokenIn, amountOut,
		domain.AssetTypeStable, e.outcomeStableBalances, &e.stableBalance, e.stableSupplies,
		e.outcomeAssetBalances, &e.assetBalance, e.assetSupplies)
}

func (e *TokenEscrow) swapTokens(now, outcome uint64, tokenIn *domain.ConditionalToken, amountOut uint64,
	inType domain.AssetType, inSubs []uint64, inMain *uint64, inSupplies []*domain.Supply,
	outSubs []uint64, outMain *uint64, outSupplies []*domain.Supply) (*domain.ConditionalToken, error) {

	if err := e.requireRegistered(); err != nil {
		return nil, err
	}
	if outcome >= e.state.OutcomeCount() {
		return nil, domain.ErrOutcomeOutOfRange
	}
	if err := e.state.AssertTradingActive(now); err != nil {
		return nil, err
	}
	if err := e.checkToken(tokenIn, inType, outcome); err != nil {
		return nil, err
	}
	if amountOut == 0 {
		return nil, domain.ErrZeroAmount
	}
	amountIn := tokenIn.Balance
	if inSubs[outcome] < amountIn {
		return nil, ErrInsufficientBalance
	}
	if *outMain < amountOut {
		return nil, ErrInsufficientBalance
	}
	if _, err := ammmath.CheckedAdd(*inMain, amountIn); err != nil {
		return nil, err
	}
	if _, err := ammmath.CheckedAdd(outSubs[outcome], amountOut); err != nil {
		return nil, err
	}
	if _, err := ammmath.CheckedAdd(outSupplies[outcome].Total, amountOut); err != nil {
		return nil, err
	}

	if err := inSupplies[outcome].Burn(tokenIn); err != nil {
		return nil, err
	}
	inSubs[outcome] -= amountIn
	*inMain += amountIn

	*outMain -= amountOut
	outSubs[outcome] += amountOut
	return outSupplies[outcome].Mint(amountOut)
}

// redeemCompleteSet validates and burns one token per outcome, all of equal
// amount, pulling each backing to the main balance and withdrawing the
// per-token amount.
func (e *TokenEscrow) redeemCompleteSet(tokens []*domain.ConditionalToken, at domain.AssetType, subBalances []uint64, balance, withdrawn *uint64, supplies []*domain.Supply) (uint64, error) {
	if e.state.Finalized() {
		return 0, marketstate.ErrAlreadyFinalized
	}
	if err := e.requireRegistered(); err != nil {
		return 0, err
	}
	n := e.state.OutcomeCount()
	if uint64(len(tokens)) != n {
		return 0, ErrIncompleteSet
	}
	amount := uint64(0)
	for i := uint64(0); i < n; i++ {
		if err := e.checkToken(tokens[i], at, i); err != nil {
			return 0, err
		}
		if i == 0 {
			amount = tokens[i].Balance
		} else if tokens[i].Balance != amount {
			return 0, domain.ErrMismatchedAmounts
		}
		if subBalances[i] < amount {
			return 0, ErrInsufficientBalance
		}
		// Checked here so the burn loop below cannot fail after it has
		// started zeroing caller tokens.
		if supplies[i].Total < amount {
			return 0, ErrInsufficientBalance
		}
	}
	// All moves net to +(n-1)*amount on the main balance; only the withdraw
	// total can overflow.
	if _, err := ammmath.CheckedAdd(*withdrawn, amount); err != nil {
		return 0, err
	}

	for i := uint64(0); i < n; i++ {
		if err := supplies[i].Burn(tokens[i]); err != nil {
			return 0, err
		}
		subBalances[i] -= amount
		*balance += amount
	}
	*balance -= amount
	*withdrawn += amount
	return amount, nil
}

// RedeemCompleteSetAsset redeems a pre-finalization complete set of asset
// conditional tokens for unconditional asset collateral.
func (e *TokenEscrow) RedeemCompleteSetAsset(cap domain.TokenManagerCap, tokens []*domain.ConditionalToken) (uint64, error) {
	if err := e.checkCap(cap); err != nil {
		return 0, err
	}
	return e.redeemCompleteSet(tokens, domain.AssetTypeAsset, e.outcomeAssetBalances, &e.assetBalance, &e.totalAssetWithdrawn, e.assetSupplies)
}

// RedeemCompleteSetStable is RedeemCompleteSetAsset for the stable leg.
func (e *TokenEscrow) RedeemCompleteSetStable(cap domain.TokenManagerCap, tokens []*domain.ConditionalToken) (uint64, error) {
	if err := e.checkCap(cap); err != nil {
		return 0, err
	}
	return e.redeemCompleteSet(tokens, domain.AssetTypeStable, e.outcomeStableBalances, &e.stableBalance, &e.totalStableWithdrawn, e.stableSupplies)
}

func (e *TokenEscrow) redeemWinning(token *domain.ConditionalToken, at domain.AssetType, subBalances []uint64, withdrawn *uint64, supplies []*domain.Supply) (uint64, error) {
	winner, err := e.state.WinningOutcome()
	if err != nil {
		return 0, err
	}
	if token == nil || token.Balance == 0 {
		return 0, domain.ErrZeroAmount
	}
	if token.MarketID != e.marketID {
		return 0, domain.ErrMismatchedMarket
	}
	if token.AssetType != at {
		return 0, domain.ErrMismatchedType
	}
	if token.Outcome != winner {
		return 0, ErrWrongOutcome
	}
	amount := token.Balance
	if subBalances[winner] < amount {
		return 0, ErrInsufficientBalance
	}
	if _, err := ammmath.CheckedAdd(*withdrawn, amount); err != nil {
		return 0, err
	}

	if err := supplies[winner].Burn(token); err != nil {
		return 0, err
	}
	// The backing moves sub -> main -> withdrawal; the main balance nets to
	// zero, so only the sub-balance and the withdraw total change.
	subBalances[winner] -= amount
	*withdrawn += amount
	return amount, nil
}

// RedeemWinningAsset redeems a winning-outcome asset token for collateral,
// only after finalization.
func (e *TokenEscrow) RedeemWinningAsset(cap domain.TokenManagerCap, token *domain.ConditionalToken) (uint64, error) {
	if err := e.checkCap(cap); err != nil {
		return 0, err
	}
	return e.redeemWinning(token, domain.AssetTypeAsset, e.outcomeAssetBalances, &e.totalAssetWithdrawn, e.assetSupplies)
}

// RedeemWinningStable redeems a winning-outcome stable token for collateral.
func (e *TokenEscrow) RedeemWinningStable(cap domain.TokenManagerCap, token *domain.ConditionalToken) (uint64, error) {
	if err := e.checkCap(cap); err != nil {
		return 0, err
	}
	return e.redeemWinning(token, domain.AssetTypeStable, e.outcomeStableBalances, &e.totalStableWithdrawn, e.stableSupplies)
}

// Snapshot captures the escrow's mutable state for rollback.
type Snapshot struct {
	assetBalance  uint64
	stableBalance uint64

	outcomeAssetBalances  []uint64
	outcomeStableBalances []uint64

	assetSupplyTotals  []uint64
	stableSupplyTotals []uint64
	registered         uint64

	totalAssetDeposited  uint64
	totalAssetWithdrawn  uint64
	totalStableDeposited uint64
	totalStableWithdrawn uint64
}

// Snapshot returns a deep copy of the balances and supply totals.
func (e *TokenEscrow) Snapshot() Snapshot {
	s := Snapshot{
		assetBalance:          e.assetBalance,
		stableBalance:         e.stableBalance,
		outcomeAssetBalances:  append([]uint64(nil), e.outcomeAssetBalances...),
		outcomeStableBalances: append([]uint64(nil), e.outcomeStableBalances...),
		registered:            e.registered,
		totalAssetDeposited:   e.totalAssetDeposited,
		totalAssetWithdrawn:   e.totalAssetWithdrawn,
		totalStableDeposited:  e.totalStableDeposited,
		totalStableWithdrawn:  e.totalStableWithdrawn,
	}
	for i := uint64(0); i < e.registered; i++ {
		s.assetSupplyTotals = append(s.assetSupplyTotals, e.assetSupplies[i].Total)
		s.stableSupplyTotals = append(s.stableSupplyTotals, e.stableSupplies[i].Total)
	}
	return s
}

// Restore resets the escrow to a previously taken snapshot.
func (e *TokenEscrow) Restore(s Snapshot) {
	e.assetBalance = s.assetBalance
	e.stableBalance = s.stableBalance
	copy(e.outcomeAssetBalances, s.outcomeAssetBalances)
	copy(e.outcomeStableBalances, s.outcomeStableBalances)
	e.totalAssetDeposited = s.totalAssetDeposited
	e.totalAssetWithdrawn = s.totalAssetWithdrawn
	e.totalStableDeposited = s.totalStableDeposited
	e.totalStableWithdrawn = s.totalStableWithdrawn
	for i := uint64(0); i < s.registered; i++ {
		e.assetSupplies[i].Total = s.assetSupplyTotals[i]
		e.stableSupplies[i].Total = s.stableSupplyTotals[i]
	}
}
