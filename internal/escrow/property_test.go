package escrow

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/futarchybot/gomarket/internal/domain"
)

// conservationHolds checks the escrow ledger identity on both legs:
// main balance plus all sub-balances equals deposits minus withdrawals.
func conservationHolds(e *TokenEscrow) bool {
	sumAsset := e.AssetBalance()
	sumStable := e.StableBalance()
	for i := uint64(0); i < e.OutcomeCount(); i++ {
		a, err := e.OutcomeAssetBalance(i)
		if err != nil {
			return false
		}
		s, err := e.OutcomeStableBalance(i)
		if err != nil {
			return false
		}
		sumAsset += a
		sumStable += s
	}
	return sumAsset == e.TotalAssetDeposited()-e.TotalAssetWithdrawn() &&
		sumStable == e.TotalStableDeposited()-e.TotalStableWithdrawn()
}

// suppliesMatchLiveTokens checks that every supply total and sub-balance
// equals the sum of circulating token balances for that slot.
func suppliesMatchLiveTokens(e *TokenEscrow, asset, stable [][]*domain.ConditionalToken) bool {
	for i := uint64(0); i < e.OutcomeCount(); i++ {
		var liveAsset, liveStable uint64
		for _, tok := range asset[i] {
			liveAsset += tok.Balance
		}
		for _, tok := range stable[i] {
			liveStable += tok.Balance
		}
		aTotal, err := e.SupplyTotal(domain.AssetTypeAsset, i)
		if err != nil {
			return false
		}
		sTotal, err := e.SupplyTotal(domain.AssetTypeStable, i)
		if err != nil {
			return false
		}
		aSub, err := e.OutcomeAssetBalance(i)
		if err != nil {
			return false
		}
		sSub, err := e.OutcomeStableBalance(i)
		if err != nil {
			return false
		}
		if aTotal != liveAsset || sTotal != liveStable || aSub != liveAsset || sSub != liveStable {
			return false
		}
	}
	return true
}

// Conservation and supply consistency hold after any sequence of mints,
// token swaps, and complete-set redemptions.
func TestPropertyLedgerConservation(t *testing.T) {
	property := func(ops []uint16) bool {
		f := newFixture(t, 2)
		e := f.escrow
		if err := e.DepositAsset(f.mgr, 1_000_000); err != nil {
			return false
		}
		if err := e.DepositStable(f.mgr, 1_000_000); err != nil {
			return false
		}

		// Circulating tokens per outcome, per leg.
		liveAsset := make([][]*domain.ConditionalToken, 2)
		liveStable := make([][]*domain.ConditionalToken, 2)
		at := now + 1

		for _, op := range ops {
			amount := uint64(op%997) + 1
			outcome := uint64(op) % 2
			switch op % 5 {
			case 0:
				tokens, err := e.MintCompleteSetAsset(f.mgr, at, amount)
				if err == nil {
					for i, tok := range tokens {
						liveAsset[i] = append(liveAsset[i], tok)
					}
				}
			case 1:
				tokens, err := e.MintCompleteSetStable(f.mgr, at, amount)
				if err == nil {
					for i, tok := range tokens {
						liveStable[i] = append(liveStable[i], tok)
					}
				}
			case 2:
				if len(liveAsset[outcome]) > 0 {
					tok := liveAsset[outcome][len(liveAsset[outcome])-1]
					want := tok.Balance / 2
					if want == 0 {
						want = 1
					}
					out, err := e.SwapAssetToStable(f.mgr, at, outcome, tok, want)
					if err == nil {
						liveAsset[outcome] = liveAsset[outcome][:len(liveAsset[outcome])-1]
						liveStable[outcome] = append(liveStable[outcome], out)
					}
				}
			case 3:
				if len(liveStable[outcome]) > 0 {
					tok := liveStable[outcome][len(liveStable[outcome])-1]
					want := tok.Balance / 2
					if want == 0 {
						want = 1
					}
					out, err := e.SwapStableToAsset(f.mgr, at, outcome, tok, want)
					if err == nil {
						liveStable[outcome] = liveStable[outcome][:len(liveStable[outcome])-1]
						liveAsset[outcome] = append(liveAsset[outcome], out)
					}
				}
			case 4:
				// Redeem the most recent pair if it has matching amounts.
				if len(liveAsset[0]) > 0 && len(liveAsset[1]) > 0 {
					t0 := liveAsset[0][len(liveAsset[0])-1]
					t1 := liveAsset[1][len(liveAsset[1])-1]
					if t0.Balance == t1.Balance {
						if _, err := e.RedeemCompleteSetAsset(f.mgr, []*domain.ConditionalToken{t0, t1}); err == nil {
							liveAsset[0] = liveAsset[0][:len(liveAsset[0])-1]
							liveAsset[1] = liveAsset[1][:len(liveAsset[1])-1]
						}
					}
				}
			}
			at++

			if !conservationHolds(e) {
				t.Logf("conservation violated after op %d", op)
				return false
			}
			if !suppliesMatchLiveTokens(e, liveAsset, liveStable) {
				t.Logf("supply totals diverged from circulating tokens after op %d", op)
				return false
			}
		}
		return true
	}

	config := &quick.Config{
		MaxCount: 50,
		Rand:     rand.New(rand.NewSource(42)),
	}
	if err := quick.Check(property, config); err != nil {
		t.Error(err)
	}
}
