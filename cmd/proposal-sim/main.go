// proposal-sim runs one scripted proposal lifecycle end to end and prints
// the trade tape: it mints complete sets, trades the outcome pools with a
// random walk, closes the market, and settles winning tokens.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/futarchybot/gomarket/internal/amm"
	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/proposal"
	"github.com/futarchybot/gomarket/pkg/config"
	"github.com/futarchybot/gomarket/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	var (
		steps = flag.Int("steps", 30, "number of one-minute trading steps")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	if err := logger.Init(logger.Config{Level: "warn"}); err != nil {
		log.Fatalf("init logger: %v", err)
	}

	engine := config.Default().Engine
	start := uint64(time.Now().Unix())

	bus := events.NewBus()
	bus.OnEvent(printEvent(engine.BasisPoints))

	p, admin, err := proposal.New(proposal.Config{
		Admin:           "sim",
		OutcomeMessages: []string{"reject", "accept"},
		InitialAsset:    engine.InitialAsset,
		InitialStable:   engine.InitialStable,
		TradingStart:    start,
		Pool: amm.Config{
			FeeBps:       engine.FeeBps,
			MaxImpactBps: engine.MaxImpactBps,
			MinLiquidity: engine.MinLiquidity,
			BasisPoints:  engine.BasisPoints,
		},
		TwapStartDelay: engine.TwapStartDelay,
		TwapStepMax:    engine.TwapStepMax,
		TwapInitPrice:  engine.TwapInitPrice,
		TickSeconds:    engine.TickSeconds,
	}, bus)
	if err != nil {
		log.Fatalf("create proposal: %v", err)
	}

	duration := uint64(*steps+1) * engine.TickSeconds
	if err := p.StartTrading(admin, start, duration); err != nil {
		log.Fatalf("start trading: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	now := start
	var winners []*domain.ConditionalToken

	for step := 0; step < *steps; step++ {
		now += engine.TickSeconds
		outcome := uint64(rng.Intn(int(p.OutcomeCount())))
		amount := uint64(1_000_000 + rng.Intn(20_000_000))

		// Buy pressure mints stable sets and buys the outcome's asset
		// token; sell pressure does the reverse.
		if rng.Intn(2) == 0 {
			tokens, err := p.MintCompleteSetStable(now, amount)
			if err != nil {
				log.Fatalf("mint stable set: %v", err)
			}
			out, err := p.Swap(now, outcome, tokens[outcome], 1)
			if err != nil {
				fmt.Printf("  swap rejected: %v\n", err)
				continue
			}
			winners = append(winners, out)
		} else {
			tokens, err := p.MintCompleteSetAsset(now, amount)
			if err != nil {
				log.Fatalf("mint asset set: %v", err)
			}
			if _, err := p.Swap(now, outcome, tokens[outcome], 1); err != nil {
				fmt.Printf("  swap rejected: %v\n", err)
			}
		}
	}

	now = start + duration
	if err := p.EndTrading(admin, now); err != nil {
		log.Fatalf("end trading: %v", err)
	}
	if err := p.Finalize(admin, now+1); err != nil {
		log.Fatalf("finalize: %v", err)
	}

	winner, err := p.State().WinningOutcome()
	if err != nil {
		log.Fatalf("winning outcome: %v", err)
	}
	msg, _ := p.State().OutcomeMessage(winner)
	fmt.Printf("\nwinner: outcome %d (%s)\n", winner, msg)
	for i := uint64(0); i < p.OutcomeCount(); i++ {
		twap, err := p.TWAP(i, now+1)
		if err != nil {
			continue
		}
		fmt.Printf("  twap[%d] = %s\n", i, formatScaled(twap/engine.BasisPoints, engine.BasisPoints))
	}

	redeemed := uint64(0)
	for _, tok := range winners {
		if tok.Outcome != winner || tok.Balance == 0 {
			continue
		}
		amount, err := p.RedeemWinningAsset(now+2, tok)
		if err != nil {
			continue
		}
		redeemed += amount
	}
	fmt.Printf("redeemed %d asset collateral for winning tokens\n", redeemed)
}

// printEvent renders the tape line for each engine event.
func printEvent(bps uint64) events.Handler {
	return func(event any) {
		switch e := event.(type) {
		case events.SwapExecutedEvent:
			fmt.Printf("[%d] swap outcome=%d %s in=%d out=%d fee=%d price=%s\n",
				e.Timestamp, e.Outcome, e.Direction, e.AmountIn, e.AmountOut, e.FeeAmount,
				formatScaled(e.NewPrice, bps))
		case events.TradingStartedEvent:
			fmt.Printf("[%d] trading started, ends at %d\n", e.StartTime, e.TradingEnd)
		case events.TradingEndedEvent:
			fmt.Printf("[%d] trading ended, closing price %s\n", e.Timestamp, formatScaled(e.FinalPrice, bps))
		case events.MarketFinalizedEvent:
			fmt.Printf("[%d] finalized, winner outcome %d\n", e.Timestamp, e.WinningOutcome)
		}
	}
}

func formatScaled(v, bps uint64) string {
	return decimal.New(int64(v), 0).Div(decimal.New(int64(bps), 0)).String()
}
