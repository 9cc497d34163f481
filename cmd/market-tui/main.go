// market-tui is a live dashboard over a simulated proposal: it drives a
// random-walk trader in the background and renders outcome pools, prices,
// TWAPs, and the event tape.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/futarchybot/gomarket/internal/amm"
	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/marketstate"
	"github.com/futarchybot/gomarket/internal/proposal"
	"github.com/futarchybot/gomarket/pkg/config"
	"github.com/futarchybot/gomarket/pkg/logger"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2"))

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

const tapeSize = 12

type tickMsg time.Time

type model struct {
	prop   *proposal.Proposal
	admin  domain.AdminCap
	engine config.EngineConfig

	start    uint64
	duration uint64
	now      uint64
	rng      *rand.Rand

	tape []string
	err  error
}

func initialModel(steps int) model {
	engine := config.Default().Engine
	start := uint64(time.Now().Unix())

	m := model{
		engine:   engine,
		start:    start,
		now:      start,
		duration: uint64(steps+1) * engine.TickSeconds,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	bus := events.NewBus()
	p, admin, err := proposal.New(proposal.Config{
		Admin:           "tui",
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
		m.err = err
		return m
	}
	m.prop = p
	m.admin = admin
	if err := p.StartTrading(admin, start, m.duration); err != nil {
		m.err = err
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		if m.err == nil {
			m.step()
		}
		return m, tickCmd()
	}
	return m, nil
}

// step advances simulated time one tick and either trades or, past the
// deadline, closes and finalizes the market.
func (m *model) step() {
	if m.prop.Status() == marketstate.StatusFinalized {
		return
	}
	m.now += m.engine.TickSeconds

	if m.now >= m.start+m.duration {
		if m.prop.Status() == marketstate.StatusTrading {
			if err := m.prop.EndTrading(m.admin, m.now); err != nil {
				m.pushTape(fmt.Sprintf("end trading: %v", err))
				return
			}
			m.pushTape("trading ended")
		}
		if err := m.prop.Finalize(m.admin, m.now+1); err != nil {
			m.pushTape(fmt.Sprintf("finalize: %v", err))
			return
		}
		winner, _ := m.prop.State().WinningOutcome()
		msg, _ := m.prop.State().OutcomeMessage(winner)
		m.pushTape(fmt.Sprintf("finalized, winner outcome %d (%s)", winner, msg))
		return
	}

	outcome := uint64(m.rng.Intn(int(m.prop.OutcomeCount())))
	amount := uint64(1_000_000 + m.rng.Intn(20_000_000))
	buy := m.rng.Intn(2) == 0

	var (
		tokens []*domain.ConditionalToken
		err    error
	)
	if buy {
		tokens, err = m.prop.MintCompleteSetStable(m.now, amount)
	} else {
		tokens, err = m.prop.MintCompleteSetAsset(m.now, amount)
	}
	if err != nil {
		m.pushTape(fmt.Sprintf("mint: %v", err))
		return
	}
	out, err := m.prop.Swap(m.now, outcome, tokens[outcome], 1)
	if err != nil {
		m.pushTape(fmt.Sprintf("swap outcome=%d rejected: %v", outcome, err))
		return
	}
	verb := downStyle.Render("sell")
	if buy {
		verb = upStyle.Render("buy")
	}
	m.pushTape(fmt.Sprintf("%s outcome=%d in=%d out=%d", verb, outcome, amount, out.Balance))
}

func (m *model) pushTape(line string) {
	m.tape = append(m.tape, fmt.Sprintf("[%d] %s", m.now, line))
	if len(m.tape) > tapeSize {
		m.tape = m.tape[len(m.tape)-tapeSize:]
	}
}

func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error: %v\n", m.err)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("futarchy market %s — %s", m.prop.MarketID(), m.prop.Status())))
	b.WriteString("\n\n")

	panels := make([]string, 0, m.prop.OutcomeCount())
	for i := uint64(0); i < m.prop.OutcomeCount(); i++ {
		pool, err := m.prop.Pool(i)
		if err != nil {
			continue
		}
		msg, _ := m.prop.State().OutcomeMessage(i)
		price := "-"
		if v, err := pool.CurrentPrice(); err == nil {
			price = formatScaled(v, m.engine.BasisPoints)
		}
		twap := "-"
		if v, err := pool.Oracle().TWAP(m.now); err == nil {
			twap = formatScaled(v/m.engine.BasisPoints, m.engine.BasisPoints)
		}
		panel := fmt.Sprintf("outcome %d: %s\nprice %s  twap %s\nasset %d\nstable %d",
			i, msg, price, twap, pool.AssetReserve(), pool.StableReserve())
		panels = append(panels, borderStyle.Render(panel))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n\n")

	for _, line := range m.tape {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("\nq to quit"))
	b.WriteString("\n")
	return b.String()
}

func formatScaled(v, bps uint64) string {
	return decimal.New(int64(v), 0).Div(decimal.New(int64(bps), 0)).String()
}

func main() {
	_ = godotenv.Load()

	var steps = flag.Int("steps", 60, "trading steps before the market closes")
	flag.Parse()

	// Keep engine logging out of the alternate screen.
	if err := logger.Init(logger.Config{Level: "error"}); err != nil {
		log.Fatalf("init logger: %v", err)
	}

	p := tea.NewProgram(initialModel(*steps), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("tui error: %v", err)
	}
}
