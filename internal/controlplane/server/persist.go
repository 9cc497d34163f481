package server

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/futarchybot/gomarket/internal/amm"
	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/proposal"
	"github.com/futarchybot/gomarket/pkg/persistence"
)

const storePrefix = "controlplane"

// proposalRecord is the durable definition of one proposal. Live pool
// and escrow balances are runtime state; the journal keeps the event
// history, the record keeps what is needed to stand the proposal up
// again.
type proposalRecord struct {
	MarketID        string   `json:"market_id"`
	Admin           string   `json:"admin"`
	OutcomeMessages []string `json:"outcome_messages"`
	TradingStart    uint64   `json:"trading_start"`
}

// saveProposal writes the definition and refreshes the market index.
// Callers hold mu. A nil store makes this a no-op.
func (s *Server) saveProposal(rec proposalRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.NewStore(storePrefix, rec.MarketID, "definition").Save(rec); err != nil {
		log.WithError(err).WithField("market_id", rec.MarketID).Error("failed to save proposal definition")
		return
	}

	index := make([]string, 0, len(s.proposals))
	for mid := range s.proposals {
		index = append(index, mid)
	}
	if err := s.store.NewStore(storePrefix, "proposals", "index").Save(index); err != nil {
		log.WithError(err).Error("failed to save proposal index")
	}
}

// restoreProposals rebuilds every saved definition. Pools come back at
// their seeded reserves in review status; trading state does not
// survive a restart.
func (s *Server) restoreProposals() error {
	if s.store == nil {
		return nil
	}
	var index []string
	err := s.store.NewStore(storePrefix, "proposals", "index").Load(&index)
	if errors.Is(err, persistence.ErrNotExists) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load proposal index")
	}

	for _, id := range index {
		var rec proposalRecord
		if err := s.store.NewStore(storePrefix, id, "definition").Load(&rec); err != nil {
			log.WithError(err).WithField("market_id", id).Warn("skipping unreadable proposal definition")
			continue
		}
		marketID, err := uuid.Parse(rec.MarketID)
		if err != nil {
			log.WithError(err).WithField("market_id", id).Warn("skipping malformed market id")
			continue
		}
		p, admin, err := proposal.New(s.proposalConfig(marketID, rec.Admin, rec.OutcomeMessages, rec.TradingStart), s.bus)
		if err != nil {
			log.WithError(err).WithField("market_id", id).Warn("skipping unrestorable proposal")
			continue
		}
		s.proposals[id] = &managed{prop: p, admin: admin, vault: make(map[string]*domain.ConditionalToken)}
		log.WithField("market_id", id).Info("restored proposal definition")
	}
	return nil
}

// proposalConfig builds a proposal config from the server's engine
// settings plus the per-proposal fields.
func (s *Server) proposalConfig(marketID domain.MarketID, admin string, messages []string, tradingStart uint64) proposal.Config {
	return proposal.Config{
		Admin:           admin,
		OutcomeMessages: messages,
		MarketID:        marketID,
		InitialAsset:    s.engine.InitialAsset,
		InitialStable:   s.engine.InitialStable,
		TradingStart:    tradingStart,
		Pool: amm.Config{
			FeeBps:       s.engine.FeeBps,
			MaxImpactBps: s.engine.MaxImpactBps,
			MinLiquidity: s.engine.MinLiquidity,
			BasisPoints:  s.engine.BasisPoints,
		},
		TwapStartDelay: s.engine.TwapStartDelay,
		TwapStepMax:    s.engine.TwapStepMax,
		TwapInitPrice:  s.engine.TwapInitPrice,
		TickSeconds:    s.engine.TickSeconds,
	}
}
