package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/proposal"
)

func nowUnix() uint64 { return uint64(time.Now().Unix()) }

func (s *Server) handleProposalCreate(c *gin.Context) {
	var req createProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tradingStart := req.TradingStart
	if tradingStart == 0 {
		tradingStart = nowUnix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.proposalConfig(domain.MarketID{}, req.Admin, req.OutcomeMessages, tradingStart)
	p, admin, err := proposal.New(cfg, s.bus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := &managed{prop: p, admin: admin, vault: make(map[string]*domain.ConditionalToken)}
	s.proposals[p.MarketID().String()] = m
	s.saveProposal(proposalRecord{
		MarketID:        p.MarketID().String(),
		Admin:           req.Admin,
		OutcomeMessages: req.OutcomeMessages,
		TradingStart:    tradingStart,
	})

	log.WithField("market_id", p.MarketID()).Info("proposal created via api")
	c.JSON(http.StatusCreated, s.viewOf(m))
}

func (s *Server) handleProposalsList(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]proposalView, 0, len(s.proposals))
	for _, m := range s.proposals {
		out = append(out, s.viewOf(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleProposalGet(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.viewOf(m))
}

// viewOf renders a proposal with decimal prices. Callers hold mu.
func (s *Server) viewOf(m *managed) proposalView {
	p := m.prop
	view := proposalView{
		MarketID:     p.MarketID().String(),
		Status:       p.Status().String(),
		OutcomeCount: p.OutcomeCount(),
	}
	if winner, err := p.State().WinningOutcome(); err == nil {
		view.WinningOutcome = &winner
	}
	now := nowUnix()
	for i := uint64(0); i < p.OutcomeCount(); i++ {
		pool, err := p.Pool(i)
		if err != nil {
			continue
		}
		msg, _ := p.State().OutcomeMessage(i)
		pv := poolView{
			Outcome:       i,
			Message:       msg,
			AssetReserve:  pool.AssetReserve(),
			StableReserve: pool.StableReserve(),
		}
		if price, err := pool.CurrentPrice(); err == nil {
			pv.Price = formatPrice(price, s.engine.BasisPoints)
		}
		if twap, err := pool.Oracle().TWAP(now); err == nil {
			// TWAP carries an extra basis-point scale.
			pv.Twap = formatPrice(twap/s.engine.BasisPoints, s.engine.BasisPoints)
		}
		view.Pools = append(view.Pools, pv)
	}
	return view
}

func (s *Server) handleStartTrading(c *gin.Context) {
	var req startTradingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := m.prop.StartTrading(m.admin, nowUnix(), req.Duration); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.viewOf(m))
}

func (s *Server) handleEndTrading(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := m.prop.EndTrading(m.admin, nowUnix()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.viewOf(m))
}

func (s *Server) handleFinalize(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := m.prop.Finalize(m.admin, nowUnix()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.viewOf(m))
}

func (s *Server) handleQuote(c *gin.Context) {
	outcome, err := strconv.ParseUint(c.Query("outcome"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome is required"})
		return
	}
	amount, err := strconv.ParseUint(c.Query("amount"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	var dir domain.SwapDirection
	switch c.Query("direction") {
	case "asset_to_stable":
		dir = domain.SwapAssetToStable
	case "stable_to_asset":
		dir = domain.SwapStableToAsset
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be asset_to_stable or stable_to_asset"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	out, err := m.prop.QuoteSwap(outcome, dir, amount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount_out": out})
}

func (s *Server) handleMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	at, ok := assetTypeFromString(req.AssetType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset_type must be asset or stable"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, found := s.lookup(c)
	if !found {
		return
	}
	var (
		tokens []*domain.ConditionalToken
		err    error
	)
	if at == domain.AssetTypeAsset {
		tokens, err = m.prop.MintCompleteSetAsset(nowUnix(), req.Amount)
	} else {
		tokens, err = m.prop.MintCompleteSetStable(nowUnix(), req.Amount)
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	out := make([]tokenView, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, m.storeToken(tok))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// storeToken places a token in the vault and returns its client view.
func (m *managed) storeToken(tok *domain.ConditionalToken) tokenView {
	handle := uuid.NewString()
	m.vault[handle] = tok
	return tokenView{
		Handle:    handle,
		AssetType: tok.AssetType.String(),
		Outcome:   tok.Outcome,
		Balance:   tok.Balance,
	}
}

func (s *Server) handleSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	tokenIn, ok := m.vault[req.Token]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
		return
	}
	tokenOut, err := m.prop.Swap(nowUnix(), req.Outcome, tokenIn, req.MinOut)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	delete(m.vault, req.Token)
	c.JSON(http.StatusOK, gin.H{"token": m.storeToken(tokenOut)})
}

func (s *Server) handleTokenSplit(c *gin.Context) {
	var req tokenSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	tok, ok := m.vault[req.Token]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
		return
	}
	carved, err := tok.Split(req.Amount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.bus.Publish(events.TokenSplitEvent{
		MarketID:         tok.MarketID,
		AssetType:        tok.AssetType,
		Outcome:          tok.Outcome,
		Amount:           req.Amount,
		RemainingBalance: tok.Balance,
		Timestamp:        nowUnix(),
	})
	c.JSON(http.StatusOK, gin.H{
		"token": tokenView{Handle: req.Token, AssetType: tok.AssetType.String(), Outcome: tok.Outcome, Balance: tok.Balance},
		"split": m.storeToken(carved),
	})
}

func (s *Server) handleTokenMerge(c *gin.Context) {
	var req tokenMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Into == req.From {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot merge a token with itself"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	into, ok := m.vault[req.Into]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
		return
	}
	from, ok := m.vault[req.From]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
		return
	}
	merged := from.Balance
	if err := into.Merge(from); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	delete(m.vault, req.From)
	s.bus.Publish(events.TokenMergeEvent{
		MarketID:     into.MarketID,
		AssetType:    into.AssetType,
		Outcome:      into.Outcome,
		MergedAmount: merged,
		NewBalance:   into.Balance,
		Timestamp:    nowUnix(),
	})
	c.JSON(http.StatusOK, gin.H{
		"token": tokenView{Handle: req.Into, AssetType: into.AssetType.String(), Outcome: into.Outcome, Balance: into.Balance},
	})
}

func (s *Server) handleAddLiquidity(c *gin.Context) {
	var req liquidityAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	usedAsset, usedStable, err := m.prop.AddLiquidity(nowUnix(), req.Outcome, req.AssetAmount, req.StableAmount)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_used": usedAsset, "stable_used": usedStable})
}

func (s *Server) handleRemoveLiquidity(c *gin.Context) {
	var req liquidityRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	outAsset, outStable, err := m.prop.RemoveLiquidity(nowUnix(), req.Outcome, req.PercentBps, req.MinAssetOut, req.MinStableOut)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_out": outAsset, "stable_out": outStable})
}

func (s *Server) handleRedeemSet(c *gin.Context) {
	var req redeemSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	tokens := make([]*domain.ConditionalToken, 0, len(req.Tokens))
	for _, handle := range req.Tokens {
		tok, ok := m.vault[handle]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
			return
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokens are required"})
		return
	}

	var (
		amount uint64
		err    error
	)
	if tokens[0].AssetType == domain.AssetTypeAsset {
		amount, err = m.prop.RedeemCompleteSetAsset(nowUnix(), tokens)
	} else {
		amount, err = m.prop.RedeemCompleteSetStable(nowUnix(), tokens)
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	for _, handle := range req.Tokens {
		delete(m.vault, handle)
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (s *Server) handleRedeemWinning(c *gin.Context) {
	var req redeemWinningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(c)
	if !ok {
		return
	}
	tok, ok := m.vault[req.Token]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token handle"})
		return
	}

	var (
		amount uint64
		err    error
	)
	if tok.AssetType == domain.AssetTypeAsset {
		amount, err = m.prop.RedeemWinningAsset(nowUnix(), tok)
	} else {
		amount, err = m.prop.RedeemWinningStable(nowUnix(), tok)
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	delete(m.vault, req.Token)
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (s *Server) handleEventsList(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	records, err := s.journal.Events(c.Request.Context(), c.Param("marketID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}
