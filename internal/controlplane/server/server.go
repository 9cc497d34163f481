// Package server is the control-plane HTTP API over the market engine:
// proposal creation, trading calls, lifecycle transitions, and a
// websocket event stream. It holds the admin capabilities for the
// proposals it creates and serializes all engine access.
package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/futarchybot/gomarket/internal/domain"
	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/internal/journal"
	"github.com/futarchybot/gomarket/internal/proposal"
	"github.com/futarchybot/gomarket/pkg/config"
	"github.com/futarchybot/gomarket/pkg/persistence"
)

var log = logrus.WithField("component", "controlplane")

// managed is one proposal plus the server-held capabilities and token
// custody for HTTP clients.
type managed struct {
	prop  *proposal.Proposal
	admin domain.AdminCap
	// vault holds conditional tokens minted through the API, keyed by
	// an opaque handle the client passes back.
	vault map[string]*domain.ConditionalToken
}

// Server is the control plane. All engine access goes through mu: the
// core types assume a single logical thread.
type Server struct {
	engine config.EngineConfig

	mu        sync.Mutex
	proposals map[string]*managed

	bus     *events.Bus
	journal *journal.Journal
	store   persistence.Service
}

// New creates a server. journal may be nil to disable the event journal;
// store may be nil to keep proposal definitions in memory only. With a
// store, definitions saved by a previous run are rebuilt at startup.
func New(engine config.EngineConfig, bus *events.Bus, j *journal.Journal, store persistence.Service) (*Server, error) {
	if bus == nil {
		bus = events.NewBus()
	}
	if j != nil {
		j.Attach(bus)
	}
	s := &Server{
		engine:    engine,
		proposals: make(map[string]*managed),
		bus:       bus,
		journal:   j,
		store:     store,
	}
	if err := s.restoreProposals(); err != nil {
		return nil, err
	}
	return s, nil
}

// Router builds the gin handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws/events", s.handleEventStream)

	api := r.Group("/api")

	proposals := api.Group("/proposals")
	proposals.GET("/", s.handleProposalsList)
	proposals.POST("/", s.handleProposalCreate)

	one := proposals.Group("/:marketID")
	one.GET("/", s.handleProposalGet)
	one.POST("/start", s.handleStartTrading)
	one.POST("/end", s.handleEndTrading)
	one.POST("/finalize", s.handleFinalize)
	one.GET("/quote", s.handleQuote)
	one.POST("/mint", s.handleMint)
	one.POST("/swap", s.handleSwap)
	one.POST("/tokens/split", s.handleTokenSplit)
	one.POST("/tokens/merge", s.handleTokenMerge)
	one.POST("/liquidity/add", s.handleAddLiquidity)
	one.POST("/liquidity/remove", s.handleRemoveLiquidity)
	one.POST("/redeem-set", s.handleRedeemSet)
	one.POST("/redeem-winning", s.handleRedeemWinning)
	one.GET("/events", s.handleEventsList)

	return r
}

// lookup returns the managed proposal for a path marketID. Callers hold mu.
func (s *Server) lookup(c *gin.Context) (*managed, bool) {
	m, ok := s.proposals[c.Param("marketID")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
	}
	return m, ok
}
