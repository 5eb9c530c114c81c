package server

import (
	"context"
	"net/http"
	"time"

	"meeting-live/internal/broadcast"
	"meeting-live/internal/config"
	"meeting-live/internal/directory"
	"meeting-live/internal/lottery"
	"meeting-live/internal/poll"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Services are the collaborators the HTTP surface drives.
type Services struct {
	Hub      *broadcast.Hub
	Lottery  *lottery.Coordinator
	Polls    *poll.Coordinator
	Sessions directory.Sessions
	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	hub      *broadcast.Hub
	lottery  *lottery.Coordinator
	polls    *poll.Coordinator
	sessions directory.Sessions
	ping     func(ctx context.Context) error
	limiter  *rateLimiter
}

func New(cfg config.Config, svc Services) *Server {
	registerValidators()
	return &Server{
		cfg:      cfg,
		hub:      svc.Hub,
		lottery:  svc.Lottery,
		polls:    svc.Polls,
		sessions: svc.Sessions,
		ping:     svc.Ping,
		limiter:  newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
}

func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(s.corsConfig()))

	router.GET("/healthz", s.handleHealth)
	router.GET("/display/sessions/:sessionID", s.handleDisplayView)
	router.GET("/ws/sessions/:sessionID", s.handleWebsocket)
	router.GET("/sse/sessions/:sessionID", s.handleStream)

	api := router.Group("/api")
	sessions := api.Group("/sessions/:sessionID")
	{
		sessions.GET("/lottery", s.handleLotteryState)
		sessions.GET("/lottery/rounds", s.handleLotteryHistory)
		sessions.POST("/lottery/rounds", s.handleCreateRound)
		sessions.DELETE("/lottery/rounds/:roundID", s.handleDeleteRound)
		sessions.POST("/lottery/prepare", s.handlePrepare)
		sessions.POST("/lottery/join", s.handleJoin)
		sessions.POST("/lottery/leave", s.handleLeave)
		sessions.POST("/lottery/start", s.handleStart)
		sessions.POST("/lottery/stop", s.handleStop)
		sessions.POST("/lottery/reset", s.handleReset)

		sessions.POST("/polls", s.handleCreatePoll)
		sessions.GET("/polls", s.handleListPolls)
		sessions.GET("/polls/active", s.handleActivePoll)
	}
	polls := api.Group("/polls/:pollID")
	{
		polls.GET("", s.handlePollState)
		polls.GET("/results", s.handlePollResults)
		polls.POST("/start", s.handleStartPoll)
		polls.POST("/submit", s.handleSubmit)
		polls.POST("/close", s.handleClosePoll)
	}
	api.GET("/voters/:voterID/polls", s.handleVoterHistory)
	return router
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	origins := s.cfg.AllowedOrigins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.PersistTimeout())
		defer cancel()
		if err := s.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
