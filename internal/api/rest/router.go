// Package rest provides the Gin-based REST API the game-server host drives
// the teleport flows through.
package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robinbraemer/event"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iggydv12/waypoint/internal/location"
	"github.com/iggydv12/waypoint/internal/notify"
	"github.com/iggydv12/waypoint/internal/presence"
	"github.com/iggydv12/waypoint/internal/service"
	"github.com/iggydv12/waypoint/internal/storage"
)

// Options configures the REST server.
type Options struct {
	// RateLimit is the sustained requests per second; zero or less disables limiting.
	RateLimit float64
	Burst     int
}

// Server is the REST API server.
type Server struct {
	engine  *gin.Engine
	service *service.Service
	events  event.Manager
	online  *presence.List
	mailbox *notify.Mailbox
	logger  *zap.Logger
}

// New creates a REST Server.
func New(svc *service.Service, events event.Manager, online *presence.List, mailbox *notify.Mailbox,
	opts Options, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		service: svc,
		events:  events,
		online:  online,
		mailbox: mailbox,
		logger:  logger,
	}
	s.registerRoutes(opts)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.engine }

// registerRoutes sets up the /waypoint context path.
func (s *Server) registerRoutes(opts Options) {
	waypoint := s.engine.Group("/waypoint", rateLimit(opts))

	tpa := waypoint.Group("/tpa")
	{
		tpa.POST("/:target", s.requestTeleport)
		tpa.GET("/:target", s.pendingRequest)
		tpa.POST("/:target/accept", s.accept)
		tpa.POST("/:target/decline", s.decline)
	}

	home := waypoint.Group("/home")
	{
		home.GET("/:player", s.listHomes)
		home.GET("/:player/:name", s.getHome)
		home.PUT("/:player/:name", s.addHome)
		home.DELETE("/:player/:name", s.removeHome)
	}

	waypoint.PUT("/history/:player", s.recordOrigin)
	waypoint.GET("/history/:player", s.history)
	waypoint.POST("/back/:player", s.back)

	waypoint.GET("/presence", s.listPresence)
	waypoint.POST("/presence/:player", s.join)
	waypoint.DELETE("/presence/:player", s.leave)
	waypoint.POST("/server/start", s.serverStart)
	waypoint.POST("/server/stop", s.serverStop)

	waypoint.GET("/inbox/:player", s.inbox)
}

func rateLimit(opts Options) gin.HandlerFunc {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}

// statusOf maps an error to an HTTP status and a stable code.
func statusOf(err error) (int, string) {
	var verr *storage.ValidationError
	switch {
	case errors.Is(err, service.ErrSelfRequest):
		return http.StatusBadRequest, "self_request"
	case errors.Is(err, service.ErrNotOnline):
		return http.StatusConflict, "not_online"
	case errors.Is(err, service.ErrRequestExists):
		return http.StatusConflict, "request_exists"
	case errors.Is(err, service.ErrNoPendingRequest):
		return http.StatusNotFound, "no_pending_request"
	case errors.Is(err, service.ErrHomeLimit):
		return http.StatusConflict, "home_limit"
	case errors.Is(err, service.ErrHomeExists):
		return http.StatusConflict, "home_exists"
	case errors.Is(err, service.ErrHomeNotFound):
		return http.StatusNotFound, "home_not_found"
	case errors.Is(err, service.ErrNoHistory):
		return http.StatusNotFound, "no_history"
	case errors.Is(err, service.ErrHistoryExpired):
		return http.StatusConflict, "history_expired"
	case errors.As(err, &verr), errors.Is(err, location.ErrInvalidRealm):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, storage.ErrLockTimeout):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid"})
}

// --- tpa handlers ---

func (s *Server) requestTeleport(c *gin.Context) {
	var body struct {
		Requester string `json:"requester" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	target := c.Param("target")
	if err := s.service.RequestTeleport(c.Request.Context(), body.Requester, target); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"requester": body.Requester, "target": target})
}

func (s *Server) pendingRequest(c *gin.Context) {
	requester, ok, err := s.service.PendingRequest(c.Request.Context(), c.Param("target"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, service.ErrNoPendingRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requester": requester})
}

func (s *Server) accept(c *gin.Context) {
	acc, err := s.service.Accept(c.Request.Context(), c.Param("target"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requester":    acc.Requester,
		"target":       acc.Target,
		"delaySeconds": acc.Delay.Seconds(),
	})
}

func (s *Server) decline(c *gin.Context) {
	requester, err := s.service.Decline(c.Request.Context(), c.Param("target"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requester": requester})
}

// --- home handlers ---

func (s *Server) listHomes(c *gin.Context) {
	homes, err := s.service.Homes(c.Request.Context(), c.Param("player"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": homes.Len(), "max": s.service.HomeLimit(), "homes": homes})
}

func (s *Server) getHome(c *gin.Context) {
	loc, err := s.service.Home(c.Request.Context(), c.Param("player"), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (s *Server) addHome(c *gin.Context) {
	var loc location.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		badRequest(c, err)
		return
	}
	count, err := s.service.AddHome(c.Request.Context(), c.Param("player"), c.Param("name"), loc)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"count": count, "max": s.service.HomeLimit()})
}

func (s *Server) removeHome(c *gin.Context) {
	count, err := s.service.RemoveHome(c.Request.Context(), c.Param("player"), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "max": s.service.HomeLimit()})
}

// --- history handlers ---

func (s *Server) recordOrigin(c *gin.Context) {
	var loc location.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.service.RecordOrigin(c.Request.Context(), c.Param("player"), loc); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) history(c *gin.Context) {
	rec, err := s.service.History(c.Request.Context(), c.Param("player"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) back(c *gin.Context) {
	var body struct {
		From *location.Location `json:"from"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	dest, err := s.service.Back(c.Request.Context(), c.Param("player"), body.From)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": dest})
}

// --- presence handlers ---

func (s *Server) listPresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"players": s.online.Players(),
		"count":   s.online.Count(),
		"limit":   s.online.Limit(),
	})
}

func (s *Server) join(c *gin.Context) {
	s.events.Fire(&presence.PlayerJoinEvent{Player: c.Param("player")})
	c.Status(http.StatusNoContent)
}

func (s *Server) leave(c *gin.Context) {
	s.events.Fire(&presence.PlayerLeaveEvent{Player: c.Param("player")})
	c.Status(http.StatusNoContent)
}

func (s *Server) serverStart(c *gin.Context) {
	var body struct {
		Players []string `json:"players"`
		Limit   int      `json:"limit"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	s.events.Fire(&presence.ServerStartEvent{Players: body.Players, Limit: body.Limit})
	c.Status(http.StatusNoContent)
}

func (s *Server) serverStop(c *gin.Context) {
	s.events.Fire(&presence.ServerStopEvent{})
	c.Status(http.StatusNoContent)
}

// --- inbox handlers ---

func (s *Server) inbox(c *gin.Context) {
	msgs := s.mailbox.Drain(c.Param("player"))
	if msgs == nil {
		msgs = []notify.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
