package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"loginrelay/internal/activity"
	"loginrelay/internal/config"
	"loginrelay/internal/device"
	"loginrelay/internal/eventstore"
	"loginrelay/internal/metrics"
	"loginrelay/internal/model"
	"loginrelay/internal/refresher"
	"loginrelay/internal/tracker"
	"loginrelay/internal/transport"
)

const tokenCookie = "token"

// Deps are the components the HTTP surface fronts. Producer-only and
// consumer-only parts may be nil; their routes are then not registered.
type Deps struct {
	Config    *config.Manager
	Metrics   *metrics.Store
	Store     *eventstore.Store
	Tracker   *tracker.Tracker
	Handoff   *transport.Handoff
	Relay     *transport.Relay
	Receiver  *transport.Receiver
	Board     *activity.Board
	Refresher *refresher.Refresher
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status     string                     `json:"status"`
	Time       string                     `json:"time"`
	Version    string                     `json:"version"`
	ConfigPath string                     `json:"config_path"`
	Role       string                     `json:"role"`
	Origin     string                     `json:"origin"`
	Namespace  string                     `json:"namespace"`
	Sources    []string                   `json:"sources"`
	Transport  transportStatus            `json:"transport"`
	Strategies []metrics.StrategyCounters `json:"strategies"`
	Refresher  *refresher.Status          `json:"refresher,omitempty"`
	BoardSize  int                        `json:"board_size"`
}

type transportStatus struct {
	Handoff         bool   `json:"handoff"`
	Relay           bool   `json:"relay"`
	Broadcast       bool   `json:"broadcast"`
	BroadcastDriver string `json:"broadcast_driver,omitempty"`
	AllowedOrigins  int    `json:"allowed_origins"`
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{Addr: current.Addr, Handler: NewRouter(deps), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func NewRouter(deps Deps) *gin.Engine {
	s := &Server{Deps: deps}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", s.handleStatus)
	r.GET("/config/allowed_origins", s.handleGetAllowedOrigins)
	r.POST("/config/allowed_origins", s.handleSetAllowedOrigins)

	if s.Tracker != nil {
		r.POST("/logins", s.handleLogin)
	}
	if s.Handoff != nil || s.Relay != nil {
		r.GET("/session-handoff", s.handleSessionHandoff)
	}
	if s.Receiver != nil {
		r.OPTIONS("/api/record-login", s.handleRecordLoginPreflight)
		r.POST("/api/record-login", s.handleRecordLogin)
	}
	if s.Board != nil {
		r.GET("/activity", s.handleActivity)
		r.GET("/activity/stats", s.handleStats)
		r.GET("/activity/users", s.handleUsers)
		r.POST("/activity/refresh", s.handleRefresh)
		r.POST("/activity/clear", s.handleClear)
	}
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.Config.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
		ConfigPath: s.Config.Path(),
		Role:       cfg.Role,
		Origin:     cfg.Origin,
		Namespace:  cfg.Store.Namespace,
		Sources:    cfg.Store.Sources,
		Transport: transportStatus{
			Handoff:        cfg.Transport.Handoff.Enabled,
			Relay:          cfg.Transport.Relay.Enabled,
			Broadcast:      cfg.Transport.Broadcast.Enabled,
			AllowedOrigins: len(cfg.Transport.Broadcast.AllowedOrigins),
		},
		Strategies: s.Metrics.Snapshot(),
	}
	if cfg.Transport.Broadcast.Enabled {
		resp.Transport.BroadcastDriver = cfg.Transport.Broadcast.Driver
	}
	if s.Refresher != nil {
		st := s.Refresher.Status()
		resp.Refresher = &st
	}
	if s.Board != nil {
		resp.BoardSize = len(s.Board.Snapshot())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req tracker.Login
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	req.Hints = hintsFromRequest(c, req.Hints)
	cookie := s.Config.Get().Transport.Relay.Cookie
	if sid, err := c.Cookie(cookie); err == nil {
		req.SessionID = sid
	}
	res, err := s.Tracker.RecordLogin(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidLogin) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login not recorded"})
		return
	}
	if res.SessionID != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookie, res.SessionID, 0, "/", "", false, true)
	}
	c.JSON(http.StatusCreated, res)
}

// handleSessionHandoff is the consumer's entry point after the producer
// redirect. The relay is drained first so a visit without query params
// still picks up a stashed login.
func (s *Server) handleSessionHandoff(c *gin.Context) {
	ctx := c.Request.Context()
	cfg := s.Config.Get()
	hints := hintsFromRequest(c, device.ClientHints{})

	if s.Relay != nil {
		if sid, err := c.Cookie(cfg.Transport.Relay.Cookie); err == nil && sid != "" {
			for _, ev := range s.Relay.Consume(ctx, sid, hints) {
				s.publish(ev)
			}
			c.SetCookie(cfg.Transport.Relay.Cookie, "", -1, "/", "", false, true)
		}
	}
	if s.Handoff == nil {
		c.Redirect(http.StatusSeeOther, cfg.Transport.Handoff.DashboardPath)
		return
	}
	res, err := s.Handoff.Consume(ctx, c.Request.URL.Query(), hints)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Info("session handoff without usable data", "err", err)
		}
		s.Metrics.Dropped(transport.StrategyHandoff)
		c.Redirect(http.StatusSeeOther, cfg.Transport.Handoff.NotFoundPath)
		return
	}
	s.Metrics.Delivered(transport.StrategyHandoff)
	s.publish(res.Event)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, res.Token, 0, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, res.Redirect)
}

// handleRecordLoginPreflight lets allow-listed browser origins send the
// JSON POST cross-origin. Anything else gets no CORS headers.
func (s *Server) handleRecordLoginPreflight(c *gin.Context) {
	if !s.allowCORS(c) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Header("Access-Control-Max-Age", "600")
	c.Status(http.StatusNoContent)
}

// handleRecordLogin is the HTTP form of the broadcast receiver. Browsers
// always send Origin and it wins over the origin claimed in the body; a
// request without the header is a server-to-server call and is judged by
// the body's origin.
func (s *Server) handleRecordLogin(c *gin.Context) {
	s.allowCORS(c)
	var env model.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if origin := c.GetHeader("Origin"); origin != "" {
		env.Origin = origin
	}
	accepted := s.Receiver.Handle(c.Request.Context(), env)
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (s *Server) allowCORS(c *gin.Context) bool {
	c.Header("Vary", "Origin")
	origin := c.GetHeader("Origin")
	if origin == "" || !s.Receiver.Allowed(origin) {
		return false
	}
	c.Header("Access-Control-Allow-Origin", origin)
	return true
}

func (s *Server) handleActivity(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	events := activity.Apply(s.Board.Snapshot(), f)
	c.JSON(http.StatusOK, gin.H{
		"events":    events,
		"count":     len(events),
		"updatedAt": s.Board.UpdatedAt(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, activity.ComputeStats(activity.Apply(s.Board.Snapshot(), f)))
}

func (s *Server) handleUsers(c *gin.Context) {
	users := activity.Users(s.Board.Snapshot())
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if s.Refresher == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "refresher not configured"})
		return
	}
	events := s.Refresher.RefreshNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"count": len(events)})
}

// handleClear wipes every trace of tracked logins this node can reach:
// the own store including legacy keys, the caller's relay stash and the
// board.
func (s *Server) handleClear(c *gin.Context) {
	ctx := c.Request.Context()
	if s.Store != nil {
		s.Store.Clear(ctx)
	}
	if s.Relay != nil {
		if sid, err := c.Cookie(s.Config.Get().Transport.Relay.Cookie); err == nil {
			s.Relay.Clear(ctx, sid)
		}
	}
	s.Board.Clear()
	if s.Logger != nil {
		s.Logger.Info("login tracking data cleared")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetAllowedOrigins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allowed_origins": s.Config.Get().Transport.Broadcast.AllowedOrigins})
}

func (s *Server) handleSetAllowedOrigins(c *gin.Context) {
	var req struct {
		AllowedOrigins []string `json:"allowed_origins"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	origins := sanitizeOrigins(req.AllowedOrigins)
	next := *s.Config.Get()
	next.Transport.Broadcast.AllowedOrigins = origins
	if err := s.Config.Update(&next); err != nil {
		if s.Logger != nil {
			s.Logger.Error("allowed origins not persisted", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "config not saved"})
		return
	}
	if s.Receiver != nil {
		s.Receiver.UpdateAllowList(origins)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "allowed_origins": origins})
}

func (s *Server) publish(ev model.LoginEvent) {
	if s.Board != nil {
		s.Board.Add(ev)
	}
}

func sanitizeOrigins(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := transport.NormalizeOrigin(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func hintsFromRequest(c *gin.Context, h device.ClientHints) device.ClientHints {
	h.UserAgent = c.Request.UserAgent()
	if h.Language == "" {
		h.Language = c.GetHeader("Accept-Language")
	}
	return h
}

func parseFilter(c *gin.Context) (activity.Filter, bool) {
	var f activity.Filter
	if v := c.Query("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be an integer"})
			return f, false
		}
		f.UserID = id
	}
	f.Search = c.Query("search")
	f.DeviceType = c.Query("deviceType")
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		v := strings.TrimSpace(c.Query(p.name))
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": p.name + " must be YYYY-MM-DD or RFC3339"})
			return f, false
		}
		*p.dst = t
	}
	return f, true
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
