package riftlands

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiRouteHealth = "/api/health"
	apiRouteSync   = "/api/sync"

	// bound on a sync run triggered through the API
	apiSyncRunTimeout = 5 * time.Minute
)

// API is the operator-facing status server: bot health, the last command
// sync report, and a password-guarded manual re-sync trigger. It exists
// to answer "commands didn't show up" without log access, and to recover
// from a degraded startup sync without a restart.
type API struct {
	config   *APIConfig
	engine   *gin.Engine
	logger   *slog.Logger
	listener net.Listener
	bot      *Bot
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil API config")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := &API{
		config: config,
		engine: engine,
		bot:    b,
		logger: slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "api"),
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) > 0 {
		engine.Use(cors.New(corsConfig))
	}

	engine.GET(apiRouteHealth, api.handlerHealth)
	engine.GET(apiRouteSync, api.handlerGetSync)
	engine.POST(apiRouteSync, api.handlerTriggerSync)

	return api, nil
}

// Serve listens on the configured address until ctx is canceled, then
// shuts the server down gracefully.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return err
	}
	a.listener = listener
	a.logger.Info("api listening", "address", listener.Addr().String())

	server := &http.Server{
		Handler:           a.engine,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		WriteTimeout:      a.config.WriteTimeout,
		IdleTimeout:       a.config.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("error shutting down api server", tint.Err(shutdownErr))
		}
	}()

	return server.Serve(listener)
}

type healthResponse struct {
	Version          string    `json:"version"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	DiscordConnected bool      `json:"discord_connected"`
	SyncState        SyncState `json:"sync_state"`
	CommandsLive     int       `json:"commands_live"`
}

func (a *API) handlerHealth(c *gin.Context) {
	rv := healthResponse{
		Version:       Version,
		UptimeSeconds: a.bot.Uptime().Seconds(),
		SyncState:     SyncStateIdle,
	}
	if a.bot.discord != nil {
		rv.DiscordConnected = a.bot.discord.Connected()
	}
	if syncer := a.bot.syncer; syncer != nil {
		rv.SyncState = syncer.State()
		if report := syncer.LastReport(); report != nil {
			rv.CommandsLive = len(report.Commands)
		}
	}
	c.JSON(http.StatusOK, rv)
}

func (a *API) handlerGetSync(c *gin.Context) {
	syncer := a.bot.syncer
	if syncer == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "command sync has not been initialized"},
		)
		return
	}
	report := syncer.LastReport()
	if report == nil {
		c.JSON(
			http.StatusOK,
			gin.H{"state": syncer.State(), "report": nil},
		)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": syncer.State(), "report": report})
}

type triggerSyncRequest struct {
	Password string `json:"password" binding:"required"`
}

// handlerTriggerSync starts a new sync run in the background. Guarded by
// the configured argon2 password hash; disabled entirely when no hash is
// set. Returns 409 if a run is already in flight - runs never overlap.
func (a *API) handlerTriggerSync(c *gin.Context) {
	if a.config.AdminPasswordHash == "" {
		c.JSON(
			http.StatusForbidden,
			gin.H{"error": "manual sync is not enabled"},
		)
		return
	}

	var req triggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}
	ok, err := VerifyPassword(a.config.AdminPasswordHash, req.Password)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	syncer := a.bot.syncer
	if syncer == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "command sync has not been initialized"},
		)
		return
	}
	if syncer.Syncing() {
		c.JSON(
			http.StatusConflict,
			gin.H{"error": "a sync run is already in progress"},
		)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(
			context.Background(),
			apiSyncRunTimeout,
		)
		defer cancel()
		report, syncErr := syncer.Sync(ctx)
		if syncErr != nil {
			a.logger.Error("manual sync failed", tint.Err(syncErr))
			return
		}
		a.logger.Info("manual sync finished", "report", report)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "sync started"})
}
