package riftlands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// Version metadata, set at build time
	Version   = "0.1.0"
	CommitSHA = "unknown"
	BuildTime = "unknown"

	defaultLogWriter io.Writer = os.Stdout

	structValidator = validator.New(validator.WithRequiredStructEnabled())
)

// Bot is the Riftlands AI DM: a discord bot that rolls dice, keeps a
// session log, narrates scenes, and reconciles its slash commands with
// discord's command registry at startup.
type Bot struct {
	config *Config

	logger     *slog.Logger
	logHandler slog.Handler

	db         *gorm.DB
	discord    *Discord
	narrator   *Narrator
	sceneStore *SceneStore
	syncer     *CommandSyncer
	api        *API

	// declaration set, assembled once in New and read-only afterward
	declared []*discordgo.ApplicationCommand

	// prevents Run from executing concurrently
	runMu sync.Mutex

	startedAt time.Time

	// signalStop enables an explicit stop signal, such as from the
	// status API
	signalStop chan struct{}
}

func (b *Bot) getLogger(ctx context.Context) (context.Context, *slog.Logger) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// New creates and initializes a new Bot from config: loggers, the discord
// wrapper, the narrator and the status API. Database and gateway
// connections aren't opened until Run.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:     config,
		declared:   DeclaredCommands(),
		signalStop: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	config.Discord.httpClient = config.HTTPClient

	disc := newDiscord(config.Discord)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.bot = b
	b.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	b.narrator = newNarrator(
		config.OpenAI,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.OpenAI.LogLevel,
					AddSource: true,
				},
			),
		),
	)

	api, err := newAPI(b, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	b.api = api

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Run starts the bot and blocks until ctx is canceled or a stop signal
// arrives, then shuts down gracefully.
//
// Startup order: database, status API, discord session and event
// handlers, then the command sync run. A sync run that ends with zero
// live commands is degraded, not fatal: the message-based fallback still
// works, and the status API can trigger a re-run.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger
	ctx = WithLogger(ctx, logger)

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	// the runtime context: canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	if err := b.initDB(startCtx); err != nil {
		return err
	}

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			httpErr := b.api.Serve(runCtx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(runCtx, "error serving api HTTP", tint.Err(httpErr))
				return httpErr
			}
			return nil
		},
	)

	b.addDiscordHandlers(runCtx)

	logger.InfoContext(runCtx, "connecting to discord")
	if err = b.discord.session.Open(); err != nil {
		logger.ErrorContext(runCtx, "error connecting to discord", tint.Err(err))
		cancel()
		_ = g.Wait()
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	b.initSyncer(session)

	report, syncErr := b.syncer.Sync(runCtx)
	switch {
	case syncErr != nil:
		logger.ErrorContext(runCtx, "command sync aborted", tint.Err(syncErr))
	case report.Degraded():
		logger.ErrorContext(
			runCtx,
			"no slash commands are live; continuing degraded "+
				"(message fallback still available)",
			"report", report,
		)
	default:
		logger.InfoContext(runCtx, "slash commands live", "report", report)
	}

	if b.config.Discord.CustomStatus != "" {
		if statusErr := b.discord.updateCustomStatus(
			b.config.Discord.CustomStatus,
		); statusErr != nil {
			logger.Error("error updating discord status", tint.Err(statusErr))
		}
	}

	logger.InfoContext(runCtx, "bot is running")

	<-runCtx.Done()

	return b.shutdown(g)
}

func (b *Bot) initDB(ctx context.Context) error {
	dbLogHandler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	db, err := CreateDB(
		ctx,
		b.config.DatabaseType,
		b.config.Database,
		newDBLogger(dbLogHandler, b.config.DatabaseSlowThreshold),
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.sceneStore = NewSceneStore(db, b.logger)
	return nil
}

// initSyncer wires the reconciler to the live session. Separate from New
// so the one-shot `sync` command can reuse it.
func (b *Bot) initSyncer(session DiscordSessionHandler) {
	registry := NewCommandRegistry(
		session,
		b.config.Discord.ApplicationID,
		b.discord.logger,
	)
	b.syncer = NewCommandSyncer(
		registry,
		b.declared,
		ResolveScopes(b.config.Discord.GuildID),
		b.config.Discord.CommandSync,
		b.discord.logger,
	)
}

func (b *Bot) addDiscordHandlers(ctx context.Context) {
	d := b.discord
	d.removeHandlerFuncs = append(
		d.removeHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(b.handlerInteractionCreate(ctx)),
		d.session.AddHandler(b.handlerMessageCreate(ctx)),
	)
}

// Stop signals a running bot to begin graceful shutdown.
func (b *Bot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

func (b *Bot) shutdown(g *errgroup.Group) error {
	b.logger.Info("shutting down", "timeout", b.config.ShutdownTimeout)

	done := make(chan error, 1)
	go func() {
		var errs []error

		for _, removeHandler := range b.discord.removeHandlerFuncs {
			removeHandler()
		}
		if err := b.discord.session.Close(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}

		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}

		if b.db != nil {
			if sqlDB, err := b.db.DB(); err == nil {
				if closeErr := sqlDB.Close(); closeErr != nil {
					errs = append(errs, closeErr)
				}
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		b.logger.Info("shutdown complete")
		return err
	case <-time.After(b.config.ShutdownTimeout):
		b.logger.Error("shutdown timed out, exiting")
		return errors.New("shutdown timed out")
	}
}

// SyncCommands performs a one-shot command sync against the discord REST
// API, without opening the gateway: used by the `sync` CLI command to
// recover from a degraded startup sync without restarting the bot's
// gateway session.
func (b *Bot) SyncCommands(ctx context.Context) (*SyncReport, error) {
	if err := b.ValidateConfig(); err != nil {
		return nil, err
	}
	session, err := b.discord.newSession()
	if err != nil {
		return nil, err
	}
	b.discord.session = session
	b.initSyncer(session)
	return b.syncer.Sync(ctx)
}

// Uptime returns how long the bot has been running.
func (b *Bot) Uptime() time.Duration {
	if b.startedAt.IsZero() {
		return 0
	}
	return time.Since(b.startedAt)
}
