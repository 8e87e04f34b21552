package riftlands

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the bot's discord session: the gateway connection,
// incoming interactions and messages, and command registration through the
// bulk overwrite endpoint.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	connected         atomic.Bool

	removeHandlerFuncs []func()

	bot *Bot
}

func newDiscord(config *DiscordConfig) *Discord {
	return &Discord{
		config:             config,
		removeHandlerFuncs: []func(){},
	}
}

// newSession initializes the underlying discordgo session with the bot
// token, intents and logger from config.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

// Connected reports whether the gateway connection is currently up.
func (d *Discord) Connected() bool {
	return d.connected.Load()
}

// latencyMillis returns the last gateway heartbeat round-trip in
// milliseconds, for the /ping command.
func (d *Discord) latencyMillis() int64 {
	return d.session.HeartbeatLatency().Milliseconds()
}

func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, r *discordgo.Connect) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		var userID string
		var username string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)

		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// DiscordSessionHandler defines the methods from discordgo.Session this
// application uses, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommands returns the commands currently registered for
	// the application in the given guild ("" for global)
	ApplicationCommands(
		appID string,
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// ApplicationCommandBulkOverwrite atomically replaces the registered
	// command set for the given guild ("" for global)
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot user's custom status. An empty
	// string clears any existing custom status.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler, returning a
	// function that removes it
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the response to the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// HeartbeatLatency returns the round-trip time of the last gateway
	// heartbeat
	HeartbeatLatency() time.Duration

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ApplicationCommands(
	appID string,
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands, err := d.session.ApplicationCommands(appID, guildID, options...)
	if err != nil {
		d.logger.Error(
			"error fetching discord commands",
			tint.Err(err),
			"guild_id", guildID,
		)
	}
	return commands, err
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error(
			"error overwriting discord commands",
			tint.Err(err),
			"guild_id", guildID,
		)
		return created, err
	}
	for _, c := range created {
		d.logger.Info("registered command", "command", c.Name, "guild_id", guildID)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

// getDiscordUser returns the [discordgo.User] associated with the
// interaction. Users don't always appear in the same place in the
// interaction object, so this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
