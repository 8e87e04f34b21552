//nolint:lll // struct tags can't be split
package riftlands

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix = "RIFTLANDS_ENV_PREFIX"
	DefaultEnvPrefix   = "RIFTLANDS"

	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "riftlands.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultSyncPropagationDelay is how long to wait after the bulk clear
	// before the first push. The command registry is observed to need time
	// to converge after a clear; pushing immediately risks the push racing
	// the clear and being partially discarded.
	DefaultSyncPropagationDelay = 10 * time.Second

	// DefaultSyncRetryBackoff is the wait between failed push attempts.
	DefaultSyncRetryBackoff = 3 * time.Second

	// DefaultSyncMaxAttempts bounds the push attempts in a sync run.
	DefaultSyncMaxAttempts = 3

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"

	DefaultDiscordGatewayIntent  = discordgo.IntentsAllWithoutPrivileged
	DefaultDiscordCustomStatus   = "/act to shape the story"
	DefaultDiscordStartupMessage = "The Riftlands stir once more."
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"
	discordMaxMessageLength      = 2000

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultOpenAILogLevel    = slog.LevelInfo
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultOpenAIModel                = "gpt-4o-mini"
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultNarrationMaxTokens         = 350
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"Cache-Control",
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the top-level bot configuration, loaded once at startup.
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI configures the optional narration backend
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// API configures the operator-facing status API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds initialization. If it elapses, startup aborts.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for graceful shutdown before
	// connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the preferred guild scope for slash commands.
	// Leave empty to register commands globally only.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CommandSync tunes the command registry reconciliation run
	CommandSync CommandSyncConfig `yaml:"command_sync" mapstructure:"command_sync" json:"command_sync"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot user's status once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// StartupMessage is sent to NotificationChannelID on connect, when both are set
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// NotificationChannelID is the channel the startup message is sent to
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	httpClient *http.Client
}

// CommandSyncConfig tunes the two-phase command sync.
type CommandSyncConfig struct {
	// Wait after the bulk clear, before the first push
	PropagationDelay time.Duration `yaml:"propagation_delay" mapstructure:"propagation_delay" json:"propagation_delay"`

	// Wait between failed push attempts
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" json:"retry_backoff"`

	// Maximum number of push attempts per run
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" json:"max_attempts"`
}

// OpenAIConfig configures the optional OpenAI-backed narrator. With an
// empty token, canned narration is used instead.
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Model used for narration
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// MaxRequestsPerSecond rate-limits narration requests
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the operator-facing status API server.
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// Argon2id hash guarding the manual re-sync endpoint. Generate with
	// the `hashpass` command. When empty, the endpoint is disabled.
	AdminPasswordHash string `yaml:"admin_password_hash" mapstructure:"admin_password_hash" json:"admin_password_hash" log:"[redacted]"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:  []string{},
		AllowMethods:  defaultMethods,
		AllowHeaders:  defaultHeaders,
		ExposeHeaders: defaultExpose,
		MaxAge:        DefaultCORSMaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandSync: CommandSyncConfig{
				PropagationDelay: DefaultSyncPropagationDelay,
				RetryBackoff:     DefaultSyncRetryBackoff,
				MaxAttempts:      DefaultSyncMaxAttempts,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
