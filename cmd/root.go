package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ksali86/riftlands-ai-dm/riftlands"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = riftlands.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "riftlands [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar
// config fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", riftlands.DefaultDatabase)
	viper.SetDefault("database_type", riftlands.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		riftlands.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		riftlands.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", riftlands.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", riftlands.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", riftlands.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		riftlands.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		riftlands.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		riftlands.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.custom_status",
		riftlands.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.startup_message",
		riftlands.DefaultDiscordStartupMessage,
	)
	viper.SetDefault("discord.notification_channel_id", "")

	// Discord: command sync
	viper.SetDefault(
		"discord.command_sync.propagation_delay",
		riftlands.DefaultSyncPropagationDelay,
	)
	viper.SetDefault(
		"discord.command_sync.retry_backoff",
		riftlands.DefaultSyncRetryBackoff,
	)
	viper.SetDefault(
		"discord.command_sync.max_attempts",
		riftlands.DefaultSyncMaxAttempts,
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", riftlands.DefaultOpenAIModel)
	viper.SetDefault(
		"openai.max_requests_per_second",
		riftlands.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.log_level", riftlands.DefaultOpenAILogLevel.String())

	// API config
	viper.SetDefault("api.listen", riftlands.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.admin_password_hash", "")
	viper.SetDefault("api.log_level", riftlands.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", riftlands.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		riftlands.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", riftlands.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", riftlands.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		riftlands.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		riftlands.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		riftlands.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", riftlands.DefaultCORSMaxAge)

	envPrefix := os.Getenv(riftlands.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = riftlands.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
