package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dolphingaming392/dolphinbot/dolphinbot"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

DOLPHIN_DATABASE=/home/foo/dolphinbot.sqlite3
DOLPHIN_DATABASE_TYPE=sqlite
DOLPHIN_DATABASE_LOG_LEVEL=INFO
DOLPHIN_DATABASE_SLOW_THRESHOLD=200ms
DOLPHIN_LOG_LEVEL=INFO
DOLPHIN_STARTUP_TIMEOUT=30s
DOLPHIN_SHUTDOWN_TIMEOUT=60s

# Discord bot config

DOLPHIN_DISCORD_TOKEN=your-discord-bot-token
DOLPHIN_DISCORD_APPLICATION_ID=your-discord-bot-app-id
DOLPHIN_DISCORD_GUILD_ID=
DOLPHIN_DISCORD_LOG_LEVEL=WARN
DOLPHIN_DISCORD_DISCORDGO_LOG_LEVEL=WARN
DOLPHIN_DISCORD_STARTUP_MESSAGE="I'm here!"
DOLPHIN_DISCORD_GATEWAY_INTENTS=37379

# Review flow config

DOLPHIN_REVIEW_CUSTOMER_ROLE_ID=111111111111111111
DOLPHIN_REVIEW_CHANNEL_ID=222222222222222222
DOLPHIN_REVIEW_REPLY_TIMEOUT=5m

# Ticket system config

DOLPHIN_TICKET_STAFF_ROLE_IDS=333333333333333333 444444444444444444
DOLPHIN_TICKET_CATEGORY_NAME=Tickets
DOLPHIN_TICKET_CLOSE_DELAY=5s

# API server

DOLPHIN_API_ENABLED=true
DOLPHIN_API_LISTEN=127.0.0.1:5000
DOLPHIN_API_LOG_LEVEL=DEBUG
DOLPHIN_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
DOLPHIN_API_CORS_ALLOW_METHODS=GET HEAD OPTIONS
DOLPHIN_API_CORS_MAX_AGE=12h
DOLPHIN_API_READ_TIMEOUT=5s
DOLPHIN_API_READ_HEADER_TIMEOUT=5s
DOLPHIN_API_WRITE_TIMEOUT=10s
DOLPHIN_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/dolphinbot.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/dolphinbot.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 37379, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, "111111111111111111", viper.GetString("review.customer_role_id"))
	assert.Equal(t, "222222222222222222", viper.GetString("review.channel_id"))
	assert.Equal(t, 5*time.Minute, viper.GetDuration("review.reply_timeout"))

	assert.Equal(
		t,
		[]string{"333333333333333333", "444444444444444444"},
		viper.GetStringSlice("ticket.staff_role_ids"),
	)
	assert.Equal(t, "Tickets", viper.GetString("ticket.category_name"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("ticket.close_delay"))

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "HEAD", "OPTIONS"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into a dolphinbot.Config struct
	var config dolphinbot.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/dolphinbot.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(37379), config.Discord.GatewayIntents)

	assert.Equal(t, "111111111111111111", config.Review.CustomerRoleID)
	assert.Equal(t, "222222222222222222", config.Review.ChannelID)
	assert.Equal(t, 5*time.Minute, config.Review.ReplyTimeout)

	assert.Equal(
		t,
		[]string{"333333333333333333", "444444444444444444"},
		config.Ticket.StaffRoleIDs,
	)
	assert.Equal(t, "Tickets", config.Ticket.CategoryName)
	assert.Equal(t, 5*time.Second, config.Ticket.CloseDelay)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "HEAD", "OPTIONS"},
		config.API.CORS.AllowMethods,
	)
}
