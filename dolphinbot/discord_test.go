package dolphinbot

import (
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommands(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	created, err := bot.discord.registerCommands()
	require.NoError(t, err)
	require.Len(t, created, 11)

	names := make([]string, len(created))
	for i, c := range created {
		names[i] = c.Name
	}
	for _, expected := range []string{
		DiscordSlashCommandReview,
		DiscordSlashCommandTicket,
		DiscordSlashCommandPing,
		DiscordSlashCommandHelp,
		DiscordSlashCommandStats,
		DiscordSlashCommandClear,
		DiscordSlashCommandBan,
		DiscordSlashCommandKick,
		DiscordSlashCommandMute,
		DiscordSlashCommandWarn,
		DiscordSlashCommandRole,
	} {
		assert.Contains(t, names, expected)
	}

	session.failOn("ApplicationCommandBulkOverwrite", assert.AnError)
	_, err = bot.discord.registerCommands()
	require.Error(t, err)
}

func TestCommandPermissions(t *testing.T) {
	t.Parallel()
	d := &Discord{}

	ticket := d.appCommandTicket()
	require.NotNil(t, ticket.DefaultMemberPermissions)
	assert.Zero(t, *ticket.DefaultMemberPermissions)

	clear := d.appCommandClear()
	require.NotNil(t, clear.DefaultMemberPermissions)
	assert.EqualValues(
		t,
		discordgo.PermissionManageMessages,
		*clear.DefaultMemberPermissions,
	)
	require.Len(t, clear.Options, 1)
	require.NotNil(t, clear.Options[0].MinValue)
	assert.EqualValues(t, clearAmountMin, *clear.Options[0].MinValue)
	assert.EqualValues(t, clearAmountMax, clear.Options[0].MaxValue)

	ban := d.appCommandBan()
	require.NotNil(t, ban.DefaultMemberPermissions)
	assert.EqualValues(
		t,
		discordgo.PermissionBanMembers,
		*ban.DefaultMemberPermissions,
	)

	mute := d.appCommandMute()
	assert.EqualValues(
		t,
		discordgo.PermissionModerateMembers,
		*mute.DefaultMemberPermissions,
	)
}

func TestConnectHandlerMetrics(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	d := bot.discord

	require.False(t, d.connected.Load())
	require.Equal(t, int64(0), d.metricConnects.Load())

	sess := &discordgo.Session{
		State: &discordgo.State{
			Ready: discordgo.Ready{
				SessionID: t.Name(),
				User: &discordgo.User{
					ID:       t.Name(),
					Username: t.Name(),
				},
			},
		},
	}

	d.config.NotificationChannelID = "channel-notify"
	handler := d.handlerConnect()
	handler(sess, nil)
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())

	// startup notification sent to the configured channel
	msg := expectChannelMessage(t, session)
	assert.Equal(t, "channel-notify", msg.ChannelID)
	assert.Equal(t, d.config.StartupMessage, msg.Content)

	disconnect := d.handlerDisconnect()
	disconnect(sess, nil)
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestSessionLogLevelMapping(t *testing.T) {
	t.Parallel()
	session := DiscordSession{
		session: &discordgo.Session{},
		logger:  slog.Default(),
	}
	require.NoError(t, session.SetLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogDebug, session.session.LogLevel)
	require.NoError(t, session.SetLogLevel(slog.LevelError))
	assert.Equal(t, discordgo.LogError, session.session.LogLevel)
	require.Error(t, session.SetLogLevel(slog.Level(42)))
}
