package dolphinbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	user := newDiscordUser(t)

	i := newCommandInteraction(t, user, DiscordSlashCommandPing, nil)
	handler := newStubInteractionHandler(t, session, i)

	bot.handlePingCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, pingMsgPong, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	user := newDiscordUser(t)

	i := newCommandInteraction(t, user, DiscordSlashCommandHelp, nil)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleHelpCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	require.Len(t, resp.Data.Embeds, 1)
	embed := resp.Data.Embeds[0]
	assert.Equal(t, "📚 Available Commands", embed.Title)

	// every registered command appears in the listing
	commands := []string{
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
	}
	require.Len(t, embed.Fields, len(commands))
	names := make([]string, len(embed.Fields))
	for fi, field := range embed.Fields {
		names[fi] = field.Name
	}
	for _, command := range commands {
		assert.Contains(t, names, "/"+command)
	}
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	user := newDiscordUser(t)

	session.guildChannels = []*discordgo.Channel{
		{ID: "c1"}, {ID: "c2"}, {ID: "c3"},
	}
	session.guildRoles = []*discordgo.Role{
		{ID: "r1"}, {ID: "r2"},
	}

	i := newCommandInteraction(t, user, DiscordSlashCommandStats, nil)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleStatsCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	require.Len(t, resp.Data.Embeds, 1)
	embed := resp.Data.Embeds[0]
	assert.Equal(t, "📊 Server Statistics", embed.Title)
	assert.Equal(t, embedColorGreen, embed.Color)

	require.Len(t, embed.Fields, 4)
	assert.Equal(t, "42", embed.Fields[0].Value)
	assert.Equal(t, "7", embed.Fields[1].Value)
	assert.Equal(t, "3", embed.Fields[2].Value)
	assert.Equal(t, "2", embed.Fields[3].Value)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "Test Guild", embed.Footer.Text)
}

func TestStatsCommandFetchFailure(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	user := newDiscordUser(t)
	session.failOn("GuildWithCounts", assert.AnError)

	i := newCommandInteraction(t, user, DiscordSlashCommandStats, nil)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleStatsCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, statsMsgFail, resp.Data.Content)
}
