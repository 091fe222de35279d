package dolphinbot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userOption(target *discordgo.User) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionUser,
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: target.ID,
	}
}

func stringOption(name string, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOption(name string, value int64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

// withResolvedUser attaches the target to the interaction's resolved
// data, the way Discord populates it for user options.
func withResolvedUser(
	i *discordgo.InteractionCreate,
	target *discordgo.User,
) *discordgo.InteractionCreate {
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	if data.Resolved == nil {
		data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{}
	}
	if data.Resolved.Users == nil {
		data.Resolved.Users = map[string]*discordgo.User{}
	}
	data.Resolved.Users[target.ID] = target
	i.Data = data
	return i
}

func withResolvedRole(
	i *discordgo.InteractionCreate,
	role *discordgo.Role,
) *discordgo.InteractionCreate {
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	if data.Resolved == nil {
		data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{}
	}
	if data.Resolved.Roles == nil {
		data.Resolved.Roles = map[string]*discordgo.Role{}
	}
	data.Resolved.Roles[role.ID] = role
	i.Data = data
	return i
}

func lastModerationAction(t testing.TB, bot *DolphinBot) ModerationAction {
	t.Helper()
	var rec ModerationAction
	require.NoError(t, bot.db.Last(&rec).Error)
	return rec
}

func TestBanCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "troublemaker"}

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandBan,
			nil,
			userOption(target),
			stringOption(optionReason, "spamming"),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleBanCommand(context.Background(), handler)

	ban := <-session.bansCreated
	assert.Equal(t, target.ID, ban.UserID)
	assert.Equal(t, "spamming", ban.Reason)

	resp := requireResponse(t, handler)
	assert.Equal(
		t,
		"✅ Successfully banned troublemaker\nReason: spamming",
		resp.Data.Content,
	)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionBan, rec.Action)
	assert.Equal(t, target.ID, rec.TargetID)
	assert.Equal(t, moderator.ID, rec.ModeratorID)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestBanCommandFailure(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "troublemaker"}
	session.failOn("GuildBanCreateWithReason", assert.AnError)

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandBan,
			nil,
			userOption(target),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleBanCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, moderationMsgBanFail, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationOutcomeFailed, rec.Outcome)
	assert.Equal(t, moderationDefaultReason, rec.Reason)
}

func TestKickCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "loiterer"}

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandKick,
			nil,
			userOption(target),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleKickCommand(context.Background(), handler)

	kick := <-session.kicks
	assert.Equal(t, target.ID, kick.UserID)
	assert.Equal(t, moderationDefaultReason, kick.Reason)

	resp := requireResponse(t, handler)
	assert.Equal(
		t,
		fmt.Sprintf(
			"✅ Successfully kicked loiterer\nReason: %s",
			moderationDefaultReason,
		),
		resp.Data.Content,
	)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionKick, rec.Action)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestMuteCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "shouty"}

	session.guildRoles = []*discordgo.Role{
		{ID: "role-other", Name: "Member"},
		{ID: "role-muted", Name: "muted"}, // name match is case-insensitive
	}

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandMute,
			nil,
			userOption(target),
			intOption(optionDuration, 1),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleMuteCommand(context.Background(), handler)

	added := <-session.rolesAdded
	assert.Equal(t, target.ID, added.UserID)
	assert.Equal(t, "role-muted", added.RoleID)

	resp := requireResponse(t, handler)
	assert.Equal(
		t,
		"✅ Successfully muted shouty for 1 minutes.",
		resp.Data.Content,
	)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionMute, rec.Action)
	assert.Equal(t, int64(1), rec.DurationMinutes)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestMuteCommandMissingRole(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "shouty"}

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandMute,
			nil,
			userOption(target),
			intOption(optionDuration, 10),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleMuteCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, moderationMsgMutedRoleMissing, resp.Data.Content)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationOutcomeFailed, rec.Outcome)
	assert.Empty(t, session.rolesAdded)
}

func TestWarnCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "latecomer"}

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandWarn,
			nil,
			userOption(target),
			stringOption(optionReason, "being late"),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleWarnCommand(context.Background(), handler)

	dm := expectChannelMessage(t, session)
	assert.Equal(t, "dm-"+target.ID, dm.ChannelID)
	assert.Equal(
		t,
		"⚠️ You have been warned in Test Guild\nReason: being late",
		dm.Content,
	)

	resp := requireResponse(t, handler)
	assert.Equal(
		t,
		"✅ Successfully warned latecomer\nReason: being late",
		resp.Data.Content,
	)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionWarn, rec.Action)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestWarnCommandDMsDisabled(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "hermit"}
	session.failOn("UserChannelCreate", assert.AnError)

	i := withResolvedUser(
		newCommandInteraction(
			t,
			moderator,
			DiscordSlashCommandWarn,
			nil,
			userOption(target),
			stringOption(optionReason, "x"),
		),
		target,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleWarnCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, moderationMsgWarnFail, resp.Data.Content)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationOutcomeFailed, rec.Outcome)
}

func TestClearCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)

	now := time.Now()
	session.channelMessages = []*discordgo.Message{
		{ID: "msg-1", Timestamp: now.Add(-time.Hour)},
		{ID: "msg-2", Timestamp: now.Add(-24 * time.Hour)},
		// too old for bulk deletion, must be skipped
		{ID: "msg-3", Timestamp: now.Add(-15 * 24 * time.Hour)},
	}

	i := newCommandInteraction(
		t,
		moderator,
		DiscordSlashCommandClear,
		nil,
		intOption(optionAmount, 10),
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleClearCommand(context.Background(), handler)

	deleted := <-session.bulkDeletes
	assert.Equal(t, []string{"msg-1", "msg-2"}, deleted)

	resp := requireResponse(t, handler)
	assert.Equal(t, "✅ Successfully deleted 2 messages.", resp.Data.Content)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionClear, rec.Action)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestClearCommandAmountOutOfRange(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)

	i := newCommandInteraction(
		t,
		moderator,
		DiscordSlashCommandClear,
		nil,
		intOption(optionAmount, 101),
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleClearCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, moderationMsgClearAmount, resp.Data.Content)
}

func TestClearCommandBulkDeleteFailure(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	session.channelMessages = []*discordgo.Message{
		{ID: "msg-1", Timestamp: time.Now()},
	}
	session.failOn("ChannelMessagesBulkDelete", assert.AnError)

	i := newCommandInteraction(
		t,
		moderator,
		DiscordSlashCommandClear,
		nil,
		intOption(optionAmount, 5),
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleClearCommand(context.Background(), handler)

	resp := requireResponse(t, handler)
	assert.Equal(t, moderationMsgClearFail, resp.Data.Content)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationOutcomeFailed, rec.Outcome)
}

func TestRoleCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "promotee"}
	role := &discordgo.Role{ID: "role-vip", Name: "VIP"}

	i := withResolvedRole(
		withResolvedUser(
			newCommandInteraction(
				t,
				moderator,
				DiscordSlashCommandRole,
				nil,
				userOption(target),
				&discordgo.ApplicationCommandInteractionDataOption{
					Name:  optionRole,
					Type:  discordgo.ApplicationCommandOptionRole,
					Value: role.ID,
				},
				boolOption(optionAdd, true),
			),
			target,
		),
		role,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleRoleCommand(context.Background(), handler)

	added := <-session.rolesAdded
	assert.Equal(t, target.ID, added.UserID)
	assert.Equal(t, role.ID, added.RoleID)

	resp := requireResponse(t, handler)
	assert.Equal(t, "✅ Added role VIP to promotee", resp.Data.Content)

	rec := lastModerationAction(t, bot)
	assert.Equal(t, moderationActionRole, rec.Action)
	assert.Equal(t, moderationOutcomeSuccess, rec.Outcome)
}

func TestRoleCommandRemove(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	moderator := newDiscordUser(t)
	target := &discordgo.User{ID: "target-id", Username: "demotee"}
	role := &discordgo.Role{ID: "role-vip", Name: "VIP"}

	i := withResolvedRole(
		withResolvedUser(
			newCommandInteraction(
				t,
				moderator,
				DiscordSlashCommandRole,
				nil,
				userOption(target),
				&discordgo.ApplicationCommandInteractionDataOption{
					Name:  optionRole,
					Type:  discordgo.ApplicationCommandOptionRole,
					Value: role.ID,
				},
				boolOption(optionAdd, false),
			),
			target,
		),
		role,
	)
	handler := newStubInteractionHandler(t, session, i)

	bot.handleRoleCommand(context.Background(), handler)

	removed := <-session.rolesRemoved
	assert.Equal(t, target.ID, removed.UserID)

	resp := requireResponse(t, handler)
	assert.Equal(t, "✅ Removed role VIP from demotee", resp.Data.Content)
}
