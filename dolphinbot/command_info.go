package dolphinbot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const pingMsgPong = "🏓 Pong! Bot is online."

const statsMsgFail = "❌ Failed to fetch server statistics."

// handlePingCommand replies with a static liveness message.
func (d *DolphinBot) handlePingCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	if err := handler.Respond(ctx, ephemeralResponse(pingMsgPong)); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error responding to ping",
			tint.Err(err),
		)
	}
}

// helpEmbed lists every command the bot registers.
func helpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📚 Available Commands",
		Description: "Here's everything I can do:",
		Color:       embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "/" + DiscordSlashCommandReview,
				Value: "Leave a review for our services",
			},
			{
				Name:  "/" + DiscordSlashCommandTicket,
				Value: "Create a ticket panel (admin only)",
			},
			{
				Name:  "/" + DiscordSlashCommandPing,
				Value: "Check if the bot is online",
			},
			{
				Name:  "/" + DiscordSlashCommandHelp,
				Value: "Shows this message",
			},
			{
				Name:  "/" + DiscordSlashCommandStats,
				Value: "Display server statistics",
			},
			{
				Name:  "/" + DiscordSlashCommandClear,
				Value: "Clear messages in a channel",
			},
			{
				Name:  "/" + DiscordSlashCommandBan,
				Value: "Ban a user from the server",
			},
			{
				Name:  "/" + DiscordSlashCommandKick,
				Value: "Kick a user from the server",
			},
			{
				Name:  "/" + DiscordSlashCommandMute,
				Value: "Mute a user for a duration",
			},
			{
				Name:  "/" + DiscordSlashCommandWarn,
				Value: "Warn a user via DM",
			},
			{
				Name:  "/" + DiscordSlashCommandRole,
				Value: "Add or remove a role from a user",
			},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// handleHelpCommand replies with the command listing embed.
func (d *DolphinBot) handleHelpCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	if err := handler.Respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{helpEmbed()},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error responding to help",
			tint.Err(err),
		)
	}
}

// handleStatsCommand replies with approximate member/presence counts and
// channel/role totals for the current guild.
func (d *DolphinBot) handleStatsCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if i.GuildID == "" {
		if err := handler.Respond(ctx, ephemeralResponse(ticketMsgGuildOnly)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}

	guild, err := d.discord.session.GuildWithCounts(
		i.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching guild", tint.Err(err))
		if respErr := handler.Respond(ctx, ephemeralResponse(statsMsgFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	channels, err := d.discord.session.GuildChannels(
		i.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching channels", tint.Err(err))
		if respErr := handler.Respond(ctx, ephemeralResponse(statsMsgFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	roles, err := d.discord.session.GuildRoles(
		i.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching roles", tint.Err(err))
		if respErr := handler.Respond(ctx, ephemeralResponse(statsMsgFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "📊 Server Statistics",
		Color: embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Members",
				Value:  fmt.Sprintf("%d", guild.ApproximateMemberCount),
				Inline: true,
			},
			{
				Name:   "Online",
				Value:  fmt.Sprintf("%d", guild.ApproximatePresenceCount),
				Inline: true,
			},
			{
				Name:   "Channels",
				Value:  fmt.Sprintf("%d", len(channels)),
				Inline: true,
			},
			{
				Name:   "Roles",
				Value:  fmt.Sprintf("%d", len(roles)),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: guild.Name,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err = handler.Respond(ctx, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	}); err != nil {
		logger.ErrorContext(ctx, "error responding to stats", tint.Err(err))
	}
}
