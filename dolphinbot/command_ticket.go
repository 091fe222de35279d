package dolphinbot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const ticketMsgPanelAdminOnly = "❌ You need administrator permissions " +
	"to use this command."

// ticketPanelEmbed is the embed posted by `/ticket`, explaining the
// three ticket categories.
func ticketPanelEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🎟️ Support Ticket System",
		Description: "Need help? Open a ticket below:",
		Color:       embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "🎨 Order",
				Value:  "Place a new order or ask about an existing one",
				Inline: false,
			},
			{
				Name:   "❓ Questions",
				Value:  "General questions about our services",
				Inline: false,
			},
			{
				Name:   "🛠️ Support",
				Value:  "Technical support and other issues",
				Inline: false,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Click a button below to create a ticket",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ticketPanelButtons is the action row of category buttons on the panel.
func ticketPanelButtons() discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: ticketButtonOrder,
				Label:    "🎨 Order",
				Style:    discordgo.PrimaryButton,
			},
			discordgo.Button{
				CustomID: ticketButtonQuestion,
				Label:    "❓ Questions",
				Style:    discordgo.SecondaryButton,
			},
			discordgo.Button{
				CustomID: ticketButtonSupport,
				Label:    "🛠️ Support",
				Style:    discordgo.SuccessButton,
			},
		},
	}
}

// handleTicketCommand posts the ticket panel to the current channel.
// Admin-only; the command's default member permissions already gate it,
// this is a backstop for servers that loosened them.
func (d *DolphinBot) handleTicketCommand(
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
	if !memberIsAdmin(i.Member) {
		if err := handler.Respond(
			ctx,
			ephemeralResponse(ticketMsgPanelAdminOnly),
		); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}

	if _, err := d.discord.session.ChannelMessageSendComplex(
		i.ChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{ticketPanelEmbed()},
			Components: []discordgo.MessageComponent{ticketPanelButtons()},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error posting ticket panel", tint.Err(err))
		failMsg := fmt.Sprintf(
			"❌ Failed to create ticket panel: %s",
			truncate(err.Error(), 100),
		)
		if respErr := handler.Respond(ctx, ephemeralResponse(failMsg)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	if err := handler.Respond(
		ctx,
		ephemeralResponse(ticketMsgPanelPosted),
	); err != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(err))
	}
}
