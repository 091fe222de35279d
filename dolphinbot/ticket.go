package dolphinbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Button custom IDs for the ticket system.
const (
	ticketButtonOrder      = "ticket_order"
	ticketButtonQuestion   = "ticket_question"
	ticketButtonSupport    = "ticket_support"
	ticketButtonClaim      = "claim_ticket"
	ticketButtonClose      = "close_ticket"
	ticketButtonTranscript = "transcript_ticket"

	ticketButtonPrefix = "ticket_"
)

// TicketState tracks a ticket channel's lifecycle.
type TicketState string

const (
	TicketStateOpen    TicketState = "open"
	TicketStateClaimed TicketState = "claimed"
	TicketStateClosed  TicketState = "closed"
)

// Ticket categories, derived from the panel button pressed.
const (
	TicketCategoryOrder    = "order"
	TicketCategoryQuestion = "question"
	TicketCategorySupport  = "support"
)

// User-facing ticket messages.
const (
	ticketMsgGuildOnly   = "❌ This command can only be used in a server."
	ticketMsgInvalidType = "❌ Invalid ticket type."
	ticketMsgCreating    = "🎟️ Creating your ticket..."
	ticketMsgCreateFail  = "❌ Failed to create ticket channel. " +
		"Please try again later."
	ticketMsgClaimFail   = "❌ Failed to claim ticket."
	ticketMsgCloseFail   = "❌ Failed to close ticket."
	ticketMsgTranscript  = "📝 Ticket transcript feature will be implemented " +
		"in a future update."
	ticketMsgPanelPosted = "✅ Ticket panel created successfully!"
)

// Ticket is the audit record for a ticket channel.
//
//nolint:lll // struct tags can't be split
type Ticket struct {
	ModelUintID
	ModelUnixTime
	GuildID     string      `json:"guild_id" gorm:"index;not null"`
	ChannelID   string      `json:"channel_id" gorm:"type:string"`
	ChannelName string      `json:"channel_name" gorm:"type:string"`
	Category    string      `json:"category" gorm:"type:string"`
	UserID      string      `json:"user_id" gorm:"index;not null"`
	Username    string      `json:"username" gorm:"type:string"`
	State       TicketState `json:"state" gorm:"type:string"`
	ClaimedBy   string      `json:"claimed_by" gorm:"type:string"`
}

func (t Ticket) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", t.GuildID),
		slog.String("channel_id", t.ChannelID),
		slog.String("category", t.Category),
		slog.String("user_id", t.UserID),
		slog.String("state", string(t.State)),
	)
}

// ticketCategoryFromCustomID derives the ticket category from a panel
// button's custom ID (`ticket_order` -> `order`). Returns "" for IDs
// that aren't a known category.
func ticketCategoryFromCustomID(customID string) string {
	category := strings.TrimPrefix(customID, ticketButtonPrefix)
	switch category {
	case TicketCategoryOrder, TicketCategoryQuestion, TicketCategorySupport:
		return category
	default:
		return ""
	}
}

// ticketChannelName derives the deterministic channel name for a
// (category, user) pair. At most one open channel may exist per name.
func ticketChannelName(category string, username string) string {
	return fmt.Sprintf("%s-%s", category, strings.ToLower(username))
}

func ticketCategoryColor(category string) int {
	switch category {
	case TicketCategoryOrder:
		return embedColorPurple
	case TicketCategoryQuestion:
		return embedColorBlue
	case TicketCategorySupport:
		return embedColorGreen
	default:
		return embedColorBlue
	}
}

// ticketActionButtons returns the staff action row posted inside a new
// ticket channel.
func ticketActionButtons() discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: ticketButtonClaim,
				Label:    "🔒 Claim Ticket",
				Style:    discordgo.PrimaryButton,
			},
			discordgo.Button{
				CustomID: ticketButtonClose,
				Label:    "❌ Close Ticket",
				Style:    discordgo.DangerButton,
			},
			discordgo.Button{
				CustomID: ticketButtonTranscript,
				Label:    "📝 Save Transcript",
				Style:    discordgo.SecondaryButton,
			},
		},
	}
}

// handleTicketButton processes a panel button press: validates the
// category, refuses a duplicate, and creates the ticket channel.
func (d *DolphinBot) handleTicketButton(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	customID := i.MessageComponentData().CustomID
	logger := handler.Logger().With(slog.Group(
		"ticket",
		"custom_id", customID,
		"user_id", user.ID,
		"guild_id", i.GuildID,
	))
	ctx = WithLogger(ctx, logger)

	if i.GuildID == "" {
		if err := handler.Respond(ctx, ephemeralResponse(ticketMsgGuildOnly)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}

	category := ticketCategoryFromCustomID(customID)
	if category == "" {
		if err := handler.Respond(ctx, ephemeralResponse(ticketMsgInvalidType)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}

	channelName := ticketChannelName(category, user.Username)
	channels, err := d.discord.session.GuildChannels(
		i.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error listing guild channels", tint.Err(err))
		if respErr := handler.Respond(ctx, ephemeralResponse(ticketMsgCreateFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	for _, ch := range channels {
		if ch.Name == channelName {
			existing := fmt.Sprintf(
				"❌ You already have an open %s ticket: <#%s>",
				category,
				ch.ID,
			)
			if respErr := handler.Respond(ctx, ephemeralResponse(existing)); respErr != nil {
				logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
			}
			return
		}
	}

	if err = handler.Respond(ctx, ephemeralResponse(ticketMsgCreating)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging ticket button", tint.Err(err))
		return
	}

	channel, err := d.createTicketChannel(ctx, i.GuildID, user, category, channels)
	if err != nil {
		logger.ErrorContext(ctx, "error creating ticket channel", tint.Err(err))
		failMsg := ticketMsgCreateFail
		if _, editErr := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &failMsg},
		); editErr != nil {
			logger.ErrorContext(ctx, "error editing ticket reply", tint.Err(editErr))
		}
		return
	}

	ticket := &Ticket{
		GuildID:     i.GuildID,
		ChannelID:   channel.ID,
		ChannelName: channelName,
		Category:    category,
		UserID:      user.ID,
		Username:    user.Username,
		State:       TicketStateOpen,
	}
	if _, dbErr := d.writeDB.Create(ctx, ticket); dbErr != nil {
		logger.ErrorContext(ctx, "error saving ticket", tint.Err(dbErr))
	}

	created := fmt.Sprintf("✅ Your ticket has been created: <#%s>", channel.ID)
	if _, editErr := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &created},
	); editErr != nil {
		logger.ErrorContext(ctx, "error editing ticket reply", tint.Err(editErr))
	}
}

// createTicketChannel creates the private ticket channel (and the parent
// category, if needed), restricted to the requester and the configured
// staff roles, and posts the welcome message with the staff action row.
func (d *DolphinBot) createTicketChannel(
	ctx context.Context,
	guildID string,
	user *discordgo.User,
	category string,
	channels []*discordgo.Channel,
) (*discordgo.Channel, error) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	var parentID string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory &&
			ch.Name == d.config.Ticket.CategoryName {
			parentID = ch.ID
			break
		}
	}
	if parentID == "" {
		parent, err := d.discord.session.GuildChannelCreateComplex(
			guildID,
			discordgo.GuildChannelCreateData{
				Name: d.config.Ticket.CategoryName,
				Type: discordgo.ChannelTypeGuildCategory,
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating ticket category: %w", err)
		}
		parentID = parent.ID
	}

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares the guild ID
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:   user.ID,
			Type: discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel |
				discordgo.PermissionSendMessages |
				discordgo.PermissionReadMessageHistory,
		},
	}
	for _, roleID := range d.config.Ticket.StaffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:   roleID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel |
				discordgo.PermissionSendMessages |
				discordgo.PermissionReadMessageHistory |
				discordgo.PermissionManageChannels,
		})
	}

	channel, err := d.discord.session.GuildChannelCreateComplex(
		guildID,
		discordgo.GuildChannelCreateData{
			Name:                 ticketChannelName(category, user.Username),
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             parentID,
			PermissionOverwrites: overwrites,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating ticket channel: %w", err)
	}

	welcome := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🎟️ %s Ticket", capitalize(category)),
		Description: fmt.Sprintf(
			"👋 Hello <@%s>! Please describe your request. "+
				"A staff member will be with you shortly.",
			user.ID,
		),
		Color: ticketCategoryColor(category),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Ticket Type", Value: capitalize(category), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Ticket opened by %s", user.String()),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if _, err = d.discord.session.ChannelMessageSendComplex(
		channel.ID,
		&discordgo.MessageSend{
			Content:    fmt.Sprintf("<@%s>", user.ID),
			Embeds:     []*discordgo.MessageEmbed{welcome},
			Components: []discordgo.MessageComponent{ticketActionButtons()},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		// channel exists; a failed welcome message shouldn't fail creation
		logger.ErrorContext(ctx, "error sending ticket welcome", tint.Err(err))
	}

	return channel, nil
}

// handleClaimTicket marks the current ticket channel as claimed by the
// pressing user, updating the channel topic.
func (d *DolphinBot) handleClaimTicket(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	logger := handler.Logger()

	if err := handler.Respond(
		ctx,
		channelResponse(fmt.Sprintf("✅ Ticket claimed by <@%s>", user.ID)),
	); err != nil {
		logger.ErrorContext(ctx, "error responding to claim", tint.Err(err))
		return
	}

	if _, err := d.discord.session.ChannelEditComplex(
		i.ChannelID,
		&discordgo.ChannelEdit{
			Topic: fmt.Sprintf("Claimed by: %s", user.String()),
		},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error updating ticket topic", tint.Err(err))
		d.followupEphemeral(ctx, handler, ticketMsgClaimFail)
		return
	}

	var ticket Ticket
	if err := d.db.WithContext(ctx).Where(
		"channel_id = ?", i.ChannelID,
	).First(&ticket).Error; err != nil {
		logger.WarnContext(ctx, "no ticket record for channel", tint.Err(err))
		return
	}
	if _, err := d.writeDB.Updates(
		ctx,
		&ticket,
		map[string]any{"state": TicketStateClaimed, "claimed_by": user.ID},
	); err != nil {
		logger.ErrorContext(ctx, "error updating ticket state", tint.Err(err))
	}
}

// handleCloseTicket posts a warning and deletes the ticket channel after
// the configured delay.
func (d *DolphinBot) handleCloseTicket(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	channelID := i.ChannelID

	warning := fmt.Sprintf(
		"🔒 Closing ticket in %d seconds...",
		int(d.config.Ticket.CloseDelay/time.Second),
	)
	if err := handler.Respond(ctx, channelResponse(warning)); err != nil {
		logger.ErrorContext(ctx, "error responding to close", tint.Err(err))
		return
	}

	closeDelay := d.config.Ticket.CloseDelay
	d.runtimeWG.Add(1)
	go func() {
		defer d.runtimeWG.Done()
		timer := time.NewTimer(closeDelay)
		defer timer.Stop()
		select {
		case <-d.shutdownCh:
			return
		case <-timer.C:
		}
		if _, err := d.discord.session.ChannelDelete(channelID); err != nil {
			logger.Error(
				"error deleting ticket channel",
				tint.Err(err),
				"channel_id", channelID,
			)
			return
		}
		dbCtx := context.Background()
		var ticket Ticket
		if err := d.db.WithContext(dbCtx).Where(
			"channel_id = ?", channelID,
		).First(&ticket).Error; err != nil {
			logger.Warn("no ticket record for channel", tint.Err(err))
			return
		}
		if _, err := d.writeDB.Updates(
			dbCtx,
			&ticket,
			map[string]any{"state": TicketStateClosed},
		); err != nil {
			logger.Error("error updating ticket state", tint.Err(err))
		}
	}()
}

// handleTicketTranscript is a stub: transcripts aren't implemented.
func (d *DolphinBot) handleTicketTranscript(
	ctx context.Context,
	handler InteractionHandler,
) {
	if err := handler.Respond(
		ctx,
		ephemeralResponse(ticketMsgTranscript),
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error responding to transcript",
			tint.Err(err),
		)
	}
}
