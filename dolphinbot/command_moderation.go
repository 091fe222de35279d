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

// Moderation action types, recorded for auditing.
const (
	moderationActionBan    = "ban"
	moderationActionKick   = "kick"
	moderationActionMute   = "mute"
	moderationActionUnmute = "unmute"
	moderationActionWarn   = "warn"
	moderationActionClear  = "clear"
	moderationActionRole   = "role"
)

const (
	moderationOutcomeSuccess = "success"
	moderationOutcomeFailed  = "failed"
)

const (
	moderationDefaultReason = "No reason provided"
	mutedRoleName           = "Muted"

	// Discord refuses to bulk-delete messages older than two weeks
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

const (
	moderationMsgBanFail = "❌ Failed to ban user. " +
		"Make sure I have the required permissions."
	moderationMsgKickFail = "❌ Failed to kick user. " +
		"Make sure I have the required permissions."
	moderationMsgMuteFail = "❌ Failed to mute user. " +
		"Make sure I have the required permissions."
	moderationMsgMutedRoleMissing = "❌ Muted role not found. " +
		`Please create a role named "Muted".`
	moderationMsgWarnFail = "❌ Failed to warn user. " +
		"They might have DMs disabled."
	moderationMsgClearFail = "❌ Failed to delete messages. " +
		"Messages older than 14 days cannot be bulk deleted."
	moderationMsgRoleFail = "❌ Failed to modify roles. " +
		"Make sure I have the required permissions."
	moderationMsgClearAmount = "❌ Amount must be between 1 and 100."
	moderationMsgUserMissing = "❌ User not found."
)

// ModerationAction is the audit record for a moderation command.
//
//nolint:lll // struct tags can't be split
type ModerationAction struct {
	ModelUintID
	ModelUnixTime
	Action            string `json:"action" gorm:"index;not null"`
	GuildID           string `json:"guild_id" gorm:"type:string"`
	TargetID          string `json:"target_id" gorm:"type:string"`
	TargetUsername    string `json:"target_username" gorm:"type:string"`
	ModeratorID       string `json:"moderator_id" gorm:"type:string"`
	ModeratorUsername string `json:"moderator_username" gorm:"type:string"`
	Reason            string `json:"reason" gorm:"type:string"`
	DurationMinutes   int64  `json:"duration_minutes"`
	Outcome           string `json:"outcome" gorm:"type:string"`
	Detail            string `json:"detail" gorm:"type:string"`
}

func (m ModerationAction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("action", m.Action),
		slog.String("guild_id", m.GuildID),
		slog.String("target_id", m.TargetID),
		slog.String("moderator_id", m.ModeratorID),
		slog.String("outcome", m.Outcome),
	)
}

// recordModeration persists a moderation audit row. Failures are logged,
// not surfaced - the moderation action itself already happened (or
// didn't) regardless.
func (d *DolphinBot) recordModeration(
	ctx context.Context,
	rec *ModerationAction,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}
	if _, err := d.writeDB.Create(ctx, rec); err != nil {
		logger.ErrorContext(
			ctx,
			"error recording moderation action",
			tint.Err(err),
			"moderation", rec,
		)
	}
}

func reasonOption(i *discordgo.InteractionCreate) string {
	opt, ok := discordInteractionOptions(i)[optionReason]
	if !ok {
		return moderationDefaultReason
	}
	reason := strings.TrimSpace(opt.StringValue())
	if reason == "" {
		return moderationDefaultReason
	}
	return reason
}

// handleBanCommand bans the target user with the given reason.
func (d *DolphinBot) handleBanCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	target := resolvedUserOption(i, optionUser)
	if target == nil {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgUserMissing)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	reason := reasonOption(i)
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionBan,
		GuildID:           i.GuildID,
		TargetID:          target.ID,
		TargetUsername:    target.Username,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
		Reason:            reason,
	}

	err := d.discord.session.GuildBanCreateWithReason(
		i.GuildID,
		target.ID,
		reason,
		0,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error banning user",
			tint.Err(err),
			"target_id", target.ID,
		)
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgBanFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	rec.Outcome = moderationOutcomeSuccess
	d.recordModeration(ctx, rec)
	reply := fmt.Sprintf(
		"✅ Successfully banned %s\nReason: %s",
		target.Username,
		reason,
	)
	if respErr := handler.Respond(ctx, channelResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}

// handleKickCommand removes the target user from the guild.
func (d *DolphinBot) handleKickCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	target := resolvedUserOption(i, optionUser)
	if target == nil {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgUserMissing)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	reason := reasonOption(i)
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionKick,
		GuildID:           i.GuildID,
		TargetID:          target.ID,
		TargetUsername:    target.Username,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
		Reason:            reason,
	}

	err := d.discord.session.GuildMemberDeleteWithReason(
		i.GuildID,
		target.ID,
		reason,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error kicking user",
			tint.Err(err),
			"target_id", target.ID,
		)
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgKickFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	rec.Outcome = moderationOutcomeSuccess
	d.recordModeration(ctx, rec)
	reply := fmt.Sprintf(
		"✅ Successfully kicked %s\nReason: %s",
		target.Username,
		reason,
	)
	if respErr := handler.Respond(ctx, channelResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}

// findMutedRole returns the guild's "Muted" role, matched by
// case-insensitive name equality, or nil if none exists.
func (d *DolphinBot) findMutedRole(
	ctx context.Context,
	guildID string,
) (*discordgo.Role, error) {
	roles, err := d.discord.session.GuildRoles(
		guildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error listing guild roles: %w", err)
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, mutedRoleName) {
			return role, nil
		}
	}
	return nil, nil
}

// handleMuteCommand assigns the guild's Muted role to the target for
// the given number of minutes, then removes it.
func (d *DolphinBot) handleMuteCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	target := resolvedUserOption(i, optionUser)
	if target == nil {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgUserMissing)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	durationOpt, ok := discordInteractionOptions(i)[optionDuration]
	if !ok {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgMuteFail)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	minutes := durationOpt.IntValue()
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionMute,
		GuildID:           i.GuildID,
		TargetID:          target.ID,
		TargetUsername:    target.Username,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
		DurationMinutes:   minutes,
	}

	mutedRole, err := d.findMutedRole(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error finding muted role", tint.Err(err))
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgMuteFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}
	if mutedRole == nil {
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = "muted role not found"
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(
			ctx,
			ephemeralResponse(moderationMsgMutedRoleMissing),
		); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	if err = d.discord.session.GuildMemberRoleAdd(
		i.GuildID,
		target.ID,
		mutedRole.ID,
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(
			ctx,
			"error adding muted role",
			tint.Err(err),
			"target_id", target.ID,
		)
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgMuteFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	rec.Outcome = moderationOutcomeSuccess
	d.recordModeration(ctx, rec)

	guildID := i.GuildID
	targetID := target.ID
	roleID := mutedRole.ID
	d.runtimeWG.Add(1)
	go func() {
		defer d.runtimeWG.Done()
		timer := time.NewTimer(time.Duration(minutes) * time.Minute)
		defer timer.Stop()
		select {
		case <-d.shutdownCh:
			return
		case <-timer.C:
		}
		unmute := &ModerationAction{
			Action:   moderationActionUnmute,
			GuildID:  guildID,
			TargetID: targetID,
		}
		if unmuteErr := d.discord.session.GuildMemberRoleRemove(
			guildID,
			targetID,
			roleID,
		); unmuteErr != nil {
			logger.Error(
				"error removing muted role",
				tint.Err(unmuteErr),
				"target_id", targetID,
			)
			unmute.Outcome = moderationOutcomeFailed
			unmute.Detail = unmuteErr.Error()
		} else {
			unmute.Outcome = moderationOutcomeSuccess
			logger.Info("unmuted user", "target_id", targetID)
		}
		d.recordModeration(context.Background(), unmute)
	}()

	reply := fmt.Sprintf(
		"✅ Successfully muted %s for %d minutes.",
		target.Username,
		minutes,
	)
	if respErr := handler.Respond(ctx, channelResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}

// handleWarnCommand DMs the target a warning for the given reason.
func (d *DolphinBot) handleWarnCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	target := resolvedUserOption(i, optionUser)
	if target == nil {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgUserMissing)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	reason := reasonOption(i)
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionWarn,
		GuildID:           i.GuildID,
		TargetID:          target.ID,
		TargetUsername:    target.Username,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
		Reason:            reason,
	}

	guildName := i.GuildID
	if guild, guildErr := d.discord.session.GuildWithCounts(
		i.GuildID,
		discordgo.WithContext(ctx),
	); guildErr == nil && guild != nil {
		guildName = guild.Name
	}

	dmChannel, err := d.discord.session.UserChannelCreate(
		target.ID,
		discordgo.WithContext(ctx),
	)
	if err == nil {
		_, err = d.discord.session.ChannelMessageSend(
			dmChannel.ID,
			fmt.Sprintf(
				"⚠️ You have been warned in %s\nReason: %s",
				guildName,
				reason,
			),
			discordgo.WithContext(ctx),
		)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error sending warning DM",
			tint.Err(err),
			"target_id", target.ID,
		)
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgWarnFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	rec.Outcome = moderationOutcomeSuccess
	d.recordModeration(ctx, rec)
	reply := fmt.Sprintf(
		"✅ Successfully warned %s\nReason: %s",
		target.Username,
		reason,
	)
	if respErr := handler.Respond(ctx, channelResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}

// handleClearCommand bulk-deletes up to 100 recent messages from the
// current channel. Messages older than two weeks are skipped, since
// Discord won't bulk-delete them.
func (d *DolphinBot) handleClearCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	amountOpt, ok := discordInteractionOptions(i)[optionAmount]
	if !ok {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgClearAmount)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	amount := amountOpt.IntValue()
	if amount < clearAmountMin || amount > clearAmountMax {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgClearAmount)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionClear,
		GuildID:           i.GuildID,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
	}

	messages, err := d.discord.session.ChannelMessages(
		i.ChannelID,
		int(amount),
		"",
		"",
		"",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching messages", tint.Err(err))
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgClearFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	messageIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp.After(cutoff) {
			messageIDs = append(messageIDs, msg.ID)
		}
	}

	if len(messageIDs) > 0 {
		if err = d.discord.session.ChannelMessagesBulkDelete(
			i.ChannelID,
			messageIDs,
			discordgo.WithContext(ctx),
		); err != nil {
			logger.ErrorContext(ctx, "error bulk deleting messages", tint.Err(err))
			rec.Outcome = moderationOutcomeFailed
			rec.Detail = err.Error()
			d.recordModeration(ctx, rec)
			if respErr := handler.Respond(
				ctx,
				ephemeralResponse(moderationMsgClearFail),
			); respErr != nil {
				logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
			}
			return
		}
	}

	rec.Outcome = moderationOutcomeSuccess
	rec.Detail = fmt.Sprintf("deleted %d messages", len(messageIDs))
	d.recordModeration(ctx, rec)
	reply := fmt.Sprintf("✅ Successfully deleted %d messages.", len(messageIDs))
	if respErr := handler.Respond(ctx, ephemeralResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}

// handleRoleCommand adds or removes a role from the target user.
func (d *DolphinBot) handleRoleCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	target := resolvedUserOption(i, optionUser)
	role := resolvedRoleOption(i, optionRole)
	if target == nil || role == nil {
		if err := handler.Respond(ctx, ephemeralResponse(moderationMsgRoleFail)); err != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(err))
		}
		return
	}
	var add bool
	if opt, ok := discordInteractionOptions(i)[optionAdd]; ok {
		add = opt.BoolValue()
	}
	moderator := getDiscordUser(i)

	rec := &ModerationAction{
		Action:            moderationActionRole,
		GuildID:           i.GuildID,
		TargetID:          target.ID,
		TargetUsername:    target.Username,
		ModeratorID:       moderator.ID,
		ModeratorUsername: moderator.Username,
		Reason:            fmt.Sprintf("role=%s add=%t", role.Name, add),
	}

	var err error
	if add {
		err = d.discord.session.GuildMemberRoleAdd(
			i.GuildID,
			target.ID,
			role.ID,
			discordgo.WithContext(ctx),
		)
	} else {
		err = d.discord.session.GuildMemberRoleRemove(
			i.GuildID,
			target.ID,
			role.ID,
			discordgo.WithContext(ctx),
		)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error modifying roles",
			tint.Err(err),
			"target_id", target.ID,
			"role_id", role.ID,
			"add", add,
		)
		rec.Outcome = moderationOutcomeFailed
		rec.Detail = err.Error()
		d.recordModeration(ctx, rec)
		if respErr := handler.Respond(ctx, ephemeralResponse(moderationMsgRoleFail)); respErr != nil {
			logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
		}
		return
	}

	rec.Outcome = moderationOutcomeSuccess
	d.recordModeration(ctx, rec)

	var reply string
	if add {
		reply = fmt.Sprintf("✅ Added role %s to %s", role.Name, target.Username)
	} else {
		reply = fmt.Sprintf(
			"✅ Removed role %s from %s",
			role.Name,
			target.Username,
		)
	}
	if respErr := handler.Respond(ctx, channelResponse(reply)); respErr != nil {
		logger.ErrorContext(ctx, "error responding", tint.Err(respErr))
	}
}
