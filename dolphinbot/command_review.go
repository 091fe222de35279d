package dolphinbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ReviewState identifies where a review flow instance is in its linear
// progression, or which terminal exit it took.
type ReviewState string

const (
	ReviewStateStarted             ReviewState = "started"
	ReviewStateAwaitingRatings     ReviewState = "awaiting_ratings"
	ReviewStateAwaitingDescription ReviewState = "awaiting_description"
	ReviewStateCompleted           ReviewState = "completed"
	ReviewStateRejected            ReviewState = "rejected"
	ReviewStateDMFailed            ReviewState = "dm_failed"
	ReviewStateInvalidInput        ReviewState = "invalid_input"
	ReviewStateTimedOut            ReviewState = "timed_out"
)

// User-facing review flow messages.
const (
	reviewMsgMissingRole = "❌ You must have the required role to leave a review."
	reviewMsgInProgress  = "❌ You already have a review in progress. " +
		"Please finish it in your DMs first."
	reviewMsgContinueInDM = "📬 This process will continue in your DMs. " +
		"Please ensure your DMs are open!"
	reviewMsgDMBlocked = "❌ I couldn't send you a DM. Please check your " +
		"privacy settings and ensure you allow DMs from server members."
	reviewMsgRatingPrompt = "Please rate your experience using the following " +
		"format (1-5 stars for each):\n\n" +
		"Overall:  \n" +
		"Speed:  \n" +
		"Quality:  \n" +
		"Value for Money:"
	reviewMsgInvalidFormat = "❌ Invalid rating format. Please use the " +
		"`/review` command again and follow the format provided."
	reviewMsgDescriptionPrompt = "Thank you! Now please provide a short " +
		"description of your experience with our service."
	reviewMsgTimeout = "❌ Review process timed out or encountered an error. " +
		"Please use the `/review` command again to restart."
	reviewMsgComplete = "✅ Thank you for your review! It has been posted " +
		"in our reviews channel."
)

// ErrReplyTimeout is returned by awaitReply when no qualifying message
// arrives within the window.
var ErrReplyTimeout = errors.New("timed out waiting for reply")

// replyWaiters routes DM messages from the gateway MessageCreate handler
// to at most one waiting flow per (channel, user) pair.
type replyWaiters struct {
	mu      sync.Mutex
	waiting map[string]chan *discordgo.Message
}

func newReplyWaiters() *replyWaiters {
	return &replyWaiters{
		waiting: map[string]chan *discordgo.Message{},
	}
}

func replyWaiterKey(channelID string, userID string) string {
	return channelID + ":" + userID
}

// register adds a waiter for the given channel/user pair. The returned
// channel receives exactly one qualifying message.
func (w *replyWaiters) register(
	channelID string,
	userID string,
) chan *discordgo.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan *discordgo.Message, 1)
	w.waiting[replyWaiterKey(channelID, userID)] = ch
	return ch
}

func (w *replyWaiters) cancel(channelID string, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiting, replyWaiterKey(channelID, userID))
}

// offer hands an inbound message to a registered waiter, if any.
// Returns true if the message was consumed. Messages arriving while no
// waiter is registered are dropped.
func (w *replyWaiters) offer(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	key := replyWaiterKey(m.ChannelID, m.Author.ID)
	ch, ok := w.waiting[key]
	if !ok {
		return false
	}
	// one message per registration
	delete(w.waiting, key)
	ch <- m
	return true
}

// awaitReply suspends until a message from userID arrives in channelID,
// or until the timeout elapses. On timeout, a notice is sent into the
// channel and ErrReplyTimeout is returned; the caller must treat that as
// "abandon the flow".
func (d *DolphinBot) awaitReply(
	ctx context.Context,
	channelID string,
	userID string,
	timeout time.Duration,
) (*discordgo.Message, error) {
	ch := d.replies.register(channelID, userID)
	defer d.replies.cancel(channelID, userID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		if sendErr := d.discord.channelMessageSend(
			channelID,
			reviewMsgTimeout,
		); sendErr != nil {
			d.logger.Error(
				"error sending timeout notice",
				tint.Err(sendErr),
				"channel_id", channelID,
			)
		}
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reviewSession tracks one active review flow.
type reviewSession struct {
	UserID      string
	DMChannelID string
	State       ReviewState
	StartedAt   time.Time
}

// reviewSessionRegistry guards against a user running two review flows
// at once. One entry per user; entries are removed on every terminal
// path.
type reviewSessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*reviewSession
}

func newReviewSessionRegistry() *reviewSessionRegistry {
	return &reviewSessionRegistry{sessions: map[string]*reviewSession{}}
}

// begin registers a new session for the user. Returns nil if the user
// already has an active flow.
func (r *reviewSessionRegistry) begin(userID string) *reviewSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.sessions[userID]; active {
		return nil
	}
	session := &reviewSession{
		UserID:    userID,
		State:     ReviewStateStarted,
		StartedAt: time.Now(),
	}
	r.sessions[userID] = session
	return session
}

func (r *reviewSessionRegistry) end(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *reviewSessionRegistry) active(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}

// handleReviewCommand runs the `/review` flow end to end: role gate,
// acknowledgment, DM channel, ratings, description, publish, confirm.
// Strictly linear - every failure path is a terminal exit with its own
// user-facing message, and nothing retries automatically.
func (d *DolphinBot) handleReviewCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	user := getDiscordUser(i)
	logger := handler.Logger().With(slog.Group(
		"review_flow",
		"user_id", user.ID,
		"guild_id", i.GuildID,
	))
	ctx = WithLogger(ctx, logger)

	rec := &Review{
		UserID:   user.ID,
		Username: user.String(),
		GuildID:  i.GuildID,
		State:    ReviewStateStarted,
	}
	defer func() {
		if _, err := d.writeDB.Create(ctx, rec); err != nil {
			logger.ErrorContext(ctx, "error saving review record", tint.Err(err))
		}
	}()

	// 1. Gate on the customer role
	if !memberHasRole(i.Member, d.config.Review.CustomerRoleID) {
		rec.State = ReviewStateRejected
		if err := handler.Respond(ctx, ephemeralResponse(reviewMsgMissingRole)); err != nil {
			logger.ErrorContext(ctx, "error sending rejection", tint.Err(err))
		}
		return
	}

	// One flow per user at a time
	session := d.reviewSessions.begin(user.ID)
	if session == nil {
		rec.State = ReviewStateRejected
		if err := handler.Respond(ctx, ephemeralResponse(reviewMsgInProgress)); err != nil {
			logger.ErrorContext(ctx, "error sending in-progress notice", tint.Err(err))
		}
		return
	}
	defer d.reviewSessions.end(user.ID)

	// 2. Acknowledge; the rest of the flow happens in DMs
	if err := handler.Respond(ctx, ephemeralResponse(reviewMsgContinueInDM)); err != nil {
		logger.ErrorContext(ctx, "error acknowledging review command", tint.Err(err))
		rec.State = ReviewStateDMFailed
		return
	}

	// 3. Open the DM channel
	dm, err := d.discord.session.UserChannelCreate(
		user.ID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		rec.State = ReviewStateDMFailed
		d.followupEphemeral(ctx, handler, reviewMsgDMBlocked)
		return
	}
	session.DMChannelID = dm.ID
	rec.DMChannelID = dm.ID

	// 4. Collect ratings
	session.State = ReviewStateAwaitingRatings
	rec.State = ReviewStateAwaitingRatings
	if err = d.discord.channelMessageSend(
		dm.ID,
		reviewMsgRatingPrompt,
		discordgo.WithContext(ctx),
	); err != nil {
		// DM channel exists but the first send failed: treat the same as
		// DMs being blocked
		rec.State = ReviewStateDMFailed
		d.followupEphemeral(ctx, handler, reviewMsgDMBlocked)
		return
	}

	ratingReply, err := d.awaitReply(
		ctx,
		dm.ID,
		user.ID,
		d.config.Review.ReplyTimeout,
	)
	if err != nil {
		// the waiter already notified the channel on timeout
		rec.State = ReviewStateTimedOut
		logger.InfoContext(ctx, "review flow timed out awaiting ratings")
		return
	}

	ratings, err := parseRatings(ratingReply.Content)
	if err != nil {
		rec.State = ReviewStateInvalidInput
		logger.InfoContext(ctx, "invalid rating submission", tint.Err(err))
		if sendErr := d.discord.channelMessageSend(
			dm.ID,
			reviewMsgInvalidFormat,
			discordgo.WithContext(ctx),
		); sendErr != nil {
			logger.ErrorContext(ctx, "error sending invalid-format notice", tint.Err(sendErr))
		}
		return
	}
	rec.Overall = ratings.Overall
	rec.Speed = ratings.Speed
	rec.Quality = ratings.Quality
	rec.ValueForMoney = ratings.ValueForMoney

	// 5. Collect the description
	session.State = ReviewStateAwaitingDescription
	rec.State = ReviewStateAwaitingDescription
	if err = d.discord.channelMessageSend(
		dm.ID,
		reviewMsgDescriptionPrompt,
		discordgo.WithContext(ctx),
	); err != nil {
		rec.State = ReviewStateDMFailed
		logger.ErrorContext(ctx, "error sending description prompt", tint.Err(err))
		return
	}

	descriptionReply, err := d.awaitReply(
		ctx,
		dm.ID,
		user.ID,
		d.config.Review.ReplyTimeout,
	)
	if err != nil {
		rec.State = ReviewStateTimedOut
		logger.InfoContext(ctx, "review flow timed out awaiting description")
		return
	}

	description := strings.TrimSpace(descriptionReply.Content)
	if description == "" {
		rec.State = ReviewStateInvalidInput
		if sendErr := d.discord.channelMessageSend(
			dm.ID,
			reviewMsgInvalidFormat,
			discordgo.WithContext(ctx),
		); sendErr != nil {
			logger.ErrorContext(ctx, "error sending invalid-format notice", tint.Err(sendErr))
		}
		return
	}
	rec.Description = description

	// 6. Assemble and publish. From the user's perspective the flow has
	// succeeded once the record is assembled; publish failures are logged
	// and persisted but not surfaced.
	session.State = ReviewStateCompleted
	rec.State = ReviewStateCompleted
	_ = d.publishReview(ctx, rec, user)

	// 7. Confirm
	if sendErr := d.discord.channelMessageSend(
		dm.ID,
		reviewMsgComplete,
		discordgo.WithContext(ctx),
	); sendErr != nil {
		logger.ErrorContext(ctx, "error sending completion notice", tint.Err(sendErr))
	}
}

// followupEphemeral sends an ephemeral follow-up, logging (only) on failure.
func (d *DolphinBot) followupEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	if _, err := handler.Followup(
		ctx,
		&discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			fmt.Sprintf("error sending follow-up: %s", content),
			tint.Err(err),
		)
	}
}

// handleDiscordMessage receives gateway MessageCreate events and feeds
// DM replies to any waiting review flow. Bot messages (including our own
// prompts) never qualify.
func (d *DolphinBot) handleDiscordMessage(
	_ *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot {
		return
	}
	if d.replies.offer(m.Message) {
		d.logger.Debug(
			"consumed DM reply",
			"channel_id", m.ChannelID,
			"user_id", m.Author.ID,
		)
	}
}
