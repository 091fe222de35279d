package dolphinbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ratingMin  = 1
	ratingMax  = 5
	starFilled = "⭐"
	starEmpty  = "☆"

	embedColorBlue   = 0x3498DB
	embedColorPurple = 0x9B59B6
	embedColorGreen  = 0x2ECC71
)

// Rating labels expected in the user's DM reply, matched
// case-insensitively, in any order.
const (
	ratingLabelOverall = "Overall"
	ratingLabelSpeed   = "Speed"
	ratingLabelQuality = "Quality"
	ratingLabelValue   = "Value for Money"
)

var (
	// ErrRatingMissing indicates at least one rating label wasn't found
	ErrRatingMissing = errors.New("missing rating")

	// ErrRatingOutOfRange indicates a labeled rating was found, but its
	// value was outside 1-5
	ErrRatingOutOfRange = errors.New("rating out of range")
)

// RatingSet holds the four ratings collected by the review flow, each
// in [1,5].
type RatingSet struct {
	Overall       int `json:"overall"`
	Speed         int `json:"speed"`
	Quality       int `json:"quality"`
	ValueForMoney int `json:"value_for_money"`
}

// Review is a completed (or abandoned) review flow record. Completed
// reviews are also published as an embed to the configured channel; the
// row is the audit trail, including any publish failure.
//
//nolint:lll // struct tags can't be split
type Review struct {
	ModelUintID
	ModelUnixTime
	UserID        string      `json:"user_id" gorm:"index;not null"`
	Username      string      `json:"username" gorm:"type:string"`
	GuildID       string      `json:"guild_id" gorm:"type:string"`
	DMChannelID   string      `json:"dm_channel_id" gorm:"type:string"`
	State         ReviewState `json:"state" gorm:"type:string"`
	Overall       int         `json:"overall"`
	Speed         int         `json:"speed"`
	Quality       int         `json:"quality"`
	ValueForMoney int         `json:"value_for_money"`
	Description   string      `json:"description" gorm:"type:string"`

	// PublishedMessageID is the ID of the embed message posted to the
	// review channel, if publishing succeeded
	PublishedMessageID string `json:"published_message_id" gorm:"type:string"`

	// PublishError records a failed publish. The user still sees the
	// completion notice in that case.
	PublishError string `json:"publish_error" gorm:"type:string"`
}

func (r Review) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", r.UserID),
		slog.String("state", string(r.State)),
		slog.Int("overall", r.Overall),
		slog.Int("speed", r.Speed),
		slog.Int("quality", r.Quality),
		slog.Int("value_for_money", r.ValueForMoney),
	)
}

var ratingLinePattern = `(?i)%s:[ \t]*(\d+)`

var (
	reRatingOverall = regexp.MustCompile(fmt.Sprintf(ratingLinePattern, ratingLabelOverall))
	reRatingSpeed   = regexp.MustCompile(fmt.Sprintf(ratingLinePattern, ratingLabelSpeed))
	reRatingQuality = regexp.MustCompile(fmt.Sprintf(ratingLinePattern, ratingLabelQuality))
	reRatingValue   = regexp.MustCompile(fmt.Sprintf(ratingLinePattern, ratingLabelValue))
)

// parseRatings extracts the four labeled ratings from free-form text.
// Labels are matched case-insensitively and may appear in any order or
// line arrangement. All four labels must be present and every value must
// be in [1,5]; any miss invalidates the whole submission.
func parseRatings(content string) (*RatingSet, error) {
	labels := []struct {
		label string
		re    *regexp.Regexp
		dest  *int
	}{
		{ratingLabelOverall, reRatingOverall, nil},
		{ratingLabelSpeed, reRatingSpeed, nil},
		{ratingLabelQuality, reRatingQuality, nil},
		{ratingLabelValue, reRatingValue, nil},
	}
	ratings := &RatingSet{}
	labels[0].dest = &ratings.Overall
	labels[1].dest = &ratings.Speed
	labels[2].dest = &ratings.Quality
	labels[3].dest = &ratings.ValueForMoney

	for _, l := range labels {
		m := l.re.FindStringSubmatch(content)
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrRatingMissing, l.label)
		}
		value, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrRatingMissing, l.label)
		}
		if value < ratingMin || value > ratingMax {
			return nil, fmt.Errorf(
				"%w: %s: %d",
				ErrRatingOutOfRange,
				l.label,
				value,
			)
		}
		*l.dest = value
	}

	return ratings, nil
}

// starRating renders a rating as a fixed-width row of five star glyphs:
// `rating` filled stars followed by `5-rating` empty ones.
func starRating(rating int) string {
	if rating < ratingMin {
		rating = ratingMin
	}
	if rating > ratingMax {
		rating = ratingMax
	}
	return strings.Repeat(starFilled, rating) +
		strings.Repeat(starEmpty, ratingMax-rating)
}

// reviewEmbed renders a completed review as the embed posted to the
// review channel.
func reviewEmbed(rec *Review, author *discordgo.User) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "🌟 New Customer Review",
		Color: embedColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Overall", Value: starRating(rec.Overall), Inline: true},
			{Name: "Speed", Value: starRating(rec.Speed), Inline: true},
			{Name: "Quality", Value: starRating(rec.Quality), Inline: true},
			{
				Name:   "Value for Money",
				Value:  starRating(rec.ValueForMoney),
				Inline: true,
			},
			{Name: "Description", Value: rec.Description},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if author != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("Review by %s", author.String()),
			IconURL: author.AvatarURL(""),
		}
	}
	return embed
}

// publishReview posts the review embed to the configured review channel
// and records the outcome on the review row. A publish failure is logged
// and persisted, but deliberately not surfaced to the reviewer - by the
// time we're here, the flow has already told them it succeeded.
func (d *DolphinBot) publishReview(
	ctx context.Context,
	rec *Review,
	author *discordgo.User,
) error {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}

	channelID := d.config.Review.ChannelID
	if channelID == "" {
		rec.PublishError = "review channel not configured"
		return errors.New(rec.PublishError)
	}

	msg, err := d.discord.session.ChannelMessageSendEmbed(
		channelID,
		reviewEmbed(rec, author),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		rec.PublishError = err.Error()
		logger.ErrorContext(
			ctx,
			"error publishing review",
			tint.Err(err),
			"channel_id", channelID,
			"review", rec,
		)
		return err
	}
	rec.PublishedMessageID = msg.ID
	logger.InfoContext(
		ctx,
		"published review",
		"channel_id", channelID,
		"message_id", msg.ID,
		"review", rec,
	)
	return nil
}
