package dolphinbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// InteractionLog is a DB model recording every inbound interaction,
// regardless of whether the command behind it ultimately succeeds.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	CommandName   string `json:"command_name" gorm:"type:string"`
	CustomID      string `json:"custom_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	rec := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		rec.CommandName = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		rec.CustomID = i.MessageComponentData().CustomID
	}
	return rec, nil
}

// InteractionHandler wraps the response surface of a single Discord
// interaction, so command handlers can be exercised in tests without a
// gateway connection.
type InteractionHandler interface {
	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Respond sends the initial interaction response
	Respond(
		ctx context.Context,
		resp *discordgo.InteractionResponse,
	) error

	// Edit modifies the original interaction response
	Edit(
		ctx context.Context,
		edit *discordgo.WebhookEdit,
	) (*discordgo.Message, error)

	// Followup sends a follow-up message for the interaction
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
	) (*discordgo.Message, error)

	Logger() *slog.Logger
}

// GatewayHandler handles interactions received over the discord gateway
// websocket connection.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	return w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	return w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		edit,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	return w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) Logger() *slog.Logger {
	if w.logger == nil {
		return slog.Default()
	}
	return w.logger
}

// ephemeralResponse wraps content in an interaction response only visible
// to the invoking user.
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// channelResponse wraps content in a normal, channel-visible
// interaction response.
func channelResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	}
}
