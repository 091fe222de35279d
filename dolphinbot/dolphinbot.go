// Package dolphinbot implements a Discord community bot built around
// three surfaces: a DM-driven review collection flow, a button-based
// ticket system, and a set of moderation slash commands. State is kept
// in a SQL database (sqlite by default), and an optional read-only HTTP
// API exposes the audit records.
package dolphinbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var structValidator = validator.New()

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
}

const (
	rateLimitMsg = "⏳ You're doing that too fast. " +
		"Please wait a moment and try again."
	unknownCommandMsg   = "❌ Unknown command."
	unknownComponentMsg = "❌ Unknown button interaction."
)

// DolphinBot is the root of the bot: it owns the Discord connection,
// the database, and the per-flow state registries. Create one with
// [New] and start it with [DolphinBot.Run].
type DolphinBot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      *gorm.DB
	writeDB DBI
	discord *Discord

	// replies routes inbound DM messages to waiting review flows
	replies *replyWaiters

	// reviewSessions enforces one active review flow per user
	reviewSessions *reviewSessionRegistry

	// userLimiters rate-limits slash commands per user
	userLimiters   map[string]*rate.Limiter
	userLimitersMu sync.Mutex

	// runtimeWG tracks background goroutines (delayed ticket close,
	// timed unmute) so shutdown can wait on them
	runtimeWG  sync.WaitGroup
	shutdownCh chan struct{}

	eventHandlersRegistered sync.Once
}

// New creates a DolphinBot from the given config, validating it and
// wiring up logging. The bot doesn't touch the network or the database
// until [DolphinBot.Run].
func New(config *Config) (*DolphinBot, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	logHandler := newLogHandler(config.LogLevel)
	logger := slog.New(logHandler).With(loggerNameKey, "dolphinbot")

	bot := &DolphinBot{
		config:         config,
		logger:         logger,
		logHandler:     logHandler,
		replies:        newReplyWaiters(),
		reviewSessions: newReviewSessionRegistry(),
		userLimiters:   map[string]*rate.Limiter{},
		shutdownCh:     make(chan struct{}),
	}

	bot.discord = newDiscord(config.Discord)
	bot.discord.logger = slog.New(newLogHandler(config.Discord.LogLevel)).With(
		loggerNameKey,
		"discord",
	)
	bot.discord.bot = bot
	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
	}

	return bot, nil
}

// ValidateConfig validates the config's struct binding tags.
func ValidateConfig(config *Config) error {
	if err := structValidator.Struct(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Run connects to the database and the Discord gateway, registers
// commands, and (optionally) serves the status API. It blocks until
// ctx is canceled, then shuts down gracefully within
// Config.ShutdownTimeout.
func (d *DolphinBot) Run(ctx context.Context) error {
	db, err := CreateDB(
		ctx,
		d.config.DatabaseType,
		d.config.Database,
		&gorm.Config{
			Logger: newGORMLogger(
				newLogHandler(d.config.DatabaseLogLevel),
				d.config.DatabaseSlowThreshold,
			),
		},
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.db = db
	d.writeDB = NewDatabase(db, d.logger)

	session, err := d.discord.newSession()
	if err != nil {
		return err
	}
	d.discord.session = session
	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		newLogHandler(d.config.Discord.DiscordGoLogLevel),
	)

	d.registerGatewayHandlers()

	startupCtx, startupCancel := context.WithTimeout(
		ctx,
		d.config.StartupTimeout,
	)
	defer startupCancel()

	openErr := make(chan error, 1)
	go func() {
		openErr <- session.Open()
	}()
	select {
	case err = <-openErr:
		if err != nil {
			return fmt.Errorf("error connecting to discord: %w", err)
		}
	case <-startupCtx.Done():
		return fmt.Errorf(
			"timed out connecting to discord after %s",
			d.config.StartupTimeout,
		)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Error("error closing discord session", tint.Err(closeErr))
		}
	}()

	if _, err = d.discord.registerCommands(
		discordgo.WithContext(startupCtx),
	); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	if d.config.API.Enabled {
		g.Go(func() error {
			return d.serveAPI(groupCtx)
		})
	}
	g.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		d.logger.Error("runtime error", tint.Err(runErr))
	}

	close(d.shutdownCh)
	done := make(chan struct{})
	go func() {
		d.runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("shutdown complete")
	case <-time.After(d.config.ShutdownTimeout):
		d.logger.Warn(
			"shutdown timeout elapsed with goroutines still running",
			"timeout", d.config.ShutdownTimeout,
		)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// registerGatewayHandlers attaches the bot's gateway event handlers.
// Idempotent, so tests can call it without double-registering.
func (d *DolphinBot) registerGatewayHandlers() {
	d.eventHandlersRegistered.Do(func() {
		d.discord.session.AddHandler(d.discord.handlerReady())
		d.discord.session.AddHandler(d.discord.handlerConnect())
		d.discord.session.AddHandler(d.discord.handlerDisconnect())
		d.discord.session.AddHandler(d.handleInteraction)
		d.discord.session.AddHandler(d.handleDiscordMessage)
	})
}

// userLimiter returns (creating if needed) the rate limiter for the
// given user ID.
func (d *DolphinBot) userLimiter(userID string) *rate.Limiter {
	d.userLimitersMu.Lock()
	defer d.userLimitersMu.Unlock()
	limiter, ok := d.userLimiters[userID]
	if !ok {
		limiter = rate.NewLimiter(
			rate.Every(DefaultUserRateEvery),
			DefaultUserRateBurst,
		)
		d.userLimiters[userID] = limiter
	}
	return limiter
}

// handleInteraction receives InteractionCreate gateway events and
// dispatches them. Runs in its own goroutine per event so a slow flow
// (the review DM exchange can take minutes) never blocks the gateway
// loop.
func (d *DolphinBot) handleInteraction(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i == nil || i.Interaction == nil {
		return
	}
	handler := d.getInteractionHandlerFunc(i)
	d.runtimeWG.Add(1)
	go func() {
		defer d.runtimeWG.Done()
		ctx := WithLogger(context.Background(), handler.Logger())
		d.routeInteraction(ctx, handler)
	}()
}

// getInteractionHandlerFunc wraps an interaction in a GatewayHandler
// with a request-scoped logger.
func (d *DolphinBot) getInteractionHandlerFunc(
	i *discordgo.InteractionCreate,
) InteractionHandler {
	logger := d.logger.With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	return GatewayHandler{
		session:     d.discord.session,
		interaction: i,
		logger:      logger,
	}
}

// routeInteraction dispatches one interaction to the matching handler,
// after audit-logging it and applying the per-user rate limit.
func (d *DolphinBot) routeInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	defer d.handleRecover(ctx)
	i := handler.GetInteraction()
	logger := handler.Logger()

	user := getDiscordUser(i)
	if user == nil {
		logger.WarnContext(ctx, "interaction with no user, ignoring")
		return
	}

	if rec, err := newInteractionLog(i, user); err != nil {
		logger.ErrorContext(ctx, "error building interaction log", tint.Err(err))
	} else if _, err = d.writeDB.Create(ctx, rec); err != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}

	switch i.Type {
	case discordgo.InteractionPing:
		if err := handler.Respond(ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponsePong,
		}); err != nil {
			logger.ErrorContext(ctx, "error responding to ping", tint.Err(err))
		}
	case discordgo.InteractionMessageComponent:
		d.routeComponent(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		if !d.userLimiter(user.ID).Allow() {
			logger.InfoContext(ctx, "rate limited", "user_id", user.ID)
			if err := handler.Respond(ctx, ephemeralResponse(rateLimitMsg)); err != nil {
				logger.ErrorContext(ctx, "error sending rate limit notice", tint.Err(err))
			}
			return
		}
		d.routeCommand(ctx, handler)
	default:
		logger.WarnContext(
			ctx,
			"unhandled interaction type",
			"type", i.Type.String(),
		)
	}
}

func (d *DolphinBot) routeComponent(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	customID := i.MessageComponentData().CustomID
	switch customID {
	case ticketButtonOrder, ticketButtonQuestion, ticketButtonSupport:
		d.handleTicketButton(ctx, handler)
	case ticketButtonClaim:
		d.handleClaimTicket(ctx, handler)
	case ticketButtonClose:
		d.handleCloseTicket(ctx, handler)
	case ticketButtonTranscript:
		d.handleTicketTranscript(ctx, handler)
	default:
		handler.Logger().WarnContext(
			ctx,
			"unknown component",
			"custom_id", customID,
		)
		if err := handler.Respond(ctx, ephemeralResponse(unknownComponentMsg)); err != nil {
			handler.Logger().ErrorContext(ctx, "error responding", tint.Err(err))
		}
	}
}

func (d *DolphinBot) routeCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	name := i.ApplicationCommandData().Name
	switch name {
	case DiscordSlashCommandReview:
		d.handleReviewCommand(ctx, handler)
	case DiscordSlashCommandTicket:
		d.handleTicketCommand(ctx, handler)
	case DiscordSlashCommandPing:
		d.handlePingCommand(ctx, handler)
	case DiscordSlashCommandHelp:
		d.handleHelpCommand(ctx, handler)
	case DiscordSlashCommandStats:
		d.handleStatsCommand(ctx, handler)
	case DiscordSlashCommandClear:
		d.handleClearCommand(ctx, handler)
	case DiscordSlashCommandBan:
		d.handleBanCommand(ctx, handler)
	case DiscordSlashCommandKick:
		d.handleKickCommand(ctx, handler)
	case DiscordSlashCommandMute:
		d.handleMuteCommand(ctx, handler)
	case DiscordSlashCommandWarn:
		d.handleWarnCommand(ctx, handler)
	case DiscordSlashCommandRole:
		d.handleRoleCommand(ctx, handler)
	default:
		handler.Logger().WarnContext(ctx, "unknown command", "command", name)
		if err := handler.Respond(ctx, ephemeralResponse(unknownCommandMsg)); err != nil {
			handler.Logger().ErrorContext(ctx, "error responding", tint.Err(err))
		}
	}
}

// handleRecover logs a panic from an interaction handler without taking
// the whole bot down.
func (d *DolphinBot) handleRecover(ctx context.Context) {
	if r := recover(); r != nil {
		logger, ok := ContextLogger(ctx)
		if !ok {
			logger = d.logger
		}
		logger.ErrorContext(
			ctx,
			"recovered from panic in interaction handler",
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
