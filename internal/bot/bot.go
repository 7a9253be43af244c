package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/Nintendo-user96/Monika-sub000/internal/ai"
	"github.com/Nintendo-user96/Monika-sub000/internal/config"
	"github.com/Nintendo-user96/Monika-sub000/internal/discord"
	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

// CredentialPool is the part of the credential pool the bot reports on
// and can revalidate on request.
type CredentialPool interface {
	Status() []keypool.CredentialStatus
	BlackoutActive() bool
	Revalidate(ctx context.Context, probe keypool.ProbeFunc) error
}

// Bot represents the Discord bot
type Bot struct {
	session  discord.Session
	aiClient ai.Client
	pool     CredentialPool
	probe    keypool.ProbeFunc
	config   *config.Config
	logger   *slog.Logger
	botID    string

	// ctx is the parent of every handler context; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	revalidating atomic.Bool
}

// NewBot creates a new bot instance and registers its message handler.
// probe is used by !revalidate and may be nil to disable it.
func NewBot(cfg *config.Config, session discord.Session, aiClient ai.Client, pool CredentialPool, probe keypool.ProbeFunc, logger *slog.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	bot := &Bot{
		session:  session,
		aiClient: aiClient,
		pool:     pool,
		probe:    probe,
		config:   cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	session.AddHandler(bot.messageHandler)

	return bot
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) error {
	err := b.session.Open()
	if err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	user, err := b.session.User("@me")
	if err != nil {
		return fmt.Errorf("error obtaining account details: %w", err)
	}
	b.botID = user.ID

	b.logger.InfoContext(ctx, "bot started",
		"username", user.Username,
		"user_id", user.ID)

	return nil
}

// Close cancels in-flight handlers and closes the bot session
func (b *Bot) Close(ctx context.Context) error {
	b.logger.InfoContext(ctx, "closing bot session")
	b.cancel()
	return b.session.Close()
}

// messageHandler adapts discordgo events to handleMessage
func (b *Bot) messageHandler(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.handleMessage(b.ctx, m.Message)
}

// handleMessage routes commands, mentions and direct messages
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.botID {
		return
	}

	if strings.HasPrefix(m.Content, CommandPrefix) {
		b.handleCommand(ctx, m)
		return
	}

	if m.GuildID == "" || b.mentionsBot(m) {
		b.handleChat(ctx, m)
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *discordgo.Message) {
	parts := strings.Fields(m.Content)
	if len(parts) == 0 {
		return
	}

	command := strings.ToLower(strings.TrimPrefix(parts[0], CommandPrefix))
	args := parts[1:]

	b.logger.InfoContext(ctx, "received command",
		"command", command,
		"user_id", m.Author.ID,
		"username", m.Author.Username,
		"channel_id", m.ChannelID,
		"args_count", len(args))

	switch command {
	case "ping":
		b.send(ctx, m.ChannelID, "Pong!")
	case "help":
		b.send(ctx, m.ChannelID, helpText)
	case "keys":
		b.handleKeys(ctx, m)
	case "revalidate":
		b.handleRevalidate(ctx, m)
	case "ask":
		b.handleAsk(ctx, m, args)
	case "opinion":
		b.handleOpinion(ctx, m, args)
	case "who_won":
		b.handleWhoWon(ctx, m, args)
	case "image_opinion":
		b.handleImageOpinion(ctx, m, args)
	default:
		b.logger.InfoContext(ctx, "unknown command", "command", command)
	}
}

func (b *Bot) mentionsBot(m *discordgo.Message) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == b.botID {
			return true
		}
	}
	return false
}

// reply runs generate and sends its result. During the blackout window it
// answers immediately instead of holding the request until morning.
func (b *Bot) reply(ctx context.Context, channelID, operation string, generate func(ctx context.Context) (string, error)) {
	if b.pool.BlackoutActive() {
		b.logger.InfoContext(ctx, "blackout active, skipping AI request", "operation", operation)
		b.send(ctx, channelID, ai.ScheduledBreakReply)
		return
	}

	if err := b.session.ChannelTyping(channelID); err != nil {
		b.logger.WarnContext(ctx, "failed to send typing indicator", "channel_id", channelID, "error", err)
	}

	response, err := generate(ctx)
	if ctx.Err() != nil {
		b.logger.InfoContext(ctx, "request abandoned, bot shutting down", "operation", operation)
		return
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "AI request failed", "operation", operation, "error", err)
		b.send(ctx, channelID, failureReply(err))
		return
	}

	b.sendConversational(ctx, channelID, response)
}

// failureReply picks the user-facing text for a failed request. Raw
// errors never reach the channel.
func failureReply(err error) string {
	var vErr *ai.ValidationError
	switch {
	case errors.As(err, &vErr):
		return "I can't work with that: " + vErr.Message + "."
	case errors.Is(err, keypool.ErrNoValidCredentials):
		return ai.UnavailableReply
	case errors.Is(err, keypool.ErrBlackoutActive):
		return ai.ScheduledBreakReply
	case keypool.KindOf(err) == keypool.FailureRateLimited:
		return "I'm getting too many questions at once. Give me a minute and try again."
	default:
		return "Something went wrong while I was thinking about that."
	}
}
