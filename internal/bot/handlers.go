package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Nintendo-user96/Monika-sub000/internal/ai"
	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

// handleKeys reports the credential pool status
func (b *Bot) handleKeys(ctx context.Context, m *discordgo.Message) {
	b.send(ctx, m.ChannelID, formatKeyStatus(b.pool.Status(), b.pool.BlackoutActive()))
}

// handleRevalidate re-probes every configured key and reports the result.
// Only one revalidation runs at a time.
func (b *Bot) handleRevalidate(ctx context.Context, m *discordgo.Message) {
	if b.probe == nil {
		b.send(ctx, m.ChannelID, "Revalidation is not available.")
		return
	}
	if !b.revalidating.CompareAndSwap(false, true) {
		b.send(ctx, m.ChannelID, "Already revalidating credentials, hang on.")
		return
	}
	defer b.revalidating.Store(false)

	b.logger.InfoContext(ctx, "revalidating credentials", "user_id", m.Author.ID)
	if err := b.session.ChannelTyping(m.ChannelID); err != nil {
		b.logger.WarnContext(ctx, "failed to send typing indicator", "channel_id", m.ChannelID, "error", err)
	}

	if err := b.pool.Revalidate(ctx, b.probe); err != nil {
		b.logger.ErrorContext(ctx, "revalidation failed", "error", err)
		if errors.Is(err, keypool.ErrNoValidCredentials) {
			b.send(ctx, m.ChannelID, "No credential passed validation. Keeping the current pool.")
			return
		}
		b.send(ctx, m.ChannelID, "Revalidation failed.")
		return
	}
	b.send(ctx, m.ChannelID, "Revalidation finished.\n"+formatKeyStatus(b.pool.Status(), b.pool.BlackoutActive()))
}

// handleAsk handles the !ask command
func (b *Bot) handleAsk(ctx context.Context, m *discordgo.Message, args []string) {
	if len(args) == 0 {
		b.send(ctx, m.ChannelID, "Usage: !ask <question>")
		return
	}
	prompt := strings.Join(args, " ")

	b.reply(ctx, m.ChannelID, "ask", func(ctx context.Context) (string, error) {
		return b.aiClient.AskClient(ctx, prompt, ai.Persona, b.config.Model, ai.DefaultMaxTokens)
	})
}

// handleOpinion handles the !opinion command
func (b *Bot) handleOpinion(ctx context.Context, m *discordgo.Message, args []string) {
	numMessages := parseCount(args, DefaultHistoryMessageCount)

	b.reply(ctx, m.ChannelID, "opinion", func(ctx context.Context) (string, error) {
		history, err := b.formatChannelHistory(ctx, m.ChannelID, numMessages)
		if err != nil {
			return "", err
		}

		systemMessage := fmt.Sprintf("%s\nHere are the last %d messages in this channel:\n%s\n"+
			"Form an opinion or summary about the conversation.", ai.Persona, numMessages, history)

		return b.aiClient.AskClient(ctx, "What is your opinion on the recent conversation?",
			systemMessage, b.config.Model, ai.DefaultMaxTokens)
	})
}

// handleWhoWon handles the !who_won command
func (b *Bot) handleWhoWon(ctx context.Context, m *discordgo.Message, args []string) {
	numMessages := parseCount(args, DefaultWhoWonMessageCount)

	b.reply(ctx, m.ChannelID, "who_won", func(ctx context.Context) (string, error) {
		history, err := b.formatChannelHistory(ctx, m.ChannelID, numMessages)
		if err != nil {
			return "", err
		}

		systemMessage := fmt.Sprintf("%s\nHere are the last %d messages in this channel:\n%s\n"+
			"Based on the arguments and discussions, determine who won the arguments and why. "+
			"Be specific and fair, and explain your reasoning.", ai.Persona, numMessages, history)

		return b.aiClient.AskClient(ctx, "Who won the arguments in the recent conversation?",
			systemMessage, b.config.Model, ai.DefaultMaxTokens)
	})
}

// handleImageOpinion handles the !image_opinion command
func (b *Bot) handleImageOpinion(ctx context.Context, m *discordgo.Message, args []string) {
	imageURL, customPrompt, err := b.resolveImage(m, args)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to fetch referenced message", "error", err)
		b.send(ctx, m.ChannelID, "Could not fetch the replied message.")
		return
	}
	if imageURL == "" {
		b.send(ctx, m.ChannelID, "Please attach an image, provide a valid image URL (starting with http/https), or reply to a message with an image.")
		return
	}

	b.reply(ctx, m.ChannelID, "image_opinion", func(ctx context.Context) (string, error) {
		return b.aiClient.ImageOpinion(ctx, imageURL, ai.Persona, b.config.VisionModel, ai.DefaultMaxTokens, customPrompt)
	})
}

// resolveImage finds the image from an attachment, a replied-to message or
// a URL argument, in that order. Remaining arguments become the prompt.
func (b *Bot) resolveImage(m *discordgo.Message, args []string) (string, *string, error) {
	var imageURL string

	switch {
	case len(m.Attachments) > 0:
		imageURL = m.Attachments[0].URL
	case m.MessageReference != nil:
		refMsg, err := b.session.ChannelMessage(m.ChannelID, m.MessageReference.MessageID)
		if err != nil {
			return "", nil, err
		}
		if len(refMsg.Attachments) > 0 {
			imageURL = refMsg.Attachments[0].URL
		}
	case len(args) > 0 && isHTTPURL(args[0]):
		imageURL = args[0]
		args = args[1:]
	}

	if len(args) == 0 {
		return imageURL, nil, nil
	}
	prompt := strings.Join(args, " ")
	return imageURL, &prompt, nil
}

// handleChat answers a mention or DM using recent channel history
func (b *Bot) handleChat(ctx context.Context, m *discordgo.Message) {
	prompt := stripMention(m.Content, b.botID)
	if prompt == "" {
		prompt = "Hi!"
	}

	b.logger.InfoContext(ctx, "received chat message",
		"user_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"direct", m.GuildID == "")

	b.reply(ctx, m.ChannelID, "chat", func(ctx context.Context) (string, error) {
		systemMessage := ai.Persona
		history, err := b.formatChannelHistory(ctx, m.ChannelID, ChatHistoryMessageCount)
		if err != nil {
			b.logger.WarnContext(ctx, "failed to fetch channel history, answering without it", "error", err)
		} else if history != "" {
			systemMessage = fmt.Sprintf("%s\nRecent conversation:\n%s", ai.Persona, history)
		}

		return b.aiClient.AskClient(ctx, fmt.Sprintf("%s says: %s", m.Author.Username, prompt),
			systemMessage, b.config.Model, ai.DefaultMaxTokens)
	})
}
