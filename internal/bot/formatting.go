package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

// send posts a single message and logs failures
func (b *Bot) send(ctx context.Context, channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.logger.ErrorContext(ctx, "failed to send message", "channel_id", channelID, "error", err)
	}
}

// sendConversational splits a reply into natural chunks and sends each one,
// keeping every message under Discord's length limit.
func (b *Bot) sendConversational(ctx context.Context, channelID, response string) {
	chunks, err := b.aiClient.SuggestMessageBreaks(ctx, response)
	if err != nil || len(chunks) == 0 {
		chunks = []string{response}
	}
	for _, chunk := range chunks {
		b.sendLongResponse(ctx, channelID, chunk)
	}
}

// sendLongResponse sends long responses in chunks to respect Discord's message length limit
func (b *Bot) sendLongResponse(ctx context.Context, channelID, response string) {
	for i := 0; i < len(response); i += MaxDiscordMessageLength {
		end := i + MaxDiscordMessageLength
		if end > len(response) {
			end = len(response)
		}

		chunk := response[i:end]
		_, err := b.session.ChannelMessageSend(channelID, chunk)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to send message chunk",
				"channel_id", channelID,
				"chunk_index", i/MaxDiscordMessageLength,
				"error", err)
		}
	}
}

// formatChannelHistory fetches and formats recent messages, oldest first
func (b *Bot) formatChannelHistory(ctx context.Context, channelID string, numMessages int) (string, error) {
	messages, err := b.session.ChannelMessages(channelID, numMessages, "", "", "")
	if err != nil {
		return "", fmt.Errorf("failed to fetch channel messages: %w", err)
	}

	var formatted []string
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Author == nil || msg.Content == "" {
			continue
		}
		formatted = append(formatted, fmt.Sprintf("%s: %s", getDisplayName(b.session, msg), msg.Content))
	}

	return strings.Join(formatted, "\n"), nil
}

// getDisplayName retrieves the display name for a message author
func getDisplayName(session interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}, msg *discordgo.Message) string {
	displayName := msg.Author.Username
	if msg.GuildID != "" {
		member, err := session.GuildMember(msg.GuildID, msg.Author.ID)
		if err == nil && member.Nick != "" {
			displayName = member.Nick
		}
	}
	return displayName
}

// parseCount reads an optional message count from the first argument,
// clamped to what one history fetch can return.
func parseCount(args []string, defaultCount int) int {
	n := defaultCount
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	if n > MaxHistoryFetch {
		n = MaxHistoryFetch
	}
	return n
}

// stripMention removes the bot mention in both its plain and nickname forms.
func stripMention(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// formatKeyStatus renders the pool status for chat. Only masked keys are shown.
func formatKeyStatus(statuses []keypool.CredentialStatus, blackout bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Credential pool** (%d keys)\n", len(statuses))

	for _, s := range statuses {
		marker := "  "
		if s.Current {
			marker = "▶ "
		}
		state := "ready"
		if s.CooldownRemaining > 0 {
			state = "cooling " + s.CooldownRemaining.Round(time.Second).String()
		}
		fmt.Fprintf(&sb, "%s`%s` uses %d, cooldowns %d, %s\n", marker, s.Key, s.Uses, s.Cooldowns, state)
	}

	if blackout {
		sb.WriteString("Blackout window active, requests resume when it ends.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
