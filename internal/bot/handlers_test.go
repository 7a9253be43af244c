package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nintendo-user96/Monika-sub000/internal/ai"
	"github.com/Nintendo-user96/Monika-sub000/internal/config"
	"github.com/Nintendo-user96/Monika-sub000/internal/keypool"
)

type askCall struct {
	prompt        string
	systemMessage string
	model         string
}

type fakeAI struct {
	reply    string
	err      error
	breaks   []string
	breakErr error

	// started, when set, is closed on the first ask, which then blocks
	// until its context ends.
	started chan struct{}

	asks   []askCall
	images []string
}

func (f *fakeAI) AskClient(ctx context.Context, prompt, systemMessage, model string, maxTokens int) (string, error) {
	f.asks = append(f.asks, askCall{prompt: prompt, systemMessage: systemMessage, model: model})
	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeAI) ImageOpinion(ctx context.Context, imageURL, systemMessage, model string, maxTokens int, customPrompt *string) (string, error) {
	f.images = append(f.images, imageURL)
	return f.reply, f.err
}

func (f *fakeAI) SuggestMessageBreaks(ctx context.Context, message string) ([]string, error) {
	if f.breakErr != nil {
		return nil, f.breakErr
	}
	if f.breaks != nil {
		return f.breaks, nil
	}
	return []string{message}, nil
}

type fakePool struct {
	statuses      []keypool.CredentialStatus
	blackout      bool
	revalidateErr error
	revalidated   int
}

func (f *fakePool) Status() []keypool.CredentialStatus { return f.statuses }

func (f *fakePool) BlackoutActive() bool { return f.blackout }

func (f *fakePool) Revalidate(ctx context.Context, probe keypool.ProbeFunc) error {
	f.revalidated++
	if f.revalidateErr != nil {
		return f.revalidateErr
	}
	return probe(ctx, "any-key")
}

func acceptAll(ctx context.Context, key string) error { return nil }

func newTestBot(t *testing.T, session *mockDiscordSession, client *fakeAI, pool *fakePool) *Bot {
	t.Helper()
	cfg := &config.Config{Model: "gpt-test", VisionModel: "gpt-vision-test"}
	b := NewBot(cfg, session, client, pool, acceptAll, discardLogger())
	require.NoError(t, b.Start(context.Background()))
	return b
}

func message(content string) *discordgo.Message {
	return &discordgo.Message{
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: "sayori"},
	}
}

func TestNewBotRegistersHandler(t *testing.T) {
	session := &mockDiscordSession{}
	b := newTestBot(t, session, &fakeAI{}, &fakePool{})

	assert.Equal(t, 1, session.handlers)
	assert.Equal(t, "bot-id", b.botID)
}

func TestHandleMessageRouting(t *testing.T) {
	tests := []struct {
		name      string
		msg       func() *discordgo.Message
		wantAsks  int
		wantSent  []string
		wantTyped int
	}{
		{
			name:     "ping",
			msg:      func() *discordgo.Message { return message("!ping") },
			wantSent: []string{"Pong!"},
		},
		{
			name:     "help",
			msg:      func() *discordgo.Message { return message("!help") },
			wantSent: []string{helpText},
		},
		{
			name:      "ask",
			msg:       func() *discordgo.Message { return message("!ask what is poetry") },
			wantAsks:  1,
			wantSent:  []string{"an answer"},
			wantTyped: 1,
		},
		{
			name:     "ask without question",
			msg:      func() *discordgo.Message { return message("!ask") },
			wantSent: []string{"Usage: !ask <question>"},
		},
		{
			name: "mention",
			msg: func() *discordgo.Message {
				m := message("<@bot-id> hello")
				m.Mentions = []*discordgo.User{{ID: "bot-id"}}
				return m
			},
			wantAsks:  1,
			wantSent:  []string{"an answer"},
			wantTyped: 1,
		},
		{
			name: "direct message",
			msg: func() *discordgo.Message {
				m := message("hello")
				m.GuildID = ""
				return m
			},
			wantAsks:  1,
			wantSent:  []string{"an answer"},
			wantTyped: 1,
		},
		{
			name: "guild chatter is ignored",
			msg:  func() *discordgo.Message { return message("just talking") },
		},
		{
			name: "own messages are ignored",
			msg: func() *discordgo.Message {
				m := message("!ping")
				m.Author = &discordgo.User{ID: "bot-id"}
				return m
			},
		},
		{
			name: "other bots are ignored",
			msg: func() *discordgo.Message {
				m := message("!ping")
				m.Author.Bot = true
				return m
			},
		},
		{
			name: "unknown command",
			msg:  func() *discordgo.Message { return message("!dance") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockDiscordSession{}
			client := &fakeAI{reply: "an answer"}
			b := newTestBot(t, session, client, &fakePool{})

			b.handleMessage(context.Background(), tt.msg())

			assert.Len(t, client.asks, tt.wantAsks)
			assert.Equal(t, tt.wantSent, session.sentMessages)
			assert.Equal(t, tt.wantTyped, session.typing)
		})
	}
}

func TestAskUsesConfiguredModel(t *testing.T) {
	session := &mockDiscordSession{}
	client := &fakeAI{reply: "ok"}
	b := newTestBot(t, session, client, &fakePool{})

	b.handleMessage(context.Background(), message("!ask is this thing on"))

	require.Len(t, client.asks, 1)
	assert.Equal(t, "is this thing on", client.asks[0].prompt)
	assert.Equal(t, "gpt-test", client.asks[0].model)
	assert.Equal(t, ai.Persona, client.asks[0].systemMessage)
}

func TestOpinionIncludesHistory(t *testing.T) {
	session := &mockDiscordSession{
		history: []*discordgo.Message{
			{Author: &discordgo.User{ID: "2", Username: "natsuki"}, Content: "manga is literature"},
			{Author: &discordgo.User{ID: "3", Username: "yuri"}, Content: "it is not"},
		},
	}
	client := &fakeAI{reply: "natsuki is right"}
	b := newTestBot(t, session, client, &fakePool{})

	b.handleMessage(context.Background(), message("!opinion 2"))

	require.Len(t, client.asks, 1)
	assert.Contains(t, client.asks[0].systemMessage, "last 2 messages")
	assert.Contains(t, client.asks[0].systemMessage, "yuri: it is not\nnatsuki: manga is literature")
	assert.Equal(t, []string{"natsuki is right"}, session.sentMessages)
}

func TestBlackoutRepliesWithBreak(t *testing.T) {
	session := &mockDiscordSession{}
	client := &fakeAI{reply: "should not be asked"}
	b := newTestBot(t, session, client, &fakePool{blackout: true})

	b.handleMessage(context.Background(), message("!ask anyone awake?"))

	assert.Empty(t, client.asks)
	assert.Equal(t, []string{ai.ScheduledBreakReply}, session.sentMessages)
	assert.Zero(t, session.typing)
}

func TestFailureReplies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "no valid credentials",
			err:  fmt.Errorf("%w: %w", keypool.ErrNoValidCredentials, errors.New("401 invalid api key")),
			want: ai.UnavailableReply,
		},
		{
			name: "rate limit exhausted",
			err:  keypool.NewFailure(keypool.FailureRateLimited, errors.New("429 rate limit sk-secret")),
			want: "I'm getting too many questions at once. Give me a minute and try again.",
		},
		{
			name: "rejected request",
			err:  ai.NewValidationError("imageURL", "must be an http or https URL"),
			want: "I can't work with that: must be an http or https URL.",
		},
		{
			name: "anything else",
			err:  errors.New("connection reset by peer"),
			want: "Something went wrong while I was thinking about that.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockDiscordSession{}
			b := newTestBot(t, session, &fakeAI{err: tt.err}, &fakePool{})

			b.handleMessage(context.Background(), message("!ask hello"))

			assert.Equal(t, []string{tt.want}, session.sentMessages)
			assert.NotContains(t, session.sentMessages[0], "sk-secret")
		})
	}
}

func TestKeysCommand(t *testing.T) {
	session := &mockDiscordSession{}
	pool := &fakePool{statuses: []keypool.CredentialStatus{
		{Key: "sk-abc...", Uses: 1, Current: true},
	}}
	b := newTestBot(t, session, &fakeAI{}, pool)

	b.handleMessage(context.Background(), message("!keys"))

	require.Len(t, session.sentMessages, 1)
	assert.Contains(t, session.sentMessages[0], "(1 keys)")
	assert.Contains(t, session.sentMessages[0], "`sk-abc...`")
}

func TestImageOpinionSources(t *testing.T) {
	tests := []struct {
		name      string
		msg       func() *discordgo.Message
		session   *mockDiscordSession
		wantImage string
		wantSent  string
	}{
		{
			name: "attachment",
			msg: func() *discordgo.Message {
				m := message("!image_opinion thoughts?")
				m.Attachments = []*discordgo.MessageAttachment{{URL: "https://cdn.example/a.png"}}
				return m
			},
			session:   &mockDiscordSession{},
			wantImage: "https://cdn.example/a.png",
		},
		{
			name: "reply to message",
			msg: func() *discordgo.Message {
				m := message("!image_opinion")
				m.MessageReference = &discordgo.MessageReference{MessageID: "ref"}
				return m
			},
			session: &mockDiscordSession{referenced: &discordgo.Message{
				Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn.example/b.png"}},
			}},
			wantImage: "https://cdn.example/b.png",
		},
		{
			name:      "url argument",
			msg:       func() *discordgo.Message { return message("!image_opinion https://example.com/c.jpg rate it") },
			session:   &mockDiscordSession{},
			wantImage: "https://example.com/c.jpg",
		},
		{
			name:     "no image",
			msg:      func() *discordgo.Message { return message("!image_opinion rate it") },
			session:  &mockDiscordSession{},
			wantSent: "Please attach an image, provide a valid image URL (starting with http/https), or reply to a message with an image.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeAI{reply: "cute"}
			b := newTestBot(t, tt.session, client, &fakePool{})

			b.handleMessage(context.Background(), tt.msg())

			if tt.wantImage == "" {
				assert.Empty(t, client.images)
				assert.Equal(t, []string{tt.wantSent}, tt.session.sentMessages)
				return
			}
			assert.Equal(t, []string{tt.wantImage}, client.images)
			assert.Equal(t, []string{"cute"}, tt.session.sentMessages)
		})
	}
}

func TestRevalidateCommand(t *testing.T) {
	tests := []struct {
		name          string
		pool          *fakePool
		probe         keypool.ProbeFunc
		busy          bool
		wantRevalidated int
		wantSent      string
	}{
		{
			name: "success reports status",
			pool: &fakePool{statuses: []keypool.CredentialStatus{
				{Key: "sk-abc...", Current: true},
				{Key: "sk-def..."},
			}},
			probe:         acceptAll,
			wantRevalidated: 1,
			wantSent:      "Revalidation finished.\n**Credential pool** (2 keys)",
		},
		{
			name:          "nothing survives",
			pool:          &fakePool{revalidateErr: keypool.ErrNoValidCredentials},
			probe:         acceptAll,
			wantRevalidated: 1,
			wantSent:      "No credential passed validation. Keeping the current pool.",
		},
		{
			name:     "revalidation disabled",
			pool:     &fakePool{},
			wantSent: "Revalidation is not available.",
		},
		{
			name:     "already running",
			pool:     &fakePool{},
			probe:    acceptAll,
			busy:     true,
			wantSent: "Already revalidating credentials, hang on.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockDiscordSession{}
			cfg := &config.Config{Model: "gpt-test"}
			b := NewBot(cfg, session, &fakeAI{}, tt.pool, tt.probe, discardLogger())
			require.NoError(t, b.Start(context.Background()))
			b.revalidating.Store(tt.busy)

			b.handleMessage(context.Background(), message("!revalidate"))

			assert.Equal(t, tt.wantRevalidated, tt.pool.revalidated)
			require.Len(t, session.sentMessages, 1)
			assert.Contains(t, session.sentMessages[0], tt.wantSent)
			assert.Equal(t, tt.busy, b.revalidating.Load())
		})
	}
}

func TestCloseCancelsInFlightRequests(t *testing.T) {
	session := &mockDiscordSession{}
	client := &fakeAI{started: make(chan struct{})}
	b := newTestBot(t, session, client, &fakePool{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.messageHandler(nil, &discordgo.MessageCreate{Message: message("!ask are you still there?")})
	}()

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the AI client")
	}

	require.NoError(t, b.Close(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept running after Close")
	}
	assert.Empty(t, session.sentMessages)
}
