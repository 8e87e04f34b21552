package riftlands

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDiscordSession implements DiscordSessionHandler without touching the
// network. Registered commands are kept per guild ID ("" = global).
type mockDiscordSession struct {
	mu sync.Mutex

	registered map[string][]*discordgo.ApplicationCommand

	messages []mockChannelMessage

	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit

	customStatus string

	openErr  error
	closeErr error
}

type mockChannelMessage struct {
	channelID string
	content   string
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		registered: map[string][]*discordgo.ApplicationCommand{},
	}
}

func (m *mockDiscordSession) Open() error {
	return m.openErr
}

func (m *mockDiscordSession) Close() error {
	return m.closeErr
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(
		m.messages,
		mockChannelMessage{channelID: channelID, content: message},
	)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (m *mockDiscordSession) ApplicationCommands(
	_ string,
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered[guildID], nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[guildID] = commands
	return commands, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, newresp)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

func (m *mockDiscordSession) lastResponse(t testing.TB) *discordgo.InteractionResponse {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.responses)
	return m.responses[len(m.responses)-1]
}

func (m *mockDiscordSession) lastEdit(t testing.TB) *discordgo.WebhookEdit {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.edits)
	return m.edits[len(m.edits)-1]
}

// newTestBot assembles a Bot around a mock session and a throwaway sqlite
// database, skipping the gateway entirely.
func newTestBot(t testing.TB) (*Bot, *mockDiscordSession) {
	t.Helper()

	session := newMockDiscordSession()
	logger := testSyncLogger(t)

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	config.Discord.ApplicationID = "test-app"

	b := &Bot{
		config:     config,
		logger:     logger,
		declared:   DeclaredCommands(),
		signalStop: make(chan struct{}, 1),
		sceneStore: NewSceneStore(testDB(t), logger),
		narrator:   newNarrator(config.OpenAI, logger),
	}
	b.discord = newDiscord(config.Discord)
	b.discord.logger = logger
	b.discord.session = session
	b.discord.bot = b
	return b, session
}

func commandInteraction(
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			User: &discordgo.User{ID: "user-1", Username: "meagan"},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func stringOption(name string, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func TestDeclaredCommands(t *testing.T) {
	t.Parallel()

	declared := DeclaredCommands()

	names := make([]string, 0, len(declared))
	for _, c := range declared {
		require.NotNil(t, c)
		require.NotEmpty(t, c.Description)
		names = append(names, c.Name)
	}
	assert.ElementsMatch(
		t,
		[]string{
			DiscordSlashCommandPing,
			DiscordSlashCommandAct,
			DiscordSlashCommandAttack,
			DiscordSlashCommandRecap,
			DiscordSlashCommandResolve,
			DiscordSlashCommandResolveTest,
			DiscordSlashCommandDebugScene,
		},
		names,
	)

	seen := map[string]bool{}
	for _, name := range names {
		assert.False(t, seen[name], "duplicate command name %q", name)
		seen[name] = true
	}
}

func TestCommandRegistryClearUsesEmptyOverwrite(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.registered[""] = testCommands("stale")

	registry := NewCommandRegistry(session, "test-app", testSyncLogger(t))
	ctx := context.Background()

	require.NoError(t, registry.Clear(ctx, GlobalScope))
	commands, err := registry.Fetch(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Empty(t, commands)
}

func TestCommandRegistryScopesAreIsolated(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	registry := NewCommandRegistry(session, "test-app", testSyncLogger(t))
	ctx := context.Background()

	result, err := registry.Replace(ctx, GuildScope("77"), testCommands("act"))
	require.NoError(t, err)
	assert.Len(t, result, 1)

	global, err := registry.Fetch(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Empty(t, global)

	guild, err := registry.Fetch(ctx, GuildScope("77"))
	require.NoError(t, err)
	assert.Len(t, guild, 1)
}

func TestCommandRegistryHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	registry := NewCommandRegistry(
		newMockDiscordSession(),
		"test-app",
		testSyncLogger(t),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.Fetch(ctx, GlobalScope)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = registry.Replace(ctx, GlobalScope, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, registry.Clear(ctx, GlobalScope), context.Canceled)
}

func TestSyncerWithDiscordRegistry(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.registered[""] = testCommands("stale-command")

	registry := NewCommandRegistry(session, "test-app", testSyncLogger(t))
	declared := DeclaredCommands()
	syncer := NewCommandSyncer(
		registry,
		declared,
		ResolveScopes(""),
		fastSyncConfig(),
		testSyncLogger(t),
	)

	report, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Degraded())
	assert.Empty(t, report.Discrepancies)
	assert.Len(t, report.Commands, len(declared))
	assert.NotContains(t, report.CommandNames(), "stale-command")
}

func TestHandleInteractionPing(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	b.handleInteraction(
		context.Background(),
		commandInteraction(DiscordSlashCommandPing),
	)

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "Pong!")
	assert.Contains(t, resp.Data.Content, "42ms")
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHandleInteractionAct(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	b.handleInteraction(
		ctx,
		commandInteraction(
			DiscordSlashCommandAct,
			stringOption(actCommandActionOption, "  climbs the ridge  "),
		),
	)

	resp := session.lastResponse(t)
	assert.Equal(t, "You act: **climbs the ridge**", resp.Data.Content)

	actions, err := b.sceneStore.RecentActions(ctx, recapActionCount)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "climbs the ridge", actions[0].Action)
	assert.Equal(t, "user-1", actions[0].UserID)
}

func TestHandleInteractionActMissingOption(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	b.handleInteraction(
		context.Background(),
		commandInteraction(DiscordSlashCommandAct),
	)

	resp := session.lastResponse(t)
	assert.Equal(t, DefaultDiscordErrorMessage, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHandleInteractionAttack(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	b.handleInteraction(
		ctx,
		commandInteraction(
			DiscordSlashCommandAttack,
			stringOption(attackCommandTargetOption, "frost wraith"),
		),
	)

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "You attack **frost wraith**!")
	assert.Contains(t, resp.Data.Content, "To hit")

	// the attack is recorded against the scene log
	actions, err := b.sceneStore.RecentActions(ctx, recapActionCount)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.True(t, strings.HasPrefix(actions[0].Action, "attacks frost wraith"))
}

func TestHandleInteractionRecap(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	_, err := b.sceneStore.AppendAction(ctx, "user-1", "meagan", "lights a torch")
	require.NoError(t, err)

	b.handleInteraction(ctx, commandInteraction(DiscordSlashCommandRecap))

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, defaultSceneTitle)
	assert.Contains(t, resp.Data.Content, "lights a torch")
}

func TestHandleInteractionResolve(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	b.handleInteraction(ctx, commandInteraction(DiscordSlashCommandResolve))

	// acknowledged with a deferred response, then edited with narration
	resp := session.lastResponse(t)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		resp.Type,
	)

	edit := session.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, fallbackNarrations, *edit.Content)
}

func TestHandleInteractionResolveTest(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	b.handleInteraction(
		context.Background(),
		commandInteraction(DiscordSlashCommandResolveTest),
	)

	resp := session.lastResponse(t)
	require.NotNil(t, resp.Data)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	edit := session.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "(Test)")
	assert.Contains(t, *edit.Content, "Nothing is posted to the scene.")
}

func TestHandleInteractionDebugScene(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	b.handleInteraction(
		context.Background(),
		commandInteraction(DiscordSlashCommandDebugScene),
	)

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, defaultSceneTitle)
	assert.Contains(t, resp.Data.Content, defaultSceneID)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHandleInteractionIgnoresBots(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	i := commandInteraction(DiscordSlashCommandPing)
	i.User.Bot = true

	b.handleInteraction(context.Background(), i)
	assert.Empty(t, session.responses)
}

func TestHandleInteractionUnknownCommand(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	b.handleInteraction(
		context.Background(),
		commandInteraction("not-a-command"),
	)
	assert.Empty(t, session.responses)
}

func TestHandleMessagePingFallback(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(
		ctx, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: "chan-1",
				Content:   " !PING ",
				Author:    &discordgo.User{ID: "user-1"},
			},
		},
	)

	require.Len(t, session.messages, 1)
	assert.Equal(t, "chan-1", session.messages[0].channelID)
	assert.Contains(t, session.messages[0].content, "Pong!")
}

func TestHandleMessageIgnoresOtherContent(t *testing.T) {
	t.Parallel()

	b, session := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(
		ctx, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: "chan-1",
				Content:   "hello there",
				Author:    &discordgo.User{ID: "user-1"},
			},
		},
	)
	b.handleMessage(
		ctx, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: "chan-1",
				Content:   "!ping",
				Author:    &discordgo.User{ID: "bot-1", Bot: true},
			},
		},
	)
	assert.Empty(t, session.messages)
}

func TestGetDiscordUser(t *testing.T) {
	t.Parallel()

	user := &discordgo.User{ID: "user-1"}

	fromUser := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: user},
	}
	assert.Equal(t, user, getDiscordUser(fromUser))

	fromMember := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: user},
		},
	}
	assert.Equal(t, user, getDiscordUser(fromMember))

	neither := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	assert.Nil(t, getDiscordUser(neither))
}
