package riftlands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandPing        = "ping"
	DiscordSlashCommandAct         = "act"
	DiscordSlashCommandAttack      = "attack"
	DiscordSlashCommandRecap       = "recap"
	DiscordSlashCommandResolve     = "resolve"
	DiscordSlashCommandResolveTest = "resolve-test"
	DiscordSlashCommandDebugScene  = "debug-scene"

	// option names
	actCommandActionOption    = "action"
	attackCommandTargetOption = "target"

	actCommandOptionMaxLength = 500

	// messagePingFallback is the plain-message health check that works
	// even when slash-command sync has failed
	messagePingFallback = "!ping"
)

// DeclaredCommands returns the bot's full command declaration set. Built
// once at startup; the returned set is the expected name set the sync
// verify step checks the registry against, and must not be mutated during
// a run.
func DeclaredCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandPing(),
		appCommandAct(),
		appCommandAttack(),
		appCommandRecap(),
		appCommandResolve(),
		appCommandResolveTest(),
		appCommandDebugScene(),
	}
}

func appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPing,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Check bot health and latency.",
	}
}

func appCommandAct() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAct,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Describe an action; optional skill check.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        actCommandActionOption,
				Description: "Your character's action",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   actCommandOptionMaxLength,
			},
		},
	}
}

func appCommandAttack() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAttack,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Quick attack roll with damage output.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        attackCommandTargetOption,
				Description: "Who/what you attack",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   actCommandOptionMaxLength,
			},
		},
	}
}

func appCommandRecap() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandRecap,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Summarise the current scene.",
	}
}

func appCommandResolve() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandResolve,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Resolve the current scene.",
	}
}

func appCommandResolveTest() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandResolveTest,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Simulate narration without posting.",
	}
}

func appCommandDebugScene() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandDebugScene,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Show current scene and dump JSON to logs.",
	}
}

// handlerInteractionCreate dispatches incoming slash-command interactions.
func (b *Bot) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(ctx, i)
	}
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	user := getDiscordUser(i)
	if user == nil {
		b.logger.WarnContext(ctx, "couldn't find user in interaction")
		return
	}
	if user.Bot {
		return
	}

	commandName := i.ApplicationCommandData().Name
	logger := b.logger.With(
		"command", commandName,
		slog.Group("user", "id", user.ID, "username", user.Username),
	)
	ctx = WithLogger(ctx, logger)

	var response string
	var ephemeral bool
	var err error

	switch commandName {
	case DiscordSlashCommandPing:
		response = fmt.Sprintf("Pong! 🏓 (%dms)", b.discord.latencyMillis())
		ephemeral = true
	case DiscordSlashCommandAct:
		response, err = b.commandAct(ctx, user, i)
	case DiscordSlashCommandAttack:
		response, err = b.commandAttack(ctx, user, i)
	case DiscordSlashCommandRecap:
		response, err = b.commandRecap(ctx)
	case DiscordSlashCommandResolve:
		b.commandResolve(ctx, i, false)
		return
	case DiscordSlashCommandResolveTest:
		b.commandResolve(ctx, i, true)
		return
	case DiscordSlashCommandDebugScene:
		response, err = b.commandDebugScene(ctx)
		ephemeral = true
	default:
		logger.WarnContext(ctx, "unknown command")
		return
	}

	if err != nil {
		logger.ErrorContext(ctx, "error executing command", tint.Err(err))
		response = DefaultDiscordErrorMessage
		ephemeral = true
	}

	b.respond(ctx, i, response, ephemeral)
}

func (b *Bot) respond(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	data := &discordgo.InteractionResponseData{
		Content: truncate(content, discordMaxMessageLength),
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := b.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func (b *Bot) commandAct(
	ctx context.Context,
	user *discordgo.User,
	i *discordgo.InteractionCreate,
) (string, error) {
	options := discordInteractionOptions(i)
	opt := options[actCommandActionOption]
	if opt == nil {
		return "", fmt.Errorf("missing %q option", actCommandActionOption)
	}
	action := strings.TrimSpace(opt.StringValue())

	if _, err := b.sceneStore.AppendAction(
		ctx,
		user.ID,
		user.Username,
		action,
	); err != nil {
		return "", err
	}
	return fmt.Sprintf("You act: **%s**", action), nil
}

func (b *Bot) commandAttack(
	ctx context.Context,
	user *discordgo.User,
	i *discordgo.InteractionCreate,
) (string, error) {
	options := discordInteractionOptions(i)
	opt := options[attackCommandTargetOption]
	if opt == nil {
		return "", fmt.Errorf("missing %q option", attackCommandTargetOption)
	}
	target := strings.TrimSpace(opt.StringValue())

	roll := NewAttackRoll(target)

	if _, err := b.sceneStore.AppendAction(
		ctx,
		user.ID,
		user.Username,
		fmt.Sprintf("attacks %s (%s)", target, roll.ToHit),
	); err != nil {
		return "", err
	}

	var b2 strings.Builder
	fmt.Fprintf(&b2, "You attack **%s**!\n", target)
	fmt.Fprintf(&b2, "To hit — %s\n", roll.ToHit)
	switch {
	case roll.Critical():
		fmt.Fprintf(&b2, "**Critical!** Damage — %s", roll.Damage)
	case roll.Fumble():
		b2.WriteString("**Fumble!** Your blow goes wide.")
	default:
		fmt.Fprintf(&b2, "Damage — %s", roll.Damage)
	}
	return b2.String(), nil
}

func (b *Bot) commandRecap(ctx context.Context) (string, error) {
	scene, err := b.sceneStore.CurrentScene(ctx)
	if err != nil {
		return "", err
	}
	actions, err := b.sceneStore.RecentActions(ctx, recapActionCount)
	if err != nil {
		return "", err
	}
	return recapMessage(scene, actions), nil
}

// commandResolve handles /resolve and /resolve-test. Narration can take a
// model round-trip, so the interaction is acknowledged with a deferred
// response and edited once narration is ready. In test mode the response
// is ephemeral and nothing is recorded against the scene.
func (b *Bot) commandResolve(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	testMode bool,
) {
	_, logger := b.getLogger(ctx)

	ack := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if testMode {
		ack.Data = &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		}
	}
	if err := b.discord.session.InteractionRespond(i.Interaction, ack); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	scene, err := b.sceneStore.CurrentScene(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error loading scene", tint.Err(err))
		b.editResponse(ctx, i, DefaultDiscordErrorMessage)
		return
	}
	actions, err := b.sceneStore.RecentActions(ctx, recapActionCount)
	if err != nil {
		logger.ErrorContext(ctx, "error loading actions", tint.Err(err))
		b.editResponse(ctx, i, DefaultDiscordErrorMessage)
		return
	}

	narration := b.narrator.Narrate(ctx, scene, actions)
	if testMode {
		narration = fmt.Sprintf(
			"(Test) %s\nNothing is posted to the scene.",
			narration,
		)
	}
	b.editResponse(ctx, i, narration)
}

func (b *Bot) editResponse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	content = truncate(content, discordMaxMessageLength)
	if _, err := b.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		b.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}

func (b *Bot) commandDebugScene(ctx context.Context) (string, error) {
	_, logger := b.getLogger(ctx)

	scene, err := b.sceneStore.CurrentScene(ctx)
	if err != nil {
		return "", err
	}
	count, err := b.sceneStore.ActionCount(ctx)
	if err != nil {
		return "", err
	}
	actions, err := b.sceneStore.RecentActions(ctx, recapActionCount)
	if err != nil {
		return "", err
	}

	dump, err := json.MarshalIndent(
		map[string]any{
			"scene":        scene,
			"action_count": count,
			"last_actions": actions,
		}, "", "  ",
	)
	if err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "/debug-scene", "state", string(dump))

	return fmt.Sprintf(
		"Scene: **%s** (id: `%s`)\nActions recorded: %d",
		scene.Title,
		scene.SceneID,
		count,
	), nil
}

// handlerMessageCreate watches for the "!ping" plain-message fallback, a
// health check that still works when slash-command sync has failed.
func (b *Bot) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(ctx, m)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.EqualFold(strings.TrimSpace(m.Content), messagePingFallback) {
		return
	}
	if err := b.discord.channelMessageSend(
		m.ChannelID,
		fmt.Sprintf("Pong! 🏓 (%dms)", b.discord.latencyMillis()),
	); err != nil {
		b.logger.ErrorContext(ctx, "error sending ping fallback reply", tint.Err(err))
	}
}
