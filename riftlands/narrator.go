package riftlands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const narratorSystemPrompt = `You are the Dungeon Master for the Riftlands, ` +
	`a frost-bitten fantasy setting. Narrate the scene's next beat in 2-4 ` +
	`sentences, second person plural, grounded in the actions provided. ` +
	`Never invent player actions.`

// fallbackNarrations are used when no OpenAI token is configured, or a
// narration request fails. The bot stays playable without the API.
var fallbackNarrations = []string{
	"The wind howls over the frost-bitten plain. Something out in the white is watching.",
	"Snow settles in the silence that follows. The rift-light flickers at the treeline.",
	"The clearing holds its breath. Far off, ice groans under a weight that isn't yours.",
}

// narrationClient is the slice of the OpenAI client the narrator uses,
// for testing/mocking.
type narrationClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Narrator produces scene narration for /resolve and /resolve-test. With
// no client configured it serves canned fallback lines; with one, it asks
// the model and still falls back on error, so narration never takes the
// bot down.
type Narrator struct {
	client  narrationClient
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger

	// rotates through fallbackNarrations
	fallbackIndex int
}

func newNarrator(config *OpenAIConfig, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Narrator{
		model:  config.Model,
		logger: logger.With(loggerNameKey, "narrator"),
	}
	if n.model == "" {
		n.model = DefaultOpenAIModel
	}

	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultOpenAIMaxRequestsPerSecond
	}
	n.limiter = rate.NewLimiter(rate.Limit(rps), 1)

	if config.Token != "" {
		n.client = openai.NewClient(config.Token)
	}
	return n
}

// Enabled reports whether a model-backed narration client is configured.
func (n *Narrator) Enabled() bool {
	return n.client != nil
}

// Narrate returns the next beat of narration for the given scene and
// recent actions. It never returns an error to the caller: any failure is
// logged and replaced with fallback narration.
func (n *Narrator) Narrate(
	ctx context.Context,
	scene Scene,
	actions []SceneAction,
) string {
	if n.client == nil {
		return n.fallback()
	}

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.WarnContext(ctx, "narration rate limit wait canceled", "error", err)
		return n.fallback()
	}

	resp, err := n.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:     n.model,
			MaxTokens: DefaultNarrationMaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: narratorSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: narrationPrompt(scene, actions),
				},
			},
		},
	)
	if err != nil {
		n.logger.WarnContext(ctx, "narration request failed", "error", err)
		return n.fallback()
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		n.logger.WarnContext(ctx, "narration response was empty")
		return n.fallback()
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func (n *Narrator) fallback() string {
	line := fallbackNarrations[n.fallbackIndex%len(fallbackNarrations)]
	n.fallbackIndex++
	return line
}

func narrationPrompt(scene Scene, actions []SceneAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene: %s (id: %s)\n", scene.Title, scene.SceneID)
	if len(actions) == 0 {
		b.WriteString("No actions have been taken yet.\n")
	} else {
		b.WriteString("Recent actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s: %s\n", a.Username, a.Action)
		}
	}
	b.WriteString("Narrate what happens next.")
	return b.String()
}
