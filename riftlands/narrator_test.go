package riftlands

import (
	"context"
	"errors"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNarrationClient struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (m *mockNarrationClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, request)
	return m.response, m.err
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestNarratorDisabledUsesFallback(t *testing.T) {
	t.Parallel()

	narrator := newNarrator(&OpenAIConfig{}, testSyncLogger(t))
	assert.False(t, narrator.Enabled())

	seen := map[string]bool{}
	for i := 0; i < len(fallbackNarrations)+1; i++ {
		line := narrator.Narrate(context.Background(), Scene{}, nil)
		assert.Contains(t, fallbackNarrations, line)
		seen[line] = true
	}
	// fallback narration rotates rather than repeating one line
	assert.Len(t, seen, len(fallbackNarrations))
}

func TestNarratorUsesClientResponse(t *testing.T) {
	t.Parallel()

	client := &mockNarrationClient{
		response: chatResponse("  The ice shifts beneath you.  "),
	}
	narrator := newNarrator(
		&OpenAIConfig{Token: "test-token", Model: "gpt-4o"},
		testSyncLogger(t),
	)
	narrator.client = client
	require.True(t, narrator.Enabled())

	scene := Scene{SceneID: defaultSceneID, Title: defaultSceneTitle}
	actions := []SceneAction{
		{Username: "meagan", Action: "kicks open the door"},
	}
	line := narrator.Narrate(context.Background(), scene, actions)
	assert.Equal(t, "The ice shifts beneath you.", line)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, defaultSceneTitle)
	assert.Contains(t, req.Messages[1].Content, "kicks open the door")
}

func TestNarratorFallsBackOnError(t *testing.T) {
	t.Parallel()

	narrator := newNarrator(&OpenAIConfig{Token: "test-token"}, testSyncLogger(t))
	narrator.client = &mockNarrationClient{err: errors.New("api down")}

	line := narrator.Narrate(context.Background(), Scene{}, nil)
	assert.Contains(t, fallbackNarrations, line)
}

func TestNarratorFallsBackOnEmptyResponse(t *testing.T) {
	t.Parallel()

	narrator := newNarrator(&OpenAIConfig{Token: "test-token"}, testSyncLogger(t))
	narrator.client = &mockNarrationClient{response: chatResponse("   ")}

	line := narrator.Narrate(context.Background(), Scene{}, nil)
	assert.Contains(t, fallbackNarrations, line)
}

func TestNarrationPromptEmptyActions(t *testing.T) {
	t.Parallel()

	prompt := narrationPrompt(
		Scene{SceneID: defaultSceneID, Title: defaultSceneTitle},
		nil,
	)
	assert.Contains(t, prompt, defaultSceneTitle)
	assert.Contains(t, prompt, "No actions have been taken yet.")
}
