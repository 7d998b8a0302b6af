package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ragpay/backend/models"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func scoredChunks(texts ...string) []models.ScoredChunk {
	chunks := make([]models.ScoredChunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.ScoredChunk{
			Chunk: models.Chunk{ID: i, Text: text},
			Score: 1,
		}
	}
	return chunks
}

func TestGenerateAnswerRemote(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "0g-llm-7b",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Cats are great pets."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42}
		}`))
	}))
	defer backend.Close()

	llm, err := openai.New(
		openai.WithBaseURL(backend.URL),
		openai.WithToken("test-key"),
		openai.WithModel("0g-llm-7b"),
	)
	require.NoError(t, err)
	ai := &aiServiceImpl{llm: llm, model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}

	answer := ai.GenerateAnswer(context.Background(), "tell me about cats", scoredChunks("cats are great"))

	assert.Equal(t, "Cats are great pets.", answer.Text)
	assert.Equal(t, "0g-llm-7b", answer.Model)
	assert.Equal(t, 42, answer.TokensUsed)
}

func TestGenerateAnswerFallsBackOnBackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "compute overloaded", http.StatusInternalServerError)
	}))
	defer backend.Close()

	llm, err := openai.New(
		openai.WithBaseURL(backend.URL),
		openai.WithToken("test-key"),
		openai.WithModel("0g-llm-7b"),
	)
	require.NoError(t, err)
	ai := &aiServiceImpl{llm: llm, model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}

	answer := ai.GenerateAnswer(context.Background(), "tell me about cats and dogs",
		scoredChunks("cats and dogs live together. unrelated sentence here"))

	assert.Equal(t, "fallback", answer.Model)
	assert.Equal(t, 0, answer.TokensUsed)
	assert.NotEmpty(t, answer.Text)
}

func TestGenerateAnswerWithoutClientUsesFallback(t *testing.T) {
	ai, err := NewAIService("https://compute.invalid/v1", "", "0g-llm-7b", newTestLogger())
	require.NoError(t, err)

	answer := ai.GenerateAnswer(context.Background(), "tell me about cats and dogs",
		scoredChunks("cats chase dogs around the yard. the weather was fine"))

	assert.Equal(t, "fallback", answer.Model)
	assert.Equal(t, "cats chase dogs around the yard.", answer.Text)
}

func TestFallbackKeepsAtMostThreeSentences(t *testing.T) {
	ai := &aiServiceImpl{model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}
	text := "cats meet dogs at dawn. cats and dogs share a bowl! do cats follow dogs home? cats ignore dogs after lunch."

	answer := ai.fallbackAnswer("cats dogs", scoredChunks(text))

	assert.Equal(t, "fallback", answer.Model)
	assert.Equal(t, "cats meet dogs at dawn. cats and dogs share a bowl. do cats follow dogs home.", answer.Text)
}

func TestFallbackRequiresTwoDistinctTokens(t *testing.T) {
	ai := &aiServiceImpl{model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}

	// Only one query token per sentence, so nothing qualifies.
	answer := ai.fallbackAnswer("cats dogs", scoredChunks("cats sleep all day. dogs bark at night"))

	assert.Equal(t, noRelevantInfoAnswer, answer.Text)
}

func TestFallbackNeverFailsOnEmptyChunks(t *testing.T) {
	ai := &aiServiceImpl{model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}

	answer := ai.fallbackAnswer("anything", nil)

	assert.Equal(t, noRelevantInfoAnswer, answer.Text)
	assert.Equal(t, "fallback", answer.Model)
}

func TestGenerateProofHashCommitsToTimestamp(t *testing.T) {
	ai := &aiServiceImpl{model: "0g-llm-7b", log: newTestLogger().WithField("component", "ai")}
	answer := models.Answer{Text: "cats are great", Model: "0g-llm-7b"}
	capturedAt := time.UnixMilli(1700000000000)

	first := ai.GenerateProofHash(answer, []int{0, 2}, capturedAt)
	second := ai.GenerateProofHash(answer, []int{0, 2}, capturedAt)
	later := ai.GenerateProofHash(answer, []int{0, 2}, capturedAt.Add(time.Millisecond))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, later)
	assert.Len(t, first, 66)
	assert.Equal(t, "0x", first[:2])
}
