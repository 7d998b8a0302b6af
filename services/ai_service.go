package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ragpay/backend/models"
)

const aiSystemPrompt = "Answer based on the provided context. Be accurate and cite chunk IDs."

// noRelevantInfoAnswer is the guaranteed terminal answer when even the
// extractive fallback finds nothing to quote.
const noRelevantInfoAnswer = "No relevant information found in the dataset."

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// AnswerService produces an answer for a query over a set of scored
// chunks and derives the proof hash recorded on-chain.
type AnswerService interface {
	// GenerateAnswer never fails: when the remote backend is down or
	// misbehaves it degrades to the local extractive fallback.
	GenerateAnswer(ctx context.Context, query string, chunks []models.ScoredChunk) models.Answer

	// GenerateProofHash commits to the answer, the chunk ids in input
	// order, the captured timestamp and the model name. The timestamp
	// must be captured once by the caller and reused for anything
	// derived from this hash; recomputing at a later instant yields a
	// different digest.
	GenerateProofHash(answer models.Answer, chunkIDs []int, capturedAt time.Time) string
}

type aiServiceImpl struct {
	llm   llms.Model
	model string
	log   *logrus.Entry
}

// NewAIService builds the synthesizer against an OpenAI-compatible
// compute endpoint. With no API key configured the remote client is
// not created and every answer comes from the fallback.
func NewAIService(endpoint, apiKey, model string, log *logrus.Logger) (AnswerService, error) {
	entry := log.WithField("component", "ai")
	if apiKey == "" {
		entry.Warn("no compute API key configured, answers will use the extractive fallback")
		return &aiServiceImpl{model: model, log: entry}, nil
	}
	llm, err := openai.New(
		openai.WithBaseURL(endpoint),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create compute client: %w", err)
	}
	return &aiServiceImpl{llm: llm, model: model, log: entry}, nil
}

func (a *aiServiceImpl) GenerateAnswer(ctx context.Context, query string, chunks []models.ScoredChunk) models.Answer {
	if a.llm == nil {
		return a.fallbackAnswer(query, chunks)
	}

	var contextText strings.Builder
	for i, c := range chunks {
		if i > 0 {
			contextText.WriteString("\n\n")
		}
		fmt.Fprintf(&contextText, "[Chunk %d]: %s", c.ID, c.Text)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, aiSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText.String(), query)),
	}

	resp, err := a.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(500),
		llms.WithTemperature(0.3),
	)
	if err != nil {
		a.log.WithError(err).Warn("compute backend unavailable, using fallback")
		return a.fallbackAnswer(query, chunks)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		a.log.Warn("compute backend returned no completion, using fallback")
		return a.fallbackAnswer(query, chunks)
	}

	choice := resp.Choices[0]
	tokens := 0
	if v, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		tokens = v
	}
	return models.Answer{
		Text:       choice.Content,
		Model:      a.model,
		TokensUsed: tokens,
	}
}

// fallbackAnswer extracts up to three sentences that each contain at
// least two distinct query tokens, in chunk-then-sentence order.
func (a *aiServiceImpl) fallbackAnswer(query string, chunks []models.ScoredChunk) models.Answer {
	tokens := TokenizeQuery(query)
	var relevant []string

	for _, chunk := range chunks {
		for _, sentence := range sentenceSplit.Split(chunk.Text, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			lower := strings.ToLower(sentence)
			matches := 0
			for _, token := range tokens {
				if strings.Contains(lower, token) {
					matches++
				}
			}
			if matches >= 2 {
				relevant = append(relevant, sentence)
			}
		}
	}

	answer := noRelevantInfoAnswer
	if len(relevant) > 0 {
		if len(relevant) > 3 {
			relevant = relevant[:3]
		}
		answer = strings.Join(relevant, ". ") + "."
	}
	return models.Answer{Text: answer, Model: "fallback", TokensUsed: 0}
}

func (a *aiServiceImpl) GenerateProofHash(answer models.Answer, chunkIDs []int, capturedAt time.Time) string {
	payload := struct {
		Answer    string `json:"answer"`
		ChunkIDs  []int  `json:"chunkIds"`
		Timestamp int64  `json:"timestamp"`
		Model     string `json:"model"`
	}{
		Answer:    answer.Text,
		ChunkIDs:  chunkIDs,
		Timestamp: capturedAt.UnixMilli(),
		// The hash commits to the configured model name, not the
		// answering one, so a fallback answer hashes the same way.
		Model: a.model,
	}
	// Marshal cannot fail: the payload holds only strings and ints.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}
