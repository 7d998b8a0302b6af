package services

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/ragpay/backend/models"
)

var nonWord = regexp.MustCompile(`\W+`)

// ChunkText splits dataset content into paragraph chunks. Paragraphs
// are separated by blank lines; whitespace-only segments are dropped
// and ids are assigned by position in the surviving sequence, so the
// same content always produces the same chunks.
func ChunkText(content string) []models.Chunk {
	paragraphs := strings.Split(content, "\n\n")
	chunks := make([]models.Chunk, 0, len(paragraphs))
	for _, p := range paragraphs {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		sum := sha256.Sum256([]byte(text))
		chunks = append(chunks, models.Chunk{
			ID:          len(chunks),
			Text:        text,
			ContentHash: hex.EncodeToString(sum[:]),
		})
	}
	return chunks
}

// TokenizeQuery lower-cases the query, splits it on non-word runes and
// keeps the distinct tokens longer than two characters.
func TokenizeQuery(query string) []string {
	words := nonWord.Split(strings.ToLower(query), -1)
	seen := make(map[string]bool, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// ScoreChunks scores every chunk by the number of distinct query
// tokens appearing in its text, drops zero-score chunks and returns
// the rest sorted by descending score, ties broken by ascending chunk
// id. Callers truncate to their chunk budget.
func ScoreChunks(chunks []models.Chunk, query string) []models.ScoredChunk {
	tokens := TokenizeQuery(query)
	scored := make([]models.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.ToLower(chunk.Text)
		score := 0
		for _, token := range tokens {
			if strings.Contains(text, token) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, models.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	return scored
}
