package models

import "math/big"

// Chunk is one paragraph of a published dataset. The ID is the chunk's
// zero-based position in the dataset and is what gets priced and
// recorded on-chain.
type Chunk struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	ContentHash string `json:"hash"`
}

// ScoredChunk is a chunk plus its relevance score for one query. It is
// never persisted.
type ScoredChunk struct {
	Chunk
	Score int `json:"score"`
}

// DatasetInfo mirrors the on-chain dataset record.
type DatasetInfo struct {
	Publisher     string   `json:"publisher"`
	MetadataURI   string   `json:"metadata"`
	PricePerChunk *big.Int `json:"pricePerChunk"`
	RootHash      string   `json:"rootHash"`
	TotalChunks   uint64   `json:"totalChunks"`
	Active        bool     `json:"active"`
}

// Proof mirrors the on-chain proof record for a processed query.
type Proof struct {
	ID          uint64   `json:"proofId"`
	AnswerHash  string   `json:"answerHash"`
	DatasetHash string   `json:"datasetHash"`
	ChunkIDs    []uint64 `json:"chunkIds"`
	User        string   `json:"user"`
	Timestamp   uint64   `json:"timestamp"`
	AmountPaid  *big.Int `json:"amountPaid"`
	ModelUsed   string   `json:"modelUsed"`
}

// DatasetSummary is one entry of the dataset listing: what the storage
// cache knows about a root hash.
type DatasetSummary struct {
	RootHash    string `json:"rootHash"`
	Metadata    string `json:"metadata"`
	TotalChunks int    `json:"totalChunks"`
	Cached      bool   `json:"cached"`
}

// UploadResult is what the storage layer reports after content-
// addressing a dataset file.
type UploadResult struct {
	RootHash    string `json:"rootHash"`
	TotalChunks int    `json:"totalChunks"`
}

// Answer is the synthesizer's output. Model is "fallback" when the
// remote backend could not be used.
type Answer struct {
	Text       string `json:"answer"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokensUsed"`
}
