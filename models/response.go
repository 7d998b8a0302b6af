package models

// Citation points a caller at one chunk that backed the answer.
type Citation struct {
	ChunkID int    `json:"chunkId"`
	Excerpt string `json:"excerpt"`
	Score   int    `json:"score"`
}

// ProofInfo is the proof section of a successful query response.
type ProofInfo struct {
	ID          uint64 `json:"id"`
	AnswerHash  string `json:"answerHash"`
	DatasetHash string `json:"datasetHash"`
	ChunksUsed  int    `json:"chunksUsed"`
	Cost        string `json:"cost"`
	Model       string `json:"model"`
	TokensUsed  int    `json:"tokensUsed"`
}

// QueryResponse is the 200 body of POST /api/v1/query.
type QueryResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Proof     ProofInfo  `json:"proof"`
}

// ErrorResponse is the body of every non-200 query outcome. Required
// and Balance are only set on 402 responses.
type ErrorResponse struct {
	Error    string `json:"error"`
	Required string `json:"required,omitempty"`
	Balance  string `json:"balance,omitempty"`
}

// QueryResult is what the orchestrator hands the HTTP layer: a status
// code, optional response headers and a JSON-serializable body. The
// controller writes it out verbatim.
type QueryResult struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// PublishParams are the arguments the publisher must submit to the
// contract themselves to register the dataset.
type PublishParams struct {
	RootHash      string `json:"rootHash"`
	MetadataURI   string `json:"metadataURI"`
	PricePerChunk string `json:"pricePerChunk"`
	TotalChunks   int    `json:"totalChunks"`
}

// PublishResponse is the 200 body of POST /api/v1/publish.
type PublishResponse struct {
	Success         bool          `json:"success"`
	RootHash        string        `json:"rootHash"`
	TotalChunks     int           `json:"totalChunks"`
	Instruction     string        `json:"instruction"`
	ContractAddress string        `json:"contractAddress"`
	Params          PublishParams `json:"params"`
}
