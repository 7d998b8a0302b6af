package models

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query       string `json:"query" binding:"required"`
	DatasetHash string `json:"datasetHash" binding:"required"`
	UserAddress string `json:"userAddress" binding:"required"`
}

// PublishForm carries the multipart fields of POST /api/v1/publish.
// The dataset file itself arrives as the "dataset" form file.
type PublishForm struct {
	PublisherAddress string `form:"publisherAddress" binding:"required"`
	Metadata         string `form:"metadata" binding:"required"`
	PricePerChunk    string `form:"pricePerChunk" binding:"required"`
}
