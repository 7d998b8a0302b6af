package controller

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ragpay/backend/models"
	"github.com/ragpay/backend/services"
)

// RAGController handles the HTTP surface of the paid query backend. It
// delegates all business logic to the service layer.
type RAGController struct {
	ragService services.RAGService
	contract   services.Ledger
	storage    services.Storage
	uploadDir  string
}

// NewRAGController wires the controller with its service dependencies.
func NewRAGController(ragService services.RAGService, contract services.Ledger, storage services.Storage, uploadDir string) *RAGController {
	return &RAGController{
		ragService: ragService,
		contract:   contract,
		storage:    storage,
		uploadDir:  uploadDir,
	}
}

// Query is the handler for POST /api/v1/query. The orchestrator
// returns a fully formed status/headers/body result; this handler
// only validates the request shape and writes the result out.
func (c *RAGController) Query(ctx *gin.Context) {
	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Missing required fields: query, datasetHash, userAddress",
		})
		return
	}

	result := c.ragService.ProcessQuery(ctx.Request.Context(), req)
	for key, value := range result.Headers {
		ctx.Header(key, value)
	}
	ctx.JSON(result.Status, result.Body)
}

// Publish is the handler for POST /api/v1/publish. It stages the
// uploaded dataset file, hands it to the storage gateway and returns
// the parameters the publisher must register on-chain themselves.
func (c *RAGController) Publish(ctx *gin.Context) {
	var form models.PublishForm
	if err := ctx.ShouldBind(&form); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Missing required fields: publisherAddress, metadata, pricePerChunk",
		})
		return
	}

	priceWei, err := services.ParseEther(form.PricePerChunk)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid pricePerChunk"})
		return
	}

	file, err := ctx.FormFile("dataset")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No file uploaded"})
		return
	}

	stagedPath := filepath.Join(c.uploadDir, uuid.New().String()+filepath.Ext(file.Filename))
	if err := ctx.SaveUploadedFile(file, stagedPath); err != nil {
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Could not store uploaded file"})
		return
	}
	defer os.Remove(stagedPath)

	result, err := c.storage.UploadDataset(ctx.Request.Context(), stagedPath, form.Metadata)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, models.PublishResponse{
		Success:         true,
		RootHash:        result.RootHash,
		TotalChunks:     result.TotalChunks,
		Instruction:     "Call publishDataset() from your wallet with these parameters",
		ContractAddress: c.contract.ContractAddress(),
		Params: models.PublishParams{
			RootHash:      result.RootHash,
			MetadataURI:   form.Metadata,
			PricePerChunk: priceWei.String(),
			TotalChunks:   result.TotalChunks,
		},
	})
}

// GetBalance is the handler for GET /api/v1/balance/:address.
func (c *RAGController) GetBalance(ctx *gin.Context) {
	address := ctx.Param("address")
	balance, err := c.contract.GetUserBalance(ctx.Request.Context(), address)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"address":    address,
		"balance":    services.FormatEther(balance),
		"balanceWei": balance.String(),
	})
}

// GetDataset is the handler for GET /api/v1/dataset/:hash.
func (c *RAGController) GetDataset(ctx *gin.Context) {
	hash := ctx.Param("hash")
	info, err := c.contract.GetDatasetInfo(ctx.Request.Context(), hash)
	if err != nil {
		if errors.Is(err, services.ErrDatasetNotFound) {
			ctx.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Dataset not found"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"publisher":     info.Publisher,
		"metadata":      info.MetadataURI,
		"pricePerChunk": services.FormatEther(info.PricePerChunk),
		"totalChunks":   strconv.FormatUint(info.TotalChunks, 10),
		"active":        info.Active,
		"rootHash":      hash,
	})
}

// GetProof is the handler for GET /api/v1/proof/:id.
func (c *RAGController) GetProof(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid proof id"})
		return
	}

	proof, err := c.contract.GetProof(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrProofNotFound) {
			ctx.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Proof not found"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, proof)
}

// ListDatasets is the handler for GET /api/v1/datasets. It reports
// the datasets currently held by the storage cache.
func (c *RAGController) ListDatasets(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.storage.ListDatasets())
}

// Info is the handler for GET /api/v1/info: the server wallet, its
// authorization status and its gas balance, plus the service surface.
func (c *RAGController) Info(ctx *gin.Context) {
	authorized, err := c.contract.IsAuthorized(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	balance, err := c.contract.WalletBalance(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"serverWallet":    c.contract.WalletAddress(),
		"authorized":      authorized,
		"serverBalance":   services.FormatEther(balance),
		"contractAddress": c.contract.ContractAddress(),
		"network":         "0G Testnet",
		"services": gin.H{
			"storage": "0G Storage",
			"compute": "0G AI Compute",
			"chain":   "0G Chain",
		},
	})
}

// Health is the handler for GET /health. Authorization problems
// degrade to authorized=false rather than failing the check.
func (c *RAGController) Health(ctx *gin.Context) {
	authorized, err := c.contract.IsAuthorized(ctx.Request.Context())
	if err != nil {
		authorized = false
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"network":      "0G Testnet",
		"contract":     c.contract.ContractAddress(),
		"serverWallet": c.contract.WalletAddress(),
		"authorized":   authorized,
	})
}
