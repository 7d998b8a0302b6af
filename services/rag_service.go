package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ragpay/backend/models"
)

// excerptLength caps citation excerpts in the query response.
const excerptLength = 150

// RAGService runs the paid query pipeline end to end.
type RAGService interface {
	// ProcessQuery executes balance check, dataset check, retrieval,
	// payment gate, synthesis and proof recording for one query and
	// returns the status-coded result the HTTP layer writes out.
	//
	// The balance check is a point-in-time admission read, not a
	// reservation: the ledger owns the actual debit, and the user's
	// balance may change between the check and the proof recording.
	ProcessQuery(ctx context.Context, req models.QueryRequest) *models.QueryResult
}

type ragServiceImpl struct {
	contract  Ledger
	storage   Storage
	ai        AnswerService
	maxChunks int
	log       *logrus.Entry
}

// NewRAGService wires the orchestrator with its three gateways.
func NewRAGService(contract Ledger, storage Storage, ai AnswerService, maxChunks int, log *logrus.Logger) RAGService {
	return &ragServiceImpl{
		contract:  contract,
		storage:   storage,
		ai:        ai,
		maxChunks: maxChunks,
		log:       log.WithField("component", "rag"),
	}
}

func (r *ragServiceImpl) ProcessQuery(ctx context.Context, req models.QueryRequest) *models.QueryResult {
	log := r.log.WithFields(logrus.Fields{
		"dataset": req.DatasetHash,
		"user":    req.UserAddress,
	})
	log.WithField("query", req.Query).Info("processing query")

	// 1. User balance.
	balance, err := r.contract.GetUserBalance(ctx, req.UserAddress)
	if err != nil {
		return failed(log, "could not read user balance", err)
	}

	// 2. Dataset descriptor.
	info, err := r.contract.GetDatasetInfo(ctx, req.DatasetHash)
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			return &models.QueryResult{
				Status: http.StatusNotFound,
				Body:   models.ErrorResponse{Error: "Dataset not found"},
			}
		}
		return failed(log, "could not read dataset info", err)
	}
	if !info.Active {
		return &models.QueryResult{
			Status: http.StatusBadRequest,
			Body:   models.ErrorResponse{Error: "Dataset not active"},
		}
	}

	// 3. Relevance retrieval.
	chunks, err := r.storage.SearchRelevantChunks(ctx, req.DatasetHash, req.Query, r.maxChunks)
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			return &models.QueryResult{
				Status: http.StatusNotFound,
				Body:   models.ErrorResponse{Error: "Dataset not found"},
			}
		}
		return failed(log, "could not fetch dataset chunks", err)
	}
	if len(chunks) == 0 {
		return &models.QueryResult{
			Status: http.StatusNotFound,
			Body:   models.ErrorResponse{Error: "No relevant information found"},
		}
	}

	// 4. Payment gate: cost is chunk count times price, gate trips only
	// when balance is strictly below cost.
	totalCost := new(big.Int).Mul(big.NewInt(int64(len(chunks))), info.PricePerChunk)
	if balance.Cmp(totalCost) < 0 {
		log.WithFields(logrus.Fields{
			"required": totalCost.String(),
			"balance":  balance.String(),
		}).Info("insufficient balance")
		return &models.QueryResult{
			Status: http.StatusPaymentRequired,
			Headers: map[string]string{
				"X-Payment-Required": "true",
				"X-Payment-Contract": r.contract.ContractAddress(),
				"X-Required-Amount":  FormatEther(totalCost),
				"X-Current-Balance":  FormatEther(balance),
				"X-Chunks-Count":     strconv.Itoa(len(chunks)),
			},
			Body: models.ErrorResponse{
				Error:    "Insufficient balance",
				Required: FormatEther(totalCost),
				Balance:  FormatEther(balance),
			},
		}
	}

	// 5. Synthesis. The timestamp is captured once here and is the one
	// the proof hash commits to.
	answer := r.ai.GenerateAnswer(ctx, req.Query, chunks)
	chunkIDs := make([]int, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	capturedAt := time.Now()
	answerHash := r.ai.GenerateProofHash(answer, chunkIDs, capturedAt)

	// 6. Proof recording. Never retried: a second recordProof for the
	// same query would charge the user twice.
	proofID, err := r.contract.RecordProof(ctx, answerHash, req.DatasetHash, chunkIDs, req.UserAddress, answer.Model)
	if err != nil {
		return failed(log, "could not record proof", err)
	}

	citations := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = models.Citation{
			ChunkID: c.ID,
			Excerpt: excerpt(c.Text),
			Score:   c.Score,
		}
	}

	log.WithFields(logrus.Fields{
		"proofId": proofID,
		"chunks":  len(chunks),
		"model":   answer.Model,
	}).Info("query processed")

	return &models.QueryResult{
		Status: http.StatusOK,
		Body: models.QueryResponse{
			Answer:    answer.Text,
			Citations: citations,
			Proof: models.ProofInfo{
				ID:          proofID,
				AnswerHash:  answerHash,
				DatasetHash: req.DatasetHash,
				ChunksUsed:  len(chunks),
				Cost:        FormatEther(totalCost),
				Model:       answer.Model,
				TokensUsed:  answer.TokensUsed,
			},
		},
	}
}

func failed(log *logrus.Entry, msg string, err error) *models.QueryResult {
	log.WithError(err).Error(msg)
	return &models.QueryResult{
		Status: http.StatusInternalServerError,
		Body:   models.ErrorResponse{Error: fmt.Sprintf("%s: %v", msg, err)},
	}
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) > excerptLength {
		runes = runes[:excerptLength]
	}
	return string(runes) + "..."
}
