package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpay/backend/models"
)

// fakeLedger is an in-memory Ledger with call tracking.
type fakeLedger struct {
	balances      map[string]*big.Int
	datasets      map[string]*models.DatasetInfo
	nextProofID   uint64
	recorded      []string
	recordErr     error
	balanceErr    error
	recordedCalls int
}

func (f *fakeLedger) GetUserBalance(ctx context.Context, user string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if b, ok := f.balances[user]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeLedger) GetDatasetInfo(ctx context.Context, hash string) (*models.DatasetInfo, error) {
	info, ok := f.datasets[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, hash)
	}
	return info, nil
}

func (f *fakeLedger) GetProof(ctx context.Context, id uint64) (*models.Proof, error) {
	return nil, ErrProofNotFound
}

func (f *fakeLedger) RecordProof(ctx context.Context, answerHash, datasetHash string, chunkIDs []int, user, model string) (uint64, error) {
	f.recordedCalls++
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	f.recorded = append(f.recorded, answerHash)
	f.nextProofID++
	return f.nextProofID, nil
}

func (f *fakeLedger) IsAuthorized(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeLedger) ContractAddress() string                        { return "0xC0FFEE" }
func (f *fakeLedger) WalletAddress() string                          { return "0xFEED" }

func (f *fakeLedger) WalletBalance(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

// fakeStorage serves fixed chunks and records whether it was called.
type fakeStorage struct {
	chunks map[string][]models.Chunk
	calls  int
}

func (f *fakeStorage) UploadDataset(ctx context.Context, path, metadata string) (*models.UploadResult, error) {
	return nil, ErrStorageUnavailable
}

func (f *fakeStorage) FetchChunks(ctx context.Context, rootHash string) ([]models.Chunk, error) {
	f.calls++
	chunks, ok := f.chunks[rootHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, rootHash)
	}
	return chunks, nil
}

func (f *fakeStorage) ListDatasets() []models.DatasetSummary { return nil }

func (f *fakeStorage) SearchRelevantChunks(ctx context.Context, rootHash, query string, maxChunks int) ([]models.ScoredChunk, error) {
	chunks, err := f.FetchChunks(ctx, rootHash)
	if err != nil {
		return nil, err
	}
	scored := ScoreChunks(chunks, query)
	if len(scored) > maxChunks {
		scored = scored[:maxChunks]
	}
	return scored, nil
}

const testDataset = "0xabc123"

func newTestPipeline(t *testing.T, balance *big.Int, price *big.Int, active bool) (*fakeLedger, *fakeStorage, RAGService) {
	t.Helper()
	ledger := &fakeLedger{
		balances: map[string]*big.Int{"0xuser": balance},
		datasets: map[string]*models.DatasetInfo{
			testDataset: {
				Publisher:     "0xpub",
				MetadataURI:   "animal facts",
				PricePerChunk: price,
				RootHash:      testDataset,
				TotalChunks:   2,
				Active:        active,
			},
		},
	}
	storage := &fakeStorage{chunks: map[string][]models.Chunk{
		testDataset: ChunkText("cats are great\n\ndogs are loyal"),
	}}
	ai, err := NewAIService("https://compute.invalid/v1", "", "0g-llm-7b", newTestLogger())
	require.NoError(t, err)
	rag := NewRAGService(ledger, storage, ai, 5, newTestLogger())
	return ledger, storage, rag
}

func query() models.QueryRequest {
	return models.QueryRequest{
		Query:       "tell me about cats",
		DatasetHash: testDataset,
		UserAddress: "0xuser",
	}
}

func TestProcessQuerySuccess(t *testing.T) {
	price := big.NewInt(1_000_000_000_000_000) // 0.001 ether per chunk
	ledger, _, rag := newTestPipeline(t, big.NewInt(1_000_000_000_000_000_000), price, true)

	result := rag.ProcessQuery(context.Background(), query())

	require.Equal(t, http.StatusOK, result.Status)
	body, ok := result.Body.(models.QueryResponse)
	require.True(t, ok)

	// Only chunk 0 mentions cats; chunk 1 scores zero and is excluded.
	require.Len(t, body.Citations, 1)
	assert.Equal(t, 0, body.Citations[0].ChunkID)
	assert.GreaterOrEqual(t, body.Citations[0].Score, 1)

	assert.Equal(t, uint64(1), body.Proof.ID)
	assert.Equal(t, testDataset, body.Proof.DatasetHash)
	assert.Equal(t, 1, body.Proof.ChunksUsed)
	assert.Equal(t, "0.001", body.Proof.Cost)
	assert.Equal(t, body.Proof.AnswerHash, ledger.recorded[0])
	assert.NotEmpty(t, body.Answer)
}

func TestProcessQueryInsufficientBalance(t *testing.T) {
	ledger, _, rag := newTestPipeline(t, big.NewInt(0), big.NewInt(1_000_000_000_000_000), true)

	result := rag.ProcessQuery(context.Background(), query())

	require.Equal(t, http.StatusPaymentRequired, result.Status)
	assert.Equal(t, "1", result.Headers["X-Chunks-Count"])
	assert.Equal(t, "true", result.Headers["X-Payment-Required"])
	assert.Equal(t, "0xC0FFEE", result.Headers["X-Payment-Contract"])
	assert.Equal(t, "0.001", result.Headers["X-Required-Amount"])
	assert.Equal(t, "0.0", result.Headers["X-Current-Balance"])

	body := result.Body.(models.ErrorResponse)
	assert.Equal(t, "Insufficient balance", body.Error)
	assert.Equal(t, "0.001", body.Required)
	assert.Equal(t, "0.0", body.Balance)

	// No proof must be recorded behind the payment gate.
	assert.Zero(t, ledger.recordedCalls)
}

func TestProcessQueryExactBalancePasses(t *testing.T) {
	price := big.NewInt(1_000_000_000_000_000)
	// Balance equals cost for one chunk: the gate must not trip.
	_, _, rag := newTestPipeline(t, new(big.Int).Set(price), price, true)

	result := rag.ProcessQuery(context.Background(), query())

	assert.Equal(t, http.StatusOK, result.Status)
}

func TestProcessQueryInactiveDataset(t *testing.T) {
	ledger, storage, rag := newTestPipeline(t, big.NewInt(1), big.NewInt(1), false)

	result := rag.ProcessQuery(context.Background(), query())

	require.Equal(t, http.StatusBadRequest, result.Status)
	assert.Equal(t, "Dataset not active", result.Body.(models.ErrorResponse).Error)

	// Inactive datasets are rejected before retrieval or any write.
	assert.Zero(t, storage.calls)
	assert.Zero(t, ledger.recordedCalls)
}

func TestProcessQueryNoRelevantData(t *testing.T) {
	ledger, _, rag := newTestPipeline(t, big.NewInt(1_000_000), big.NewInt(1), true)

	req := query()
	req.Query = "quantum chromodynamics lattice"
	result := rag.ProcessQuery(context.Background(), req)

	require.Equal(t, http.StatusNotFound, result.Status)
	assert.Equal(t, "No relevant information found", result.Body.(models.ErrorResponse).Error)
	assert.Zero(t, ledger.recordedCalls)
}

func TestProcessQueryUnknownDataset(t *testing.T) {
	_, _, rag := newTestPipeline(t, big.NewInt(1), big.NewInt(1), true)

	req := query()
	req.DatasetHash = "0xdoesnotexist"
	result := rag.ProcessQuery(context.Background(), req)

	assert.Equal(t, http.StatusNotFound, result.Status)
	assert.Equal(t, "Dataset not found", result.Body.(models.ErrorResponse).Error)
}

func TestProcessQueryProofRecordingFailure(t *testing.T) {
	ledger, _, rag := newTestPipeline(t, big.NewInt(1_000_000), big.NewInt(1), true)
	ledger.recordErr = fmt.Errorf("%w: no QueryProcessed event in receipt", ErrProofRecordingFailed)

	result := rag.ProcessQuery(context.Background(), query())

	assert.Equal(t, http.StatusInternalServerError, result.Status)
	// Exactly one attempt: recordProof is not idempotent.
	assert.Equal(t, 1, ledger.recordedCalls)
}

func TestProcessQueryBalanceLookupFailure(t *testing.T) {
	ledger, _, rag := newTestPipeline(t, big.NewInt(1), big.NewInt(1), true)
	ledger.balanceErr = errors.New("rpc timeout")

	result := rag.ProcessQuery(context.Background(), query())

	assert.Equal(t, http.StatusInternalServerError, result.Status)
}
