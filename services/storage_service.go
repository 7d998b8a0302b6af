package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ragpay/backend/models"
)

// merkleSegmentSize is the leaf size used for content addressing.
const merkleSegmentSize = 256 * 1024

// Storage is the content-addressed storage gateway: it uploads dataset
// files, fetches chunks by root hash and runs relevance search over
// them.
type Storage interface {
	UploadDataset(ctx context.Context, filePath, metadata string) (*models.UploadResult, error)
	FetchChunks(ctx context.Context, rootHash string) ([]models.Chunk, error)
	SearchRelevantChunks(ctx context.Context, rootHash, query string, maxChunks int) ([]models.ScoredChunk, error)
	ListDatasets() []models.DatasetSummary
}

type cachedDataset struct {
	metadata string
	chunks   []models.Chunk
}

type storageServiceImpl struct {
	indexerURL string
	httpClient *http.Client
	tempDir    string
	log        *logrus.Entry

	// Process-local chunk cache keyed by root hash. Unbounded and never
	// invalidated: content addressing makes a stale entry impossible.
	// Concurrent re-derivation for the same root is harmless, the last
	// writer stores identical content.
	mu       sync.RWMutex
	datasets map[string]cachedDataset
}

// NewStorageService creates the gateway against a storage indexer
// endpoint.
func NewStorageService(indexerURL string, httpClient *http.Client, log *logrus.Logger) Storage {
	return &storageServiceImpl{
		indexerURL: indexerURL,
		httpClient: httpClient,
		tempDir:    os.TempDir(),
		log:        log.WithField("component", "storage"),
		datasets:   make(map[string]cachedDataset),
	}
}

// UploadDataset content-addresses a dataset file: extracts its text,
// computes the Merkle root, chunks the text and caches the result
// under the root hash. The returned root hash and chunk count are the
// parameters the publisher registers on-chain.
func (s *storageServiceImpl) UploadDataset(ctx context.Context, filePath, metadata string) (*models.UploadResult, error) {
	content, err := ExtractTextFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read dataset file: %v", ErrStorageUnavailable, err)
	}

	rootHash := MerkleRoot([]byte(content))
	chunks := ChunkText(content)

	s.mu.Lock()
	s.datasets[rootHash] = cachedDataset{metadata: metadata, chunks: chunks}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"rootHash": rootHash,
		"chunks":   len(chunks),
	}).Info("dataset uploaded")

	return &models.UploadResult{RootHash: rootHash, TotalChunks: len(chunks)}, nil
}

// FetchChunks returns the chunks for a root hash, downloading and
// re-deriving them from the storage network on a cache miss.
func (s *storageServiceImpl) FetchChunks(ctx context.Context, rootHash string) ([]models.Chunk, error) {
	s.mu.RLock()
	cached, ok := s.datasets[rootHash]
	s.mu.RUnlock()
	if ok {
		return cached.chunks, nil
	}

	tmpPath := filepath.Join(s.tempDir, fmt.Sprintf("dataset-%s.txt", uuid.New().String()))
	// The temp file goes away whether the download or the parse fails.
	defer os.Remove(tmpPath)

	if err := s.download(ctx, rootHash, tmpPath); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read downloaded dataset: %v", ErrStorageUnavailable, err)
	}

	chunks := ChunkText(string(content))

	s.mu.Lock()
	s.datasets[rootHash] = cachedDataset{chunks: chunks}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"rootHash": rootHash,
		"chunks":   len(chunks),
	}).Info("dataset downloaded and cached")

	return chunks, nil
}

// SearchRelevantChunks scores the dataset's chunks against the query
// and returns at most maxChunks of them, best first.
func (s *storageServiceImpl) SearchRelevantChunks(ctx context.Context, rootHash, query string, maxChunks int) ([]models.ScoredChunk, error) {
	chunks, err := s.FetchChunks(ctx, rootHash)
	if err != nil {
		return nil, err
	}
	scored := ScoreChunks(chunks, query)
	if len(scored) > maxChunks {
		scored = scored[:maxChunks]
	}
	return scored, nil
}

// ListDatasets reports every dataset the cache currently holds, sorted
// by root hash so the listing is stable across calls.
func (s *storageServiceImpl) ListDatasets() []models.DatasetSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.DatasetSummary, 0, len(s.datasets))
	for rootHash, cached := range s.datasets {
		summaries = append(summaries, models.DatasetSummary{
			RootHash:    rootHash,
			Metadata:    cached.metadata,
			TotalChunks: len(cached.chunks),
			Cached:      true,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].RootHash < summaries[j].RootHash
	})
	return summaries
}

// download streams the object for rootHash from the indexer into
// destPath.
func (s *storageServiceImpl) download(ctx context.Context, rootHash, destPath string) error {
	endpoint := fmt.Sprintf("%s/file?root=%s", s.indexerURL, url.QueryEscape(rootHash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: could not build download request: %v", ErrStorageUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download failed: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: no object for root %s", ErrDatasetNotFound, rootHash)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: indexer returned status %d", ErrStorageUnavailable, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: could not create temp file: %v", ErrStorageUnavailable, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("%w: could not write temp file: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// MerkleRoot computes the content address of a blob: a sha256 binary
// Merkle tree over fixed-size segments, the last node carried up when
// a level is odd. Empty content hashes to the digest of the empty
// string.
func MerkleRoot(content []byte) string {
	var level [][32]byte
	for start := 0; start < len(content); start += merkleSegmentSize {
		end := start + merkleSegmentSize
		if end > len(content) {
			end = len(content)
		}
		level = append(level, sha256.Sum256(content[start:end]))
	}
	if len(level) == 0 {
		level = append(level, sha256.Sum256(nil))
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			joined := append(level[i][:], level[i+1][:]...)
			next = append(next, sha256.Sum256(joined))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}

	return "0x" + hex.EncodeToString(level[0][:])
}
