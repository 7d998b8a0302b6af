package services

import "errors"

// Error kinds the gateways surface to the orchestrator and the
// controller. They are matched with errors.Is, so gateway code wraps
// them with fmt.Errorf("...: %w", ...) to add detail.
var (
	// ErrDatasetNotFound: neither the ledger nor the storage network
	// has a record for the requested root hash.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrProofNotFound: no proof has been recorded under the given id.
	ErrProofNotFound = errors.New("proof not found")

	// ErrStorageUnavailable: the content-addressing step or the remote
	// store failed for a reason other than a missing object.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrProofRecordingFailed: the recordProof transaction reverted or
	// finalized without emitting the QueryProcessed event. Retrying a
	// recordProof after this risks a duplicate submission, so callers
	// must treat it as terminal.
	ErrProofRecordingFailed = errors.New("proof recording failed")
)
