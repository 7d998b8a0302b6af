package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"

	"github.com/ragpay/backend/models"
)

// contractABI covers the slice of the payment contract this service
// consumes: balance/dataset/proof reads, proof recording and the
// authorization check.
const contractABI = `[
  {"type":"function","name":"getUserBalance","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getDatasetInfo","stateMutability":"view","inputs":[{"name":"rootHash","type":"bytes32"}],"outputs":[{"name":"publisher","type":"address"},{"name":"metadataURI","type":"string"},{"name":"pricePerChunk","type":"uint256"},{"name":"rootHash","type":"bytes32"},{"name":"totalChunks","type":"uint256"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"proofs","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"answerHash","type":"bytes32"},{"name":"datasetHash","type":"bytes32"},{"name":"chunkIds","type":"uint256[]"},{"name":"user","type":"address"},{"name":"timestamp","type":"uint256"},{"name":"amountPaid","type":"uint256"},{"name":"modelUsed","type":"string"}]},
  {"type":"function","name":"recordProof","stateMutability":"nonpayable","inputs":[{"name":"_answerHash","type":"bytes32"},{"name":"_datasetHash","type":"bytes32"},{"name":"_chunkIds","type":"uint256[]"},{"name":"_user","type":"address"},{"name":"_modelUsed","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"authorizedServices","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"QueryProcessed","inputs":[{"name":"proofId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"datasetHash","type":"bytes32","indexed":false}],"anonymous":false}
]`

// queryProcessedTopic is the topic0 of the event the contract emits
// when a proof is recorded. The assigned proof id sits in topic1.
var queryProcessedTopic = crypto.Keccak256Hash([]byte("QueryProcessed(uint256,address,bytes32)"))

// Ledger is the on-chain gateway consumed by the orchestrator and the
// HTTP layer.
type Ledger interface {
	GetUserBalance(ctx context.Context, userAddress string) (*big.Int, error)
	GetDatasetInfo(ctx context.Context, datasetHash string) (*models.DatasetInfo, error)
	GetProof(ctx context.Context, proofID uint64) (*models.Proof, error)

	// RecordProof submits the proof transaction, waits for it to be
	// mined and resolves the ledger-assigned proof id from the emitted
	// QueryProcessed event. It is not idempotent: retrying after a
	// timeout risks double-charging the user.
	RecordProof(ctx context.Context, answerHash, datasetHash string, chunkIDs []int, userAddress, modelUsed string) (uint64, error)

	IsAuthorized(ctx context.Context) (bool, error)

	// WalletBalance is the server wallet's native gas balance, not a
	// contract balance.
	WalletBalance(ctx context.Context) (*big.Int, error)

	ContractAddress() string
	WalletAddress() string
}

// ContractService talks to the payment contract over JSON-RPC.
type ContractService struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	wallet   common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	log      *logrus.Entry
}

// NewContractService dials the RPC endpoint and binds the payment
// contract with the server's signing key.
func NewContractService(ctx context.Context, rpcURL, contractAddress, privateKey string, log *logrus.Logger) (*ContractService, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("could not dial rpc endpoint: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch chain id: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse contract abi: %w", err)
	}

	address := common.HexToAddress(contractAddress)
	return &ContractService{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
		wallet:   crypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		chainID:  chainID,
		log:      log.WithField("component", "contract"),
	}, nil
}

func (c *ContractService) GetUserBalance(ctx context.Context, userAddress string) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getUserBalance", common.HexToAddress(userAddress))
	if err != nil {
		return nil, fmt.Errorf("balance lookup failed: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (c *ContractService) GetDatasetInfo(ctx context.Context, datasetHash string) (*models.DatasetInfo, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getDatasetInfo", [32]byte(common.HexToHash(datasetHash)))
	if err != nil {
		return nil, fmt.Errorf("dataset lookup failed: %w", err)
	}

	publisher := out[0].(common.Address)
	if publisher == (common.Address{}) {
		return nil, fmt.Errorf("%w: no dataset registered for %s", ErrDatasetNotFound, datasetHash)
	}

	root := out[3].([32]byte)
	return &models.DatasetInfo{
		Publisher:     publisher.Hex(),
		MetadataURI:   out[1].(string),
		PricePerChunk: out[2].(*big.Int),
		RootHash:      common.Hash(root).Hex(),
		TotalChunks:   out[4].(*big.Int).Uint64(),
		Active:        out[5].(bool),
	}, nil
}

func (c *ContractService) GetProof(ctx context.Context, proofID uint64) (*models.Proof, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "proofs", new(big.Int).SetUint64(proofID))
	if err != nil {
		return nil, fmt.Errorf("proof lookup failed: %w", err)
	}

	answerHash := out[0].([32]byte)
	if answerHash == ([32]byte{}) {
		return nil, fmt.Errorf("%w: no proof with id %d", ErrProofNotFound, proofID)
	}

	rawIDs := out[2].([]*big.Int)
	chunkIDs := make([]uint64, len(rawIDs))
	for i, id := range rawIDs {
		chunkIDs[i] = id.Uint64()
	}

	datasetHash := out[1].([32]byte)
	return &models.Proof{
		ID:          proofID,
		AnswerHash:  common.Hash(answerHash).Hex(),
		DatasetHash: common.Hash(datasetHash).Hex(),
		ChunkIDs:    chunkIDs,
		User:        out[3].(common.Address).Hex(),
		Timestamp:   out[4].(*big.Int).Uint64(),
		AmountPaid:  out[5].(*big.Int),
		ModelUsed:   out[6].(string),
	}, nil
}

func (c *ContractService) RecordProof(ctx context.Context, answerHash, datasetHash string, chunkIDs []int, userAddress, modelUsed string) (uint64, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return 0, fmt.Errorf("%w: could not build transactor: %v", ErrProofRecordingFailed, err)
	}
	opts.Context = ctx

	ids := make([]*big.Int, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = big.NewInt(int64(id))
	}

	tx, err := c.contract.Transact(opts, "recordProof",
		[32]byte(common.HexToHash(answerHash)),
		[32]byte(common.HexToHash(datasetHash)),
		ids,
		common.HexToAddress(userAddress),
		modelUsed,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: could not submit transaction: %v", ErrProofRecordingFailed, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return 0, fmt.Errorf("%w: transaction not mined: %v", ErrProofRecordingFailed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: transaction %s reverted", ErrProofRecordingFailed, tx.Hash().Hex())
	}

	proofID, err := ExtractProofID(receipt.Logs)
	if err != nil {
		return 0, err
	}

	c.log.WithFields(logrus.Fields{
		"proofId": proofID,
		"tx":      tx.Hash().Hex(),
	}).Info("proof recorded")
	return proofID, nil
}

func (c *ContractService) IsAuthorized(ctx context.Context) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "authorizedServices", c.wallet)
	if err != nil {
		return false, fmt.Errorf("authorization check failed: %w", err)
	}
	return out[0].(bool), nil
}

func (c *ContractService) WalletBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet balance lookup failed: %w", err)
	}
	return balance, nil
}

func (c *ContractService) ContractAddress() string {
	return c.address.Hex()
}

func (c *ContractService) WalletAddress() string {
	return c.wallet.Hex()
}

// ExtractProofID scans receipt logs for the QueryProcessed event and
// decodes the assigned proof id from its first indexed topic.
func ExtractProofID(logs []*types.Log) (uint64, error) {
	for _, l := range logs {
		if len(l.Topics) >= 2 && l.Topics[0] == queryProcessedTopic {
			return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), nil
		}
	}
	return 0, fmt.Errorf("%w: no QueryProcessed event in receipt", ErrProofRecordingFailed)
}

// ParseEther converts a decimal ether string to wei. Amounts with more
// than 18 decimal places or a negative sign are rejected.
func ParseEther(amount string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid ether amount %q", amount)
	}
	wei := new(big.Rat).Mul(r, new(big.Rat).SetInt64(params.Ether))
	if !wei.IsInt() {
		return nil, fmt.Errorf("ether amount %q has sub-wei precision", amount)
	}
	return new(big.Int).Set(wei.Num()), nil
}

// FormatEther renders a wei amount as a decimal ether string, the way
// the payment headers and balance endpoint report amounts.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether)).FloatString(18)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}
