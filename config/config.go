package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the backend needs from the environment.
// RPC_URL, CONTRACT_ADDRESS and PRIVATE_KEY must point at the payment
// contract deployment; the rest has testnet defaults.
type Config struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	RPCURL          string        `envconfig:"RPC_URL" default:"https://evmrpc-testnet.0g.ai/"`
	ContractAddress string        `envconfig:"CONTRACT_ADDRESS" required:"true"`
	PrivateKey      string        `envconfig:"PRIVATE_KEY" required:"true"`
	IndexerURL      string        `envconfig:"INDEXER_URL" default:"https://indexer-storage-testnet-standard.0g.ai"`
	ComputeEndpoint string        `envconfig:"OG_COMPUTE_ENDPOINT" default:"https://compute-api-testnet.0g.ai/v1"`
	ComputeAPIKey   string        `envconfig:"OG_COMPUTE_KEY"`
	Model           string        `envconfig:"OG_COMPUTE_MODEL" default:"0g-llm-7b"`
	MaxChunks       int           `envconfig:"MAX_CHUNKS" default:"5"`
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	UnidocKey       string        `envconfig:"UNIDOC_LICENSE_KEY"`
}

// Load reads a .env file if present, then populates Config from the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
