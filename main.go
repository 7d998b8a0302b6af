package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ragpay/backend/config"
	"github.com/ragpay/backend/controller"
	"github.com/ragpay/backend/services"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("could not load configuration")
	}

	if err := services.InitExtractor(cfg.UnidocKey); err != nil {
		log.WithError(err).Warn("could not set UniPDF license key, PDF publishing will fail")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.WithError(err).Fatal("could not create upload directory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	contractService, err := services.NewContractService(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.PrivateKey, log)
	if err != nil {
		log.WithError(err).Fatal("could not connect to payment contract")
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	storageService := services.NewStorageService(cfg.IndexerURL, httpClient, log)

	aiService, err := services.NewAIService(cfg.ComputeEndpoint, cfg.ComputeAPIKey, cfg.Model, log)
	if err != nil {
		log.WithError(err).Fatal("could not create compute client")
	}

	ragService := services.NewRAGService(contractService, storageService, aiService, cfg.MaxChunks, log)
	ragController := controller.NewRAGController(ragService, contractService, storageService, cfg.UploadDir)

	// The contract owner must authorize this wallet before proofs can
	// be recorded; warn loudly but keep serving the read endpoints.
	if authorized, err := contractService.IsAuthorized(ctx); err != nil {
		log.WithError(err).Error("cannot reach payment contract")
	} else if !authorized {
		log.Warnf("server wallet %s is not authorized to record proofs, ask the contract owner to call authorizeService", contractService.WalletAddress())
	} else {
		log.Info("server wallet is authorized to record proofs")
	}

	router := gin.Default()
	router.MaxMultipartMemory = 10 << 20 // 10MB dataset upload limit

	// CORS for browser clients.
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "X-Payment-Required, X-Payment-Contract, X-Required-Amount, X-Current-Balance, X-Chunks-Count")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/health", ragController.Health)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/query", ragController.Query)
		apiV1.POST("/publish", ragController.Publish)
		apiV1.GET("/balance/:address", ragController.GetBalance)
		apiV1.GET("/dataset/:hash", ragController.GetDataset)
		apiV1.GET("/datasets", ragController.ListDatasets)
		apiV1.GET("/proof/:id", ragController.GetProof)
		apiV1.GET("/info", ragController.Info)
	}

	log.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"contract": contractService.ContractAddress(),
		"wallet":   contractService.WalletAddress(),
	}).Info("paid RAG backend starting")

	if err := router.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
