package main

import (
	"log"

	"github.com/vbonduro/spaform/internal/catalog"
	"github.com/vbonduro/spaform/internal/config"
	"github.com/vbonduro/spaform/internal/db"
	"github.com/vbonduro/spaform/internal/imagestore/local"
	"github.com/vbonduro/spaform/internal/logging"
	"github.com/vbonduro/spaform/internal/store"
	"github.com/vbonduro/spaform/internal/stubapi"
)

func main() {
	cfg, err := config.LoadFiles(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New("spastub", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.StubDBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	blobs, err := local.New(cfg.StubMediaPath, logger)
	if err != nil {
		logger.Error("failed to initialize media store", "error", err)
		return
	}

	svc := catalog.NewService(store.NewSpaStore(database), store.NewImageStore(database), blobs, logger)
	server := stubapi.NewServer(svc, cfg.APICollection, cfg.StubPublicURL, logger)

	if err := server.ListenAndServe(cfg.StubListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}
