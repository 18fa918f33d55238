package main

import (
	"log"

	"github.com/eidolex/sqlgate/core/models"
	"github.com/eidolex/sqlgate/core/utils"
	"github.com/eidolex/sqlgate/server"
)

func main() {
	config := models.DefaultConfig()

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		Output: config.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	srv, err := server.NewServer(config, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Start server (this blocks until shutdown)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
