package main

import (
	"fmt"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
)

func main() {
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		log.Fatal(err)
	}

	logger := logrus.New()

	// InitDB runs the automigration for all models
	if _, err := repository.InitDB(&cfg.Database, logger); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	fmt.Println("Migration completed successfully")
}
