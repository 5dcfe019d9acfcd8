package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/service/storage"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "Database path")
	flag.StringVar(&cfg.UploadDirectory, "dir", cfg.UploadDirectory, "Artifact directory")
	flag.DurationVar(&cfg.ArtifactMaxAge, "max-age", cfg.ArtifactMaxAge, "Remove artifacts older than this (0 disables)")
	flag.Int64Var(&cfg.ArtifactMaxBytes, "max-bytes", cfg.ArtifactMaxBytes, "Keep total artifact size under this many bytes (0 disables)")
	flag.Parse()

	fmt.Printf("Pruning artifacts in %s (index %s)\n", cfg.UploadDirectory, cfg.DatabasePath)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	l := logger.NewWithOutput(cfg.LogDirectory, os.Stdout)
	defer l.Close()

	artifacts := sqlite.NewArtifactRepository(db)
	store, err := storage.NewArtifactStore(cfg, l, nil, artifacts, sqlite.NewDetectionRepository(db))
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	removed, err := store.Prune()
	if err != nil {
		log.Fatalf("Retention failed after removing %d artifacts: %v", removed, err)
	}

	total, err := artifacts.TotalSize()
	if err != nil {
		log.Fatalf("Failed to read artifact size: %v", err)
	}
	fmt.Printf("Removed %d artifacts, %d bytes remain\n", removed, total)
}
