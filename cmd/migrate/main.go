package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"cipherstore/config"
	"cipherstore/internal/repository"
	"cipherstore/pkg/database"
	"cipherstore/pkg/logger"
)

const usage = `
cipherstore - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create or update the schema
  status      Validate the on-disk schema against the expected contract
  seed-dev    Seed with development/test data

Flags:
  -db string   Path to the database file (overrides DB_PATH)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go seed-dev
`

func main() {
	dbPath := flag.String("db", "", "Path to the database file")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	logger.SetGlobalLogger(logger.New(logger.DevelopmentMode))

	cfg := config.LoadConfig()
	path := cfg.DBPath
	if *dbPath != "" {
		path = *dbPath
	}

	db, err := database.Open(path, true)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close(db)

	switch command {
	case "up":
		if err := repository.InitSchema(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Schema is up to date")
	case "status":
		if err := repository.ValidateSchema(db); err != nil {
			log.Fatalf("Schema validation failed: %v", err)
		}
		log.Println("Schema matches the expected contract")
	case "seed-dev":
		if err := repository.InitSchema(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		if _, err := database.Seed(db, nil); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Println("Development data seeded")
	default:
		flag.Usage()
		os.Exit(1)
	}
}
