package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"scentcart/internal/db"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Swapped in tests.
var (
	migrateFunc = db.Migrate
	versionFunc = db.Version
)

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "up", "migration mode: up or down")
	flag.Parse()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL not set in environment")
	}

	conn, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}
	defer conn.Close()

	if err := run(conn, *mode); err != nil {
		log.Fatal(err)
	}
}

func run(conn *sql.DB, mode string) error {
	if mode != "up" && mode != "down" {
		return fmt.Errorf("unknown mode: %s (use 'up' or 'down')", mode)
	}
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateFunc(conn, mode); err != nil {
		return err
	}

	version, dirty, err := versionFunc(conn)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("migrations %s done, schema version %d (dirty=%t)\n", mode, version, dirty)
	return nil
}
