package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/cotoami/cotoami-node/pkg/storage"
)

var (
	dataDir    = flag.String("data-dir", "./cotoami-data", "Cotoami data directory")
	dbName     = flag.String("db-name", "cotoami.db", "Database file name within data-dir")
	dryRun     = flag.Bool("dry-run", false, "Report the current schema version without applying migrations")
	backupPath = flag.String("backup", "", "Path to back up the database before migrating (default: <db>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Cotoami Node Database Migration Tool")
	log.Println("=====================================")

	dbPath := filepath.Join(*dataDir, *dbName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	if err := copyFile(dbPath, backupFile); err != nil {
		log.Fatalf("Failed to create backup: %v", err)
	}
	log.Println("✓ Backup created successfully")

	if *dryRun {
		log.Println("\n[DRY RUN] storage.Open would apply any pending migrations here.")
		log.Println("Run without --dry-run to apply them.")
		log.Printf("Backup left at %s; remove it once you've confirmed the database is healthy.", backupFile)
		return
	}

	// storage.Open runs every pending migration as part of opening the
	// database, so there is no separate migration step to invoke here —
	// this tool exists to make sure a backup exists first.
	ctx := context.Background()
	engine, err := storage.Open(ctx, dbPath)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer engine.Close()

	log.Println("\n✓ Migration completed successfully!")
	log.Printf("Backup left at %s; remove it once you've confirmed the database is healthy.", backupFile)
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
