package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/geosentinel-data/geosentinel/internal/db"
)

// runMigrateCommand handles the 'migrate' subcommand dispatching.
func runMigrateCommand(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db", "geosentinel.db", "Path to the sqlite database")
	fs.Parse(args)

	if fs.NArg() < 1 {
		printMigrateHelp()
		os.Exit(1)
	}
	action := fs.Arg(0)

	if action == "help" {
		printMigrateHelp()
		return
	}

	database, err := openWithoutMigrating(*path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("All migrations applied successfully")
		showVersion(database)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration rolled back successfully")
		showVersion(database)

	case "status":
		version, dirty, err := database.MigrateVersion()
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		fmt.Println("=== Migration Status ===")
		fmt.Printf("Current version: %d\n", version)
		fmt.Printf("Dirty: %v\n", dirty)

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		printMigrateHelp()
		os.Exit(1)
	}
}

// openWithoutMigrating opens the database and leaves schema management to the
// requested migrate action.
func openWithoutMigrating(path string) (*db.DB, error) {
	return db.OpenRaw(path)
}

func showVersion(database *db.DB) {
	version, dirty, _ := database.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func printMigrateHelp() {
	fmt.Println(`Usage: geosentinel migrate [-db path] <action>

Actions:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  status   Show the current schema version
  help     Show this help`)
}
