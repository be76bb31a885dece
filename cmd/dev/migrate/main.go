// Command migrate applies, rolls back, or reports the version of the
// Postgres session-store schema. Subcommands: up (default), down, version.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mazz-seven/shopify-tools/pkg/config"
	"github.com/mazz-seven/shopify-tools/pkg/db"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(2)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
			fail(err)
		}
		// Sanity check: the runtime pool must open against the migrated schema.
		// DSNs are not printed to keep secrets out of logs.
		pool, err := db.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			fail(fmt.Errorf("runtime db open: %w", err))
		}
		pool.Close()
		fmt.Println("migrations applied")
	case "down":
		if err := db.MigrateDown(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
			fail(err)
		}
		fmt.Println("migrations rolled back")
	case "version":
		v, dirty, err := db.MigrateVersion(cfg.MigrationsPath, cfg.DatabaseURL)
		if err != nil {
			fail(err)
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
	default:
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|version]")
		os.Exit(2)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
	os.Exit(1)
}
