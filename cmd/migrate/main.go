// Command migrate applies or rolls back the relay's schema migrations,
// grounded on the teacher's own reliance on DSN-based config loading
// (notifyrelay/internal/config) and wired to golang-migrate/v4, a
// dependency the teacher's go.mod already declared but never imported.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"notifyrelay/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	direction := flag.String("direction", "up", "up or down")
	steps := flag.Int("steps", 0, "number of steps to migrate (0 = all)")
	path := flag.String("path", "migrations", "path to migration files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "critical: config load failed: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*path, cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "critical: migrate init failed: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	runErr := run(m, *direction, *steps)
	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "critical: migration failed: %v\n", runErr)
		os.Exit(1)
	}

	fmt.Println("migrations applied successfully")
}

func run(m *migrate.Migrate, direction string, steps int) error {
	if steps != 0 {
		if direction == "down" {
			steps = -steps
		}
		return m.Steps(steps)
	}

	switch direction {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}
}
