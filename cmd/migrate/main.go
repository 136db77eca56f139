// Package main provides a CLI to manage the Postgres schema outside the bot process.
//
// Usage:
//
//	migrate [--dsn DSN] [--path DIR] up|down|version
//
// Commands:
//
//	up:      apply every pending versioned migration
//	down:    roll back the most recent migration (destructive)
//	version: print the current schema version and dirty flag
//
// Environment Variables:
//
//	DB_DSN: Database connection string (used when --dsn is not given)
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeltedButter77/robotnic/db"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DB_DSN"), "Postgres connection string")
	path := flag.String("path", "", "Migrations directory (default: migrations built into the binary)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [--dsn DSN] [--path DIR] up|down|version")
		os.Exit(2)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, *dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	if err := run(database, flag.Arg(0), *path, os.Stdout); err != nil {
		slog.Error("migrate failed", slog.String("command", flag.Arg(0)), slog.Any("err", err))
		os.Exit(1)
	}
}

var errUnknownCommand = errors.New("unknown command")

func run(database *sql.DB, command, path string, out io.Writer) error {
	var source string
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		source = "file://" + abs
	}
	switch command {
	case "up":
		return db.RunMigrationsFromPath(database, source)
	case "down":
		return db.MigrateDownFromPath(database, source)
	case "version":
		v, dirty, err := db.GetMigrationVersion(database)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "version=%d dirty=%t\n", v, dirty)
		return err
	}
	return fmt.Errorf("%w %q", errUnknownCommand, command)
}
