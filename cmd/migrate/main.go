package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq" // Postgres driver registration.
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"whistleblower/internal/storage"
	"whistleblower/migrations"
)

func main() {
	dsn := flag.String("db", envOrDefault("DATABASE_URL", "./data/bot.db"), "sqlite path or postgres:// url")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db dsn] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
		os.Exit(1)
	}

	backend, err := storage.ParseDSN(*dsn)
	if err != nil {
		log.Fatalf("parse dsn: %v", err)
	}

	db, err := sql.Open(backend.Driver, backend.Source)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(backend.Dialect, db, migrations.FS)
	if err != nil {
		log.Fatalf("create provider: %v", err)
	}

	ctx := context.Background()
	cmd := args[0]
	switch cmd {
	case "up":
		err = report(provider.Up(ctx))
	case "up-one":
		var res *goose.MigrationResult
		if res, err = provider.UpByOne(ctx); err == nil {
			fmt.Println(res)
		}
	case "down":
		var res *goose.MigrationResult
		if res, err = provider.Down(ctx); err == nil {
			fmt.Println(res)
		}
	case "status":
		var statuses []*goose.MigrationStatus
		if statuses, err = provider.Status(ctx); err == nil {
			for _, s := range statuses {
				fmt.Printf("%-8s %5d  %s\n", s.State, s.Source.Version, s.Source.Path)
			}
		}
	case "version":
		var v int64
		if v, err = provider.GetDBVersion(ctx); err == nil {
			fmt.Printf("version %d\n", v)
		}
	case "reset":
		err = report(provider.DownTo(ctx, 0))
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func report(results []*goose.MigrationResult, err error) error {
	for _, r := range results {
		fmt.Println(r)
	}
	return err
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
