package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ascms.org/internal/migrate"
	"ascms.org/internal/store/pg"
	"ascms.org/ops/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("ASCMS_PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Read sql/ and seeds/ from this directory instead of the embedded files")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ASCMS_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|purge-tokens]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var files fs.FS = migrations.Files
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, files)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		printAll("applied", applied)
	case "down":
		var last string
		last, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", last)
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		printAll("seeded", applied)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	case "purge-tokens":
		var n int64
		n, err = pg.New(db).RefreshTokens().DeleteExpired(ctx, time.Now().UTC())
		if err == nil {
			fmt.Printf("deleted %d expired refresh tokens\n", n)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func printAll(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing to do")
		return
	}
	for _, n := range names {
		fmt.Println(verb, n)
	}
}
