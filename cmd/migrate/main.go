package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nikodwicahyo/helpdesk/internal/migrate"
	"github.com/nikodwicahyo/helpdesk/migrations"
)

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	dsn := os.Getenv("HELPDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("HELPDESK_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	runner := migrate.NewRunner(db, migrations.Files)
	switch cmd {
	case "up":
		if err := runner.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")
	case "status":
		applied, err := runner.Status(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down or status)", cmd)
	}
}
