// pg_cmdqd_seed inserts sample rows into a process-command queue table
// and a SQL-command queue table, for exercising a local pg_cmdqd
// daemon. It is a one-shot dev convenience, not part of the engine —
// the queue tables themselves are assumed already migrated.
//
// Run: go run ./cmd/pg_cmdqd_seed [connection_string]
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/bigsmoke/pg_cmdqd/internal/pgcodec"
)

type processSeed struct {
	argv []string
	env  map[string]string
}

var processSeeds = []processSeed{
	{argv: []string{"echo", "hello from pg_cmdqd"}},
	{argv: []string{"date", "--iso-8601=seconds"}},
	{argv: []string{"sleep", "1"}},
	{argv: []string{"false"}}, // exercises the nonzero-exit path
	{argv: []string{"sh", "-c", "echo to stderr >&2 && exit 3"}, env: map[string]string{"SHELL_SEED": "1"}},
}

var sqlSeeds = []string{
	"SELECT pg_sleep(0.1)",
	"INSERT INTO pg_cmdqd_seed_scratch (seeded_at) VALUES (now())",
	"SELECT 1/0", // exercises the fatal-error path
}

func main() {
	connString := os.Getenv("PG_CMDQD_CONNECTION_STRING")
	if len(os.Args) > 1 {
		connString = os.Args[1]
	}
	processTable := envOr("PG_CMDQD_SEED_PROCESS_TABLE", "shell_cmd_queue")
	sqlTable := envOr("PG_CMDQD_SEED_SQL_TABLE", "report_cmd_queue")

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	inserted := 0
	for _, s := range processSeeds {
		envHstore, err := pgcodec.EncodeHstore(s.env)
		if err != nil {
			log.Fatalf("encode env: %v", err)
		}
		tag, err := conn.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (argv, env) VALUES ($1, $2)`, pgx.Identifier{processTable}.Sanitize()),
			s.argv, envHstore)
		if err != nil {
			log.Fatalf("insert into %s: %v", processTable, err)
		}
		inserted += int(tag.RowsAffected())
	}

	for _, sql := range sqlSeeds {
		tag, err := conn.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (sql) VALUES ($1)`, pgx.Identifier{sqlTable}.Sanitize()),
			sql)
		if err != nil {
			log.Fatalf("insert into %s: %v", sqlTable, err)
		}
		inserted += int(tag.RowsAffected())
	}

	fmt.Printf("seeded %d rows into %s and %s\n", inserted, processTable, sqlTable)
	fmt.Println("start pg_cmdqd and watch it drain them:")
	fmt.Printf("  go run ./cmd/pg_cmdqd --log-level=DEBUG1\n")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
