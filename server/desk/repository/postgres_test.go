package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execRecorder struct {
	sql  []string
	args [][]any
}

func (r *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, nil
}

func (r *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (r *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestLockClientKeepsFullTenantID(t *testing.T) {
	rec := &execRecorder{}
	tx := &postgresTx{q: rec}
	ctx := context.Background()

	// 1<<32+1 and 1 collide once truncated to 32 bits
	if err := tx.LockClient(ctx, 1<<32+1, 42); err != nil {
		t.Fatalf("LockClient: %v", err)
	}
	if err := tx.LockClient(ctx, 1, 42); err != nil {
		t.Fatalf("LockClient: %v", err)
	}
	if len(rec.sql) != 2 {
		t.Fatalf("statements = %d", len(rec.sql))
	}
	if !strings.Contains(rec.sql[0], "pg_advisory_xact_lock(hashtextextended($1::text, 0))") {
		t.Fatalf("sql = %q", rec.sql[0])
	}
	first, second := rec.args[0][0], rec.args[1][0]
	if first != "tenant:4294967297:client:42" || second != "tenant:1:client:42" {
		t.Fatalf("lock keys = %v, %v", first, second)
	}
}
