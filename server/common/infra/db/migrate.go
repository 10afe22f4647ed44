package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

func openForMigrations(dsn string) (*sql.DB, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return conn, nil
}

func MigrateUp(ctx context.Context, dsn string) error {
	conn, err := openForMigrations(dsn)
	if err != nil {
		return err
	}
	defer conn.Close()
	return goose.UpContext(ctx, conn, migrationsDir)
}

func MigrateStatus(ctx context.Context, dsn string) error {
	conn, err := openForMigrations(dsn)
	if err != nil {
		return err
	}
	defer conn.Close()
	return goose.StatusContext(ctx, conn, migrationsDir)
}
