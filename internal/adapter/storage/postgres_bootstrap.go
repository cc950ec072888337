package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maintenanceDatabase = "postgres"

// splitDatabaseURL returns the URL of the server's maintenance database and the
// name of the database postgresURL points at.
func splitDatabaseURL(postgresURL string) (string, string, error) {
	u, err := url.Parse(postgresURL)
	if err != nil {
		return "", "", fmt.Errorf("parse postgres url: %w", err)
	}

	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", "", errors.New("postgres url has no database name")
	}

	root := *u
	root.Path = "/" + maintenanceDatabase
	return root.String(), name, nil
}

// EnsureDatabase creates the database named in postgresURL when it is missing.
// It is meant for local development only.
func EnsureDatabase(ctx context.Context, postgresURL string, logger *zap.Logger) error {
	rootURL, name, err := splitDatabaseURL(postgresURL)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", rootURL)
	if err != nil {
		return fmt.Errorf("open postgres root: %w", err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_database WHERE datname = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup database %s: %w", name, err)
	}
	if exists {
		return nil
	}

	logger.Info("database not found, creating it", zap.String("db_name", name))
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	logger.Info("created database", zap.String("db_name", name))
	return nil
}

// MigratePostgres applies the embedded Postgres migrations through a
// database/sql view of pool. The pool itself stays open.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("init postgres migration driver: %w", err)
	}
	return runMigrations(ctx, "postgres", driver)
}
