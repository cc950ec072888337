package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const pgCheckViolation = "23514"

type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectAttempts int
}

// OpenPostgres builds the process-wide pool and waits for the server to answer.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}

	pool.Close()
	return nil, fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

var _ port.ProductRepository = (*PostgresAdapter)(nil)

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (a *PostgresAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := a.pool.QueryRow(ctx, `
		SELECT id, name, inventory_count
		FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.InventoryCount)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (a *PostgresAdapter) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, name, inventory_count
		FROM products
		ORDER BY id
		OFFSET $1 LIMIT $2`, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	products, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Product])
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}

// RunInTx uses READ COMMITTED; LockInventory's row lock is what serializes
// purchases of one product.
func (a *PostgresAdapter) RunInTx(ctx context.Context, fn func(tx port.ProductTx) error) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	// A commit that has started is allowed to finish even if the request is cancelled.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Seed replaces the table contents with products.
func (a *PostgresAdapter) Seed(ctx context.Context, products []domain.Product) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, `TRUNCATE TABLE products`); err != nil {
		return fmt.Errorf("reset products: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"products"},
		[]string{"id", "name", "inventory_count"},
		pgx.CopyFromSlice(len(products), func(i int) ([]any, error) {
			p := products[i]
			return []any{pgtype.UUID{Bytes: p.ID, Valid: true}, p.Name, p.InventoryCount}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy products: %w", err)
	}

	return tx.Commit(ctx)
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockInventory(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `
		SELECT inventory_count
		FROM products WHERE id = $1
		FOR UPDATE`, id,
	).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lock product: %w", err)
	}
	return count, true, nil
}

func (t *postgresTx) ConditionalDecrement(ctx context.Context, id uuid.UUID, amount int64) (int64, bool, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET inventory_count = inventory_count - $2::bigint
		WHERE id = $1 AND inventory_count - $2::bigint >= 0
		RETURNING inventory_count`, id, amount,
	).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("update inventory: %w", err)
	}
	return count, true, nil
}
