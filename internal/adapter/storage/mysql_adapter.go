package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL forces clientFoundRows so that a zero-quantity purchase still
// reports the matched row as affected.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*sqlx.DB, error) {
	driverCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	driverCfg.ClientFoundRows = true
	driverCfg.ParseTime = true
	driverCfg.MultiStatements = true

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}

	db := sqlx.NewDb(sql.OpenDB(connector), "mysql")
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

type MySQLAdapter struct {
	db *sqlx.DB
}

var _ port.ProductRepository = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	err := m.db.GetContext(ctx, &p, `
		SELECT id, name, inventory_count
		FROM products WHERE id = ?`, id.String(),
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	var products []domain.Product
	err := m.db.SelectContext(ctx, &products, `
		SELECT id, name, inventory_count
		FROM products
		ORDER BY id
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return products, nil
}

// RunInTx detaches the transaction lifetime from ctx: database/sql would roll
// back on cancellation even while Commit is in flight. Statements still use ctx.
func (m *MySQLAdapter) RunInTx(ctx context.Context, fn func(tx port.ProductTx) error) error {
	tx, err := m.db.BeginTxx(context.WithoutCancel(ctx), &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// MigrateMySQL applies the embedded MySQL migrations on a dedicated
// connection opened from dsn, since the migration driver closes its database.
func MigrateMySQL(ctx context.Context, dsn string) error {
	driverCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("parse mysql dsn: %w", err)
	}
	driverCfg.MultiStatements = true
	driverCfg.ParseTime = true

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return fmt.Errorf("create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	defer db.Close()

	driver, err := mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("init mysql migration driver: %w", err)
	}
	return runMigrations(ctx, "mysql", driver)
}

// Seed replaces the table contents with products.
func (m *MySQLAdapter) Seed(ctx context.Context, products []domain.Product) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("reset products: %w", err)
	}

	if len(products) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO products (id, name, inventory_count)
			VALUES (:id, :name, :inventory_count)`, products,
		)
		if err != nil {
			return fmt.Errorf("insert products: %w", err)
		}
	}

	return tx.Commit()
}

type mysqlTx struct {
	tx *sqlx.Tx
}

func (t *mysqlTx) LockInventory(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	var count int64
	err := t.tx.GetContext(ctx, &count, `
		SELECT inventory_count
		FROM products WHERE id = ?
		FOR UPDATE`, id.String(),
	)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lock product: %w", err)
	}
	return count, true, nil
}

// ConditionalDecrement has no RETURNING in MySQL; the row lock held by this tx
// makes the follow-up read observe exactly the value just written.
func (t *mysqlTx) ConditionalDecrement(ctx context.Context, id uuid.UUID, amount int64) (int64, bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET inventory_count = inventory_count - ?
		WHERE id = ? AND inventory_count >= ?`,
		amount, id.String(), amount,
	)
	if err != nil {
		return 0, false, fmt.Errorf("update inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return 0, false, nil
	}

	var count int64
	if err := t.tx.GetContext(ctx, &count, `SELECT inventory_count FROM products WHERE id = ?`, id.String()); err != nil {
		return 0, false, fmt.Errorf("read inventory: %w", err)
	}
	return count, true, nil
}
