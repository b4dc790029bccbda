// Package journal persists orders to a local sqlite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id      TEXT NOT NULL,
	side          TEXT NOT NULL,
	pair          TEXT NOT NULL,
	original_pair TEXT NOT NULL DEFAULT '',
	amount_filled TEXT NOT NULL,
	average_price TEXT NOT NULL,
	raw_cost      TEXT NOT NULL,
	fees          TEXT NOT NULL,
	fees_currency TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	signal_rule   TEXT NOT NULL DEFAULT '',
	swap_pair     TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(pair, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(o models.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO orders
		(order_id, side, pair, original_pair, amount_filled, average_price, raw_cost, fees,
		 fees_currency, result, message, signal_rule, swap_pair, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, string(o.Side), o.Pair, o.OriginalPair,
		o.AmountFilled.String(), o.AveragePrice.String(), o.RawCost.String(), o.Fees.String(),
		o.FeesCurrency, string(o.Result), o.Message,
		o.Provenance.SignalRule, o.Provenance.SwapPair, o.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// Orders loads journaled orders for pair, oldest first. An empty pair loads
// everything.
func (s *Store) Orders(ctx context.Context, pair string) ([]models.Order, error) {
	query := `SELECT order_id, side, pair, original_pair, amount_filled, average_price, raw_cost,
		fees, fees_currency, result, message, signal_rule, swap_pair, created_at FROM orders`
	var args []any
	if pair != "" {
		query += ` WHERE pair = ? OR original_pair = ?`
		args = append(args, pair, pair)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var (
			o                            models.Order
			side, result                 string
			amount, price, rawCost, fees string
			createdAt                    int64
		)
		if err := rows.Scan(&o.OrderID, &side, &o.Pair, &o.OriginalPair, &amount, &price, &rawCost,
			&fees, &o.FeesCurrency, &result, &o.Message, &o.Provenance.SignalRule,
			&o.Provenance.SwapPair, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = models.OrderSide(side)
		o.Result = models.OrderResult(result)
		o.AmountFilled = decimal.RequireFromString(amount)
		o.AveragePrice = decimal.RequireFromString(price)
		o.RawCost = decimal.RequireFromString(rawCost)
		o.Fees = decimal.RequireFromString(fees)
		o.Timestamp = time.Unix(0, createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}
