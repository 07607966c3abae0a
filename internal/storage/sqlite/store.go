// Package sqlite is the Trading Engine's persistent store:
// Portfolios, Positions, Trades, and Reasoning Entries, adapted from
// the teacher's session/message store — same pragma set and
// upsert/transaction idiom, new schema.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dax-arena/core/internal/domain"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS portfolios (
    model_id TEXT PRIMARY KEY,
    cash_balance TEXT NOT NULL,
    total_value TEXT NOT NULL,
    realized_pl TEXT NOT NULL,
    total_pl TEXT NOT NULL,
    total_pl_percentage TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
    model_id TEXT NOT NULL REFERENCES portfolios(model_id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    avg_price TEXT NOT NULL,
    current_price TEXT NOT NULL,
    unrealized_pl TEXT NOT NULL,
    unrealized_pl_percentage TEXT NOT NULL,
    opened_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (model_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id TEXT NOT NULL REFERENCES portfolios(model_id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price TEXT NOT NULL,
    fee TEXT NOT NULL,
    total TEXT NOT NULL,
    status TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    realized_pl TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_model_ts ON trades(model_id, timestamp);

CREATE TABLE IF NOT EXISTS reasoning_entries (
    id TEXT PRIMARY KEY,
    model_id TEXT NOT NULL REFERENCES portfolios(model_id) ON DELETE CASCADE,
    timestamp DATETIME NOT NULL,
    research_content TEXT NOT NULL DEFAULT '',
    decision TEXT NOT NULL,
    reasoning_text TEXT NOT NULL DEFAULT '',
    confidence TEXT NOT NULL,
    raw_response TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reasoning_model_ts ON reasoning_entries(model_id, timestamp);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on success
// and rolling back on any error — the atomicity boundary for
// execute_buy/execute_sell (spec §4.7/§5: "at-most-once semantics").
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// InitializePortfolio creates the portfolio row if it does not yet
// exist (idempotent per spec §4.7 `initialize`).
func (s *Store) InitializePortfolio(ctx context.Context, modelID string, startingBalance decimal.Decimal) (*domain.Portfolio, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO portfolios (model_id, cash_balance, total_value, realized_pl, total_pl, total_pl_percentage)
VALUES (?, ?, ?, '0', '0', '0')
ON CONFLICT(model_id) DO NOTHING
`, modelID, startingBalance.String(), startingBalance.String())
	if err != nil {
		return nil, fmt.Errorf("initialize portfolio: %w", err)
	}
	return s.GetPortfolio(ctx, modelID)
}

func (s *Store) GetPortfolio(ctx context.Context, modelID string) (*domain.Portfolio, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model_id, cash_balance, total_value, realized_pl, total_pl, total_pl_percentage
FROM portfolios WHERE model_id = ?
`, modelID)

	var p domain.Portfolio
	var cash, total, realized, totalPL, totalPLPct string
	if err := row.Scan(&p.ModelID, &cash, &total, &realized, &totalPL, &totalPLPct); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	p.CashBalance, p.TotalValue, p.RealizedPL, p.TotalPL, p.TotalPLPercentage = dec(cash), dec(total), dec(realized), dec(totalPL), dec(totalPLPct)
	return &p, nil
}

func (s *Store) SavePortfolioTx(ctx context.Context, tx *sql.Tx, p domain.Portfolio) error {
	_, err := tx.ExecContext(ctx, `
UPDATE portfolios
SET cash_balance=?, total_value=?, realized_pl=?, total_pl=?, total_pl_percentage=?, updated_at=CURRENT_TIMESTAMP
WHERE model_id=?
`, p.CashBalance.String(), p.TotalValue.String(), p.RealizedPL.String(), p.TotalPL.String(), p.TotalPLPercentage.String(), p.ModelID)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}

func (s *Store) GetPositionTx(ctx context.Context, tx *sql.Tx, modelID, symbol string) (*domain.Position, error) {
	row := tx.QueryRowContext(ctx, `
SELECT model_id, symbol, quantity, avg_price, current_price, unrealized_pl, unrealized_pl_percentage, opened_at, updated_at
FROM positions WHERE model_id=? AND symbol=?
`, modelID, symbol)

	var pos domain.Position
	var avg, cur, unrl, unrlPct string
	if err := row.Scan(&pos.ModelID, &pos.Symbol, &pos.Quantity, &avg, &cur, &unrl, &unrlPct, &pos.OpenedAt, &pos.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	pos.AvgPrice, pos.CurrentPrice, pos.UnrealizedPL, pos.UnrealizedPLPercentage = dec(avg), dec(cur), dec(unrl), dec(unrlPct)
	return &pos, nil
}

// GetPosition reads a position outside any transaction, used by
// validation reads that precede a lock-serialized execute.
func (s *Store) GetPosition(ctx context.Context, modelID, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model_id, symbol, quantity, avg_price, current_price, unrealized_pl, unrealized_pl_percentage, opened_at, updated_at
FROM positions WHERE model_id=? AND symbol=?
`, modelID, symbol)

	var pos domain.Position
	var avg, cur, unrl, unrlPct string
	if err := row.Scan(&pos.ModelID, &pos.Symbol, &pos.Quantity, &avg, &cur, &unrl, &unrlPct, &pos.OpenedAt, &pos.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	pos.AvgPrice, pos.CurrentPrice, pos.UnrealizedPL, pos.UnrealizedPLPercentage = dec(avg), dec(cur), dec(unrl), dec(unrlPct)
	return &pos, nil
}

func (s *Store) UpsertPositionTx(ctx context.Context, tx *sql.Tx, pos domain.Position) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO positions (model_id, symbol, quantity, avg_price, current_price, unrealized_pl, unrealized_pl_percentage, opened_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(model_id, symbol) DO UPDATE SET
    quantity=excluded.quantity,
    avg_price=excluded.avg_price,
    current_price=excluded.current_price,
    unrealized_pl=excluded.unrealized_pl,
    unrealized_pl_percentage=excluded.unrealized_pl_percentage,
    updated_at=CURRENT_TIMESTAMP
`, pos.ModelID, pos.Symbol, pos.Quantity, pos.AvgPrice.String(), pos.CurrentPrice.String(), pos.UnrealizedPL.String(), pos.UnrealizedPLPercentage.String(), pos.OpenedAt)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *Store) DeletePositionTx(ctx context.Context, tx *sql.Tx, modelID, symbol string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE model_id=? AND symbol=?`, modelID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (s *Store) ListPositions(ctx context.Context, modelID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT model_id, symbol, quantity, avg_price, current_price, unrealized_pl, unrealized_pl_percentage, opened_at, updated_at
FROM positions WHERE model_id=? ORDER BY symbol
`, modelID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var pos domain.Position
		var avg, cur, unrl, unrlPct string
		if err := rows.Scan(&pos.ModelID, &pos.Symbol, &pos.Quantity, &avg, &cur, &unrl, &unrlPct, &pos.OpenedAt, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.AvgPrice, pos.CurrentPrice, pos.UnrealizedPL, pos.UnrealizedPLPercentage = dec(avg), dec(cur), dec(unrl), dec(unrlPct)
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *Store) InsertTradeTx(ctx context.Context, tx *sql.Tx, t domain.Trade) (int64, error) {
	var realizedPL interface{}
	if t.RealizedPL != nil {
		realizedPL = t.RealizedPL.String()
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO trades (model_id, symbol, side, quantity, price, fee, total, status, timestamp, realized_pl)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, t.ModelID, t.Symbol, string(t.Side), t.Quantity, t.Price.String(), t.Fee.String(), t.Total.String(), string(t.Status), t.Timestamp, realizedPL)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// ListTrades returns trades for modelID newest-first. limit<=0 means
// no limit (used by Metrics, which must aggregate every trade).
func (s *Store) ListTrades(ctx context.Context, modelID string, skip, limit int) ([]domain.Trade, error) {
	if skip < 0 {
		skip = 0
	}
	query := `
SELECT id, model_id, symbol, side, quantity, price, fee, total, status, timestamp, realized_pl
FROM trades WHERE model_id=? ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	sqlLimit := limit
	if sqlLimit <= 0 {
		sqlLimit = -1 // SQLite: negative LIMIT means unlimited
	}
	rows, err := s.db.QueryContext(ctx, query, modelID, sqlLimit, skip)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, status, price, fee, total string
		var realizedPL sql.NullString
		if err := rows.Scan(&t.ID, &t.ModelID, &t.Symbol, &side, &t.Quantity, &price, &fee, &total, &status, &t.Timestamp, &realizedPL); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side, t.Status = domain.TradeSide(side), domain.TradeStatus(status)
		t.Price, t.Fee, t.Total = dec(price), dec(fee), dec(total)
		if realizedPL.Valid {
			d := dec(realizedPL.String)
			t.RealizedPL = &d
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertReasoningEntry(ctx context.Context, e domain.ReasoningEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reasoning_entries (id, model_id, timestamp, research_content, decision, reasoning_text, confidence, raw_response)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, e.ID, e.ModelID, e.Timestamp, e.ResearchContent, string(e.Decision), e.ReasoningText, string(e.Confidence), e.RawResponse)
	if err != nil {
		return fmt.Errorf("insert reasoning entry: %w", err)
	}
	return nil
}

// LatestReasoningEntries returns up to n Reasoning Entries for
// modelID, most recent first (spec §6 `get_latest_reasoning(model_id,
// n)`). n <= 0 defaults to 1.
func (s *Store) LatestReasoningEntries(ctx context.Context, modelID string, n int) ([]domain.ReasoningEntry, error) {
	if n <= 0 {
		n = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, model_id, timestamp, research_content, decision, reasoning_text, confidence, raw_response
FROM reasoning_entries WHERE model_id=? ORDER BY timestamp DESC LIMIT ?
`, modelID, n)
	if err != nil {
		return nil, fmt.Errorf("latest reasoning entries: %w", err)
	}
	defer rows.Close()

	var out []domain.ReasoningEntry
	for rows.Next() {
		var e domain.ReasoningEntry
		var decision, confidence string
		if err := rows.Scan(&e.ID, &e.ModelID, &e.Timestamp, &e.ResearchContent, &decision, &e.ReasoningText, &confidence, &e.RawResponse); err != nil {
			return nil, fmt.Errorf("scan reasoning entry: %w", err)
		}
		e.Decision, e.Confidence = domain.DecisionAction(decision), domain.Confidence(confidence)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}
