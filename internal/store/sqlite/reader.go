package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"breakout-scanner/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for the historical signal log.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadSignalLog reads stored signal rows newest first. beforeTS limits to
// rows strictly older than the given unix timestamp (0 = no bound) and
// pattern filters to one pattern name ("" = all patterns).
func (r *Reader) ReadSignalLog(limit int, beforeTS int64, pattern string) ([]model.SignalRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ts, cycle_id, pattern, direction, strength, confidence, priority, actionable, message, spot, atm_strike, vwap, max_pain
		FROM signals
	`
	var (
		conds []string
		args  []interface{}
	)
	if beforeTS > 0 {
		conds = append(conds, "ts < ?")
		args = append(args, beforeTS)
	}
	if pattern != "" {
		conds = append(conds, "pattern = ?")
		args = append(args, pattern)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalRow
	for rows.Next() {
		var (
			row        model.SignalRow
			tsUnix     int64
			direction  string
			priority   string
			actionable int
			message    sql.NullString
			vwap       sql.NullInt64
			maxPain    sql.NullInt64
		)
		if err := rows.Scan(
			&tsUnix, &row.CycleID, &row.Pattern, &direction,
			&row.Strength, &row.Confidence, &priority, &actionable,
			&message, &row.Spot, &row.ATMStrike, &vwap, &maxPain,
		); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		row.TS = time.Unix(tsUnix, 0).UTC()
		row.Direction = model.Direction(direction)
		row.Priority = model.Priority(priority)
		row.Actionable = actionable != 0
		row.Message = message.String
		row.VWAP = vwap.Int64
		row.MaxPain = maxPain.Int64
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountSignals returns the total number of stored signal rows.
func (r *Reader) CountSignals() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count signals: %w", err)
	}
	return n, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
