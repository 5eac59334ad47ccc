package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"breakout-scanner/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 32
	defaultFlushDelay = 2 * time.Second
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Each analysis result becomes one analysis_cycles row plus one signals
// row per surfaced signal.
type Writer struct {
	db *sql.DB

	// OnCommit, if set, is called after each batch commit (for metrics).
	OnCommit func(results int, d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Create tables if not exists
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			cycle_id   TEXT    NOT NULL,
			pattern    TEXT    NOT NULL,
			direction  TEXT    NOT NULL,
			strength   REAL    NOT NULL,
			confidence REAL    NOT NULL,
			priority   TEXT    NOT NULL,
			actionable INTEGER NOT NULL,
			message    TEXT,
			spot       INTEGER NOT NULL,
			atm_strike INTEGER NOT NULL,
			vwap       INTEGER,
			max_pain   INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts);
		CREATE INDEX IF NOT EXISTS idx_signals_pattern ON signals(pattern, ts);

		CREATE TABLE IF NOT EXISTS analysis_cycles (
			cycle_id   TEXT    NOT NULL PRIMARY KEY,
			ts         INTEGER NOT NULL,
			spot       INTEGER NOT NULL,
			atm_strike INTEGER NOT NULL,
			total      INTEGER NOT NULL,
			bias       TEXT    NOT NULL,
			avg_conf   REAL    NOT NULL,
			state      TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_ts ON analysis_cycles(ts);
	`)
	return err
}

// Run reads analysis results from resultCh and inserts them in batched
// transactions. Flushes every batchSize results OR every flushDelay,
// whichever first. Blocks until ctx is cancelled or resultCh is closed.
func (w *Writer) Run(ctx context.Context, resultCh <-chan model.AnalysisResult) {
	batch := make([]model.AnalysisResult, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d cycles in %v", len(batch), time.Since(start))
			if w.OnCommit != nil {
				w.OnCommit(len(batch), time.Since(start))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case res, ok := <-resultCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, res)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of analysis results in a single transaction:
// one cycle row each plus their flattened signal rows.
func (w *Writer) insertBatch(results []model.AnalysisResult) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	cycleStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO analysis_cycles (cycle_id, ts, spot, atm_strike, total, bias, avg_conf, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer cycleStmt.Close()

	sigStmt, err := tx.Prepare(`
		INSERT INTO signals (ts, cycle_id, pattern, direction, strength, confidence, priority, actionable, message, spot, atm_strike, vwap, max_pain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer sigStmt.Close()

	for i := range results {
		res := &results[i]

		stateJSON, err := json.Marshal(res.State)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal market state: %w", err)
		}

		_, err = cycleStmt.Exec(
			res.CycleID, res.TS.Unix(), res.Spot, res.ATMStrike,
			res.Summary.Total, string(res.Summary.Bias), res.Summary.AvgConfidence,
			string(stateJSON),
		)
		if err != nil {
			tx.Rollback()
			return err
		}

		for _, row := range res.Rows() {
			actionable := 0
			if row.Actionable {
				actionable = 1
			}
			_, err := sigStmt.Exec(
				row.TS.Unix(), row.CycleID, row.Pattern, string(row.Direction),
				row.Strength, row.Confidence, string(row.Priority), actionable,
				row.Message, row.Spot, row.ATMStrike, row.VWAP, row.MaxPain,
			)
			if err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}

// GetLastCycleTS returns the timestamp of the last stored analysis cycle.
// Returns 0 if no cycles exist.
func (w *Writer) GetLastCycleTS() (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM analysis_cycles`).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// PruneOldCycles deletes cycles and signals older than the retention
// window. Returns the number of deleted signal rows.
func (w *Writer) PruneOldCycles(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	res, err := w.db.Exec(`DELETE FROM signals WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune signals: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := w.db.Exec(`DELETE FROM analysis_cycles WHERE ts < ?`, cutoff); err != nil {
		return deleted, fmt.Errorf("sqlite prune cycles: %w", err)
	}
	return deleted, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
