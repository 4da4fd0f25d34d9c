package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

type SQLiteDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg models.MStorageConfig, log *logger.Logger) *SQLiteDB {
	return &SQLiteDB{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS position_book_stream (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			broker TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			pe_qty REAL,
			ce_qty REAL,
			premium REAL,
			mtm REAL,
			pos_delta REAL,
			pos_gamma REAL,
			sum_call_delta REAL,
			sum_put_delta REAL,
			delta_skew_pct REAL,
			gamma_to_delta_pct REAL,
			margin_used TEXT,
			created_at INTEGER
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create position_book_stream: %w", err)
	}

	query = `CREATE INDEX IF NOT EXISTS position_book_stream_broker_ts
		ON position_book_stream (broker, timestamp);`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create stream index: %w", err)
	}

	d.Logger.Info("SQLiteDB initialized successfully (%s)", d.Config.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) SaveStreamEntries(entries []models.MStreamEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO position_book_stream (
			broker, timestamp, pe_qty, ce_qty, premium, mtm,
			pos_delta, pos_gamma, sum_call_delta, sum_put_delta,
			delta_skew_pct, gamma_to_delta_pct, margin_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(e.Broker, e.Timestamp.Unix(), e.PEQty, e.CEQty, e.Premium, e.MTM,
			e.PosDelta, e.PosGamma, e.SumCallDelta, e.SumPutDelta,
			e.DeltaSkewPct, e.GammaToDeltaPct, e.MarginUsed, e.CreatedAt.Unix())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) CleanupOldData() error {
	cutoff := time.Now().AddDate(0, 0, -d.Config.RetentionDays).Unix()

	result, err := d.DB.Exec("DELETE FROM position_book_stream WHERE timestamp < ?", cutoff)
	if err != nil {
		return err
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		d.Logger.Info("Cleaned up %d archived rows older than %d days", rows, d.Config.RetentionDays)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
