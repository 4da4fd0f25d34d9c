package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg models.MStorageConfig, log *logger.Logger) *PostgresDB {
	return &PostgresDB{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// The archive persists across days, so tables are created, never dropped.
	query := `
		CREATE TABLE IF NOT EXISTS position_book_stream (
			id BIGSERIAL PRIMARY KEY,
			broker TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			pe_qty DOUBLE PRECISION,
			ce_qty DOUBLE PRECISION,
			premium DOUBLE PRECISION,
			mtm DOUBLE PRECISION,
			pos_delta DOUBLE PRECISION,
			pos_gamma DOUBLE PRECISION,
			sum_call_delta DOUBLE PRECISION,
			sum_put_delta DOUBLE PRECISION,
			delta_skew_pct DOUBLE PRECISION,
			gamma_to_delta_pct DOUBLE PRECISION,
			margin_used TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
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

	d.Logger.Info("PostgresDB initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveStreamEntries(entries []models.MStreamEntry) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(e.Broker, e.Timestamp, e.PEQty, e.CEQty, e.Premium, e.MTM,
			e.PosDelta, e.PosGamma, e.SumCallDelta, e.SumPutDelta,
			e.DeltaSkewPct, e.GammaToDeltaPct, e.MarginUsed, e.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData() error {
	query := fmt.Sprintf(`DELETE FROM position_book_stream
		WHERE timestamp < NOW() - INTERVAL '%d days'`, d.Config.RetentionDays)

	result, err := d.DB.Exec(query)
	if err != nil {
		return err
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		d.Logger.Info("Cleaned up %d archived rows older than %d days", rows, d.Config.RetentionDays)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
