package interfaces

import "broker-observer/src/models"

// -----------------------------------------------------------------------------
// IArchive defines the contract for the relational snapshot archive.
// -----------------------------------------------------------------------------

type IArchive interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveStreamEntries inserts a batch of debounced stream rows.
	SaveStreamEntries(entries []models.MStreamEntry) error

	// -----------------------------------------------------------------------------

	// CleanupOldData removes rows older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
