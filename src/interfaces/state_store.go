package interfaces

import (
	"context"
	"time"

	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------
// IStateStore is the shared key-value/pub-sub/append-log service all
// cross-component communication goes through.
// -----------------------------------------------------------------------------

type IStateStore interface {

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// HGet reads one hash field. Returns ("", nil) when the field is absent.
	HGet(ctx context.Context, key, field string) (string, error)

	// -----------------------------------------------------------------------------

	// HSetBatch commits all field updates atomically as one batch.
	// Publishes are a separate step: the batch mechanism does not carry them.
	HSetBatch(ctx context.Context, writes []models.MHashWrite) error

	// -----------------------------------------------------------------------------

	// Publish sends a payload on a channel.
	Publish(ctx context.Context, channel, payload string) error

	// -----------------------------------------------------------------------------

	// Subscribe listens on the given channels until ctx is cancelled. The
	// returned channel is closed when the subscription ends.
	Subscribe(ctx context.Context, channels ...string) (<-chan models.MChannelMessage, error)

	// -----------------------------------------------------------------------------

	// XAdd appends one entry to an ordered stream.
	XAdd(ctx context.Context, stream string, fields map[string]string) error

	// -----------------------------------------------------------------------------

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// -----------------------------------------------------------------------------

	// ExpireAt schedules a key to expire at the given time.
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// -----------------------------------------------------------------------------

	// Get reads a plain key. Returns ("", nil) when absent.
	Get(ctx context.Context, key string) (string, error)

	// -----------------------------------------------------------------------------

	// Close releases the connection.
	Close() error
}
