package routing

import (
	"context"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
)

// DestinationStore is the persistence contract for persona tables.
// Implementations live in repository/postgres and repository/dynamo and
// must be safe for concurrent use.
type DestinationStore interface {
	// Upsert inserts or replaces records keyed by customer_id. Records are
	// unique by id within one call. A store that cannot write the call
	// atomically returns *PartialWriteError when records were stored before
	// the failure.
	Upsert(ctx context.Context, table string, records []domain.CustomerRecord) error

	// Count returns the exact number of records in a table.
	Count(ctx context.Context, table string) (int, error)

	// ListIDs returns every customer_id stored in a table.
	ListIDs(ctx context.Context, table string) ([]string, error)

	// List returns every record stored in a table.
	List(ctx context.Context, table string) ([]domain.CustomerRecord, error)
}

// ReliableCount returns the number of records in a table. The exact count
// has been seen to report zero on populated tables, so a zero is confirmed
// by fetching the keys. A failed exact count is returned as an error; a
// failed confirmation keeps the zero.
func ReliableCount(ctx context.Context, store DestinationStore, table string) (int, error) {
	n, err := store.Count(ctx, table)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return n, nil
	}
	ids, err := store.ListIDs(ctx, table)
	if err != nil {
		logger.Warn("fallback count failed", "table", table, "error", err)
		return 0, nil
	}
	return len(ids), nil
}
