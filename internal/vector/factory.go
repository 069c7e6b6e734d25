package vector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreType selects a Store implementation.
type StoreType string

const (
	// StoreTypeMemory keeps rows in process and can snapshot them to disk.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite stores rows next to the relational data in SQLite.
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypePostgres stores rows in a pgvector column.
	StoreTypePostgres StoreType = "postgres"
)

// Backends carries the shared connections a store may need. Only the one matching
// the requested type has to be set.
type Backends struct {
	SQLite   *sql.DB
	Postgres *pgxpool.Pool
}

// NewStore creates a vector store of the given type. Empty means memory.
func NewStore(ctx context.Context, storeType string, dimensions int, b Backends) (Store, error) {
	switch StoreType(storeType) {
	case StoreTypeMemory, "":
		return NewMemoryStore(dimensions)
	case StoreTypeSQLite:
		if b.SQLite == nil {
			return nil, fmt.Errorf("sqlite vector store requires the sqlite storage driver")
		}
		return NewSQLiteStore(b.SQLite, dimensions)
	case StoreTypePostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("postgres vector store requires a postgres connection")
		}
		return NewPostgresStore(ctx, b.Postgres, dimensions)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s (supported: memory, sqlite, postgres)", storeType)
	}
}
