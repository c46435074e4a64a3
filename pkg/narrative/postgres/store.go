package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// Compile-time interface checks.
var (
	_ narrative.SessionStore      = (*SessionStoreImpl)(nil)
	_ narrative.SceneStore        = (*SceneStoreImpl)(nil)
	_ narrative.RelationshipStore = (*RelationshipStoreImpl)(nil)
	_ narrative.MemoryIndex       = (*MemoryIndexImpl)(nil)
	_ narrative.ArtifactStore     = (*Store)(nil)
)

// Store is the central PostgreSQL-backed narrative store for Reverie. It holds
// a single [pgxpool.Pool] and exposes one implementation per store interface:
//
//   - [Store.Sessions] returns a [SessionStoreImpl] implementing [narrative.SessionStore]
//   - [Store.Scenes] returns a [SceneStoreImpl] implementing [narrative.SceneStore]
//   - [Store.Relationships] returns a [RelationshipStoreImpl] implementing [narrative.RelationshipStore]
//   - [Store.Memories] returns a [MemoryIndexImpl] implementing [narrative.MemoryIndex]
//   - Store itself implements [narrative.ArtifactStore]
//
// All operations are safe for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	sessions      *SessionStoreImpl
	scenes        *SceneStoreImpl
	relationships *RelationshipStoreImpl
	memories      *MemoryIndexImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [narrative.MemoryRecord.Embedding] values.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:          pool,
		sessions:      &SessionStoreImpl{pool: pool},
		scenes:        &SceneStoreImpl{pool: pool},
		relationships: &RelationshipStoreImpl{pool: pool},
		memories:      &MemoryIndexImpl{pool: pool},
	}, nil
}

// Sessions returns the session store implementation which satisfies
// [narrative.SessionStore].
func (s *Store) Sessions() *SessionStoreImpl { return s.sessions }

// Scenes returns the scene store implementation which satisfies
// [narrative.SceneStore].
func (s *Store) Scenes() *SceneStoreImpl { return s.scenes }

// Relationships returns the relationship store implementation which satisfies
// [narrative.RelationshipStore].
func (s *Store) Relationships() *RelationshipStoreImpl { return s.relationships }

// Memories returns the long-term memory index implementation which satisfies
// [narrative.MemoryIndex].
func (s *Store) Memories() *MemoryIndexImpl { return s.memories }

// SweepExpired implements [narrative.ArtifactStore]. It deletes image
// artifacts whose expiry lies before now and returns the number deleted.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM image_artifacts WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("artifact store: sweep expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies connectivity to the database. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
