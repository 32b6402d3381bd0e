package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/skribblr-sync/internal"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	UnexpectedDatabaseError = errors.New("unexpected database error")
)

// PostgresRepo keeps one JSON snapshot of each room's subtree.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) SaveRoom(ctx context.Context, roomID string, tree json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, tree, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET tree = EXCLUDED.tree, updated_at = now()`,
		internal.NormalizeRoomID(roomID), []byte(tree))
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

func (r *PostgresRepo) LoadRoom(ctx context.Context, roomID string) (json.RawMessage, error) {
	var tree []byte
	err := r.pool.QueryRow(ctx, "SELECT tree FROM rooms WHERE id = $1", internal.NormalizeRoomID(roomID)).Scan(&tree)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, wrapDBError(err)
	}
	return tree, nil
}

func (r *PostgresRepo) LoadRooms(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, tree FROM rooms")
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	rooms := make(map[string]json.RawMessage)
	for rows.Next() {
		var id string
		var tree []byte
		if err := rows.Scan(&id, &tree); err != nil {
			return nil, wrapDBError(err)
		}
		rooms[id] = tree
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err)
	}
	return rooms, nil
}

func (r *PostgresRepo) DeleteRoom(ctx context.Context, roomID string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1", internal.NormalizeRoomID(roomID))
	if err != nil {
		return wrapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func wrapDBError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", UnexpectedDatabaseError, err)
}
