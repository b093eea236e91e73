package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// SnapshotRow is one persisted canonical state snapshot.
type SnapshotRow struct {
	LandID    string
	TickID    uint64
	StateHash string
	StateJSON []byte
	CreatedAt time.Time
}

// SnapshotRepo stores land snapshots. It satisfies the keeper's snapshot
// sink; saves are upserts so a re-run of the same tick is harmless.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// SaveSnapshot upserts the snapshot for (landID, tickID).
func (r *SnapshotRepo) SaveSnapshot(ctx context.Context, landID string, tickID uint64, stateHash string, stateJSON []byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO land_snapshots (land_id, tick_id, state_hash, state_json)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (land_id, tick_id)
		 DO UPDATE SET state_hash = EXCLUDED.state_hash, state_json = EXCLUDED.state_json`,
		landID, int64(tickID), stateHash, stateJSON,
	)
	return err
}

// Latest loads the newest snapshot for a land, or nil when none exists.
func (r *SnapshotRepo) Latest(ctx context.Context, landID string) (*SnapshotRow, error) {
	row := &SnapshotRow{}
	var tick int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT land_id, tick_id, state_hash, state_json, created_at
		 FROM land_snapshots WHERE land_id = $1
		 ORDER BY tick_id DESC LIMIT 1`, landID,
	).Scan(&row.LandID, &tick, &row.StateHash, &row.StateJSON, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.TickID = uint64(tick)
	return row, nil
}

// Prune drops all but the newest keep snapshots of a land.
func (r *SnapshotRepo) Prune(ctx context.Context, landID string, keep int) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM land_snapshots
		 WHERE land_id = $1 AND tick_id NOT IN (
		     SELECT tick_id FROM land_snapshots
		     WHERE land_id = $1 ORDER BY tick_id DESC LIMIT $2
		 )`, landID, keep,
	)
	return err
}
