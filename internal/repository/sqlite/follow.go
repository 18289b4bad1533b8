package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

var _ repository.FollowRepository = (*FollowDB)(nil)

// FollowDB is the follow-graph store. Obtain one with DB.Follows().
//
// An edge is stored once, as (follower_id, followed_id). "Who does X follow"
// and "who follows X" are the same table read from opposite columns.
type FollowDB struct {
	conn *sql.DB
}

// Follow writes the edge if it isn't there yet.
//
// INSERT OR IGNORE against the composite primary key is a single atomic
// statement: two concurrent follows of the same pair produce one row and
// neither fails. The returned bool reports whether this call wrote it.
//
// OR IGNORE also swallows the no-self-follow CHECK, so a self edge is
// reported as "not written" rather than an error. The service rejects
// self-follows before reaching storage.
func (f *FollowDB) Follow(ctx context.Context, edge *model.FollowEdge) (bool, error) {
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}
	edge.CreatedAt = edge.CreatedAt.UTC()

	result, err := f.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO followers (follower_id, followed_id, created_at) VALUES (?, ?, ?)`,
		edge.FollowerID,
		edge.FollowedID,
		edge.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, f.missingEndpoint(ctx, edge)
		}
		return false, storageError("creating follow edge", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

// missingEndpoint works out which side of a rejected edge doesn't exist.
// SQLite's foreign key error doesn't say which reference failed.
func (f *FollowDB) missingEndpoint(ctx context.Context, edge *model.FollowEdge) error {
	var exists bool
	err := f.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, edge.FollowerID,
	).Scan(&exists)
	if err != nil {
		return storageError("checking follower exists", err)
	}
	if !exists {
		return apperror.NotFound("user", edge.FollowerID)
	}
	return apperror.NotFound("user", edge.FollowedID)
}

// Unfollow deletes the edge. Deleting an edge that isn't there is not an error.
func (f *FollowDB) Unfollow(ctx context.Context, followerID, followedID string) (bool, error) {
	result, err := f.conn.ExecContext(ctx,
		`DELETE FROM followers WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID,
	)
	if err != nil {
		return false, storageError("deleting follow edge", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (f *FollowDB) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var exists bool
	err := f.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM followers WHERE follower_id = ? AND followed_id = ?)`,
		followerID, followedID,
	).Scan(&exists)
	if err != nil {
		return false, storageError("checking follow edge", err)
	}
	return exists, nil
}

// FollowingIDs returns the IDs userID follows, oldest edge first.
func (f *FollowDB) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	return f.ids(ctx,
		`SELECT followed_id FROM followers WHERE follower_id = ? ORDER BY created_at, rowid`,
		userID, "listing followed users",
	)
}

// FollowerIDs returns the IDs following userID, oldest edge first.
func (f *FollowDB) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return f.ids(ctx,
		`SELECT follower_id FROM followers WHERE followed_id = ? ORDER BY created_at, rowid`,
		userID, "listing followers",
	)
}

func (f *FollowDB) ids(ctx context.Context, query, userID, op string) ([]string, error) {
	rows, err := f.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageError(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return ids, nil
}

// FollowingCount and FollowerCount are computed on every call; there is no
// stored counter that could drift from the edge table.
func (f *FollowDB) FollowingCount(ctx context.Context, userID string) (int, error) {
	return f.count(ctx, `SELECT COUNT(*) FROM followers WHERE follower_id = ?`, userID, "counting followed users")
}

func (f *FollowDB) FollowerCount(ctx context.Context, userID string) (int, error) {
	return f.count(ctx, `SELECT COUNT(*) FROM followers WHERE followed_id = ?`, userID, "counting followers")
}

func (f *FollowDB) count(ctx context.Context, query, userID, op string) (int, error) {
	var n int
	if err := f.conn.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, storageError(op, err)
	}
	return n, nil
}
