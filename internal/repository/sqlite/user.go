package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the identity store. Obtain one with DB.Users().
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, username, email, password_hash, about_me, last_seen, github_id, created_at`

// Create inserts a new user and fills in ID, CreatedAt and LastSeen.
//
// UNIQUENESS IS CHECKED BY THE DATABASE, NOT BEFORE THE INSERT:
// A "SELECT then INSERT" check has a race: two registrations for the same
// username can both pass the SELECT. The UNIQUE constraints on username and
// email make the INSERT itself fail, and we translate that failure into
// apperror.DuplicateKey naming the column that collided.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.LastSeen = user.CreatedAt

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, about_me, last_seen, github_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.AboutMe,
		user.LastSeen,
		nullableInt64(user.GitHubID),
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateUser(err, user)
		}
		return storageError("creating user", err)
	}

	return nil
}

// duplicateUser builds the DuplicateKey error for whichever users column collided.
func duplicateUser(err error, user *model.User) error {
	switch col := uniqueColumn(err, "users"); col {
	case "email":
		return apperror.DuplicateKey("user", "email", user.Email)
	case "github_id":
		value := ""
		if user.GitHubID != nil {
			value = strconv.FormatInt(*user.GitHubID, 10)
		}
		return apperror.DuplicateKey("user", "github_id", value)
	default:
		return apperror.DuplicateKey("user", "username", user.Username)
	}
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getUserBy(ctx, "id", id, "user", id)
}

// GetByUsername looks a user up by username (case-insensitive).
func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return u.getUserBy(ctx, "username", username, "user", username)
}

// GetByEmail looks a user up by email (case-insensitive).
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getUserBy(ctx, "email", email, "user", email)
}

// GetByGitHubID finds the account linked to a GitHub identity.
func (u *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return u.getUserBy(ctx, "github_id", githubID, "github user", strconv.FormatInt(githubID, 10))
}

// getUserBy runs a single-row lookup on one of the indexed user columns.
// column is always a constant chosen by the caller, never user input.
func (u *UserDB) getUserBy(ctx context.Context, column string, value any, resource, label string) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(resource, label)
		}
		return nil, storageError(fmt.Sprintf("getting user by %s", column), err)
	}
	return user, nil
}

// ListByIDs returns the users with the given IDs, ordered by username.
// Unknown IDs are skipped.
func (u *UserDB) ListByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	set, err := idSet(ids)
	if err != nil {
		return nil, err
	}
	rows, err := u.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (SELECT value FROM json_each(?)) ORDER BY username`,
		set,
	)
	if err != nil {
		return nil, storageError("listing users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storageError("scanning user row", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating users", err)
	}

	return users, nil
}

// UpdateProfile writes the editable profile fields (username, about_me).
func (u *UserDB) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, about_me = ? WHERE id = ?`,
		user.Username,
		user.AboutMe,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateKey("user", "username", user.Username)
		}
		return storageError(fmt.Sprintf("updating user %s", user.ID), err)
	}
	return expectOneRow(result, "user", user.ID)
}

// SetPasswordHash replaces the stored credential.
func (u *UserDB) SetPasswordHash(ctx context.Context, id, hash string) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id,
	)
	if err != nil {
		return storageError(fmt.Sprintf("setting password for user %s", id), err)
	}
	return expectOneRow(result, "user", id)
}

// LinkGitHub attaches a GitHub identity to an existing account.
func (u *UserDB) LinkGitHub(ctx context.Context, id string, githubID int64) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ? WHERE id = ?`, githubID, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateKey("user", "github_id", strconv.FormatInt(githubID, 10))
		}
		return storageError(fmt.Sprintf("linking github account to user %s", id), err)
	}
	return expectOneRow(result, "user", id)
}

// TouchLastSeen records activity for the user.
func (u *UserDB) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET last_seen = ? WHERE id = ?`, at.UTC(), id,
	)
	if err != nil {
		return storageError(fmt.Sprintf("touching last_seen for user %s", id), err)
	}
	return expectOneRow(result, "user", id)
}

// Delete removes the user. ON DELETE CASCADE removes their posts and every
// follow edge where they are either the follower or the followed.
func (u *UserDB) Delete(ctx context.Context, id string) error {
	result, err := u.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return storageError(fmt.Sprintf("deleting user %s", id), err)
	}
	return expectOneRow(result, "user", id)
}

// expectOneRow turns "0 rows affected" into apperror.NotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

func scanUser(s scanner) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)
	if err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.AboutMe,
		&u.LastSeen,
		&githubID,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	u.LastSeen = u.LastSeen.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
