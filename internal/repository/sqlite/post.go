package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

var _ repository.PostRepository = (*PostDB)(nil)

// PostDB is the post store. Obtain one with DB.Posts().
type PostDB struct {
	conn *sql.DB
}

// postSelect joins each post to exactly one author row (many-to-one), so it
// never multiplies posts. It only reads users.username; the users table is
// still written only by UserDB.
const postSelect = `
	SELECT p.id, p.author_id, u.username, p.body, p.timestamp
	FROM posts p
	JOIN users u ON u.id = p.author_id`

// newestFirst orders by timestamp and breaks ties by insertion order.
// rowid grows with every insert, so for two posts with the same timestamp
// the one written later comes first.
const newestFirst = ` ORDER BY p.timestamp DESC, p.rowid DESC`

// Create inserts a post. ID is always generated here; Timestamp defaults to now.
func (p *PostDB) Create(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	if post.Timestamp.IsZero() {
		post.Timestamp = time.Now()
	}
	post.Timestamp = post.Timestamp.UTC()

	_, err := p.conn.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, body, timestamp) VALUES (?, ?, ?, ?)`,
		post.ID,
		post.AuthorID,
		post.Body,
		post.Timestamp,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", post.AuthorID)
		}
		return storageError("creating post", err)
	}

	err = p.conn.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id = ?`, post.AuthorID,
	).Scan(&post.AuthorUsername)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageError("reading post author", err)
	}

	return nil
}

// GetByID returns apperror.ErrNotFound if no post has that ID.
func (p *PostDB) GetByID(ctx context.Context, id string) (*model.Post, error) {
	row := p.conn.QueryRowContext(ctx, postSelect+` WHERE p.id = ?`, id)

	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, storageError("getting post", err)
	}
	return post, nil
}

// ListByAuthors returns one page of posts written by any of authorIDs, newest first.
//
// This is the single query behind the feed: the caller passes the full author
// set and gets back every matching post exactly once, since each post has
// exactly one author_id and the IN list is tested per row.
//
// PAGING:
// With opts.Before set to a post ID the page starts right after that post in
// newest-first order and Offset is ignored. Posts written between two such
// calls land before the cursor, so they never shift an already-seen post onto
// the next page. An unknown cursor is apperror.ErrNotFound.
func (p *PostDB) ListByAuthors(ctx context.Context, authorIDs []string, opts repository.ListOptions) ([]model.Post, error) {
	if len(authorIDs) == 0 {
		return []model.Post{}, nil
	}

	authors, err := idSet(authorIDs)
	if err != nil {
		return nil, err
	}
	limit, offset := clamp(opts.Limit, opts.Offset)

	query := postSelect + byAuthors
	args := []any{authors}
	if opts.Before != "" {
		if err := p.requirePost(ctx, opts.Before); err != nil {
			return nil, err
		}
		query += ` AND (p.timestamp, p.rowid) < (SELECT c.timestamp, c.rowid FROM posts c WHERE c.id = ?)`
		args = append(args, opts.Before)
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := p.conn.QueryContext(ctx, query+newestFirst+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, storageError("listing posts", err)
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, storageError("scanning post row", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating posts", err)
	}

	return posts, nil
}

// byAuthors filters on a JSON id set bound as one argument (see idSet).
const byAuthors = ` WHERE p.author_id IN (SELECT value FROM json_each(?))`

func (p *PostDB) requirePost(ctx context.Context, id string) error {
	var one int
	err := p.conn.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("post", id)
	}
	if err != nil {
		return storageError("checking page cursor", err)
	}
	return nil
}

// AllByAuthor streams every post by authorID, newest first.
//
// LAZY AND RESTARTABLE:
// Nothing touches the database until the sequence is ranged over, and every
// range opens a fresh cursor, so the same sequence can be consumed twice and
// reflects posts written in between. Breaking out of the loop closes the
// cursor. A storage failure is yielded once as (zero Post, err) and ends the
// sequence.
//
// The connection is held for the whole range; don't issue other queries on
// the same DB from inside the loop body when the pool has a single connection.
func (p *PostDB) AllByAuthor(ctx context.Context, authorID string) iter.Seq2[model.Post, error] {
	return p.stream(ctx, postSelect+` WHERE p.author_id = ?`+newestFirst, authorID)
}

// AllByAuthors streams every post by any of authorIDs, newest first, with the
// same laziness rules as AllByAuthor. It is the unpaged form of ListByAuthors.
func (p *PostDB) AllByAuthors(ctx context.Context, authorIDs []string) iter.Seq2[model.Post, error] {
	if len(authorIDs) == 0 {
		return func(func(model.Post, error) bool) {}
	}
	authors, err := idSet(authorIDs)
	if err != nil {
		return func(yield func(model.Post, error) bool) { yield(model.Post{}, err) }
	}
	return p.stream(ctx, postSelect+byAuthors+newestFirst, authors)
}

func (p *PostDB) stream(ctx context.Context, query string, args ...any) iter.Seq2[model.Post, error] {
	return func(yield func(model.Post, error) bool) {
		rows, err := p.conn.QueryContext(ctx, query, args...)
		if err != nil {
			yield(model.Post{}, storageError("streaming posts", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			post, err := scanPost(rows)
			if err != nil {
				yield(model.Post{}, storageError("scanning post row", err))
				return
			}
			if !yield(*post, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Post{}, storageError("streaming posts", err))
		}
	}
}

func scanPost(s scanner) (*model.Post, error) {
	var post model.Post
	if err := s.Scan(
		&post.ID,
		&post.AuthorID,
		&post.AuthorUsername,
		&post.Body,
		&post.Timestamp,
	); err != nil {
		return nil, err
	}
	post.Timestamp = post.Timestamp.UTC()
	return &post, nil
}
