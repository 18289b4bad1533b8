package model

import "time"

// MaxPostLength is the longest body a post may carry, counted in characters.
const MaxPostLength = 140

// Post is a short text update authored by a user.
//
// Posts are immutable once written. AuthorUsername is not stored on the posts
// table; it is filled in by the repository from a join on users when the
// post is read back, so renderers don't need a second lookup per post.
type Post struct {
	ID             string    `json:"id"        db:"id"`
	AuthorID       string    `json:"authorId"  db:"author_id"`
	AuthorUsername string    `json:"author"    db:"-"`
	Body           string    `json:"body"      db:"body"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}
