package model

import "time"

// FollowEdge is a directed "follower receives followed's posts" relationship.
//
// Edges are stored once in the followers table and both directions
// (who I follow, who follows me) are derived by query.
type FollowEdge struct {
	FollowerID string    `json:"followerId" db:"follower_id"`
	FollowedID string    `json:"followedId" db:"followed_id"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
}
