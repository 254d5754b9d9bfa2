package model

import (
	"time"

	"gorm.io/gorm"
)

/*

Edge models. An edge is a (subject, predicate, object) relation row. Edges are
the unit the realtime synchronizer listens on: each insert/delete toggles
exactly one per-viewer flag or moves exactly one counter on the referenced
post or user.

PostLike: user liked a post
PostBookmark: user bookmarked a post
UserFollow: follower follows followee
GroupMember: user belongs to a group with a role and an approval status

All edges use a composite primary key over the two entity ids, which makes
re-insertion of the same edge a conflict instead of a duplicate row.
*/

type PostLike struct {
	UserID    string `gorm:"primaryKey"`
	PostID    string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
}

type PostBookmark struct {
	UserID    string `gorm:"primaryKey"`
	PostID    string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
}

type UserFollow struct {
	FollowerID string `gorm:"primaryKey"`
	FolloweeID string `gorm:"primaryKey"`
	CreatedAt  time.Time
	DeletedAt  gorm.DeletedAt
}

type GroupMember struct {
	UserID    string `gorm:"primaryKey"`
	GroupID   string `gorm:"primaryKey"`
	Role      string
	Status    string
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
}
