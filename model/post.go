package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*

Post is a single piece of user generated content

Id: primary key, use to identify a post
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

AuthorID:
Author: user who composed this post, "belongs-to" relation
Body: post's content in plain text
Privacy: visibility tier, one of "public", "followers", "private"
GroupID:
Group: optional group this post was published into, "belongs-to" relation
Attachments: ordered media list, each entry {url, kind} with kind one of
	"image", "video", "document". Stored as a JSON column since entries are
	only ever read back as a whole.

LikesCount/CommentsCount/SharesCount: denormalized engagement counters,
	maintained by edge writes and realtime deltas. Never negative.

Hashtags: derived hashtag set, "many-to-many" relation, deduplicated
Tags: derived user-tag set, "many-to-many" relation, deduplicated

IsLiked/IsBookmarked: per-viewer flags, computed at hydration time against the
	requesting viewer, never persisted.
*/
type Post struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt
	AuthorID    string `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Author      User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Body        string
	Privacy     PostPrivacy
	GroupID     *string
	Group       *Group
	Attachments datatypes.JSON

	LikesCount    int
	CommentsCount int
	SharesCount   int

	Hashtags []*Hashtag `json:"hashtags" gorm:"many2many:post_hashtags;"`
	Tags     []*Tag     `json:"tags" gorm:"many2many:post_tags;"`

	IsLiked      bool `gorm:"-" json:"is_liked"`
	IsBookmarked bool `gorm:"-" json:"is_bookmarked"`
}

type PostPrivacy string

const (
	PostPrivacyPublic    PostPrivacy = "public"
	PostPrivacyFollowers PostPrivacy = "followers"
	PostPrivacyPrivate   PostPrivacy = "private"
)

// Attachment is one entry of the Attachments JSON column.
type Attachment struct {
	Url  string `json:"url"`
	Kind string `json:"kind"`
}

const (
	AttachmentKindImage    = "image"
	AttachmentKindVideo    = "video"
	AttachmentKindDocument = "document"
)
