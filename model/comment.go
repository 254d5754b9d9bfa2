package model

import (
	"time"

	"gorm.io/gorm"
)

/*

Comment is a reply to a post. The engine never renders comment bodies, it only
listens on the comments change channel to keep CommentsCount deltas flowing,
but the full row is modeled so the offline mirror can store it.
*/
type Comment struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
	PostID    string
	AuthorID  string
	Body      string
}
