package model

import "time"

/*

Hashtag is a normalized "#topic" token extracted from post bodies

Id: primary key
Name: token text without the leading "#", lower cased, unique
Posts: posts carrying this hashtag, "many-to-many" relation
*/
type Hashtag struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	Name      string  `gorm:"uniqueIndex"`
	Posts     []*Post `json:"posts" gorm:"many2many:post_hashtags;"`
}

/*

Tag is a user mention ("@handle") attached to a post

Id: primary key
UserID: the mentioned user
Posts: posts carrying this tag, "many-to-many" relation
*/
type Tag struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UserID    string
	User      User
	Posts     []*Post `json:"posts" gorm:"many2many:post_tags;"`
}
