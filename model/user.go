package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*

User is a social profile

Id: primary key, use to identify a user
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

Handle: unique short name used in mentions
DisplayName: free form display name
AvatarUrl: avatar file reference in the storage service
Interests: set of interest tag strings, stored as a JSON array

FollowersCount/PostsCount: denormalized counters, maintained by edge writes
LastActive: last time the user performed any action, drives suggestion recency

IsVerified/IsContributor: trust flags rendered as badges
*/
type User struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt
	Handle      string `gorm:"uniqueIndex"`
	DisplayName string
	AvatarUrl   string
	Interests   datatypes.JSON

	FollowersCount int
	PostsCount     int
	LastActive     time.Time

	IsVerified    bool
	IsContributor bool
}

// InterestSet decodes the Interests JSON column. Returns an empty slice on a
// null or malformed column rather than an error, a profile without interests
// is a normal state.
func (u *User) InterestSet() []string {
	var interests []string
	if len(u.Interests) == 0 {
		return interests
	}
	if err := json.Unmarshal(u.Interests, &interests); err != nil {
		return nil
	}
	return interests
}
