package model

import (
	"time"

	"gorm.io/gorm"
)

/*

Group is a community space posts can be published into

Id: primary key, use to identify a group
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

Name: group's display name
Privacy: one of "public", "private"
CreatorID:
Creator: user who created this group, "belongs-to" relation
MemberCount: denormalized member counter

MembershipStatus: the requesting viewer's own membership status if any,
	computed at hydration time, never persisted.
*/
type Group struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt
	Name        string
	Privacy     GroupPrivacy
	CreatorID   string `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Creator     User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	MemberCount int

	MembershipStatus string `gorm:"-" json:"membership_status"`
}

type GroupPrivacy string

const (
	GroupPrivacyPublic  GroupPrivacy = "public"
	GroupPrivacyPrivate GroupPrivacy = "private"
)
