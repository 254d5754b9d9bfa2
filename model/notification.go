package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*

Notification is a per-user event row delivered over a change-feed channel
filtered server side to the recipient.

Kind: "like", "comment", "follow", "group_invite", ...
Payload: kind specific JSON, opaque to the engine
*/
type Notification struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
	UserID    string `gorm:"index"`
	Kind      string
	Payload   datatypes.JSON
	Read      bool
}
