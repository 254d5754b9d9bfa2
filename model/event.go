package model

import "encoding/json"

/*

ChangeEvent is one row-level event from the data service's change feed.

Table: source table, one of the Table* constants
Type: "insert", "update" or "delete"
New: full new row for insert/update, JSON encoded
Old: full old row for update/delete, JSON encoded

Events are delivered in commit order per subscription channel and the
synchronizer applies them without reordering.
*/
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeEventType `json:"eventType"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

type ChangeEventType string

const (
	ChangeEventInsert ChangeEventType = "insert"
	ChangeEventUpdate ChangeEventType = "update"
	ChangeEventDelete ChangeEventType = "delete"
)

func (t ChangeEventType) IsValid() bool {
	switch t {
	case ChangeEventInsert, ChangeEventUpdate, ChangeEventDelete:
		return true
	}
	return false
}

// Change feed channel names, one logical channel per entity table.
const (
	TablePosts         = "posts"
	TablePostLikes     = "post_likes"
	TablePostBookmarks = "post_bookmarks"
	TableComments      = "comments"
	TableUserFollows   = "user_follows"
	TableNotifications = "notifications"
)

// DecodeNew unmarshals the New payload into out. Returns an error on missing
// payload since insert/update events are required to carry the full row.
func (e *ChangeEvent) DecodeNew(out interface{}) error {
	return json.Unmarshal(e.New, out)
}

// DecodeOld unmarshals the Old payload into out.
func (e *ChangeEvent) DecodeOld(out interface{}) error {
	return json.Unmarshal(e.Old, out)
}
