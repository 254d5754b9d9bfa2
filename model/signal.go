package model

import "fmt"

/*

Signal is a lightweight push message sent to a connected client over its
signal channel. The engine never pushes content through signals, only hints
that the client should act (e.g. render the "N new posts" affordance).
*/
type Signal struct {
	SignalType   SignalType `json:"signalType"`
	NewPostCount int        `json:"newPostCount,omitempty"`
}

type SignalType string

const (
	// SignalTypeNewPosts tells the client the new-post buffer grew.
	SignalTypeNewPosts SignalType = "NEW_POSTS"
	// SignalTypeSuggestionsInvalidated tells the client its "people you may
	// know" list was recomputed after a follow-graph change.
	SignalTypeSuggestionsInvalidated SignalType = "SUGGESTIONS_INVALIDATED"
	// SignalTypeNotification tells the client a new notification row arrived
	// for it.
	SignalTypeNotification SignalType = "NOTIFICATION"
)

var AllSignalType = []SignalType{
	SignalTypeNewPosts,
	SignalTypeSuggestionsInvalidated,
	SignalTypeNotification,
}

func (e SignalType) IsValid() bool {
	switch e {
	case SignalTypeNewPosts, SignalTypeSuggestionsInvalidated, SignalTypeNotification:
		return true
	}
	return false
}

func (e SignalType) String() string {
	return string(e)
}

func (e *SignalType) UnmarshalText(b []byte) error {
	*e = SignalType(b)
	if !e.IsValid() {
		return fmt.Errorf("%s is not a valid SignalType", string(b))
	}
	return nil
}
