package model

/*

FeedMode names one of the five logical feed views the engine maintains.

FeedModeHome: ranked discovery feed of followed + public content
FeedModeTrending: popularity weighted discovery feed
FeedModeUser: the viewer's own posts, straight recency
FeedModeLiked: posts the viewer liked, straight recency
FeedModeBookmarked: posts the viewer bookmarked, straight recency
*/
type FeedMode string

const (
	FeedModeHome       FeedMode = "feed"
	FeedModeTrending   FeedMode = "trending"
	FeedModeUser       FeedMode = "user"
	FeedModeLiked      FeedMode = "liked"
	FeedModeBookmarked FeedMode = "bookmarked"
)

var AllFeedModes = []FeedMode{
	FeedModeHome,
	FeedModeTrending,
	FeedModeUser,
	FeedModeLiked,
	FeedModeBookmarked,
}

func (m FeedMode) IsValid() bool {
	switch m {
	case FeedModeHome, FeedModeTrending, FeedModeUser, FeedModeLiked, FeedModeBookmarked:
		return true
	}
	return false
}

func (m FeedMode) String() string {
	return string(m)
}

// SortMode selects the superset ordering for discovery feeds.
type SortMode string

const (
	SortModeRecent  SortMode = "recent"
	SortModePopular SortMode = "popular"
)

func (s SortMode) IsValid() bool {
	return s == SortModeRecent || s == SortModePopular
}
