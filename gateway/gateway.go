// Package gateway is the engine's only view of the remote data service: paged
// feed queries, batched relation loads, edge writes and the realtime change
// feed. Everything behind these interfaces is replaceable; the engine never
// sees gorm or websockets directly.
package gateway

import (
	"context"

	"github.com/studyloop/feedengine/model"
)

// FeedQuery is one paged request against the ranked-superset query endpoint.
type FeedQuery struct {
	Mode     model.FeedMode
	ViewerID string
	Offset   int
	Limit    int
	SortBy   model.SortMode
}

// FeedQueryResult carries the raw rows for one page request. Posts are not
// hydrated; the caller runs them through LoadRelations.
type FeedQueryResult struct {
	Posts   []*model.Post
	HasMore bool
}

// PostRelations is the batched side-relation result for a set of posts, every
// map keyed by post id. Liked/Bookmarked only cover the requesting viewer;
// the engine never infers the viewer's own flags from aggregate rows.
type PostRelations struct {
	Hashtags   map[string][]*model.Hashtag
	Tags       map[string][]*model.Tag
	Liked      map[string]bool
	Bookmarked map[string]bool
}

// Gateway is the read/write surface the feed engine consumes.
type Gateway interface {
	// QueryFeed returns one raw page for the given feed mode.
	QueryFeed(ctx context.Context, q FeedQuery) (*FeedQueryResult, error)

	// LoadRelations fetches all per-post side relations for the id set in one
	// round trip per relation type. An empty id set returns empty maps
	// without issuing any query.
	LoadRelations(ctx context.Context, postIds []string, viewerId string) (*PostRelations, error)

	// GetPost returns one fully hydrated post, with viewer flags resolved.
	GetPost(ctx context.Context, postId string, viewerId string) (*model.Post, error)

	// Edge writes. All counter moves happen server side in the same
	// transaction as the edge row, the engine only mirrors them optimistically.
	LikePost(ctx context.Context, viewerId string, postId string) error
	UnlikePost(ctx context.Context, viewerId string, postId string) error
	BookmarkPost(ctx context.Context, viewerId string, postId string) error
	UnbookmarkPost(ctx context.Context, viewerId string, postId string) error
	FollowUser(ctx context.Context, viewerId string, userId string) error
	UnfollowUser(ctx context.Context, viewerId string, userId string) error
}

// SuggestionSource is the query surface of the suggestion engine. Kept apart
// from Gateway since suggestions rank users, not posts.
type SuggestionSource interface {
	// FollowedIds returns ids of everyone the viewer follows.
	FollowedIds(ctx context.Context, viewerId string) ([]string, error)

	// MutualCounts returns, for every user followed by at least one of the
	// viewer's followees, how many of those followees follow them.
	MutualCounts(ctx context.Context, followedIds []string) (map[string]int, error)

	// UsersByIds returns profile rows for the given ids.
	UsersByIds(ctx context.Context, ids []string) ([]*model.User, error)

	// PopularUsers returns up to limit users ordered by follower count
	// descending, excluding the given ids.
	PopularUsers(ctx context.Context, excludeIds []string, limit int) ([]*model.User, error)

	// Interests returns the viewer's interest tag set.
	Interests(ctx context.Context, viewerId string) ([]string, error)
}
