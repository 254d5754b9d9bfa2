package gateway

import (
	"context"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// trendingWindowDays bounds how far back the trending query looks. Engagement
// weighting alone would let a month-old viral post pin the trending feed
// forever.
const trendingWindowDays = 7

// PostgresGateway implements Gateway and SuggestionSource over the relational
// store.
type PostgresGateway struct {
	DB *gorm.DB
}

func NewPostgresGateway(db *gorm.DB) *PostgresGateway {
	return &PostgresGateway{DB: db}
}

// QueryFeed runs the per-mode paged query. It reads limit+1 rows to compute
// HasMore without a second count query.
func (g *PostgresGateway) QueryFeed(ctx context.Context, q FeedQuery) (*FeedQueryResult, error) {
	if !q.Mode.IsValid() {
		return nil, errors.Errorf("invalid feed mode %q", q.Mode)
	}
	if q.Limit <= 0 {
		return nil, errors.New("query limit should be > 0")
	}
	if q.Offset < 0 {
		return nil, errors.New("query offset should be >= 0")
	}

	db := g.DB.WithContext(ctx).Model(&model.Post{}).
		Preload("Author").
		Preload("Group")

	switch q.Mode {
	case model.FeedModeHome:
		// Hashtags ride along on the raw rows so filter expressions can
		// evaluate before the page is selected and hydrated.
		db = db.Preload("Hashtags").Where(
			"privacy = ? OR author_id = ? OR (privacy = ? AND author_id IN (?))",
			model.PostPrivacyPublic,
			q.ViewerID,
			model.PostPrivacyFollowers,
			g.followedSubquery(q.ViewerID),
		)
		if q.SortBy == model.SortModePopular {
			db = db.Order("likes_count + comments_count + shares_count DESC, created_at DESC")
		} else {
			db = db.Order("created_at DESC")
		}
	case model.FeedModeTrending:
		db = db.Where("privacy = ?", model.PostPrivacyPublic).
			Where("created_at > NOW() - MAKE_INTERVAL(days => ?)", trendingWindowDays).
			Order("3 * likes_count + 2 * comments_count + 5 * shares_count DESC, created_at DESC")
	case model.FeedModeUser:
		db = db.Where("author_id = ?", q.ViewerID).Order("created_at DESC")
	case model.FeedModeLiked:
		db = db.Joins("JOIN post_likes ON post_likes.post_id = posts.id").
			Where("post_likes.user_id = ? AND post_likes.deleted_at IS NULL", q.ViewerID).
			Order("post_likes.created_at DESC")
	case model.FeedModeBookmarked:
		db = db.Joins("JOIN post_bookmarks ON post_bookmarks.post_id = posts.id").
			Where("post_bookmarks.user_id = ? AND post_bookmarks.deleted_at IS NULL", q.ViewerID).
			Order("post_bookmarks.created_at DESC")
	}

	var posts []*model.Post
	if err := db.Offset(q.Offset).Limit(q.Limit + 1).Find(&posts).Error; err != nil {
		return nil, errors.Wrapf(err, "fail to query %s feed", q.Mode)
	}

	hasMore := len(posts) > q.Limit
	if hasMore {
		posts = posts[:q.Limit]
	}
	return &FeedQueryResult{Posts: posts, HasMore: hasMore}, nil
}

func (g *PostgresGateway) followedSubquery(viewerId string) *gorm.DB {
	return g.DB.Model(&model.UserFollow{}).
		Select("followee_id").
		Where("follower_id = ? AND deleted_at IS NULL", viewerId)
}

// GetPost fetches one post with relations and viewer flags resolved. Used by
// the realtime synchronizer on insert/update events.
func (g *PostgresGateway) GetPost(ctx context.Context, postId string, viewerId string) (*model.Post, error) {
	var post model.Post
	result := g.DB.WithContext(ctx).
		Preload("Author").
		Preload("Group").
		Preload("Hashtags").
		Preload("Tags").
		Where("id = ?", postId).
		First(&post)
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "fail to fetch post %s", postId)
	}

	if viewerId != "" {
		relations, err := g.LoadRelations(ctx, []string{postId}, viewerId)
		if err != nil {
			return nil, err
		}
		post.IsLiked = relations.Liked[postId]
		post.IsBookmarked = relations.Bookmarked[postId]
	}
	return &post, nil
}

// LikePost records the like edge and moves the counter in one transaction.
// Re-liking an already liked post is a no-op, the counter only moves when a
// new edge row is actually written.
func (g *PostgresGateway) LikePost(ctx context.Context, viewerId string, postId string) error {
	return g.insertEdge(ctx, &model.PostLike{UserID: viewerId, PostID: postId}, postId, "likes_count", +1)
}

func (g *PostgresGateway) UnlikePost(ctx context.Context, viewerId string, postId string) error {
	return g.deleteEdge(ctx, &model.PostLike{}, viewerId, postId, "likes_count")
}

func (g *PostgresGateway) BookmarkPost(ctx context.Context, viewerId string, postId string) error {
	// Bookmarks are private, no counter to move.
	return g.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PostBookmark{UserID: viewerId, PostID: postId}).Error
}

func (g *PostgresGateway) UnbookmarkPost(ctx context.Context, viewerId string, postId string) error {
	return g.DB.WithContext(ctx).Unscoped().
		Where("user_id = ? AND post_id = ?", viewerId, postId).
		Delete(&model.PostBookmark{}).Error
}

func (g *PostgresGateway) FollowUser(ctx context.Context, viewerId string, userId string) error {
	if viewerId == userId {
		return errors.New("cannot follow yourself")
	}
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.UserFollow{FollowerID: viewerId, FolloweeID: userId})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&model.User{}).Where("id = ?", userId).
			Update("followers_count", gorm.Expr("followers_count + 1")).Error
	})
}

func (g *PostgresGateway) UnfollowUser(ctx context.Context, viewerId string, userId string) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().
			Where("follower_id = ? AND followee_id = ?", viewerId, userId).
			Delete(&model.UserFollow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&model.User{}).Where("id = ?", userId).
			Update("followers_count", gorm.Expr("GREATEST(followers_count - 1, 0)")).Error
	})
}

func (g *PostgresGateway) insertEdge(ctx context.Context, edge interface{}, postId string, counter string, delta int) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(edge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&model.Post{}).Where("id = ?", postId).
			Update(counter, gorm.Expr(counter+" + ?", delta)).Error
	})
}

// deleteEdge removes the edge row for real, not via soft delete. Edge tables
// use composite primary keys; a tombstone row would make every later
// re-insertion of the same edge collide with it and silently no-op.
func (g *PostgresGateway) deleteEdge(ctx context.Context, edge interface{}, viewerId string, postId string, counter string) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().
			Where("user_id = ? AND post_id = ?", viewerId, postId).Delete(edge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&model.Post{}).Where("id = ?", postId).
			Update(counter, gorm.Expr("GREATEST("+counter+" - 1, 0)")).Error
	})
}

var _ Gateway = (*PostgresGateway)(nil)
var _ SuggestionSource = (*PostgresGateway)(nil)
