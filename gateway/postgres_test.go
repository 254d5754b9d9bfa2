package gateway

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
	"github.com/studyloop/feedengine/utils/dotenv"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

// newTempGateway skips the test unless a postgres instance is configured in
// the environment, then returns a gateway over a migrated temp database that
// is dropped on cleanup.
func newTempGateway(t *testing.T) *PostgresGateway {
	t.Helper()
	if os.Getenv("DB_HOST") == "" {
		t.Skip("no postgres configured in this environment")
	}
	db, _ := utils.CreateTempDB(t)
	return NewPostgresGateway(db)
}

func seedUser(t *testing.T, db *gorm.DB, id string) *model.User {
	t.Helper()
	user := &model.User{Id: id, Handle: id, DisplayName: id}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedPost(t *testing.T, db *gorm.DB, id string, author string, privacy model.PostPrivacy, age time.Duration) *model.Post {
	t.Helper()
	post := &model.Post{
		Id:        id,
		AuthorID:  author,
		Body:      "body of " + id,
		Privacy:   privacy,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func reloadPost(t *testing.T, db *gorm.DB, id string) *model.Post {
	t.Helper()
	var post model.Post
	require.NoError(t, db.First(&post, "id = ?", id).Error)
	return &post
}

func queriedIds(res *FeedQueryResult) []string {
	ids := []string{}
	for _, post := range res.Posts {
		ids = append(ids, post.Id)
	}
	return ids
}

func TestQueryFeedRejectsBadInput(t *testing.T) {
	// Validation happens before any query is issued, so no database is needed.
	g := NewPostgresGateway(nil)
	ctx := context.Background()

	_, err := g.QueryFeed(ctx, FeedQuery{Mode: model.FeedMode("nope"), Limit: 10})
	assert.Error(t, err)
	_, err = g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeHome, Limit: 0})
	assert.Error(t, err)
	_, err = g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeHome, Limit: 10, Offset: -1})
	assert.Error(t, err)
}

func TestQueryFeedHomeHonorsPrivacy(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedUser(t, g.DB, "friend")
	seedUser(t, g.DB, "stranger")
	require.NoError(t, g.DB.Create(&model.UserFollow{FollowerID: "viewer", FolloweeID: "friend"}).Error)

	seedPost(t, g.DB, "pub-stranger", "stranger", model.PostPrivacyPublic, time.Hour)
	seedPost(t, g.DB, "fol-friend", "friend", model.PostPrivacyFollowers, 2*time.Hour)
	seedPost(t, g.DB, "fol-stranger", "stranger", model.PostPrivacyFollowers, 3*time.Hour)
	seedPost(t, g.DB, "own-private", "viewer", model.PostPrivacyPrivate, 4*time.Hour)
	seedPost(t, g.DB, "priv-stranger", "stranger", model.PostPrivacyPrivate, 5*time.Hour)

	res, err := g.QueryFeed(ctx, FeedQuery{
		Mode:     model.FeedModeHome,
		ViewerID: "viewer",
		Limit:    10,
		SortBy:   model.SortModeRecent,
	})
	require.NoError(t, err)
	assert.True(t, utils.StringSlicesContainSameElements(
		queriedIds(res), []string{"pub-stranger", "fol-friend", "own-private"}))
	assert.False(t, res.HasMore)

	// Recency order within the visible set.
	assert.Equal(t, []string{"pub-stranger", "fol-friend", "own-private"}, queriedIds(res))
}

func TestQueryFeedPageWindow(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedPost(t, g.DB, "p-oldest", "viewer", model.PostPrivacyPublic, 3*time.Hour)
	seedPost(t, g.DB, "p-middle", "viewer", model.PostPrivacyPublic, 2*time.Hour)
	seedPost(t, g.DB, "p-newest", "viewer", model.PostPrivacyPublic, time.Hour)

	// The limit+1 read resolves HasMore without a count query.
	res, err := g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeUser, ViewerID: "viewer", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-newest", "p-middle"}, queriedIds(res))
	assert.True(t, res.HasMore)

	res, err = g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeUser, ViewerID: "viewer", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-oldest"}, queriedIds(res))
	assert.False(t, res.HasMore)
}

func TestQueryFeedEvidenceModes(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedUser(t, g.DB, "other")
	seedPost(t, g.DB, "p1", "other", model.PostPrivacyPublic, 3*time.Hour)
	seedPost(t, g.DB, "p2", "other", model.PostPrivacyPublic, 2*time.Hour)
	seedPost(t, g.DB, "p3", "other", model.PostPrivacyPublic, time.Hour)

	t.Run("liked feed follows like time, not post time", func(t *testing.T) {
		require.NoError(t, g.DB.Create(&model.PostLike{
			UserID: "viewer", PostID: "p1", CreatedAt: time.Now().Add(-time.Minute),
		}).Error)
		require.NoError(t, g.DB.Create(&model.PostLike{
			UserID: "viewer", PostID: "p3", CreatedAt: time.Now().Add(-time.Hour),
		}).Error)

		res, err := g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeLiked, ViewerID: "viewer", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p3"}, queriedIds(res))
	})

	t.Run("bookmarked feed only sees the viewer's edges", func(t *testing.T) {
		require.NoError(t, g.DB.Create(&model.PostBookmark{UserID: "viewer", PostID: "p2"}).Error)
		require.NoError(t, g.DB.Create(&model.PostBookmark{UserID: "other", PostID: "p3"}).Error)

		res, err := g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeBookmarked, ViewerID: "viewer", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, queriedIds(res))
	})
}

func TestQueryFeedTrendingWindowAndWeighting(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "author")
	shared := seedPost(t, g.DB, "t-shared", "author", model.PostPrivacyPublic, time.Hour)
	require.NoError(t, g.DB.Model(shared).Update("shares_count", 3).Error)
	liked := seedPost(t, g.DB, "t-liked", "author", model.PostPrivacyPublic, 2*time.Hour)
	require.NoError(t, g.DB.Model(liked).Update("likes_count", 4).Error)

	// Outside the trending window and outside the public tier, both invisible
	// no matter how much engagement they carry.
	stale := seedPost(t, g.DB, "t-stale", "author", model.PostPrivacyPublic, (trendingWindowDays+1)*24*time.Hour)
	require.NoError(t, g.DB.Model(stale).Update("likes_count", 100).Error)
	hidden := seedPost(t, g.DB, "t-hidden", "author", model.PostPrivacyFollowers, time.Hour)
	require.NoError(t, g.DB.Model(hidden).Update("likes_count", 100).Error)

	res, err := g.QueryFeed(ctx, FeedQuery{Mode: model.FeedModeTrending, ViewerID: "viewer", Limit: 10})
	require.NoError(t, err)
	// 3 shares score 15, 4 likes score 12.
	assert.Equal(t, []string{"t-shared", "t-liked"}, queriedIds(res))
}

func TestLoadRelationsBatchesThePostSet(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedUser(t, g.DB, "author")
	require.NoError(t, g.DB.Create(&model.Post{
		Id:       "p1",
		AuthorID: "author",
		Privacy:  model.PostPrivacyPublic,
		Hashtags: []*model.Hashtag{{Id: "h1", Name: "golang"}, {Id: "h2", Name: "testing"}},
		Tags:     []*model.Tag{{Id: "tag1", UserID: "viewer"}},
	}).Error)
	require.NoError(t, g.DB.Create(&model.Post{
		Id:       "p2",
		AuthorID: "author",
		Privacy:  model.PostPrivacyPublic,
		Hashtags: []*model.Hashtag{{Id: "h2", Name: "testing"}},
	}).Error)

	require.NoError(t, g.LikePost(ctx, "viewer", "p1"))
	require.NoError(t, g.BookmarkPost(ctx, "viewer", "p2"))

	// The same id twice resolves like once.
	relations, err := g.LoadRelations(ctx, []string{"p1", "p2", "p1"}, "viewer")
	require.NoError(t, err)

	names := []string{}
	for _, hashtag := range relations.Hashtags["p1"] {
		names = append(names, hashtag.Name)
	}
	assert.True(t, utils.StringSlicesContainSameElements(names, []string{"golang", "testing"}))
	require.Len(t, relations.Hashtags["p2"], 1)
	assert.Equal(t, "testing", relations.Hashtags["p2"][0].Name)
	require.Len(t, relations.Tags["p1"], 1)
	assert.Equal(t, "viewer", relations.Tags["p1"][0].UserID)

	assert.True(t, relations.Liked["p1"])
	assert.False(t, relations.Liked["p2"])
	assert.True(t, relations.Bookmarked["p2"])
	assert.False(t, relations.Bookmarked["p1"])

	t.Run("empty input set short-circuits", func(t *testing.T) {
		relations, err := g.LoadRelations(ctx, nil, "viewer")
		require.NoError(t, err)
		assert.Empty(t, relations.Hashtags)
		assert.Empty(t, relations.Liked)
	})

	t.Run("anonymous load skips edge queries", func(t *testing.T) {
		relations, err := g.LoadRelations(ctx, []string{"p1", "p2"}, "")
		require.NoError(t, err)
		assert.NotEmpty(t, relations.Hashtags)
		assert.Empty(t, relations.Liked)
		assert.Empty(t, relations.Bookmarked)
	})
}

func TestLikeUnlikeMovesCounterExactlyOnce(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedUser(t, g.DB, "author")
	seedPost(t, g.DB, "p1", "author", model.PostPrivacyPublic, time.Hour)

	require.NoError(t, g.LikePost(ctx, "viewer", "p1"))
	assert.Equal(t, 1, reloadPost(t, g.DB, "p1").LikesCount)

	// Re-liking an already liked post conflicts on the edge key and the
	// counter stays put.
	require.NoError(t, g.LikePost(ctx, "viewer", "p1"))
	assert.Equal(t, 1, reloadPost(t, g.DB, "p1").LikesCount)

	require.NoError(t, g.UnlikePost(ctx, "viewer", "p1"))
	assert.Equal(t, 0, reloadPost(t, g.DB, "p1").LikesCount)

	// Without an edge row the delete affects nothing and the counter cannot
	// go negative.
	require.NoError(t, g.UnlikePost(ctx, "viewer", "p1"))
	assert.Equal(t, 0, reloadPost(t, g.DB, "p1").LikesCount)

	// The unlike removed the edge row for real, so a later like is a fresh
	// edge write, not a conflict with a tombstone.
	require.NoError(t, g.LikePost(ctx, "viewer", "p1"))
	assert.Equal(t, 1, reloadPost(t, g.DB, "p1").LikesCount)

	t.Run("counter already at zero stays at zero", func(t *testing.T) {
		seedPost(t, g.DB, "p2", "author", model.PostPrivacyPublic, time.Hour)
		require.NoError(t, g.DB.Create(&model.PostLike{UserID: "viewer", PostID: "p2"}).Error)
		require.NoError(t, g.UnlikePost(ctx, "viewer", "p2"))
		assert.Equal(t, 0, reloadPost(t, g.DB, "p2").LikesCount)
	})
}

func TestFollowUnfollowMovesFollowerCounter(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	star := seedUser(t, g.DB, "star")

	reload := func() int {
		var user model.User
		require.NoError(t, g.DB.First(&user, "id = ?", star.Id).Error)
		return user.FollowersCount
	}

	require.Error(t, g.FollowUser(ctx, "viewer", "viewer"))

	require.NoError(t, g.FollowUser(ctx, "viewer", "star"))
	assert.Equal(t, 1, reload())
	require.NoError(t, g.FollowUser(ctx, "viewer", "star"))
	assert.Equal(t, 1, reload())

	require.NoError(t, g.UnfollowUser(ctx, "viewer", "star"))
	assert.Equal(t, 0, reload())
	require.NoError(t, g.UnfollowUser(ctx, "viewer", "star"))
	assert.Equal(t, 0, reload())

	t.Run("counter never goes negative", func(t *testing.T) {
		seedUser(t, g.DB, "fresh")
		require.NoError(t, g.DB.Create(&model.UserFollow{FollowerID: "viewer", FolloweeID: "fresh"}).Error)
		require.NoError(t, g.UnfollowUser(ctx, "viewer", "fresh"))
		var user model.User
		require.NoError(t, g.DB.First(&user, "id = ?", "fresh").Error)
		assert.Equal(t, 0, user.FollowersCount)
	})
}

func TestGetPostHydratesRelationsAndViewerFlags(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	seedUser(t, g.DB, "viewer")
	seedUser(t, g.DB, "author")
	attachments := `[{"url":"chart.png","kind":"image"}]`
	require.NoError(t, g.DB.Create(&model.Post{
		Id:          "p1",
		AuthorID:    "author",
		Privacy:     model.PostPrivacyPublic,
		Attachments: datatypes.JSON(attachments),
		Hashtags:    []*model.Hashtag{{Id: "h1", Name: "golang"}},
	}).Error)
	require.NoError(t, g.LikePost(ctx, "viewer", "p1"))

	post, err := g.GetPost(ctx, "p1", "viewer")
	require.NoError(t, err)
	assert.Equal(t, "author", post.Author.Id)
	assert.True(t, post.IsLiked)
	assert.False(t, post.IsBookmarked)
	require.Len(t, post.Hashtags, 1)

	equal, err := utils.AreJSONsEqual(attachments, string(post.Attachments))
	require.NoError(t, err)
	assert.True(t, equal)

	_, err = g.GetPost(ctx, "missing", "viewer")
	assert.Error(t, err)
}

func TestSuggestionSourceQueries(t *testing.T) {
	g := newTempGateway(t)
	ctx := context.Background()

	for _, id := range []string{"viewer", "a", "b", "c", "d"} {
		seedUser(t, g.DB, id)
	}
	follows := []model.UserFollow{
		{FollowerID: "viewer", FolloweeID: "a"},
		{FollowerID: "viewer", FolloweeID: "b"},
		{FollowerID: "a", FolloweeID: "c"},
		{FollowerID: "b", FolloweeID: "c"},
		{FollowerID: "a", FolloweeID: "d"},
	}
	for i := range follows {
		require.NoError(t, g.DB.Create(&follows[i]).Error)
	}

	followed, err := g.FollowedIds(ctx, "viewer")
	require.NoError(t, err)
	assert.True(t, utils.StringSlicesContainSameElements(followed, []string{"a", "b"}))

	// Two of the viewer's followees follow c, one follows d.
	mutuals, err := g.MutualCounts(ctx, followed)
	require.NoError(t, err)
	assert.Equal(t, 2, mutuals["c"])
	assert.Equal(t, 1, mutuals["d"])

	empty, err := g.MutualCounts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	users, err := g.UsersByIds(ctx, []string{"a", "d"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, g.DB.Model(&model.User{}).Where("id = ?", "a").Update("followers_count", 5).Error)
	require.NoError(t, g.DB.Model(&model.User{}).Where("id = ?", "b").Update("followers_count", 3).Error)
	popular, err := g.PopularUsers(ctx, []string{"viewer"}, 2)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "a", popular[0].Id)
	assert.Equal(t, "b", popular[1].Id)

	require.NoError(t, g.DB.Model(&model.User{}).Where("id = ?", "viewer").
		Update("interests", datatypes.JSON(`["math","physics"]`)).Error)
	interests, err := g.Interests(ctx, "viewer")
	require.NoError(t, err)
	assert.True(t, utils.StringSlicesContainSameElements(interests, []string{"math", "physics"}))

	none, err := g.Interests(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, none)
}
