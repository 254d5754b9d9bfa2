package suggest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyloop/feedengine/model"
	"gorm.io/datatypes"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	followed     []string
	mutuals      map[string]int
	users        map[string]*model.User
	popular      []*model.User
	interests    []string
	followedErr  error
	computeCalls int
}

func (f *fakeSource) FollowedIds(ctx context.Context, viewerId string) ([]string, error) {
	f.computeCalls++
	return f.followed, f.followedErr
}

func (f *fakeSource) MutualCounts(ctx context.Context, followedIds []string) (map[string]int, error) {
	return f.mutuals, nil
}

func (f *fakeSource) UsersByIds(ctx context.Context, ids []string) ([]*model.User, error) {
	users := []*model.User{}
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (f *fakeSource) PopularUsers(ctx context.Context, excludeIds []string, limit int) ([]*model.User, error) {
	excluded := map[string]bool{}
	for _, id := range excludeIds {
		excluded[id] = true
	}
	users := []*model.User{}
	for _, user := range f.popular {
		if excluded[user.Id] || len(users) >= limit {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

func (f *fakeSource) Interests(ctx context.Context, viewerId string) ([]string, error) {
	return f.interests, nil
}

func makeUser(id string, followers int, posts int, idle time.Duration, interests ...string) *model.User {
	encoded, _ := json.Marshal(interests)
	return &model.User{
		Id:             id,
		Handle:         id,
		Interests:      datatypes.JSON(encoded),
		FollowersCount: followers,
		PostsCount:     posts,
		LastActive:     testNow.Add(-idle),
	}
}

func fixedNow() time.Time { return testNow }

func TestScoreCandidateWeights(t *testing.T) {
	viewer := map[string]bool{"math": true, "physics": true}

	// 2 mutuals (30) + 1 shared interest (10) + 50 followers (5) + 10 posts
	// (2) + active yesterday (15).
	user := makeUser("u1", 50, 10, 24*time.Hour, "math", "art")
	assert.Equal(t, 62.0, scoreCandidate(user, 2, viewer, testNow))

	// Follower and posts components are capped.
	whale := makeUser("u2", 100000, 100000, 24*time.Hour)
	assert.Equal(t, 20.0+15.0+15.0, scoreCandidate(whale, 0, map[string]bool{}, testNow))
}

func TestActivityBonusWindows(t *testing.T) {
	assert.Equal(t, 15.0, activityBonus(testNow.Add(-2*24*time.Hour), testNow))
	assert.Equal(t, 5.0, activityBonus(testNow.Add(-5*24*time.Hour), testNow))
	assert.Equal(t, 0.0, activityBonus(testNow.Add(-10*24*time.Hour), testNow))
	assert.Equal(t, 0.0, activityBonus(time.Time{}, testNow))
}

func TestGetPageExcludesSelfAndFollowed(t *testing.T) {
	src := &fakeSource{
		followed: []string{"friend"},
		mutuals: map[string]int{
			"viewer-1":  3, // self reported as followed-by-followees
			"friend":    2,
			"candidate": 1,
		},
		users: map[string]*model.User{
			"candidate": makeUser("candidate", 0, 0, time.Hour),
		},
	}
	s := New("viewer-1", src, fixedNow)

	page, err := s.GetPage(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "candidate", page.Users[0].User.Id)
	assert.Equal(t, 1, page.Users[0].MutualCount)
	assert.False(t, page.HasMore)
}

func TestGetPagePopularityTopUp(t *testing.T) {
	src := &fakeSource{
		followed: []string{"friend"},
		mutuals:  map[string]int{"second-degree": 2},
		users: map[string]*model.User{
			"second-degree": makeUser("second-degree", 0, 0, 30*24*time.Hour),
		},
		popular: []*model.User{
			makeUser("friend", 900, 0, time.Hour), // already followed
			makeUser("celebrity", 500, 0, 30*24*time.Hour),
		},
	}
	s := New("viewer-1", src, fixedNow)

	page, err := s.GetPage(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Users, 2)

	// 2 mutuals beat capped follower popularity.
	assert.Equal(t, "second-degree", page.Users[0].User.Id)
	assert.Equal(t, "celebrity", page.Users[1].User.Id)
}

func TestGetPageStableAcrossPages(t *testing.T) {
	users := map[string]*model.User{}
	mutuals := map[string]int{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		users[id] = makeUser(id, 0, 0, 30*24*time.Hour)
		mutuals[id] = 1
	}
	src := &fakeSource{followed: []string{"friend"}, mutuals: mutuals, users: users}
	s := New("viewer-1", src, fixedNow)

	ctx := context.Background()
	first, err := s.GetPage(ctx, 0, 2)
	require.NoError(t, err)
	second, err := s.GetPage(ctx, 2, 2)
	require.NoError(t, err)
	third, err := s.GetPage(ctx, 4, 2)
	require.NoError(t, err)

	assert.True(t, first.HasMore)
	assert.True(t, second.HasMore)
	assert.False(t, third.HasMore)

	seen := map[string]bool{}
	for _, page := range []*Page{first, second, third} {
		for _, scored := range page.Users {
			assert.False(t, seen[scored.User.Id], "candidate %s repeated across pages", scored.User.Id)
			seen[scored.User.Id] = true
		}
	}
	assert.Len(t, seen, 5)

	// One computation served all three pages.
	assert.Equal(t, 1, src.computeCalls)
}

func TestGetPageBeyondEndIsEmpty(t *testing.T) {
	src := &fakeSource{}
	s := New("viewer-1", src, fixedNow)

	page, err := s.GetPage(context.Background(), 100, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.False(t, page.HasMore)
}

func TestInvalidateRecomputes(t *testing.T) {
	src := &fakeSource{
		followed: []string{"friend"},
		mutuals:  map[string]int{"candidate": 1},
		users:    map[string]*model.User{"candidate": makeUser("candidate", 0, 0, time.Hour)},
	}
	s := New("viewer-1", src, fixedNow)

	ctx := context.Background()
	_, err := s.GetPage(ctx, 0, 10)
	require.NoError(t, err)
	_, err = s.GetPage(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, src.computeCalls)

	// The viewer followed the candidate; the recomputed list drops them.
	src.followed = []string{"friend", "candidate"}
	src.mutuals = map[string]int{}
	s.Invalidate()

	page, err := s.GetPage(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, src.computeCalls)
	assert.Empty(t, page.Users)
}

func TestGetPageSourceFailurePropagates(t *testing.T) {
	src := &fakeSource{followedErr: errors.New("backend down")}
	s := New("viewer-1", src, fixedNow)

	_, err := s.GetPage(context.Background(), 0, 10)
	require.Error(t, err)

	// A failed computation is not cached.
	src.followedErr = nil
	_, err = s.GetPage(context.Background(), 0, 10)
	assert.NoError(t, err)
}
