package engine

import (
	"math/rand"
	"sort"
	"time"

	"github.com/studyloop/feedengine/model"
)

const (
	// homeJitterSpan keeps the feed from going deterministic and stale;
	// anything much larger than the engagement spread would reduce ranking to
	// noise.
	homeJitterSpan     = 5.0
	trendingJitterSpan = 2.0

	recencyBonusMax    = 10.0
	recencyBonusWindow = 24 * time.Hour

	// ownPostGrace keeps the composer's own fresh post visible in the home
	// feed without letting stale self-posts crowd it.
	ownPostGrace = 5 * time.Minute
)

// recencyBonus decays linearly from recencyBonusMax to 0 over the first 24
// hours since creation.
func recencyBonus(createdAt time.Time, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return recencyBonusMax
	}
	if age >= recencyBonusWindow {
		return 0
	}
	return recencyBonusMax * (1 - float64(age)/float64(recencyBonusWindow))
}

func homeScore(post *model.Post, now time.Time, jitter float64) float64 {
	return float64(post.LikesCount) +
		2*float64(post.CommentsCount) +
		3*float64(post.SharesCount) +
		recencyBonus(post.CreatedAt, now) +
		jitter
}

func trendingScore(post *model.Post, jitter float64) float64 {
	return 3*float64(post.LikesCount) +
		2*float64(post.CommentsCount) +
		5*float64(post.SharesCount) +
		jitter
}

type scoredPost struct {
	post  *model.Post
	score float64
}

// rankHome orders a raw superset for the home feed:
//  1. drop the viewer's own posts unless authored within the grace window
//  2. partition into unviewed and viewed
//  3. score the unviewed partition, sort by score descending
//  4. append the viewed partition sorted by recency
//
// The partition is deterministic for fixed inputs; only intra-partition order
// varies with the jitter term.
func rankHome(posts []*model.Post, viewerId string, viewed map[string]bool, now time.Time, rng *rand.Rand) []*model.Post {
	candidates := make([]*model.Post, 0, len(posts))
	for _, post := range posts {
		if post.AuthorID == viewerId && now.Sub(post.CreatedAt) > ownPostGrace {
			continue
		}
		candidates = append(candidates, post)
	}

	unviewed := []scoredPost{}
	viewedPosts := []*model.Post{}
	for _, post := range candidates {
		if viewed[post.Id] {
			viewedPosts = append(viewedPosts, post)
			continue
		}
		unviewed = append(unviewed, scoredPost{
			post:  post,
			score: homeScore(post, now, rng.Float64()*homeJitterSpan),
		})
	}

	sort.SliceStable(unviewed, func(i, j int) bool {
		return unviewed[i].score > unviewed[j].score
	})
	sort.SliceStable(viewedPosts, func(i, j int) bool {
		return viewedPosts[i].CreatedAt.After(viewedPosts[j].CreatedAt)
	})

	ranked := make([]*model.Post, 0, len(unviewed)+len(viewedPosts))
	for _, sp := range unviewed {
		ranked = append(ranked, sp.post)
	}
	ranked = append(ranked, viewedPosts...)
	return ranked
}

// rankTrending uses the heavier popularity weighting and unconditionally
// excludes the viewer's own posts.
func rankTrending(posts []*model.Post, viewerId string, viewed map[string]bool, rng *rand.Rand) []*model.Post {
	unviewed := []scoredPost{}
	viewedPosts := []*model.Post{}
	for _, post := range posts {
		if post.AuthorID == viewerId {
			continue
		}
		if viewed[post.Id] {
			viewedPosts = append(viewedPosts, post)
			continue
		}
		unviewed = append(unviewed, scoredPost{
			post:  post,
			score: trendingScore(post, rng.Float64()*trendingJitterSpan),
		})
	}

	sort.SliceStable(unviewed, func(i, j int) bool {
		return unviewed[i].score > unviewed[j].score
	})
	sort.SliceStable(viewedPosts, func(i, j int) bool {
		return viewedPosts[i].CreatedAt.After(viewedPosts[j].CreatedAt)
	})

	ranked := make([]*model.Post, 0, len(unviewed)+len(viewedPosts))
	for _, sp := range unviewed {
		ranked = append(ranked, sp.post)
	}
	ranked = append(ranked, viewedPosts...)
	return ranked
}
