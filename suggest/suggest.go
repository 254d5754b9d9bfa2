// Package suggest ranks "people you may know" candidates for one viewer. It
// mirrors the feed aggregator's shape over user entities instead of posts:
// build a candidate pool, score it, sort it once, then page through the stable
// result until the follow graph changes.
package suggest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/gateway"
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
)

const (
	// poolCap bounds the candidate pool for cost control; beyond a couple
	// hundred candidates additional depth never reaches a rendered page.
	poolCap = 200

	mutualWeight   = 15.0
	interestWeight = 10.0

	followerScoreCap = 20.0
	postsScoreCap    = 15.0

	activeRecentWindow = 3 * 24 * time.Hour
	activeWeekWindow   = 7 * 24 * time.Hour
	activeRecentBonus  = 15.0
	activeWeekBonus    = 5.0
)

// ScoredUser is one ranked suggestion with its score components resolved.
type ScoredUser struct {
	User        *model.User `json:"user"`
	Score       float64     `json:"score"`
	MutualCount int         `json:"mutualCount"`
}

// Page is one stable slice of the ranked suggestion list.
type Page struct {
	Users   []ScoredUser `json:"users"`
	HasMore bool         `json:"hasMore"`
}

// Suggester computes and caches the ranked suggestion list for one viewer.
// The list is computed lazily on the first page request and reused for every
// following page, which is what guarantees a candidate never appears on two
// pages of the same session. Invalidate discards it. Thread-safe.
type Suggester struct {
	viewerID string
	src      gateway.SuggestionSource
	now      func() time.Time

	mu     sync.Mutex
	ranked []ScoredUser
	valid  bool
}

func New(viewerID string, src gateway.SuggestionSource, now func() time.Time) *Suggester {
	if now == nil {
		now = time.Now
	}
	return &Suggester{
		viewerID: viewerID,
		src:      src,
		now:      now,
	}
}

// Invalidate discards the cached ranking. The next page request recomputes it
// against the current follow graph.
func (s *Suggester) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	s.ranked = nil
}

// GetPage returns the ranked suggestions in [offset, offset+limit). Offsets
// index the pre-sorted list, so paging forward never repeats a candidate
// until Invalidate.
func (s *Suggester) GetPage(ctx context.Context, offset int, limit int) (*Page, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		ranked, err := s.compute(ctx)
		if err != nil {
			return nil, err
		}
		s.ranked = ranked
		s.valid = true
	}

	if offset >= len(s.ranked) {
		return &Page{Users: []ScoredUser{}, HasMore: false}, nil
	}
	end := utils.Min(offset+limit, len(s.ranked))
	return &Page{
		Users:   s.ranked[offset:end],
		HasMore: end < len(s.ranked),
	}, nil
}

// compute builds, scores and sorts the candidate pool. Callers hold s.mu.
func (s *Suggester) compute(ctx context.Context) ([]ScoredUser, error) {
	followed, err := s.src.FollowedIds(ctx, s.viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "fail to load viewer follow list")
	}

	excluded := map[string]bool{s.viewerID: true}
	for _, id := range followed {
		excluded[id] = true
	}

	// Second degree first: people followed by people the viewer follows, with
	// how many of those followees follow each of them.
	mutuals := map[string]int{}
	if len(followed) > 0 {
		mutuals, err = s.src.MutualCounts(ctx, followed)
		if err != nil {
			return nil, errors.Wrap(err, "fail to load mutual connection counts")
		}
	}

	candidateIds := []string{}
	for id := range mutuals {
		if excluded[id] {
			continue
		}
		excluded[id] = true
		candidateIds = append(candidateIds, id)
	}
	// Map iteration order is random; fix it so the popularity top-up and the
	// final tie break are reproducible.
	sort.Strings(candidateIds)
	if len(candidateIds) > poolCap {
		candidateIds = candidateIds[:poolCap]
	}

	candidates, err := s.src.UsersByIds(ctx, candidateIds)
	if err != nil {
		return nil, errors.Wrap(err, "fail to load candidate profiles")
	}

	// Top up the pool from the popularity-ordered rest.
	if len(candidates) < poolCap {
		excludeIds := make([]string, 0, len(excluded))
		for id := range excluded {
			excludeIds = append(excludeIds, id)
		}
		sort.Strings(excludeIds)
		popular, err := s.src.PopularUsers(ctx, excludeIds, poolCap-len(candidates))
		if err != nil {
			return nil, errors.Wrap(err, "fail to load popular candidates")
		}
		candidates = append(candidates, popular...)
	}

	viewerInterests, err := s.src.Interests(ctx, s.viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "fail to load viewer interests")
	}
	interestSet := map[string]bool{}
	for _, interest := range viewerInterests {
		interestSet[interest] = true
	}

	now := s.now()
	ranked := make([]ScoredUser, 0, len(candidates))
	for _, user := range candidates {
		mutualCount := mutuals[user.Id]
		ranked = append(ranked, ScoredUser{
			User:        user,
			Score:       scoreCandidate(user, mutualCount, interestSet, now),
			MutualCount: mutualCount,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].User.Id < ranked[j].User.Id
	})
	return ranked, nil
}

func scoreCandidate(user *model.User, mutualCount int, viewerInterests map[string]bool, now time.Time) float64 {
	shared := 0
	for _, interest := range user.InterestSet() {
		if viewerInterests[interest] {
			shared++
		}
	}

	score := mutualWeight*float64(mutualCount) +
		interestWeight*float64(shared)

	followerScore := float64(user.FollowersCount) / 10
	if followerScore > followerScoreCap {
		followerScore = followerScoreCap
	}
	postsScore := float64(user.PostsCount) / 5
	if postsScore > postsScoreCap {
		postsScore = postsScoreCap
	}
	score += followerScore + postsScore

	return score + activityBonus(user.LastActive, now)
}

// activityBonus rewards recently active profiles: a suggestion that never
// posts back is a dead end.
func activityBonus(lastActive time.Time, now time.Time) float64 {
	if lastActive.IsZero() {
		return 0
	}
	idle := now.Sub(lastActive)
	switch {
	case idle <= activeRecentWindow:
		return activeRecentBonus
	case idle <= activeWeekWindow:
		return activeWeekBonus
	}
	return 0
}
