package engine

import (
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
)

/*
entityStore is the normalized in-memory state behind every feed view: one
entity table keyed by post id plus a lightweight list of id references per
feed. A realtime delta is applied once to the entity and every feed's
projection reflects it automatically, which is what keeps five concurrently
displayed lists consistent without parallel mutation code.

Not safe for concurrent use; the owning Engine serializes access.
*/
type entityStore struct {
	posts map[string]*model.Post
	feeds map[model.FeedMode]*feedState
}

// feedState is the per-feed projection: insertion ordered ids, duplicates
// forbidden, plus the pagination cursor into the ranked result space.
type feedState struct {
	ids      []string
	present  map[string]bool
	offset   int
	hasMore  bool
	fetching bool
}

func newFeedState() *feedState {
	return &feedState{
		ids:     []string{},
		present: map[string]bool{},
		hasMore: true,
	}
}

func newEntityStore() *entityStore {
	store := &entityStore{
		posts: map[string]*model.Post{},
		feeds: map[model.FeedMode]*feedState{},
	}
	for _, mode := range model.AllFeedModes {
		store.feeds[mode] = newFeedState()
	}
	return store
}

// upsert stores or replaces the entity row. Projections are untouched.
func (s *entityStore) upsert(post *model.Post) {
	s.posts[post.Id] = post
}

// get returns the entity row or nil.
func (s *entityStore) get(postId string) *model.Post {
	return s.posts[postId]
}

// appendToFeed appends ids to the feed projection, silently skipping any id
// already present. Dedup by identity is mandatory after every merge.
func (s *entityStore) appendToFeed(mode model.FeedMode, ids ...string) {
	fs := s.feeds[mode]
	for _, id := range ids {
		if fs.present[id] {
			continue
		}
		fs.present[id] = true
		fs.ids = append(fs.ids, id)
	}
}

// prependToFeed inserts ids at the head of the projection, preserving their
// given order, skipping duplicates. Used when the new-post buffer is merged.
func (s *entityStore) prependToFeed(mode model.FeedMode, ids ...string) {
	fs := s.feeds[mode]
	fresh := []string{}
	for _, id := range ids {
		if fs.present[id] {
			continue
		}
		fs.present[id] = true
		fresh = append(fresh, id)
	}
	fs.ids = append(fresh, fs.ids...)
}

// removeEverywhere drops the post from every projection and from the entity
// table.
func (s *entityStore) removeEverywhere(postId string) {
	delete(s.posts, postId)
	for _, fs := range s.feeds {
		if !fs.present[postId] {
			continue
		}
		delete(fs.present, postId)
		for i, id := range fs.ids {
			if id == postId {
				fs.ids = append(fs.ids[:i], fs.ids[i+1:]...)
				break
			}
		}
	}
}

// inAnyFeed reports whether any projection still references the post.
func (s *entityStore) inAnyFeed(postId string) bool {
	for _, fs := range s.feeds {
		if fs.present[postId] {
			return true
		}
	}
	return false
}

// applyCounterDelta moves one engagement counter, floored at zero.
func (s *entityStore) applyCounterDelta(postId string, counter string, delta int) {
	post := s.posts[postId]
	if post == nil {
		return
	}
	switch counter {
	case "likes_count":
		post.LikesCount = utils.Max(0, post.LikesCount+delta)
	case "comments_count":
		post.CommentsCount = utils.Max(0, post.CommentsCount+delta)
	case "shares_count":
		post.SharesCount = utils.Max(0, post.SharesCount+delta)
	}
}

// feedPosts materializes the projection in order. The returned posts are the
// live entities; callers that hand them outside the engine must copy.
func (s *entityStore) feedPosts(mode model.FeedMode) []*model.Post {
	fs := s.feeds[mode]
	posts := make([]*model.Post, 0, len(fs.ids))
	for _, id := range fs.ids {
		if post := s.posts[id]; post != nil {
			posts = append(posts, post)
		}
	}
	return posts
}

// replaceFeed swaps the projection wholesale (cache fallback path), keeping
// the dedup invariant.
func (s *entityStore) replaceFeed(mode model.FeedMode, posts []*model.Post) {
	fs := newFeedState()
	s.feeds[mode] = fs
	for _, post := range posts {
		if fs.present[post.Id] {
			continue
		}
		s.upsert(post)
		fs.present[post.Id] = true
		fs.ids = append(fs.ids, post.Id)
	}
}

// resetAll clears every projection and cursor. Entity rows are dropped too;
// a reset is a full restart of the viewer's session state.
func (s *entityStore) resetAll() {
	s.posts = map[string]*model.Post{}
	for _, mode := range model.AllFeedModes {
		s.feeds[mode] = newFeedState()
	}
}
