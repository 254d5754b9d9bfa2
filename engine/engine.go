// Package engine is the feed data engine: it retrieves, ranks, deduplicates
// and paginates posts for the five logical feeds of one signed-in viewer, and
// keeps every in-memory list consistent while engagement counters mutate
// underneath it in real time. When the data service is unreachable the engine
// degrades to read-only last-known-good state instead of failing.
package engine

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/cache"
	"github.com/studyloop/feedengine/gateway"
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
	. "github.com/studyloop/feedengine/utils/log"
)

const (
	defaultPageSize = 20
	// supersetFactor is how many raw rows are fetched per page so ranking has
	// slack to exclude, deprioritize and jitter without starving the page.
	supersetFactor = 3
)

var (
	// ErrFetchInFlight is returned when a page fetch for the same feed is
	// already outstanding (single-flight per feed).
	ErrFetchInFlight = errors.New("a fetch for this feed is already in flight")
	// ErrInvalidFeedMode is returned for an unknown feed mode.
	ErrInvalidFeedMode = errors.New("invalid feed mode")
)

// SnapshotCache is the last-known-good page persistence the engine falls back
// to when the gateway is unreachable. Satisfied by cache.SnapshotStore.
type SnapshotCache interface {
	Get(ctx context.Context, viewerID string, feed model.FeedMode) (*cache.FeedSnapshot, error)
	Set(ctx context.Context, viewerID string, feed model.FeedMode, snap *cache.FeedSnapshot) error
}

// Config wires one Engine instance for one viewer.
type Config struct {
	ViewerID string
	PageSize int

	Gateway gateway.Gateway

	// Optional persistence. A nil store disables that fallback/persistence
	// path without changing engine semantics.
	Snapshots   SnapshotCache
	Offline     *cache.OfflineStore
	ViewedStore *utils.RedisViewedStore

	// ChangeFeedURL is the websocket endpoint of the realtime change feed.
	// Empty disables realtime (refresh-only mode).
	ChangeFeedURL string

	// OnSignal receives client push hints ("N new posts", notification
	// arrived). Called from engine goroutines, must not block.
	OnSignal func(model.Signal)
	// OnFollowChange fires when the viewer's follow graph changes so the
	// suggestion result set can be invalidated.
	OnFollowChange func()

	// Test seams. Nil means real time / seeded randomness.
	Now  func() time.Time
	Rand *rand.Rand
}

// PageResult is the outcome of one page fetch: a read-only snapshot of the
// feed's full current list.
type PageResult struct {
	Posts     []model.Post
	HasMore   bool
	FromCache bool
}

// Engine owns all per-viewer feed state plus the realtime subscription
// lifecycle. UI layers must route every mutation through the engine's action
// entry points so optimistic updates and realtime deltas reconcile in one
// place.
type Engine struct {
	viewerID string
	pageSize int

	gw          gateway.Gateway
	snapshots   SnapshotCache
	offline     *cache.OfflineStore
	viewedStore *utils.RedisViewedStore

	changeFeedURL string
	onSignal      func(model.Signal)
	onFollow      func()

	now func() time.Time

	mu      sync.Mutex
	store   *entityStore
	buffer  *newPostBuffer
	viewed  map[string]bool
	overlay *actionOverlay
	sortBy  model.SortMode
	filter  string
	rng     *rand.Rand

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*gateway.Subscription
}

func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(now().UnixNano()))
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Engine{
		viewerID:      cfg.ViewerID,
		pageSize:      pageSize,
		gw:            cfg.Gateway,
		snapshots:     cfg.Snapshots,
		offline:       cfg.Offline,
		viewedStore:   cfg.ViewedStore,
		changeFeedURL: cfg.ChangeFeedURL,
		onSignal:      cfg.OnSignal,
		onFollow:      cfg.OnFollowChange,
		now:           now,
		store:         newEntityStore(),
		buffer:        newBuffer(),
		viewed:        map[string]bool{},
		overlay:       newOverlay(now),
		sortBy:        model.SortModeRecent,
		rng:           rng,
	}
}

// Start opens the realtime subscriptions. Safe to skip entirely; the engine
// then works in refresh-only mode.
func (e *Engine) Start(ctx context.Context) {
	if e.changeFeedURL == "" {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	channels := []struct {
		table  string
		filter string
	}{
		{model.TablePosts, ""},
		{model.TablePostLikes, ""},
		{model.TablePostBookmarks, ""},
		{model.TableComments, ""},
		{model.TableUserFollows, ""},
		{model.TableNotifications, "user_id=eq." + e.viewerID},
	}

	for _, ch := range channels {
		sub := gateway.NewSubscription(e.changeFeedURL, ch.table, ch.filter)
		e.subs = append(e.subs, sub)

		e.wg.Add(2)
		go func(sub *gateway.Subscription) {
			defer e.wg.Done()
			// Exhausted reconnects leave the feed eventually-stale but
			// functional; a later user-driven refresh goes through Dispose
			// and a fresh engine.
			if err := sub.Run(runCtx); err != nil && runCtx.Err() == nil {
				Log.Error("realtime subscription ended: ", err)
			}
		}(sub)
		go func(sub *gateway.Subscription) {
			defer e.wg.Done()
			for event := range sub.Events() {
				e.HandleEvent(runCtx, event)
			}
		}(sub)
	}
}

// Dispose tears down the subscription lifecycle. The engine's in-memory state
// stays readable afterwards; feeds simply stop updating.
func (e *Engine) Dispose() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// SubscriptionStates exposes per-channel connection state for diagnostics.
func (e *Engine) SubscriptionStates() map[string]gateway.SubscriptionState {
	states := map[string]gateway.SubscriptionState{}
	for _, sub := range e.subs {
		states[sub.Table()] = sub.State()
	}
	return states
}

// Reset clears every cursor to zero and every in-memory list to empty, then
// records the new sort/filter mode. Must run before the next fetch whenever
// sort or filter changes; a viewer change instead discards the whole engine.
func (e *Engine) Reset(sortBy model.SortMode, filterExpression string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.resetAll()
	e.buffer = newBuffer()
	if sortBy.IsValid() {
		e.sortBy = sortBy
	}
	e.filter = filterExpression
}

// FetchPage retrieves, ranks and merges the next page for the feed, returning
// the feed's full list after the merge. On gateway failure it falls back to
// the persistent cache when possible and never discards existing good state.
func (e *Engine) FetchPage(ctx context.Context, mode model.FeedMode) (*PageResult, error) {
	if !mode.IsValid() {
		return nil, ErrInvalidFeedMode
	}

	e.mu.Lock()
	fs := e.store.feeds[mode]
	if fs.fetching {
		e.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	fs.fetching = true
	offset := fs.offset
	sortBy := e.sortBy
	filter := e.filter
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.store.feeds[mode].fetching = false
		e.mu.Unlock()
	}()

	limit := e.pageSize
	if mode == model.FeedModeHome || mode == model.FeedModeTrending {
		limit = e.pageSize * supersetFactor
	}

	result, err := e.gw.QueryFeed(ctx, gateway.FeedQuery{
		Mode:     mode,
		ViewerID: e.viewerID,
		Offset:   offset,
		Limit:    limit,
		SortBy:   sortBy,
	})
	if err != nil {
		return e.fallbackToCache(ctx, mode, err)
	}

	if len(result.Posts) == 0 {
		// Empty result is not an error; it just means no more pages.
		e.mu.Lock()
		e.store.feeds[mode].hasMore = false
		page := e.currentPageLocked(mode, false)
		e.mu.Unlock()
		return page, nil
	}

	ranked, err := e.rankSuperset(ctx, mode, result.Posts, filter)
	if err != nil {
		return nil, err
	}

	page := ranked
	if len(page) > e.pageSize {
		page = page[:e.pageSize]
	}

	pageIds := make([]string, 0, len(page))
	for _, post := range page {
		pageIds = append(pageIds, post.Id)
	}

	// Hydrate only the selected page, one round trip per relation type. A
	// hydration failure fails the whole page; partially hydrated posts are
	// never merged.
	relations, err := e.gw.LoadRelations(ctx, pageIds, e.viewerID)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to hydrate %s page", mode)
	}
	for _, post := range page {
		post.Hashtags = relations.Hashtags[post.Id]
		post.Tags = relations.Tags[post.Id]
		post.IsLiked = relations.Liked[post.Id]
		post.IsBookmarked = relations.Bookmarked[post.Id]
	}

	e.mu.Lock()
	for _, post := range page {
		e.store.upsert(post)
	}
	e.store.appendToFeed(mode, pageIds...)
	fs = e.store.feeds[mode]
	// Advance by raw rows consumed, not page size: the next fetch must not
	// re-read rows this pass already ranked.
	fs.offset = offset + len(result.Posts)
	fs.hasMore = result.HasMore
	for _, id := range pageIds {
		e.viewed[id] = true
	}
	out := e.currentPageLocked(mode, false)
	e.mu.Unlock()

	e.persistAfterMerge(ctx, mode, out, pageIds)

	return out, nil
}

// rankSuperset applies the per-mode ordering policy to the raw rows.
func (e *Engine) rankSuperset(ctx context.Context, mode model.FeedMode, raw []*model.Post, filter string) ([]*model.Post, error) {
	if mode != model.FeedModeHome && mode != model.FeedModeTrending {
		// Evidence views: straight recency order from the gateway, no
		// scoring, no jitter, no exclusion.
		return raw, nil
	}

	if mode == model.FeedModeHome && filter != "" {
		filtered := make([]*model.Post, 0, len(raw))
		for _, post := range raw {
			matched, err := utils.FilterExpressionMatchPost(filter, post)
			if err != nil {
				return nil, errors.Wrap(err, "invalid feed filter expression")
			}
			if matched {
				filtered = append(filtered, post)
			}
		}
		raw = filtered
	}

	viewed := e.viewedStatuses(ctx, raw)

	e.mu.Lock()
	defer e.mu.Unlock()
	if mode == model.FeedModeTrending {
		return rankTrending(raw, e.viewerID, viewed, e.rng), nil
	}
	return rankHome(raw, e.viewerID, viewed, e.now(), e.rng), nil
}

// viewedStatuses merges the persisted viewed set into the in-memory one for
// the given rows. Persistence misses just rank as unviewed once more.
func (e *Engine) viewedStatuses(ctx context.Context, raw []*model.Post) map[string]bool {
	ids := make([]string, 0, len(raw))
	for _, post := range raw {
		ids = append(ids, post.Id)
	}

	viewed := map[string]bool{}
	if e.viewedStore != nil {
		statuses, err := e.viewedStore.GetPostsViewedStatus(ids, e.viewerID)
		if err != nil {
			Log.Warn("fail to read persisted viewed statuses: ", err)
		} else {
			for i, status := range statuses {
				if status {
					viewed[ids[i]] = true
				}
			}
		}
	}

	e.mu.Lock()
	for _, id := range ids {
		if e.viewed[id] {
			viewed[id] = true
		}
	}
	e.mu.Unlock()
	return viewed
}

// fallbackToCache serves the last-known-good snapshot when the gateway is
// unreachable. Existing in-memory state is never wiped on a failed refresh:
// the snapshot only replaces a feed it can actually serve.
func (e *Engine) fallbackToCache(ctx context.Context, mode model.FeedMode, cause error) (*PageResult, error) {
	if e.snapshots != nil {
		snap, err := e.snapshots.Get(ctx, e.viewerID, mode)
		if err != nil {
			Log.Warn("snapshot cache unavailable: ", err)
		} else if snap != nil && len(snap.Posts) > 0 {
			posts := make([]*model.Post, 0, len(snap.Posts))
			for i := range snap.Posts {
				post := snap.Posts[i]
				posts = append(posts, &post)
			}
			e.mu.Lock()
			e.store.replaceFeed(mode, posts)
			e.store.feeds[mode].hasMore = false
			out := e.currentPageLocked(mode, true)
			e.mu.Unlock()
			Log.Info("served ", mode, " feed from snapshot cache, cause: ", cause)
			return out, nil
		}
	}

	if e.offline != nil {
		posts, err := e.offline.GetPosts(ctx)
		if err != nil {
			Log.Warn("offline store unavailable: ", err)
		} else if len(posts) > 0 {
			sort.SliceStable(posts, func(i, j int) bool {
				return posts[i].CreatedAt.After(posts[j].CreatedAt)
			})
			if len(posts) > e.pageSize {
				posts = posts[:e.pageSize]
			}
			e.mu.Lock()
			e.store.replaceFeed(mode, posts)
			e.store.feeds[mode].hasMore = false
			out := e.currentPageLocked(mode, true)
			e.mu.Unlock()
			Log.Info("served ", mode, " feed from offline store, cause: ", cause)
			return out, nil
		}
	}

	return nil, errors.Wrapf(cause, "fail to fetch %s feed and no cached fallback", mode)
}

// persistAfterMerge is the write-through path; failures only cost future
// offline availability, never the current merge.
func (e *Engine) persistAfterMerge(ctx context.Context, mode model.FeedMode, out *PageResult, pageIds []string) {
	if e.viewedStore != nil {
		if err := e.viewedStore.SetPostsViewedStatus(pageIds, e.viewerID, true); err != nil {
			Log.Warn("fail to persist viewed statuses: ", err)
		}
	}
	if e.snapshots != nil {
		snap := &cache.FeedSnapshot{Posts: out.Posts, SavedAt: e.now()}
		if err := e.snapshots.Set(ctx, e.viewerID, mode, snap); err != nil {
			Log.Warn("fail to persist feed snapshot: ", err)
		}
	}
	if e.offline != nil {
		e.mu.Lock()
		posts := e.store.feedPosts(mode)
		e.mu.Unlock()
		if err := e.offline.SavePosts(ctx, posts); err != nil {
			Log.Warn("fail to mirror posts offline: ", err)
		}
	}
}

// currentPageLocked deep-copies the feed's current list. Callers must hold
// e.mu.
func (e *Engine) currentPageLocked(mode model.FeedMode, fromCache bool) *PageResult {
	live := e.store.feedPosts(mode)
	posts := make([]model.Post, 0, len(live))
	for _, post := range live {
		var copied model.Post
		if err := copier.CopyWithOption(&copied, post, copier.Option{DeepCopy: true}); err != nil {
			// Fall back to a shallow copy; the value itself still detaches
			// the top-level fields UI layers render.
			copied = *post
		}
		posts = append(posts, copied)
	}
	return &PageResult{
		Posts:     posts,
		HasMore:   e.store.feeds[mode].hasMore,
		FromCache: fromCache,
	}
}

// FeedPosts returns a read-only snapshot of the feed's current list.
func (e *Engine) FeedPosts(mode model.FeedMode) []model.Post {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPageLocked(mode, false).Posts
}

// NewPostCount is the "N new posts" affordance value.
func (e *Engine) NewPostCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.len()
}

// ShowNewPosts merges the new-post buffer into the visible home feed. This is
// the only path by which realtime inserts reach a visible list.
func (e *Engine) ShowNewPosts() []model.Post {
	e.mu.Lock()
	defer e.mu.Unlock()

	drained := e.buffer.drain()
	ids := make([]string, 0, len(drained))
	for _, post := range drained {
		e.store.upsert(post)
		ids = append(ids, post.Id)
		e.viewed[post.Id] = true
	}
	e.store.prependToFeed(model.FeedModeHome, ids...)
	return e.currentPageLocked(model.FeedModeHome, false).Posts
}

// LikePost applies the optimistic local update, records the overlay entry
// that will absorb the echoed realtime event, then issues the gateway write.
// On write failure the optimistic update is rolled back.
func (e *Engine) LikePost(ctx context.Context, postId string) error {
	applied := e.applyLocalEdge(postId, edgeLike, true)
	if err := e.gw.LikePost(ctx, e.viewerID, postId); err != nil {
		e.rollbackLocalEdge(postId, edgeLike, true, applied)
		return errors.Wrapf(err, "fail to like post %s", postId)
	}
	return nil
}

func (e *Engine) UnlikePost(ctx context.Context, postId string) error {
	applied := e.applyLocalEdge(postId, edgeLike, false)
	if err := e.gw.UnlikePost(ctx, e.viewerID, postId); err != nil {
		e.rollbackLocalEdge(postId, edgeLike, false, applied)
		return errors.Wrapf(err, "fail to unlike post %s", postId)
	}
	return nil
}

func (e *Engine) BookmarkPost(ctx context.Context, postId string) error {
	applied := e.applyLocalEdge(postId, edgeBookmark, true)
	if err := e.gw.BookmarkPost(ctx, e.viewerID, postId); err != nil {
		e.rollbackLocalEdge(postId, edgeBookmark, true, applied)
		return errors.Wrapf(err, "fail to bookmark post %s", postId)
	}
	return nil
}

func (e *Engine) UnbookmarkPost(ctx context.Context, postId string) error {
	applied := e.applyLocalEdge(postId, edgeBookmark, false)
	if err := e.gw.UnbookmarkPost(ctx, e.viewerID, postId); err != nil {
		e.rollbackLocalEdge(postId, edgeBookmark, false, applied)
		return errors.Wrapf(err, "fail to unbookmark post %s", postId)
	}
	return nil
}

func (e *Engine) FollowUser(ctx context.Context, userId string) error {
	if err := e.gw.FollowUser(ctx, e.viewerID, userId); err != nil {
		return errors.Wrapf(err, "fail to follow user %s", userId)
	}
	e.notifyFollowChange()
	return nil
}

func (e *Engine) UnfollowUser(ctx context.Context, userId string) error {
	if err := e.gw.UnfollowUser(ctx, e.viewerID, userId); err != nil {
		return errors.Wrapf(err, "fail to unfollow user %s", userId)
	}
	e.notifyFollowChange()
	return nil
}

// applyLocalEdge performs the optimistic flag/counter move. Returns whether
// the post state actually changed (a second like of an already liked post
// moves nothing and must roll back nothing).
func (e *Engine) applyLocalEdge(postId string, kind string, insert bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := false
	post := e.store.get(postId)
	switch kind {
	case edgeLike:
		if post != nil && post.IsLiked != insert {
			post.IsLiked = insert
			if insert {
				e.store.applyCounterDelta(postId, "likes_count", +1)
			} else {
				e.store.applyCounterDelta(postId, "likes_count", -1)
			}
			applied = true
		}
		// A post still waiting in the new-post buffer gets the same treatment
		// as a merged one: the echoed event will be absorbed by the overlay,
		// so the counter has to move here or it never will.
		if buffered := e.bufferedPost(postId); buffered != nil && buffered.IsLiked != insert {
			buffered.IsLiked = insert
			if insert {
				buffered.LikesCount++
			} else {
				buffered.LikesCount = utils.Max(0, buffered.LikesCount-1)
			}
			applied = true
		}
	case edgeBookmark:
		if post != nil && post.IsBookmarked != insert {
			post.IsBookmarked = insert
			applied = true
		}
		if buffered := e.bufferedPost(postId); buffered != nil && buffered.IsBookmarked != insert {
			buffered.IsBookmarked = insert
			applied = true
		}
	}

	// The overlay entry is recorded regardless: the echoed event must be
	// absorbed even when the local list no longer holds the post.
	e.overlay.add(kind, postId, insert)
	return applied
}

func (e *Engine) rollbackLocalEdge(postId string, kind string, insert bool, applied bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.overlay.drop(kind, postId, insert)
	if !applied {
		return
	}
	// A post lives in the store or in the buffer, never both; the state check
	// keeps the revert from touching a copy the apply never changed.
	switch kind {
	case edgeLike:
		if post := e.store.get(postId); post != nil && post.IsLiked == insert {
			post.IsLiked = !insert
			if insert {
				e.store.applyCounterDelta(postId, "likes_count", -1)
			} else {
				e.store.applyCounterDelta(postId, "likes_count", +1)
			}
		}
		if buffered := e.bufferedPost(postId); buffered != nil && buffered.IsLiked == insert {
			buffered.IsLiked = !insert
			if insert {
				buffered.LikesCount = utils.Max(0, buffered.LikesCount-1)
			} else {
				buffered.LikesCount++
			}
		}
	case edgeBookmark:
		if post := e.store.get(postId); post != nil && post.IsBookmarked == insert {
			post.IsBookmarked = !insert
		}
		if buffered := e.bufferedPost(postId); buffered != nil && buffered.IsBookmarked == insert {
			buffered.IsBookmarked = !insert
		}
	}
}

// bufferedPost returns the buffer's live entity for the id, or nil. Callers
// must hold e.mu.
func (e *Engine) bufferedPost(postId string) *model.Post {
	if !e.buffer.contains(postId) {
		return nil
	}
	for _, post := range e.buffer.posts {
		if post.Id == postId {
			return post
		}
	}
	return nil
}

func (e *Engine) emitSignal(signal model.Signal) {
	if e.onSignal != nil {
		e.onSignal(signal)
	}
}

func (e *Engine) notifyFollowChange() {
	if e.onFollow != nil {
		e.onFollow()
	}
	e.emitSignal(model.Signal{SignalType: model.SignalTypeSuggestionsInvalidated})
}
