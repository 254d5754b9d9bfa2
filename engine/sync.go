package engine

import (
	"context"

	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
	. "github.com/studyloop/feedengine/utils/log"
)

// HandleEvent applies one realtime change event. Events arrive in commit
// order per channel and are applied without reordering; applying is
// idempotent where the backend cannot promise single delivery of state the
// viewer already owns (own-edge echoes, buffered inserts).
func (e *Engine) HandleEvent(ctx context.Context, event model.ChangeEvent) {
	switch event.Table {
	case model.TablePosts:
		e.handlePostEvent(ctx, event)
	case model.TablePostLikes:
		e.handleLikeEvent(event)
	case model.TablePostBookmarks:
		e.handleBookmarkEvent(event)
	case model.TableComments:
		e.handleCommentEvent(event)
	case model.TableUserFollows:
		e.handleFollowEvent(event)
	case model.TableNotifications:
		e.handleNotificationEvent(event)
	default:
		Log.Warn("dropping change event for unknown table: ", event.Table)
	}
}

type postRowRef struct {
	Id string `json:"Id"`
}

func (e *Engine) handlePostEvent(ctx context.Context, event model.ChangeEvent) {
	switch event.Type {
	case model.ChangeEventInsert:
		var row postRowRef
		if err := event.DecodeNew(&row); err != nil || row.Id == "" {
			Log.Warn("malformed post insert event: ", err)
			return
		}

		e.mu.Lock()
		alreadyBuffered := e.buffer.contains(row.Id)
		e.mu.Unlock()
		if alreadyBuffered {
			// Redelivered insert, buffer unchanged.
			return
		}

		// Fetch the fully hydrated post before touching any list; a bare row
		// from the event has no relations or viewer flags.
		post, err := e.gw.GetPost(ctx, row.Id, e.viewerID)
		if err != nil {
			Log.Warn("fail to hydrate inserted post ", row.Id, ": ", err)
			return
		}

		e.mu.Lock()
		added := e.buffer.prepend(post)
		count := e.buffer.len()
		e.mu.Unlock()

		if added {
			e.emitSignal(model.Signal{SignalType: model.SignalTypeNewPosts, NewPostCount: count})
		}

	case model.ChangeEventUpdate:
		var row postRowRef
		if err := event.DecodeNew(&row); err != nil || row.Id == "" {
			Log.Warn("malformed post update event: ", err)
			return
		}

		e.mu.Lock()
		present := e.store.get(row.Id) != nil || e.buffer.contains(row.Id)
		e.mu.Unlock()
		if !present {
			// The post lives in no list; the refreshed row would have nowhere
			// to merge. Idempotent discard instead of cancellation.
			return
		}

		post, err := e.gw.GetPost(ctx, row.Id, e.viewerID)
		if err != nil {
			Log.Warn("fail to re-hydrate updated post ", row.Id, ": ", err)
			return
		}

		e.mu.Lock()
		// The same post can legitimately live in more than one list; the
		// normalized table makes the replacement visible to all of them at
		// once. The buffer holds its own entity and is replaced separately.
		if e.store.get(post.Id) != nil {
			e.store.upsert(post)
		}
		e.buffer.replace(post)
		e.mu.Unlock()

	case model.ChangeEventDelete:
		var row postRowRef
		if err := event.DecodeOld(&row); err != nil || row.Id == "" {
			Log.Warn("malformed post delete event: ", err)
			return
		}

		e.mu.Lock()
		e.store.removeEverywhere(row.Id)
		e.buffer.remove(row.Id)
		e.mu.Unlock()
	}
}

func (e *Engine) handleLikeEvent(event model.ChangeEvent) {
	var edge model.PostLike
	insert := event.Type == model.ChangeEventInsert
	if event.Type == model.ChangeEventUpdate {
		// Like edges are only ever inserted or deleted.
		return
	}
	var err error
	if insert {
		err = event.DecodeNew(&edge)
	} else {
		err = event.DecodeOld(&edge)
	}
	if err != nil || edge.PostID == "" {
		Log.Warn("malformed like edge event: ", err)
		return
	}

	delta := -1
	if insert {
		delta = +1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlay.sweep()

	if edge.UserID == e.viewerID {
		// The viewer's own toggle is the source of truth for their own flag:
		// set it from the event, never infer it from the counter.
		if post := e.store.get(edge.PostID); post != nil {
			post.IsLiked = insert
		}
		if buffered := e.bufferedPost(edge.PostID); buffered != nil {
			buffered.IsLiked = insert
		}
		if e.overlay.consume(edgeLike, edge.PostID, insert) {
			// Counter already moved by the optimistic update.
			return
		}
	}

	e.store.applyCounterDelta(edge.PostID, "likes_count", delta)
	if buffered := e.bufferedPost(edge.PostID); buffered != nil {
		buffered.LikesCount = utils.Max(0, buffered.LikesCount+delta)
	}
}

func (e *Engine) handleBookmarkEvent(event model.ChangeEvent) {
	var edge model.PostBookmark
	insert := event.Type == model.ChangeEventInsert
	if event.Type == model.ChangeEventUpdate {
		return
	}
	var err error
	if insert {
		err = event.DecodeNew(&edge)
	} else {
		err = event.DecodeOld(&edge)
	}
	if err != nil || edge.PostID == "" {
		Log.Warn("malformed bookmark edge event: ", err)
		return
	}

	// Bookmarks are private: other users' bookmarks move nothing here.
	if edge.UserID != e.viewerID {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overlay.sweep()

	if post := e.store.get(edge.PostID); post != nil {
		post.IsBookmarked = insert
	}
	if buffered := e.bufferedPost(edge.PostID); buffered != nil {
		buffered.IsBookmarked = insert
	}
	e.overlay.consume(edgeBookmark, edge.PostID, insert)
}

func (e *Engine) handleCommentEvent(event model.ChangeEvent) {
	var comment model.Comment
	var err error
	switch event.Type {
	case model.ChangeEventInsert:
		err = event.DecodeNew(&comment)
	case model.ChangeEventDelete:
		err = event.DecodeOld(&comment)
	default:
		// Comment body edits do not move the counter.
		return
	}
	if err != nil || comment.PostID == "" {
		Log.Warn("malformed comment event: ", err)
		return
	}

	delta := -1
	if event.Type == model.ChangeEventInsert {
		delta = +1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.applyCounterDelta(comment.PostID, "comments_count", delta)
	if buffered := e.bufferedPost(comment.PostID); buffered != nil {
		buffered.CommentsCount = utils.Max(0, buffered.CommentsCount+delta)
	}
}

func (e *Engine) handleFollowEvent(event model.ChangeEvent) {
	var edge model.UserFollow
	var err error
	switch event.Type {
	case model.ChangeEventInsert:
		err = event.DecodeNew(&edge)
	case model.ChangeEventDelete:
		err = event.DecodeOld(&edge)
	default:
		return
	}
	if err != nil {
		Log.Warn("malformed follow edge event: ", err)
		return
	}

	// Only the viewer's own follow graph affects who may be suggested.
	if edge.FollowerID == e.viewerID {
		e.notifyFollowChange()
	}
}

func (e *Engine) handleNotificationEvent(event model.ChangeEvent) {
	if event.Type != model.ChangeEventInsert {
		return
	}
	e.emitSignal(model.Signal{SignalType: model.SignalTypeNotification})
}
