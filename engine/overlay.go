package engine

import "time"

// edge kinds the overlay tracks.
const (
	edgeLike     = "like"
	edgeBookmark = "bookmark"
)

type overlayKey struct {
	kind   string
	postId string
	insert bool
}

/*
actionOverlay records the viewer's own pending optimistic updates. When the
viewer likes a post the engine applies the counter move and flag immediately,
then records an overlay entry; the matching realtime edge event that echoes
back consumes the entry instead of incrementing a second time. Entries expire
so an event the backend never emits cannot suppress a genuine future delta.

Not safe for concurrent use; the owning Engine serializes access.
*/
type actionOverlay struct {
	pending map[overlayKey]time.Time
	ttl     time.Duration
	now     func() time.Time
}

const defaultOverlayTTL = 30 * time.Second

func newOverlay(now func() time.Time) *actionOverlay {
	return &actionOverlay{
		pending: map[overlayKey]time.Time{},
		ttl:     defaultOverlayTTL,
		now:     now,
	}
}

// add records a pending action. Adding the same key twice keeps the newer
// deadline.
func (o *actionOverlay) add(kind string, postId string, insert bool) {
	o.pending[overlayKey{kind: kind, postId: postId, insert: insert}] = o.now().Add(o.ttl)
}

// drop removes a pending action without consuming it, used when the gateway
// write fails and the optimistic update is rolled back.
func (o *actionOverlay) drop(kind string, postId string, insert bool) {
	delete(o.pending, overlayKey{kind: kind, postId: postId, insert: insert})
}

// consume reports whether a matching un-expired entry was pending and removes
// it. A consumed entry means the realtime delta was already applied locally.
func (o *actionOverlay) consume(kind string, postId string, insert bool) bool {
	key := overlayKey{kind: kind, postId: postId, insert: insert}
	deadline, ok := o.pending[key]
	if !ok {
		return false
	}
	delete(o.pending, key)
	return o.now().Before(deadline)
}

// sweep drops expired entries. Called opportunistically from event handling.
func (o *actionOverlay) sweep() {
	now := o.now()
	for key, deadline := range o.pending {
		if now.After(deadline) {
			delete(o.pending, key)
		}
	}
}
