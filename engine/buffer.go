package engine

import "github.com/studyloop/feedengine/model"

/*
newPostBuffer holds realtime-inserted posts that are not yet part of the
visible home feed. Visible feeds only change composition on an explicit
"show new posts" action so content never jumps under a reading user's eyes;
the buffer's count drives the "N new posts" affordance.

Not safe for concurrent use; the owning Engine serializes access.
*/
type newPostBuffer struct {
	posts   []*model.Post
	present map[string]bool
}

func newBuffer() *newPostBuffer {
	return &newPostBuffer{
		posts:   []*model.Post{},
		present: map[string]bool{},
	}
}

// prepend adds a post to the head of the buffer. Returns false without
// mutating anything when the post is already buffered, so redelivered insert
// events are no-ops.
func (b *newPostBuffer) prepend(post *model.Post) bool {
	if b.present[post.Id] {
		return false
	}
	b.present[post.Id] = true
	b.posts = append([]*model.Post{post}, b.posts...)
	return true
}

func (b *newPostBuffer) remove(postId string) {
	if !b.present[postId] {
		return
	}
	delete(b.present, postId)
	for i, post := range b.posts {
		if post.Id == postId {
			b.posts = append(b.posts[:i], b.posts[i+1:]...)
			break
		}
	}
}

func (b *newPostBuffer) replace(post *model.Post) {
	if !b.present[post.Id] {
		return
	}
	for i, old := range b.posts {
		if old.Id == post.Id {
			b.posts[i] = post
			break
		}
	}
}

func (b *newPostBuffer) contains(postId string) bool {
	return b.present[postId]
}

func (b *newPostBuffer) len() int {
	return len(b.posts)
}

// drain empties the buffer and returns its contents in buffer order (newest
// first).
func (b *newPostBuffer) drain() []*model.Post {
	posts := b.posts
	b.posts = []*model.Post{}
	b.present = map[string]bool{}
	return posts
}
