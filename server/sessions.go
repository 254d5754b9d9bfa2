package server

import (
	"context"
	"sync"

	"github.com/studyloop/feedengine/cache"
	"github.com/studyloop/feedengine/engine"
	"github.com/studyloop/feedengine/gateway"
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/suggest"
	"github.com/studyloop/feedengine/utils"
)

// Deps are the shared backend handles every per-viewer engine is built from.
type Deps struct {
	Gateway     gateway.Gateway
	Suggestions gateway.SuggestionSource

	Snapshots   engine.SnapshotCache
	Offline     *cache.OfflineStore
	ViewedStore *utils.RedisViewedStore

	ChangeFeedURL string
	PageSize      int

	Signals *SignalChannels
}

// Session is the per-viewer unit of state: one feed engine plus one suggester,
// created on the viewer's first request and torn down on logout.
type Session struct {
	Engine    *engine.Engine
	Suggester *suggest.Suggester
}

// Registry maps viewer ids to their live sessions. An engine carries realtime
// subscriptions and in-memory feed state, so it must be created once per
// viewer and disposed when the viewer goes away, never rebuilt per request.
// Thread-safe.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Session returns the viewer's live session, creating and starting it on
// first use. pageSize only applies at creation; an existing session keeps its
// original page size.
func (r *Registry) Session(viewerId string, pageSize int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[viewerId]; ok {
		return session
	}

	if pageSize <= 0 {
		pageSize = r.deps.PageSize
	}

	suggester := suggest.New(viewerId, r.deps.Suggestions, nil)
	eng := engine.New(engine.Config{
		ViewerID:      viewerId,
		PageSize:      pageSize,
		Gateway:       r.deps.Gateway,
		Snapshots:     r.deps.Snapshots,
		Offline:       r.deps.Offline,
		ViewedStore:   r.deps.ViewedStore,
		ChangeFeedURL: r.deps.ChangeFeedURL,
		OnSignal: func(signal model.Signal) {
			if r.deps.Signals != nil {
				// Best effort: a viewer with no open signal channel just
				// misses the hint.
				r.deps.Signals.PushSignalToUser(&signal, viewerId)
			}
		},
		OnFollowChange: suggester.Invalidate,
	})
	// The subscription lifetime is the session's, not the request's.
	eng.Start(context.Background())

	session := &Session{Engine: eng, Suggester: suggester}
	r.sessions[viewerId] = session
	return session
}

// Drop disposes and forgets the viewer's session. No-op for unknown viewers.
func (r *Registry) Drop(viewerId string) {
	r.mu.Lock()
	session, ok := r.sessions[viewerId]
	delete(r.sessions, viewerId)
	r.mu.Unlock()

	if ok {
		session.Engine.Dispose()
	}
}

// DisposeAll tears down every live session, used on server shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Engine.Dispose()
	}
}
