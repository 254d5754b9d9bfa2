// Package server hosts the feed engine behind a REST + websocket surface. All
// routes resolve the viewer from the "sub" header set by the JWT middleware
// and operate on that viewer's session.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/engine"
	"github.com/studyloop/feedengine/model"
	. "github.com/studyloop/feedengine/utils/log"
)

type API struct {
	registry *Registry
	signals  *SignalChannels
}

func NewAPI(registry *Registry, signals *SignalChannels) *API {
	return &API{registry: registry, signals: signals}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/ping", a.Ping)

	api := router.Group("/api")
	api.GET("/feed/:mode", a.GetFeed)
	api.POST("/feed/reset", a.ResetFeed)
	api.POST("/feed/show-new", a.ShowNewPosts)

	api.POST("/posts/:id/like", a.postAction((*engine.Engine).LikePost))
	api.POST("/posts/:id/unlike", a.postAction((*engine.Engine).UnlikePost))
	api.POST("/posts/:id/bookmark", a.postAction((*engine.Engine).BookmarkPost))
	api.POST("/posts/:id/unbookmark", a.postAction((*engine.Engine).UnbookmarkPost))

	api.POST("/users/:id/follow", a.userAction((*engine.Engine).FollowUser))
	api.POST("/users/:id/unfollow", a.userAction((*engine.Engine).UnfollowUser))

	api.GET("/suggestions", a.GetSuggestions)
	api.GET("/signal", a.Signal)
	api.POST("/logout", a.Logout)
}

// viewerId reads the id the JWT middleware resolved into the request.
func viewerId(c *gin.Context) string {
	return c.Request.Header.Get("sub")
}

func (a *API) session(c *gin.Context) *Session {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return a.registry.Session(viewerId(c), limit)
}

func (a *API) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (a *API) GetFeed(c *gin.Context) {
	mode := model.FeedMode(c.Param("mode"))
	session := a.session(c)

	page, err := session.Engine.FetchPage(c.Request.Context(), mode)
	switch errors.Cause(err) {
	case nil:
	case engine.ErrInvalidFeedMode:
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	case engine.ErrFetchInFlight:
		c.JSON(http.StatusConflict, gin.H{"msg": err.Error()})
		return
	default:
		Log.Error("feed fetch failed: ", err)
		c.JSON(http.StatusBadGateway, gin.H{"msg": "feed temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":     page.Posts,
		"hasMore":   page.HasMore,
		"fromCache": page.FromCache,
	})
}

type resetFeedRequest struct {
	SortBy           model.SortMode `json:"sortBy"`
	FilterExpression string         `json:"filterExpression"`
}

func (a *API) ResetFeed(c *gin.Context) {
	var req resetFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}

	session := a.session(c)
	session.Engine.Reset(req.SortBy, req.FilterExpression)
	c.Status(http.StatusNoContent)
}

func (a *API) ShowNewPosts(c *gin.Context) {
	session := a.session(c)
	c.JSON(http.StatusOK, gin.H{"posts": session.Engine.ShowNewPosts()})
}

func (a *API) postAction(action func(*engine.Engine, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := a.session(c)
		if err := action(session.Engine, c.Request.Context(), c.Param("id")); err != nil {
			Log.Error("post action failed: ", err)
			c.JSON(http.StatusBadGateway, gin.H{"msg": "action temporarily unavailable"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (a *API) userAction(action func(*engine.Engine, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := a.session(c)
		if err := action(session.Engine, c.Request.Context(), c.Param("id")); err != nil {
			Log.Error("user action failed: ", err)
			c.JSON(http.StatusBadGateway, gin.H{"msg": "action temporarily unavailable"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (a *API) GetSuggestions(c *gin.Context) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	session := a.registry.Session(viewerId(c), 0)
	page, err := session.Suggester.GetPage(c.Request.Context(), offset, limit)
	if err != nil {
		Log.Error("suggestion fetch failed: ", err)
		c.JSON(http.StatusBadGateway, gin.H{"msg": "suggestions temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, page)
}

var upgrader = websocket.Upgrader{
	// CORS policy is enforced at the router level.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Signal upgrades to a websocket and streams the viewer's signals until either
// side disconnects.
func (a *API) Signal(c *gin.Context) {
	user := viewerId(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		Log.Error("signal channel upgrade failed: ", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ch, _ := a.signals.AddNewConnection(ctx, user)

	// Reader goroutine only exists to observe the peer closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-ch:
			if err := conn.WriteJSON(signal); err != nil {
				return
			}
		}
	}
}

// Logout disposes the viewer's session: feed state is discarded and realtime
// subscriptions closed.
func (a *API) Logout(c *gin.Context) {
	a.registry.Drop(viewerId(c))
	c.Status(http.StatusNoContent)
}
