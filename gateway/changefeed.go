package gateway

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
	. "github.com/studyloop/feedengine/utils/log"
)

// Subscription lifecycle states.
type SubscriptionState string

const (
	StateDisconnected SubscriptionState = "disconnected"
	StateConnecting   SubscriptionState = "connecting"
	StateSubscribed   SubscriptionState = "subscribed"
)

const (
	backoffBase          = 1 * time.Second
	backoffCap           = 10 * time.Second
	maxReconnectAttempts = 3
)

// backoffDelay returns the wait before reconnect attempt n (0-based):
// exponential from backoffBase, doubling, capped at backoffCap.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// Subscription is one logical change-feed channel: row-level events for a
// single table, optionally filtered server side. Events are delivered in
// commit order and forwarded without reordering.
type Subscription struct {
	baseURL string
	table   string
	filter  string

	events chan model.ChangeEvent

	mu    sync.Mutex
	state SubscriptionState
}

// NewSubscription prepares a channel subscription against the change-feed
// endpoint. filter is a server-side predicate such as "user_id=eq.u1" and may
// be empty.
func NewSubscription(baseURL string, table string, filter string) *Subscription {
	return &Subscription{
		baseURL: baseURL,
		table:   table,
		filter:  filter,
		events:  make(chan model.ChangeEvent, 64),
		state:   StateDisconnected,
	}
}

// Events is the delivery channel. It is closed when Run returns, whether by
// context cancellation or by exhausting reconnect attempts.
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.events
}

// Table returns the subscribed table name.
func (s *Subscription) Table() string {
	return s.table
}

// State is safe to read from any goroutine.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Subscription) buildURL() string {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		// Dial the raw string instead; the connect attempt then fails with a
		// real error through the normal reconnect path.
		Log.Warn("malformed change feed url: ", err)
		return s.baseURL
	}
	q := u.Query()
	q.Set("table", s.table)
	if s.filter != "" {
		q.Set("filter", s.filter)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Run connects and forwards events until the context is cancelled or the
// bounded reconnect budget is spent. Exhausting the budget is not fatal for
// the engine: the feed keeps working from its last known state, only without
// realtime updates, until a user-driven refresh resubscribes.
func (s *Subscription) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.setState(StateDisconnected)

	attempt := 0
	for {
		s.setState(StateConnecting)
		connected, err := s.consume(ctx)
		s.setState(StateDisconnected)
		if connected {
			// A healthy connection refills the reconnect budget; the bound
			// applies to consecutive failures, not the channel's lifetime.
			attempt = 0
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= maxReconnectAttempts {
			Log.Error("change feed for table ", s.table, " gave up after ", attempt, " reconnect attempts: ", err)
			return errors.Wrapf(err, "change feed %s exhausted reconnect attempts", s.table)
		}

		delay := backoffDelay(attempt)
		attempt++
		Log.Warn("change feed for table ", s.table, " disconnected, reconnecting in ", delay, ": ", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume holds one live websocket connection and forwards its events. The
// returned bool reports whether a connection was established at all.
func (s *Subscription) consume(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.buildURL(), nil)
	if err != nil {
		return false, errors.Wrapf(err, "fail to dial change feed for table %s", s.table)
	}
	defer conn.Close()

	s.setState(StateSubscribed)
	Log.Info("change feed subscribed, table=", s.table, " filter=", s.filter)

	// Unblock ReadJSON when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event model.ChangeEvent
		if err := conn.ReadJSON(&event); err != nil {
			return true, errors.Wrap(err, "change feed read failed")
		}
		if !event.Type.IsValid() {
			Log.Warn("dropping change event with unknown type: ", string(event.Type))
			continue
		}
		if event.Table == "" {
			event.Table = s.table
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
