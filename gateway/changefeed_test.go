package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/studyloop/feedengine/model"
)

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, 1*time.Second, backoffDelay(0))
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, 8*time.Second, backoffDelay(3))
	// capped
	require.Equal(t, 10*time.Second, backoffDelay(4))
	require.Equal(t, 10*time.Second, backoffDelay(30))
}

// changeFeedTestServer upgrades one websocket connection and plays the given
// raw frames in order.
func changeFeedTestServer(t *testing.T, frames []string, sawURL *string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawURL != nil {
			*sawURL = r.URL.String()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBuildURLSurvivesMalformedBase(t *testing.T) {
	// A base that parses gets the channel parameters appended.
	sub := NewSubscription("ws://example.com/changes", model.TablePosts, "")
	require.Contains(t, sub.buildURL(), "table=posts")

	// A base that does not parse is handed to the dialer as is, so the
	// connect attempt fails with a dial error instead of a panic here.
	bad := "ws://example.com/changes%zz"
	sub = NewSubscription(bad, model.TablePosts, "")
	require.Equal(t, bad, sub.buildURL())
}

func TestSubscriptionDeliversEventsInOrder(t *testing.T) {
	frames := []string{
		`{"table":"posts","eventType":"insert","new":{"id":"p1"}}`,
		`{"eventType":"update","new":{"id":"p1"}}`,
		`{"table":"posts","eventType":"bogus"}`,
		`{"table":"posts","eventType":"delete","old":{"id":"p1"}}`,
	}
	var sawURL string
	server := changeFeedTestServer(t, frames, &sawURL)
	defer server.Close()

	sub := NewSubscription(wsURL(server), model.TablePosts, "privacy=eq.public")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	var got []model.ChangeEvent
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for change events")
		}
	}

	require.Equal(t, model.ChangeEventInsert, got[0].Type)
	require.Equal(t, model.ChangeEventUpdate, got[1].Type)
	// table name backfilled from the subscription when the frame omits it
	require.Equal(t, model.TablePosts, got[1].Table)
	// the bogus frame was dropped, delete arrives third
	require.Equal(t, model.ChangeEventDelete, got[2].Type)

	var oldRow struct {
		Id string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(got[2].Old, &oldRow))
	require.Equal(t, "p1", oldRow.Id)

	require.Equal(t, StateSubscribed, sub.State())
	require.Contains(t, sawURL, "table=posts")
	require.Contains(t, sawURL, "filter=privacy%3Deq.public")
}

func TestSubscriptionStopsOnContextCancel(t *testing.T) {
	server := changeFeedTestServer(t, nil, nil)
	defer server.Close()

	sub := NewSubscription(wsURL(server), model.TablePosts, "")
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- sub.Run(ctx) }()

	// Wait for the connection to come up before cancelling.
	require.Eventually(t, func() bool {
		return sub.State() == StateSubscribed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-runDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// events channel is closed after Run returns
	_, open := <-sub.Events()
	for open {
		_, open = <-sub.Events()
	}
	require.Equal(t, StateDisconnected, sub.State())
}
