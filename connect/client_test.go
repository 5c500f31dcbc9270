package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestNewClientRejectsBadCredential(t *testing.T) {
	_, err := NewClientWithDefaults(context.Background(), "not.a.jwt")
	assert.NotEqual(t, err, nil)

	// a parseable credential with no user id claim
	byJwt := signTestJwt(t, gojwt.MapClaims{
		"sub": "alice@example.com",
	})
	_, err = NewClient(context.Background(), byJwt, DefaultClientSettings())
	_, ok := err.(*AuthError)
	assert.Equal(t, ok, true)
}

// one server for the gateway and both streams. messages sent over the
// chat stream echo back with a server id, the way the store does.
type voxTestServer struct {
	upgrader websocket.Upgrader

	// when set, backfill responses wait for the channel to close and
	// then return `backfillMessages`
	backfillHold     chan struct{}
	backfillMessages []map[string]string

	stateLock     sync.Mutex
	followed      map[string]bool
	nextMessageId int
}

func newVoxTestServer() *voxTestServer {
	return &voxTestServer{
		followed: map[string]bool{},
	}
}

func (self *voxTestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/ws/chat/"):
		self.serveChat(w, r)
	case strings.HasPrefix(path, "/ws/notifications/"):
		self.serveNotifications(w, r)
	case path == "/chat/messages":
		json.NewEncoder(w).Encode(map[string]string{
			"message":    "Mensaje enviado",
			"message_id": "m999",
		})
	case strings.HasPrefix(path, "/chat/messages/"):
		if self.backfillHold != nil {
			<-self.backfillHold
			json.NewEncoder(w).Encode(self.backfillMessages)
			return
		}
		io.WriteString(w, `[]`)
	case strings.HasPrefix(path, "/friends/following/"):
		self.stateLock.Lock()
		edges := []map[string]string{}
		for userId := range self.followed {
			edges = append(edges, map[string]string{
				"user_id":   "alice",
				"friend_id": userId,
			})
		}
		self.stateLock.Unlock()
		json.NewEncoder(w).Encode(edges)
	case strings.HasPrefix(path, "/friends/follow/"):
		self.stateLock.Lock()
		self.followed[strings.TrimPrefix(path, "/friends/follow/")] = true
		self.stateLock.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Now following",
		})
	case strings.HasPrefix(path, "/friends/unfollow/"):
		self.stateLock.Lock()
		delete(self.followed, strings.TrimPrefix(path, "/friends/unfollow/"))
		self.stateLock.Unlock()
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Unfollowed",
		})
	case strings.HasPrefix(path, "/bookmarks/user/"), strings.HasPrefix(path, "/notifications/"):
		io.WriteString(w, `[]`)
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"detail": "not found",
		})
	}
}

func (self *voxTestServer) serveChat(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	_, authFrame, err := ws.ReadMessage()
	if err != nil || !strings.HasPrefix(string(authFrame), "Bearer ") {
		return
	}
	chatAck(ws, "alice")

	for {
		_, frameBytes, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]string
		if err := json.Unmarshal(frameBytes, &frame); err != nil {
			continue
		}

		self.stateLock.Lock()
		self.nextMessageId += 1
		messageId := fmt.Sprintf("m%d", self.nextMessageId)
		self.stateLock.Unlock()

		echo := map[string]string{
			"_id":         messageId,
			"sender_id":   frame["sender_id"],
			"receiver_id": frame["receiver_id"],
			"content":     frame["content"],
			"created_at":  time.Now().UTC().Format("2006-01-02T15:04:05.999999"),
		}
		if correlationId := frame["correlation_id"]; correlationId != "" {
			echo["correlation_id"] = correlationId
		}
		echoBytes, _ := json.Marshal(echo)
		if err := ws.WriteMessage(websocket.TextMessage, echoBytes); err != nil {
			return
		}
	}
}

func (self *voxTestServer) serveNotifications(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	ws.WriteMessage(websocket.TextMessage, []byte(`{"_id": "n1", "user_id": "alice", "message": "bob followed you", "type": "follow"}`))

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClientLive(t *testing.T) {
	server := httptest.NewServer(newVoxTestServer())
	defer server.Close()

	byJwt := signTestJwt(t, gojwt.MapClaims{
		"sub":     "alice@example.com",
		"user_id": "alice",
		"name":    "Alice",
		"exp":     float64(time.Now().Add(1 * time.Hour).Unix()),
	})

	settings := DefaultClientSettings()
	settings.ApiUrl = server.URL
	settings.PlatformUrl = "ws" + strings.TrimPrefix(server.URL, "http")
	settings.TransportSettings = testTransportSettings()

	client, err := NewClient(context.Background(), byJwt, settings)
	assert.Equal(t, err, nil)
	defer client.Close()

	assert.Equal(t, client.UserId(), "alice")

	// a pushed notification lands in the local list
	waitFor(t, 5*time.Second, func() bool {
		return len(client.Notifications()) == 1
	})
	assert.Equal(t, client.Notifications()[0].Message, "bob followed you")

	// wait for the live stream so the submit rides it
	waitFor(t, 5*time.Second, func() bool {
		return client.chatTransport.IsOpen()
	})

	// optimistic submit, then the stream echo confirms it
	correlationId, err := client.SendMessage("bob", "hi")
	assert.Equal(t, err, nil)
	assert.Equal(t, correlationId.IsZero(), false)

	stream := client.Conversation("bob")
	waitFor(t, 5*time.Second, func() bool {
		entries := stream.Reconcile()
		return len(entries) == 1 && entries[0].State == DeliveryStateConfirmed
	})
	entries := stream.Reconcile()
	assert.Equal(t, entries[0].MessageId, "m1")
	assert.Equal(t, entries[0].CorrelationId, correlationId.String())

	// optimistic follow settles against the gateway
	state, err := client.ToggleFollow("Bob")
	assert.Equal(t, err, nil)
	assert.Equal(t, state, true)
	assert.Equal(t, client.IsFollowing("bob"), true)
	waitFor(t, 5*time.Second, func() bool {
		// still true after the settle resync
		return client.IsFollowing("bob")
	})

	state, err = client.ToggleFollow("bob")
	assert.Equal(t, err, nil)
	assert.Equal(t, state, false)

	_, err = client.ToggleFollow("alice")
	assert.NotEqual(t, err, nil)
}

// every user callback fires from the dispatch goroutine, so two
// callbacks never run at the same time even when a slow backfill
// completes while live echoes are flowing
func TestCallbackDispatchSerialized(t *testing.T) {
	voxServer := newVoxTestServer()
	voxServer.backfillHold = make(chan struct{})
	voxServer.backfillMessages = []map[string]string{
		{
			"_id":         "b1",
			"sender_id":   "bob",
			"receiver_id": "alice",
			"content":     "earlier",
			"created_at":  "2025-01-01T00:00:00",
		},
	}
	server := httptest.NewServer(voxServer)
	defer server.Close()

	byJwt := signTestJwt(t, gojwt.MapClaims{
		"user_id": "alice",
		"exp":     float64(time.Now().Add(1 * time.Hour).Unix()),
	})

	settings := DefaultClientSettings()
	settings.ApiUrl = server.URL
	settings.PlatformUrl = "ws" + strings.TrimPrefix(server.URL, "http")
	settings.TransportSettings = testTransportSettings()

	client, err := NewClient(context.Background(), byJwt, settings)
	assert.Equal(t, err, nil)
	defer client.Close()

	var inFlight int32
	var overlap int32
	var calls int32
	client.AddMessageChangeCallback(func(key ConversationKey) {
		if n := atomic.AddInt32(&inFlight, 1); 1 < n {
			atomic.AddInt32(&overlap, 1)
		}
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	})

	waitFor(t, 5*time.Second, func() bool {
		return client.chatTransport.IsOpen()
	})

	// the first submit creates the conversation, which starts a backfill
	// that the server holds open
	stream := client.Conversation("bob")
	for i := 0; i < 5; i += 1 {
		_, err := client.SendMessage("bob", fmt.Sprintf("hi %d", i))
		assert.Equal(t, err, nil)
	}
	waitFor(t, 5*time.Second, func() bool {
		confirmed := 0
		for _, entry := range stream.Reconcile() {
			if entry.State == DeliveryStateConfirmed {
				confirmed += 1
			}
		}
		return confirmed == 5
	})

	// release the backfill while echo traffic is still fresh
	close(voxServer.backfillHold)
	waitFor(t, 5*time.Second, func() bool {
		return len(stream.Reconcile()) == 6
	})

	assert.Equal(t, 5 <= atomic.LoadInt32(&calls), true)
	assert.Equal(t, atomic.LoadInt32(&overlap), int32(0))
}

func newStateOnlyClient() *Client {
	return &Client{
		identity: &ByJwt{
			UserId: "alice",
		},
		streams:               map[ConversationKey]*MessageStream{},
		notificationIds:       map[string]bool{},
		stateChangeCallbacks:  NewCallbackList[StateChangeFunction](),
		messageCallbacks:      NewCallbackList[MessageChangeFunction](),
		notificationCallbacks: NewCallbackList[NotificationFunction](),
	}
}

func TestNotificationDedup(t *testing.T) {
	client := newStateOnlyClient()

	received := 0
	client.AddNotificationCallback(func(notification *Notification) {
		received += 1
	})

	first := &Notification{
		NotificationId: "n1",
		UserId:         "alice",
		Message:        "bob followed you",
	}
	client.ingestNotification(first)
	client.ingestNotification(first)
	client.ingestNotification(&Notification{
		NotificationId: "n2",
		UserId:         "alice",
		Message:        "bob liked your post",
	})

	assert.Equal(t, len(client.Notifications()), 2)
	assert.Equal(t, received, 2)

	// no server id: identity is the content and timestamp
	unidentified := &Notification{
		UserId:    "alice",
		Message:   "carol followed you",
		CreatedAt: Timestamp{Time: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	client.ingestNotification(unidentified)
	client.ingestNotification(unidentified)
	assert.Equal(t, len(client.Notifications()), 3)
}

func TestNotificationsNewestFirst(t *testing.T) {
	client := newStateOnlyClient()

	client.ingestNotification(&Notification{
		NotificationId: "old",
		Message:        "old",
		CreatedAt:      Timestamp{Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	client.ingestNotification(&Notification{
		NotificationId: "new",
		Message:        "new",
		CreatedAt:      Timestamp{Time: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
	})
	client.ingestNotification(&Notification{
		NotificationId: "mid",
		Message:        "mid",
		CreatedAt:      Timestamp{Time: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	})

	notifications := client.Notifications()
	assert.Equal(t, notifications[0].NotificationId, "new")
	assert.Equal(t, notifications[1].NotificationId, "mid")
	assert.Equal(t, notifications[2].NotificationId, "old")
}
