package connect

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Method, "POST")
		assert.Equal(t, r.URL.Path, "/auth/login")
		assert.Equal(t, r.Header.Get("Content-Type"), "application/json")

		bodyBytes, err := io.ReadAll(r.Body)
		assert.Equal(t, err, nil)
		var args LoginArgs
		assert.Equal(t, json.Unmarshal(bodyBytes, &args), nil)
		assert.Equal(t, args.Email, "alice@example.com")

		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "jwt-a",
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.LoginSync(&LoginArgs{
		Email:    "alice@example.com",
		Password: "hunter2",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.ByJwt(), "jwt-a")
}

func TestLoginGatewayTokenShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"token":   "jwt-b",
			"user_id": "alice",
			"name":    "Alice",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.LoginSync(&LoginArgs{})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.ByJwt(), "jwt-b")
	assert.Equal(t, result.UserId, "alice")
}

func TestAuthorizationHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.Header.Get("Authorization"), "Bearer test-jwt")
		json.NewEncoder(w).Encode(&User{
			UserId: "alice",
			Name:   "Alice",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()
	api.SetByJwt("test-jwt")

	user, err := api.GetUserSync("Alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, user.UserId, "alice")
}

func TestGetUserNormalizesPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/users/alice")
		json.NewEncoder(w).Encode(&User{
			UserId: "alice",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	_, err := api.GetUserSync(" ALICE ")
	assert.Equal(t, err, nil)
}

func TestErrorDetailClassification(t *testing.T) {
	// the gateway reports errors as `{"detail": "..."}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := 500
		switch r.URL.Path {
		case "/users/missing":
			status = 404
		case "/users/forbidden":
			status = 401
		case "/users/invalid":
			status = 422
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"detail": "detail text",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	_, err := api.GetUserSync("missing")
	_, ok := err.(*NotFoundError)
	assert.Equal(t, ok, true)
	assert.Equal(t, err.Error(), "detail text")

	_, err = api.GetUserSync("forbidden")
	_, ok = err.(*AuthError)
	assert.Equal(t, ok, true)

	_, err = api.GetUserSync("invalid")
	_, ok = err.(*ValidationError)
	assert.Equal(t, ok, true)

	_, err = api.GetUserSync("broken")
	_, ok = err.(*TransportError)
	assert.Equal(t, ok, true)
}

func TestConnectionRefusedIsTransportError(t *testing.T) {
	// closed port
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	_, err := api.GetUserSync("alice")
	_, ok := err.(*TransportError)
	assert.Equal(t, ok, true)
}

func TestGetUsersBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"user_id": "alice"}, {"user_id": "bob"}]`)
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.GetUsersSync()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Users), 2)
	assert.Equal(t, result.Users[0].UserId, "alice")
}

func TestGetFollowingShapes(t *testing.T) {
	// bare edge array
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/friends/following/alice")
		io.WriteString(w, `[{"user_id": "alice", "friend_id": "Bob"}, {"user_id": "alice", "followed_id": "carol"}]`)
	}))

	api := NewVoxApi(server.URL)
	result, err := api.GetFollowingSync("Alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Edges), 2)
	assert.Equal(t, result.Edges[0].Followed(), "bob")
	assert.Equal(t, result.Edges[1].Followed(), "carol")
	api.Close()
	server.Close()

	// wrapped object
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"user_id": "alice", "count": 1, "following": [{"following_id": "dave"}]}`)
	}))
	defer server.Close()

	api = NewVoxApi(server.URL)
	defer api.Close()
	result, err = api.GetFollowingSync("alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Edges), 1)
	assert.Equal(t, result.Edges[0].Followed(), "dave")
}

func TestToggleLike(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/posts/p1/likes")

		bodyBytes, _ := io.ReadAll(r.Body)
		var args LikePostArgs
		assert.Equal(t, json.Unmarshal(bodyBytes, &args), nil)
		assert.Equal(t, args.UserId, "alice")

		json.NewEncoder(w).Encode(map[string]string{
			"message": "Like added",
			"action":  "added",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.TogglePostLikeSync("p1", &LikePostArgs{
		UserId: "Alice",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Action, ToggleActionAdded)
}

func TestToggleBookmark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/bookmarks")
		json.NewEncoder(w).Encode(map[string]string{
			"action": "removed",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.ToggleBookmarkSync(&BookmarkArgs{
		UserId: "alice",
		PostId: "p1",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Action, ToggleActionRemoved)
}

func TestSendChatMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/chat/messages")

		bodyBytes, _ := io.ReadAll(r.Body)
		var args SendChatMessageArgs
		assert.Equal(t, json.Unmarshal(bodyBytes, &args), nil)
		assert.Equal(t, args.SenderId, "alice")
		assert.Equal(t, args.ReceiverId, "bob")
		assert.Equal(t, args.CorrelationId, "c1")

		json.NewEncoder(w).Encode(map[string]string{
			"message":    "Mensaje enviado",
			"message_id": "m1",
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.SendChatMessageSync(&SendChatMessageArgs{
		SenderId:      "Alice",
		ReceiverId:    "BOB",
		Content:       "hi",
		CorrelationId: "c1",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.MessageId, "m1")
}

func TestGetChatMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/chat/messages/alice/bob")
		io.WriteString(w, `[
			{"_id": "m1", "sender_id": "alice", "receiver_id": "bob", "content": "hi", "created_at": "2025-01-02T03:04:05.123456"},
			{"_id": "m2", "sender_id": "bob", "receiver_id": "alice", "content": "yo", "created_at": "2025-01-02T03:05:05.123456"}
		]`)
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.GetChatMessagesSync("Alice", "Bob")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Messages), 2)
	assert.Equal(t, result.Messages[0].MessageId, "m1")
	assert.Equal(t, result.Messages[1].SenderId, "bob")
}

func TestGetNotifications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/notifications/alice")
		io.WriteString(w, `[{"_id": "n1", "user_id": "alice", "message": "bob followed you", "type": "follow"}]`)
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	result, err := api.GetNotificationsSync("alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Notifications), 1)
	assert.Equal(t, result.Notifications[0].Type, "follow")
}

func TestCheckBookmarkQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/bookmarks/check")
		assert.Equal(t, r.URL.Query().Get("user_id"), "alice")
		assert.Equal(t, r.URL.Query().Get("post_id"), "p1")
		json.NewEncoder(w).Encode(map[string]bool{
			"is_bookmarked": true,
		})
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	callback, resultChannel := NewBlockingApiCallback[*CheckBookmarkResult]()
	api.CheckBookmark("Alice", "p1", callback)
	r := <-resultChannel
	assert.Equal(t, r.Error, nil)
	assert.Equal(t, r.Result.IsBookmarked, true)
}

func TestGetPostLikes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/likes/post/p1")
		io.WriteString(w, `{"post_id": "p1", "likes_count": 2, "likes": [{"post_id": "p1", "user_id": "Alice"}, {"post_id": "p1", "user_id": "bob"}]}`)
	}))
	defer server.Close()

	api := NewVoxApi(server.URL)
	defer api.Close()

	callback, resultChannel := NewBlockingApiCallback[*GetPostLikesResult]()
	api.GetPostLikes("p1", callback)
	r := <-resultChannel
	assert.Equal(t, r.Error, nil)
	assert.Equal(t, r.Result.LikedBy("alice"), true)
	assert.Equal(t, r.Result.LikedBy("carol"), false)
}
