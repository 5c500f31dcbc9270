package connect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// client context. owns the identity, the request gateway, the chat and
// notification streams, per-conversation message state, and the follow,
// like, and bookmark synchronizers. one `Client` per signed-in user.
//
// the constructor starts the stream transports and the dispatch loop.
// `Close` tears everything down.

type StateChangeFunction func(kind StreamKind, state ConnectionState, err error)

// invoked after a conversation's entries change (ingest, backfill, fail)
type MessageChangeFunction func(key ConversationKey)

type NotificationFunction func(notification *Notification)

type ClientSettings struct {
	// request gateway base, e.g. `http://localhost:8000`
	ApiUrl string
	// stream base, e.g. `ws://localhost:8000`
	PlatformUrl string

	TransportSettings *StreamTransportSettings
	StreamSettings    *MessageStreamSettings

	// how often pending entries are checked against the delivery timeout
	PendingCheckTimeout time.Duration
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ApiUrl:              "http://localhost:8000",
		PlatformUrl:         "ws://localhost:8000",
		TransportSettings:   DefaultStreamTransportSettings(),
		StreamSettings:      DefaultMessageStreamSettings(),
		PendingCheckTimeout: 5 * time.Second,
	}
}

type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	identity *ByJwt
	settings *ClientSettings

	api *VoxApi

	chatTransport         *StreamTransport
	notificationTransport *StreamTransport

	followSync   *GraphSync
	likeSync     *GraphSync
	bookmarkSync *GraphSync

	// gateway completions are forwarded here so that every user callback
	// fires from the dispatch goroutine, never from an api goroutine
	dispatchEvents chan func()

	stateLock       sync.Mutex
	streams         map[ConversationKey]*MessageStream
	notifications   []*Notification
	notificationIds map[string]bool

	stateChangeCallbacks  *CallbackList[StateChangeFunction]
	messageCallbacks      *CallbackList[MessageChangeFunction]
	notificationCallbacks *CallbackList[NotificationFunction]
}

func NewClientWithDefaults(ctx context.Context, byJwt string) (*Client, error) {
	return NewClient(ctx, byJwt, DefaultClientSettings())
}

func NewClient(ctx context.Context, byJwt string, settings *ClientSettings) (*Client, error) {
	identity, err := ParseByJwtUnverified(byJwt)
	if err != nil {
		return nil, err
	}
	if identity.UserId == "" {
		return nil, &AuthError{Message: "credential has no user id"}
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	api := NewVoxApiWithContext(cancelCtx, settings.ApiUrl)
	api.SetByJwt(byJwt)

	auth := &StreamAuth{
		ByJwt:  byJwt,
		UserId: identity.UserId,
	}

	client := &Client{
		ctx:                   cancelCtx,
		cancel:                cancel,
		identity:              identity,
		settings:              settings,
		api:                   api,
		dispatchEvents:        make(chan func(), 32),
		streams:               map[ConversationKey]*MessageStream{},
		notificationIds:       map[string]bool{},
		stateChangeCallbacks:  NewCallbackList[StateChangeFunction](),
		messageCallbacks:      NewCallbackList[MessageChangeFunction](),
		notificationCallbacks: NewCallbackList[NotificationFunction](),
	}

	client.followSync = NewGraphSync(
		RelationFollow,
		identity.UserId,
		client.applyFollow,
		client.fetchFollow,
	)
	client.likeSync = NewGraphSync(
		RelationLike,
		identity.UserId,
		client.applyLike,
		client.fetchLike,
	)
	client.bookmarkSync = NewGraphSync(
		RelationBookmark,
		identity.UserId,
		client.applyBookmark,
		client.fetchBookmark,
	)

	client.chatTransport = NewStreamTransport(
		cancelCtx,
		StreamKindChat,
		settings.PlatformUrl,
		auth,
		settings.TransportSettings,
	)
	client.notificationTransport = NewStreamTransport(
		cancelCtx,
		StreamKindNotifications,
		settings.PlatformUrl,
		auth,
		settings.TransportSettings,
	)

	go client.run()
	go client.seed()

	return client, nil
}

func (self *Client) UserId() string {
	return self.identity.UserId
}

func (self *Client) Api() *VoxApi {
	return self.api
}

func (self *Client) FollowSync() *GraphSync {
	return self.followSync
}

func (self *Client) LikeSync() *GraphSync {
	return self.likeSync
}

func (self *Client) BookmarkSync() *GraphSync {
	return self.bookmarkSync
}

func (self *Client) AddStateChangeCallback(callback StateChangeFunction) func() {
	return self.stateChangeCallbacks.Add(callback)
}

func (self *Client) AddMessageChangeCallback(callback MessageChangeFunction) func() {
	return self.messageCallbacks.Add(callback)
}

func (self *Client) AddNotificationCallback(callback NotificationFunction) func() {
	return self.notificationCallbacks.Add(callback)
}

// seeds local graph and notification state from bulk fetches.
// failures are logged and left for later resync. like state has no bulk
// endpoint, so it fills in lazily per post.
func (self *Client) seed() {
	self.api.GetFollowing(self.identity.UserId, NewApiCallback[*FollowListResult](
		func(result *FollowListResult, err error) {
			if err != nil {
				glog.Infof("[c]seed following err = %s\n", err)
				return
			}
			followedIds := []string{}
			for _, edge := range result.Edges {
				if followedId := edge.Followed(); followedId != "" {
					followedIds = append(followedIds, followedId)
				}
			}
			self.dispatch(func() {
				self.followSync.Seed(followedIds)
			})
		},
	))

	self.api.GetBookmarks(self.identity.UserId, NewApiCallback[*GetBookmarksResult](
		func(result *GetBookmarksResult, err error) {
			if err != nil {
				glog.Infof("[c]seed bookmarks err = %s\n", err)
				return
			}
			postIds := []string{}
			for _, bookmark := range result.Bookmarks {
				if bookmark.PostId != "" {
					postIds = append(postIds, bookmark.PostId)
				}
			}
			self.dispatch(func() {
				self.bookmarkSync.Seed(postIds)
			})
		},
	))

	self.api.GetNotifications(self.identity.UserId, NewApiCallback[*GetNotificationsResult](
		func(result *GetNotificationsResult, err error) {
			if err != nil {
				glog.Infof("[c]seed notifications err = %s\n", err)
				return
			}
			self.dispatch(func() {
				for _, notification := range result.Notifications {
					self.ingestNotification(notification)
				}
			})
		},
	))
}

func (self *Client) run() {
	chatEvents := self.chatTransport.Events()
	notificationEvents := self.notificationTransport.Events()

	pendingCheck := time.NewTicker(self.settings.PendingCheckTimeout)
	defer pendingCheck.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case event, ok := <-chatEvents:
			if !ok {
				chatEvents = nil
				if notificationEvents == nil {
					return
				}
				continue
			}
			self.handleChatEvent(event)
		case event, ok := <-notificationEvents:
			if !ok {
				notificationEvents = nil
				if chatEvents == nil {
					return
				}
				continue
			}
			self.handleNotificationEvent(event)
		case event := <-self.dispatchEvents:
			event()
		case <-pendingCheck.C:
			self.failExpired()
		}
	}
}

// queues `event` onto the dispatch goroutine. transport events and
// gateway completions all run there, one at a time.
func (self *Client) dispatch(event func()) {
	select {
	case <-self.ctx.Done():
	case self.dispatchEvents <- event:
	}
}

func (self *Client) handleChatEvent(event *StreamEvent) {
	switch event.Type {
	case StreamEventTypeMessage:
		message := event.Message
		key := message.ConversationKey()
		if !key.Includes(self.identity.UserId) {
			glog.Infof("[c]dropped message outside own conversations %s\n", key)
			return
		}
		stream := self.Conversation(key.Other(self.identity.UserId))
		stream.IngestRemote(message)
		self.announceMessageChange(key)
	case StreamEventTypeStatus:
		if glog.V(2) {
			glog.Infof("[c]chat status %s\n", event.Status.Status)
		}
	case StreamEventTypeState:
		for _, callback := range self.stateChangeCallbacks.Get() {
			callback(StreamKindChat, event.State, event.Err)
		}
		if event.State == ConnectionStateOpen {
			// repair every open conversation after a (re)connect
			self.backfillAll()
		}
	}
}

func (self *Client) handleNotificationEvent(event *StreamEvent) {
	switch event.Type {
	case StreamEventTypeNotification:
		self.ingestNotification(event.Notification)
	case StreamEventTypeState:
		for _, callback := range self.stateChangeCallbacks.Get() {
			callback(StreamKindNotifications, event.State, event.Err)
		}
	}
}

// returns the message stream for the conversation with `peerId`,
// creating it on first use. a new stream immediately backfills from the
// request gateway.
func (self *Client) Conversation(peerId string) *MessageStream {
	key := NewConversationKey(self.identity.UserId, peerId)

	self.stateLock.Lock()
	stream, ok := self.streams[key]
	if !ok {
		stream = NewMessageStream(
			self.identity.UserId,
			peerId,
			self.chatTransport,
			self.api,
			self.settings.StreamSettings,
		)
		self.streams[key] = stream
	}
	self.stateLock.Unlock()

	if !ok {
		self.backfillStream(stream)
	}
	return stream
}

func (self *Client) SendMessage(peerId string, content string) (Id, error) {
	return self.Conversation(peerId).SubmitLocal(content)
}

func (self *Client) backfillAll() {
	self.stateLock.Lock()
	streams := make([]*MessageStream, 0, len(self.streams))
	for _, stream := range self.streams {
		streams = append(streams, stream)
	}
	self.stateLock.Unlock()

	for _, stream := range streams {
		self.backfillStream(stream)
	}
}

func (self *Client) backfillStream(stream *MessageStream) {
	key := stream.Key()
	self.api.GetChatMessages(
		self.identity.UserId,
		key.Other(self.identity.UserId),
		NewApiCallback[*GetChatMessagesResult](func(result *GetChatMessagesResult, err error) {
			if err != nil {
				glog.Infof("[c]backfill %s err = %s\n", key, err)
				return
			}
			self.dispatch(func() {
				stream.Backfill(result.Messages)
				self.announceMessageChange(key)
			})
		}),
	)
}

func (self *Client) failExpired() {
	self.stateLock.Lock()
	streams := make([]*MessageStream, 0, len(self.streams))
	for _, stream := range self.streams {
		streams = append(streams, stream)
	}
	self.stateLock.Unlock()

	now := time.Now()
	for _, stream := range streams {
		if failed := stream.FailExpired(now); 0 < len(failed) {
			for _, entry := range failed {
				glog.Infof("[c]%s delivery timed out %s\n", stream.Key(), entry.CorrelationId)
			}
			self.announceMessageChange(stream.Key())
		}
	}
}

func (self *Client) announceMessageChange(key ConversationKey) {
	for _, callback := range self.messageCallbacks.Get() {
		callback(key)
	}
}

func (self *Client) ingestNotification(notification *Notification) {
	dedupKey := notification.NotificationId
	if dedupKey == "" {
		dedupKey = fmt.Sprintf(
			"%s|%s|%s",
			notification.Message,
			notification.Type,
			notification.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
	}

	self.stateLock.Lock()
	if self.notificationIds[dedupKey] {
		self.stateLock.Unlock()
		return
	}
	self.notificationIds[dedupKey] = true
	self.notifications = append(self.notifications, notification)
	self.stateLock.Unlock()

	for _, callback := range self.notificationCallbacks.Get() {
		callback(notification)
	}
}

// snapshot, newest first
func (self *Client) Notifications() []*Notification {
	self.stateLock.Lock()
	notifications := make([]*Notification, len(self.notifications))
	copy(notifications, self.notifications)
	self.stateLock.Unlock()

	sort.SliceStable(notifications, func(i int, j int) bool {
		return notifications[j].CreatedAt.Before(notifications[i].CreatedAt.Time)
	})
	return notifications
}

func (self *Client) ToggleFollow(userId string) (bool, error) {
	return self.followSync.Toggle(userId)
}

func (self *Client) ToggleLike(postId string) (bool, error) {
	return self.likeSync.Toggle(postId)
}

func (self *Client) ToggleBookmark(postId string) (bool, error) {
	return self.bookmarkSync.Toggle(postId)
}

func (self *Client) IsFollowing(userId string) bool {
	return self.followSync.CurrentState(userId)
}

func (self *Client) HasLiked(postId string) bool {
	return self.likeSync.CurrentState(postId)
}

func (self *Client) HasBookmarked(postId string) bool {
	return self.bookmarkSync.CurrentState(postId)
}

func (self *Client) applyFollow(targetId string, create bool, complete func(err error)) {
	args := &FollowArgs{
		UserId: self.identity.UserId,
	}
	callback := NewApiCallback[*FollowResult](func(result *FollowResult, err error) {
		// a duplicate follow or an absent unfollow comes back as a 400.
		// the server state already matches the request, so it settled.
		if _, ok := err.(*ValidationError); ok {
			err = nil
		}
		complete(err)
	})
	if create {
		self.api.FollowUser(targetId, args, callback)
	} else {
		self.api.UnfollowUser(targetId, args, callback)
	}
}

func (self *Client) fetchFollow(targetId string, complete func(state bool, err error)) {
	self.api.GetFollowing(self.identity.UserId, NewApiCallback[*FollowListResult](
		func(result *FollowListResult, err error) {
			if err != nil {
				complete(false, err)
				return
			}
			targetId = NormalizeUserId(targetId)
			for _, edge := range result.Edges {
				if edge.Followed() == targetId {
					complete(true, nil)
					return
				}
			}
			complete(false, nil)
		},
	))
}

func (self *Client) applyLike(targetId string, create bool, complete func(err error)) {
	args := &LikePostArgs{
		UserId: self.identity.UserId,
	}
	self.api.TogglePostLike(targetId, args, NewApiCallback[*ToggleResult](
		func(result *ToggleResult, err error) {
			if err == nil && result.Action != "" {
				requested := ToggleActionRemoved
				if create {
					requested = ToggleActionAdded
				}
				if result.Action != requested {
					// the server flipped the other way. the follow-up
					// resync pulls the truth.
					glog.Infof("[c]like %s toggled %s, wanted %s\n", targetId, result.Action, requested)
				}
			}
			complete(err)
		},
	))
}

func (self *Client) fetchLike(targetId string, complete func(state bool, err error)) {
	self.api.GetPostLikes(targetId, NewApiCallback[*GetPostLikesResult](
		func(result *GetPostLikesResult, err error) {
			if err != nil {
				complete(false, err)
				return
			}
			complete(result.LikedBy(self.identity.UserId), nil)
		},
	))
}

func (self *Client) applyBookmark(targetId string, create bool, complete func(err error)) {
	args := &BookmarkArgs{
		UserId: self.identity.UserId,
		PostId: targetId,
	}
	self.api.ToggleBookmark(args, NewApiCallback[*ToggleResult](
		func(result *ToggleResult, err error) {
			complete(err)
		},
	))
}

func (self *Client) fetchBookmark(targetId string, complete func(state bool, err error)) {
	self.api.CheckBookmark(self.identity.UserId, targetId, NewApiCallback[*CheckBookmarkResult](
		func(result *CheckBookmarkResult, err error) {
			if err != nil {
				complete(false, err)
				return
			}
			complete(result.IsBookmarked, nil)
		},
	))
}

func (self *Client) Close() {
	self.followSync.Stop()
	self.likeSync.Stop()
	self.bookmarkSync.Stop()
	self.chatTransport.Close()
	self.notificationTransport.Close()
	self.api.Close()
	self.cancel()
}
