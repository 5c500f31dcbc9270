package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// stateless request/response calls against the api gateway.
// the primary path for graph mutations and the fallback/backfill path for
// messages and notifications.
type VoxApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewVoxApi(apiUrl string) *VoxApi {
	return NewVoxApiWithContext(context.Background(), apiUrl)
}

func NewVoxApiWithContext(ctx context.Context, apiUrl string) *VoxApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &VoxApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to all authenticated calls
func (self *VoxApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *VoxApi) Close() {
	self.cancel()
}

type LoginCallback apiCallback[*LoginResult]

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// the auth service returns `access_token`; the gateway variant returns
// `token` with the resolved `user_id` and `name` alongside
type LoginResult struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Token       string `json:"token,omitempty"`
	UserId      string `json:"user_id,omitempty"`
	Name        string `json:"name,omitempty"`
}

func (self *LoginResult) ByJwt() string {
	if self.Token != "" {
		return self.Token
	}
	return self.AccessToken
}

func (self *VoxApi) Login(login *LoginArgs, callback LoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		login,
		self.byJwt,
		&LoginResult{},
		callback,
	)
}

func (self *VoxApi) LoginSync(login *LoginArgs) (*LoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		login,
		self.byJwt,
		&LoginResult{},
		NewNoopApiCallback[*LoginResult](),
	)
}

type RegisterCallback apiCallback[*RegisterResult]

type RegisterArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResult struct {
	Message string `json:"message"`
}

func (self *VoxApi) Register(register *RegisterArgs, callback RegisterCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		register,
		self.byJwt,
		&RegisterResult{},
		callback,
	)
}

func (self *VoxApi) RegisterSync(register *RegisterArgs) (*RegisterResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		register,
		self.byJwt,
		&RegisterResult{},
		NewNoopApiCallback[*RegisterResult](),
	)
}

type CreateUserCallback apiCallback[*CreateUserResult]

type CreateUserArgs struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Bio   string `json:"bio"`
}

type CreateUserResult struct {
	Message string `json:"message"`
	UserId  string `json:"user_id"`
}

func (self *VoxApi) CreateUser(createUser *CreateUserArgs, callback CreateUserCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users", self.apiUrl),
		createUser,
		self.byJwt,
		&CreateUserResult{},
		callback,
	)
}

type GetUsersCallback apiCallback[*GetUsersResult]

// the wire shape is a bare array
type GetUsersResult struct {
	Users []*User
}

func (self *GetUsersResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Users)
}

func (self *VoxApi) GetUsers(callback GetUsersCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users", self.apiUrl),
		self.byJwt,
		&GetUsersResult{},
		callback,
	)
}

func (self *VoxApi) GetUsersSync() (*GetUsersResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users", self.apiUrl),
		self.byJwt,
		&GetUsersResult{},
		NewNoopApiCallback[*GetUsersResult](),
	)
}

type GetUserCallback apiCallback[*User]

func (self *VoxApi) GetUser(userId string, callback GetUserCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&User{},
		callback,
	)
}

func (self *VoxApi) GetUserSync(userId string) (*User, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&User{},
		NewNoopApiCallback[*User](),
	)
}

type UpdateProfileCallback apiCallback[*UpdateProfileResult]

// multipart form. media is opaque to the client.
type UpdateProfileArgs struct {
	Name         string
	Bio          string
	ProfileImage *FileUpload
	CoverImage   *FileUpload
}

type UpdateProfileResult struct {
	Message string `json:"message,omitempty"`
	User    *User  `json:"user,omitempty"`
}

type FileUpload struct {
	Name     string
	Content  io.Reader
	MimeType string
}

func (self *VoxApi) UpdateProfile(userId string, updateProfile *UpdateProfileArgs, callback UpdateProfileCallback) {
	fields := map[string]string{}
	if updateProfile.Name != "" {
		fields["name"] = updateProfile.Name
	}
	if updateProfile.Bio != "" {
		fields["bio"] = updateProfile.Bio
	}
	files := map[string]*FileUpload{}
	if updateProfile.ProfileImage != nil {
		files["profile_image"] = updateProfile.ProfileImage
	}
	if updateProfile.CoverImage != nil {
		files["cover_image"] = updateProfile.CoverImage
	}
	go postMultipart(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/users/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		fields,
		files,
		self.byJwt,
		&UpdateProfileResult{},
		callback,
	)
}

type GetPostsCallback apiCallback[*GetPostsResult]

type Post struct {
	PostId    string    `json:"_id,omitempty"`
	UserId    string    `json:"user_id"`
	Content   string    `json:"content"`
	ImageUrl  string    `json:"image_url,omitempty"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
}

type GetPostsResult struct {
	Posts []*Post
}

func (self *GetPostsResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Posts)
}

func (self *VoxApi) GetPosts(callback GetPostsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/posts", self.apiUrl),
		self.byJwt,
		&GetPostsResult{},
		callback,
	)
}

func (self *VoxApi) GetPostsSync() (*GetPostsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/posts", self.apiUrl),
		self.byJwt,
		&GetPostsResult{},
		NewNoopApiCallback[*GetPostsResult](),
	)
}

type CreatePostCallback apiCallback[*CreatePostResult]

type CreatePostArgs struct {
	UserId  string
	Content string
	Image   *FileUpload
}

type CreatePostResult struct {
	Message string `json:"message"`
	PostId  string `json:"post_id"`
}

func (self *VoxApi) CreatePost(createPost *CreatePostArgs, callback CreatePostCallback) {
	fields := map[string]string{
		"user_id": NormalizeUserId(createPost.UserId),
		"content": createPost.Content,
	}
	files := map[string]*FileUpload{}
	if createPost.Image != nil {
		files["image"] = createPost.Image
	}
	go postMultipart(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/posts", self.apiUrl),
		fields,
		files,
		self.byJwt,
		&CreatePostResult{},
		callback,
	)
}

type ToggleCallback apiCallback[*ToggleResult]

// the like and bookmark endpoints toggle server-side and report which
// discrete operation actually happened
type ToggleResult struct {
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
}

const ToggleActionAdded = "added"
const ToggleActionRemoved = "removed"

type LikePostArgs struct {
	UserId string `json:"user_id"`
	PostId string `json:"post_id,omitempty"`
}

func (self *VoxApi) TogglePostLike(postId string, likePost *LikePostArgs, callback ToggleCallback) {
	likePost.UserId = NormalizeUserId(likePost.UserId)
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/likes", self.apiUrl, url.PathEscape(postId)),
		likePost,
		self.byJwt,
		&ToggleResult{},
		callback,
	)
}

func (self *VoxApi) TogglePostLikeSync(postId string, likePost *LikePostArgs) (*ToggleResult, error) {
	likePost.UserId = NormalizeUserId(likePost.UserId)
	return post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/likes", self.apiUrl, url.PathEscape(postId)),
		likePost,
		self.byJwt,
		&ToggleResult{},
		NewNoopApiCallback[*ToggleResult](),
	)
}

type GetPostLikesCallback apiCallback[*GetPostLikesResult]

type Like struct {
	LikeId    string    `json:"_id,omitempty"`
	PostId    string    `json:"post_id"`
	UserId    string    `json:"user_id"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
}

type GetPostLikesResult struct {
	PostId     string  `json:"post_id"`
	LikesCount int     `json:"likes_count"`
	Likes      []*Like `json:"likes"`
}

func (self *GetPostLikesResult) LikedBy(userId string) bool {
	userId = NormalizeUserId(userId)
	for _, like := range self.Likes {
		if NormalizeUserId(like.UserId) == userId {
			return true
		}
	}
	return false
}

func (self *VoxApi) GetPostLikes(postId string, callback GetPostLikesCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/likes/post/%s", self.apiUrl, url.PathEscape(postId)),
		self.byJwt,
		&GetPostLikesResult{},
		callback,
	)
}

type PostCommentCallback apiCallback[*PostCommentResult]

type PostCommentArgs struct {
	UserId   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Content  string `json:"content"`
	PostId   string `json:"post_id,omitempty"`
}

type PostCommentResult struct {
	Message   string `json:"message"`
	CommentId string `json:"comment_id"`
}

func (self *VoxApi) PostComment(postId string, postComment *PostCommentArgs, callback PostCommentCallback) {
	postComment.UserId = NormalizeUserId(postComment.UserId)
	postComment.PostId = postId
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/comments", self.apiUrl, url.PathEscape(postId)),
		postComment,
		self.byJwt,
		&PostCommentResult{},
		callback,
	)
}

type GetCommentsCallback apiCallback[*GetCommentsResult]

type Comment struct {
	CommentId string    `json:"_id,omitempty"`
	PostId    string    `json:"post_id"`
	UserId    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
}

type GetCommentsResult struct {
	Comments []*Comment
}

func (self *GetCommentsResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Comments)
}

func (self *VoxApi) GetPostComments(postId string, callback GetCommentsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/comments/post/%s", self.apiUrl, url.PathEscape(postId)),
		self.byJwt,
		&GetCommentsResult{},
		callback,
	)
}

type GetFollowingCallback apiCallback[*FollowListResult]

// the store names the far end of a follow edge inconsistently across
// endpoints: `friend_id`, `followed_id`, and `following_id` all occur.
// decode accepts all three. `Followed()` is the one way to read it.
type FollowEdge struct {
	FollowerId  string `json:"user_id,omitempty"`
	FriendId    string `json:"friend_id,omitempty"`
	FollowedId  string `json:"followed_id,omitempty"`
	FollowingId string `json:"following_id,omitempty"`
}

func (self *FollowEdge) Follower() string {
	return NormalizeUserId(self.FollowerId)
}

func (self *FollowEdge) Followed() string {
	for _, id := range []string{self.FriendId, self.FollowedId, self.FollowingId} {
		if id != "" {
			return NormalizeUserId(id)
		}
	}
	return ""
}

// some endpoints return a bare edge array, others wrap it in a counted
// object. accept both.
type FollowListResult struct {
	UserId string
	Edges  []*FollowEdge
}

func (self *FollowListResult) UnmarshalJSON(src []byte) error {
	var edges []*FollowEdge
	if err := json.Unmarshal(src, &edges); err == nil {
		self.Edges = edges
		return nil
	}
	var wrapped struct {
		UserId    string        `json:"user_id"`
		Following []*FollowEdge `json:"following"`
		Followers []*FollowEdge `json:"followers"`
	}
	if err := json.Unmarshal(src, &wrapped); err != nil {
		return err
	}
	self.UserId = NormalizeUserId(wrapped.UserId)
	if wrapped.Following != nil {
		self.Edges = wrapped.Following
	} else {
		self.Edges = wrapped.Followers
	}
	return nil
}

func (self *VoxApi) GetFollowing(userId string, callback GetFollowingCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/friends/following/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&FollowListResult{},
		callback,
	)
}

func (self *VoxApi) GetFollowingSync(userId string) (*FollowListResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/friends/following/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&FollowListResult{},
		NewNoopApiCallback[*FollowListResult](),
	)
}

func (self *VoxApi) GetFollowers(userId string, callback GetFollowingCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/friends/followers/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&FollowListResult{},
		callback,
	)
}

type FollowCallback apiCallback[*FollowResult]

type FollowArgs struct {
	UserId   string `json:"user_id"`
	FriendId string `json:"friend_id,omitempty"`
}

type FollowResult struct {
	Message      string `json:"message"`
	FriendshipId string `json:"friendship_id,omitempty"`
}

func (self *VoxApi) FollowUser(followId string, follow *FollowArgs, callback FollowCallback) {
	follow.UserId = NormalizeUserId(follow.UserId)
	follow.FriendId = NormalizeUserId(followId)
	go post(
		self.ctx,
		fmt.Sprintf("%s/friends/follow/%s", self.apiUrl, url.PathEscape(NormalizeUserId(followId))),
		follow,
		self.byJwt,
		&FollowResult{},
		callback,
	)
}

func (self *VoxApi) UnfollowUser(followId string, follow *FollowArgs, callback FollowCallback) {
	follow.UserId = NormalizeUserId(follow.UserId)
	follow.FriendId = NormalizeUserId(followId)
	go post(
		self.ctx,
		fmt.Sprintf("%s/friends/unfollow/%s", self.apiUrl, url.PathEscape(NormalizeUserId(followId))),
		follow,
		self.byJwt,
		&FollowResult{},
		callback,
	)
}

type GetBookmarksCallback apiCallback[*GetBookmarksResult]

type Bookmark struct {
	BookmarkId string    `json:"_id,omitempty"`
	UserId     string    `json:"user_id"`
	PostId     string    `json:"post_id"`
	CreatedAt  Timestamp `json:"created_at,omitempty"`
}

type GetBookmarksResult struct {
	Bookmarks []*Bookmark
}

func (self *GetBookmarksResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Bookmarks)
}

func (self *VoxApi) GetBookmarks(userId string, callback GetBookmarksCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/bookmarks/user/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&GetBookmarksResult{},
		callback,
	)
}

func (self *VoxApi) GetBookmarksSync(userId string) (*GetBookmarksResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/bookmarks/user/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&GetBookmarksResult{},
		NewNoopApiCallback[*GetBookmarksResult](),
	)
}

type BookmarkArgs struct {
	UserId string `json:"user_id"`
	PostId string `json:"post_id"`
}

func (self *VoxApi) ToggleBookmark(bookmark *BookmarkArgs, callback ToggleCallback) {
	bookmark.UserId = NormalizeUserId(bookmark.UserId)
	go post(
		self.ctx,
		fmt.Sprintf("%s/bookmarks", self.apiUrl),
		bookmark,
		self.byJwt,
		&ToggleResult{},
		callback,
	)
}

func (self *VoxApi) ToggleBookmarkSync(bookmark *BookmarkArgs) (*ToggleResult, error) {
	bookmark.UserId = NormalizeUserId(bookmark.UserId)
	return post(
		self.ctx,
		fmt.Sprintf("%s/bookmarks", self.apiUrl),
		bookmark,
		self.byJwt,
		&ToggleResult{},
		NewNoopApiCallback[*ToggleResult](),
	)
}

type CheckBookmarkCallback apiCallback[*CheckBookmarkResult]

type CheckBookmarkResult struct {
	IsBookmarked bool `json:"is_bookmarked"`
}

func (self *VoxApi) CheckBookmark(userId string, postId string, callback CheckBookmarkCallback) {
	query := url.Values{}
	query.Set("user_id", NormalizeUserId(userId))
	query.Set("post_id", postId)
	go get(
		self.ctx,
		fmt.Sprintf("%s/bookmarks/check?%s", self.apiUrl, query.Encode()),
		self.byJwt,
		&CheckBookmarkResult{},
		callback,
	)
}

type GetNotificationsCallback apiCallback[*GetNotificationsResult]

type GetNotificationsResult struct {
	Notifications []*Notification
}

func (self *GetNotificationsResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Notifications)
}

func (self *VoxApi) GetNotifications(userId string, callback GetNotificationsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/notifications/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&GetNotificationsResult{},
		callback,
	)
}

func (self *VoxApi) GetNotificationsSync(userId string) (*GetNotificationsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/notifications/%s", self.apiUrl, url.PathEscape(NormalizeUserId(userId))),
		self.byJwt,
		&GetNotificationsResult{},
		NewNoopApiCallback[*GetNotificationsResult](),
	)
}

type GetChatMessagesCallback apiCallback[*GetChatMessagesResult]

type GetChatMessagesResult struct {
	Messages []*ChatMessage
}

func (self *GetChatMessagesResult) UnmarshalJSON(src []byte) error {
	return json.Unmarshal(src, &self.Messages)
}

func (self *VoxApi) GetChatMessages(userId string, peerId string, callback GetChatMessagesCallback) {
	go get(
		self.ctx,
		fmt.Sprintf(
			"%s/chat/messages/%s/%s",
			self.apiUrl,
			url.PathEscape(NormalizeUserId(userId)),
			url.PathEscape(NormalizeUserId(peerId)),
		),
		self.byJwt,
		&GetChatMessagesResult{},
		callback,
	)
}

func (self *VoxApi) GetChatMessagesSync(userId string, peerId string) (*GetChatMessagesResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf(
			"%s/chat/messages/%s/%s",
			self.apiUrl,
			url.PathEscape(NormalizeUserId(userId)),
			url.PathEscape(NormalizeUserId(peerId)),
		),
		self.byJwt,
		&GetChatMessagesResult{},
		NewNoopApiCallback[*GetChatMessagesResult](),
	)
}

type SendChatMessageCallback apiCallback[*SendChatMessageResult]

type SendChatMessageArgs struct {
	SenderId      string `json:"sender_id"`
	ReceiverId    string `json:"receiver_id"`
	Content       string `json:"content"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

type SendChatMessageResult struct {
	Message   string `json:"message"`
	MessageId string `json:"message_id"`
}

func (self *VoxApi) SendChatMessage(sendChatMessage *SendChatMessageArgs, callback SendChatMessageCallback) {
	sendChatMessage.SenderId = NormalizeUserId(sendChatMessage.SenderId)
	sendChatMessage.ReceiverId = NormalizeUserId(sendChatMessage.ReceiverId)
	go post(
		self.ctx,
		fmt.Sprintf("%s/chat/messages", self.apiUrl),
		sendChatMessage,
		self.byJwt,
		&SendChatMessageResult{},
		callback,
	)
}

func (self *VoxApi) SendChatMessageSync(sendChatMessage *SendChatMessageArgs) (*SendChatMessageResult, error) {
	sendChatMessage.SenderId = NormalizeUserId(sendChatMessage.SenderId)
	sendChatMessage.ReceiverId = NormalizeUserId(sendChatMessage.ReceiverId)
	return post(
		self.ctx,
		fmt.Sprintf("%s/chat/messages", self.apiUrl),
		sendChatMessage,
		self.byJwt,
		&SendChatMessageResult{},
		NewNoopApiCallback[*SendChatMessageResult](),
	)
}

// the gateway wraps error messages as `{"detail": "..."}`
func errorMessageFromBody(responseBodyBytes []byte) string {
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(responseBodyBytes, &detail); err == nil && detail.Detail != "" {
		return detail.Detail
	}
	return strings.TrimSpace(string(responseBodyBytes))
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		err = NewTransportError(err)
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		err = classifyStatus(r.StatusCode, errorMessageFromBody(responseBodyBytes))
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		err = NewTransportError(err)
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Accept", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		err = NewTransportError(err)
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		err = classifyStatus(r.StatusCode, errorMessageFromBody(responseBodyBytes))
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		err = NewTransportError(err)
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func postMultipart[R any](
	ctx context.Context,
	method string,
	url string,
	fields map[string]string,
	files map[string]*FileUpload,
	byJwt string,
	result R,
	callback apiCallback[R],
) (R, error) {
	requestBody := &bytes.Buffer{}
	writer := multipart.NewWriter(requestBody)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}
	for name, file := range files {
		part, err := writer.CreateFormFile(name, file.Name)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}
	if err := writer.Close(); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, requestBody)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", writer.FormDataContentType())

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		err = NewTransportError(err)
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		err = classifyStatus(r.StatusCode, errorMessageFromBody(responseBodyBytes))
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		err = NewTransportError(err)
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
