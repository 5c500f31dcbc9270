package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/LeoR22/vox-connect/connect"
)

const VoxCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Vox control.

The default urls are:
    api_url: http://localhost:8000
    ws_url: ws://localhost:8000
Urls and the jwt can also come from the environment or a .env file:
    VOX_API_URL, VOX_WS_URL, VOX_JWT

Usage:
    voxctl register [--api_url=<api_url>]
        --email=<email>
        [--password=<password>]
    voxctl login [--api_url=<api_url>]
        --email=<email>
        [--password=<password>]
    voxctl send [--api_url=<api_url>] [--ws_url=<ws_url>] [--jwt=<jwt>]
        --peer=<user_id>
        [<message>]
    voxctl sink [--api_url=<api_url>] [--ws_url=<ws_url>] [--jwt=<jwt>]
        [--message_count=<message_count>]
    voxctl messages [--api_url=<api_url>] [--jwt=<jwt>] --peer=<user_id>
    voxctl follow [--api_url=<api_url>] [--jwt=<jwt>] <user_id>
    voxctl unfollow [--api_url=<api_url>] [--jwt=<jwt>] <user_id>
    voxctl following [--api_url=<api_url>] [--jwt=<jwt>] [<user_id>]
    voxctl like [--api_url=<api_url>] [--jwt=<jwt>] <post_id>
    voxctl bookmark [--api_url=<api_url>] [--jwt=<jwt>] <post_id>
    voxctl bookmarks [--api_url=<api_url>] [--jwt=<jwt>]
    voxctl notifications [--api_url=<api_url>] [--jwt=<jwt>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --email=<email>
    --password=<password>            Prompted when not given.
    --jwt=<jwt>                      Your gateway JWT.
    --peer=<user_id>                 Conversation peer user_id.
    --message_count=<message_count>  Print this many messages then exit.`

	godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], VoxCtlVersion)
	if err != nil {
		panic(err)
	}

	if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if sink_, _ := opts.Bool("sink"); sink_ {
		sink(opts)
	} else if messages_, _ := opts.Bool("messages"); messages_ {
		messages(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(opts, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		follow(opts, false)
	} else if following_, _ := opts.Bool("following"); following_ {
		following(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if bookmark_, _ := opts.Bool("bookmark"); bookmark_ {
		bookmark(opts)
	} else if bookmarks_, _ := opts.Bool("bookmarks"); bookmarks_ {
		bookmarks(opts)
	} else if notifications_, _ := opts.Bool("notifications"); notifications_ {
		notifications(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		return apiUrl_
	}
	if apiUrl_ := os.Getenv("VOX_API_URL"); apiUrl_ != "" {
		return apiUrl_
	}
	return "http://localhost:8000"
}

func wsUrl(opts docopt.Opts) string {
	if wsUrl_, err := opts.String("--ws_url"); err == nil && wsUrl_ != "" {
		return wsUrl_
	}
	if wsUrl_ := os.Getenv("VOX_WS_URL"); wsUrl_ != "" {
		return wsUrl_
	}
	return "ws://localhost:8000"
}

func requireJwt(opts docopt.Opts) string {
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		return jwt
	}
	if jwt := os.Getenv("VOX_JWT"); jwt != "" {
		return jwt
	}
	Err.Fatalf("Missing jwt. Pass --jwt or set VOX_JWT (voxctl login prints one).")
	return ""
}

func requirePassword(opts docopt.Opts) string {
	if password, err := opts.String("--password"); err == nil && password != "" {
		return password
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("Could not read password (%s).", err)
	}
	return string(passwordBytes)
}

func newApi(opts docopt.Opts) *connect.VoxApi {
	api := connect.NewVoxApi(apiUrl(opts))
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		api.SetByJwt(jwt)
	} else if jwt := os.Getenv("VOX_JWT"); jwt != "" {
		api.SetByJwt(jwt)
	}
	return api
}

func newClient(opts docopt.Opts) *connect.Client {
	jwt := requireJwt(opts)

	settings := connect.DefaultClientSettings()
	settings.ApiUrl = apiUrl(opts)
	settings.PlatformUrl = wsUrl(opts)

	client, err := connect.NewClient(context.Background(), jwt, settings)
	if err != nil {
		Err.Fatalf("Could not create client (%s).", err)
	}
	return client
}

func register(opts docopt.Opts) {
	email, _ := opts.String("--email")
	password := requirePassword(opts)

	api := connect.NewVoxApi(apiUrl(opts))
	defer api.Close()

	result, err := api.RegisterSync(&connect.RegisterArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("Register failed (%s).", err)
	}
	Out.Printf("%s", result.Message)
}

func login(opts docopt.Opts) {
	email, _ := opts.String("--email")
	password := requirePassword(opts)

	api := connect.NewVoxApi(apiUrl(opts))
	defer api.Close()

	result, err := api.LoginSync(&connect.LoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("Login failed (%s).", err)
	}
	Out.Printf("%s", result.ByJwt())
}

// submit one message and wait for the stream echo to confirm it
func send(opts docopt.Opts) {
	peerId, _ := opts.String("--peer")
	messageContent, _ := opts.String("<message>")

	timeout := 30 * time.Second

	client := newClient(opts)
	defer client.Close()

	correlationId, err := client.SendMessage(peerId, messageContent)
	if err != nil {
		Err.Fatalf("Could not submit message (%s).", err)
	}

	stream := client.Conversation(peerId)
	endTime := time.Now().Add(timeout)
	for time.Now().Before(endTime) {
		for _, entry := range stream.Reconcile() {
			if entry.CorrelationId != correlationId.String() {
				continue
			}
			switch entry.State {
			case connect.DeliveryStateConfirmed:
				Out.Printf("Message confirmed (%s).", entry.MessageId)
				return
			case connect.DeliveryStateFailed:
				Err.Fatalf("Message failed.")
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	Err.Fatalf("Message not confirmed (timeout).")
}

// closes `done` exactly once, even when a late callback fires in the
// window between the first close and the callback removal
type doneSignal struct {
	once sync.Once
	done chan struct{}
}

func newDoneSignal() *doneSignal {
	return &doneSignal{
		done: make(chan struct{}),
	}
}

func (self *doneSignal) signal() {
	self.once.Do(func() {
		close(self.done)
	})
}

func sinkLimitReached(messageCount int, count int) bool {
	return messageCount != -1 && messageCount <= count
}

// print stream activity as it arrives
func sink(opts docopt.Opts) {
	var messageCount int
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	} else {
		messageCount = -1
	}
	if sinkLimitReached(messageCount, 0) {
		return
	}

	client := newClient(opts)
	defer client.Close()

	printed := map[string]bool{}
	done := newDoneSignal()
	count := 0

	closeCallback := client.AddMessageChangeCallback(func(key connect.ConversationKey) {
		for _, entry := range client.Conversation(key.Other(client.UserId())).Reconcile() {
			if entry.State != connect.DeliveryStateConfirmed || printed[entry.MessageId] {
				continue
			}
			printed[entry.MessageId] = true
			Out.Printf("[%s] %s: %s", key, entry.SenderId, entry.Content)
			count += 1
			if sinkLimitReached(messageCount, count) {
				done.signal()
				return
			}
		}
	})
	defer closeCallback()

	closeNotificationCallback := client.AddNotificationCallback(func(notification *connect.Notification) {
		Out.Printf("[notification] %s", notification.Message)
	})
	defer closeNotificationCallback()

	closeStateCallback := client.AddStateChangeCallback(func(kind connect.StreamKind, state connect.ConnectionState, err error) {
		if err != nil {
			Err.Printf("%s stream %s (%s)", kind, state, err)
		}
	})
	defer closeStateCallback()

	<-done.done
}

func messages(opts docopt.Opts) {
	peerId, _ := opts.String("--peer")

	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	result, err := api.GetChatMessagesSync(byJwt.UserId, peerId)
	if err != nil {
		Err.Fatalf("Could not fetch messages (%s).", err)
	}
	for _, message := range result.Messages {
		Out.Printf("%s %s: %s", message.CreatedAt.Format(time.RFC3339), message.SenderId, message.Content)
	}
}

func follow(opts docopt.Opts, create bool) {
	userId, _ := opts.String("<user_id>")

	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	args := &connect.FollowArgs{
		UserId: byJwt.UserId,
	}
	callback, resultChannel := connect.NewBlockingApiCallback[*connect.FollowResult]()
	if create {
		api.FollowUser(userId, args, callback)
	} else {
		api.UnfollowUser(userId, args, callback)
	}
	result := <-resultChannel
	if result.Error != nil {
		Err.Fatalf("Follow change failed (%s).", result.Error)
	}
	Out.Printf("%s", result.Result.Message)
}

func following(opts docopt.Opts) {
	userId, _ := opts.String("<user_id>")
	if userId == "" {
		byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
		if err != nil {
			Err.Fatalf("Invalid jwt (%s).", err)
		}
		userId = byJwt.UserId
	}

	api := newApi(opts)
	defer api.Close()

	result, err := api.GetFollowingSync(userId)
	if err != nil {
		Err.Fatalf("Could not fetch following (%s).", err)
	}
	for _, edge := range result.Edges {
		Out.Printf("%s", edge.Followed())
	}
}

func like(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")

	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	result, err := api.TogglePostLikeSync(postId, &connect.LikePostArgs{
		UserId: byJwt.UserId,
	})
	if err != nil {
		Err.Fatalf("Like failed (%s).", err)
	}
	Out.Printf("like %s", result.Action)
}

func bookmark(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")

	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	result, err := api.ToggleBookmarkSync(&connect.BookmarkArgs{
		UserId: byJwt.UserId,
		PostId: postId,
	})
	if err != nil {
		Err.Fatalf("Bookmark failed (%s).", err)
	}
	Out.Printf("bookmark %s", result.Action)
}

func bookmarks(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	result, err := api.GetBookmarksSync(byJwt.UserId)
	if err != nil {
		Err.Fatalf("Could not fetch bookmarks (%s).", err)
	}
	for _, bookmark := range result.Bookmarks {
		Out.Printf("%s", bookmark.PostId)
	}
}

func notifications(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	byJwt, err := connect.ParseByJwtUnverified(requireJwt(opts))
	if err != nil {
		Err.Fatalf("Invalid jwt (%s).", err)
	}

	result, err := api.GetNotificationsSync(byJwt.UserId)
	if err != nil {
		Err.Fatalf("Could not fetch notifications (%s).", err)
	}
	for _, notification := range result.Notifications {
		Out.Printf("%s %s", notification.CreatedAt.Format(time.RFC3339), notification.Message)
	}
}
