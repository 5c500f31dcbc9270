package connect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// one persistent stream per user per kind. the chat stream is bidirectional;
// the notification stream is push-only. the first outbound frame after the
// websocket handshake is the bearer credential as plain text. the chat
// service acks the handshake with a connected-status frame; the notification
// service has no ack protocol, so that stream is open once the credential
// frame is written.

type StreamKind int

const (
	StreamKindChat StreamKind = iota
	StreamKindNotifications
)

func (self StreamKind) String() string {
	switch self {
	case StreamKindChat:
		return "chat"
	case StreamKindNotifications:
		return "notifications"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type ConnectionState int

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateAuthenticating
	ConnectionStateOpen
	ConnectionStateReconnecting
	ConnectionStateClosing
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateAuthenticating:
		return "authenticating"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateReconnecting:
		return "reconnecting"
	case ConnectionStateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type StreamAuth struct {
	ByJwt  string
	UserId string
}

// falls back to the credential claims when the user id is not set explicitly
func (self *StreamAuth) StreamUserId() string {
	if self.UserId != "" {
		return NormalizeUserId(self.UserId)
	}
	if byJwt, err := ParseByJwtUnverified(self.ByJwt); err == nil {
		return byJwt.UserId
	}
	return ""
}

type StreamTransportSettings struct {
	WsHandshakeTimeout  time.Duration
	AuthTimeout         time.Duration
	ReconnectMinTimeout time.Duration
	ReconnectMaxTimeout time.Duration
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	// bounded replay buffer for outbound sends. oldest dropped on overflow.
	SendBufferSize  int
	EventBufferSize int
}

func DefaultStreamTransportSettings() *StreamTransportSettings {
	return &StreamTransportSettings{
		WsHandshakeTimeout:  5 * time.Second,
		AuthTimeout:         5 * time.Second,
		ReconnectMinTimeout: 1 * time.Second,
		ReconnectMaxTimeout: 30 * time.Second,
		PingTimeout:         10 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         30 * time.Second,
		SendBufferSize:      32,
		EventBufferSize:     32,
	}
}

type StreamTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	kind      StreamKind
	streamUrl string
	auth      *StreamAuth

	settings *StreamTransportSettings

	events chan *StreamEvent

	stateLock  sync.Mutex
	state      ConnectionState
	sendBuffer [][]byte
	sendNotify chan struct{}
	closed     bool
}

func NewChatTransportWithDefaults(ctx context.Context, platformUrl string, auth *StreamAuth) *StreamTransport {
	return NewStreamTransport(ctx, StreamKindChat, platformUrl, auth, DefaultStreamTransportSettings())
}

func NewNotificationTransportWithDefaults(ctx context.Context, platformUrl string, auth *StreamAuth) *StreamTransport {
	return NewStreamTransport(ctx, StreamKindNotifications, platformUrl, auth, DefaultStreamTransportSettings())
}

func NewStreamTransport(
	ctx context.Context,
	kind StreamKind,
	platformUrl string,
	auth *StreamAuth,
	settings *StreamTransportSettings,
) *StreamTransport {
	cancelCtx, cancel := context.WithCancel(ctx)

	var path string
	switch kind {
	case StreamKindChat:
		path = "ws/chat"
	default:
		path = "ws/notifications"
	}
	streamUrl := fmt.Sprintf(
		"%s/%s/%s",
		platformUrl,
		path,
		url.PathEscape(auth.StreamUserId()),
	)

	transport := &StreamTransport{
		ctx:        cancelCtx,
		cancel:     cancel,
		kind:       kind,
		streamUrl:  streamUrl,
		auth:       auth,
		settings:   settings,
		events:     make(chan *StreamEvent, settings.EventBufferSize),
		state:      ConnectionStateDisconnected,
		sendNotify: make(chan struct{}, 1),
	}
	go transport.run()
	return transport
}

// every inbound frame decodes to exactly one event, delivered in arrival
// order. state transitions (open, reconnecting, disconnected) are delivered
// on the same channel. the channel closes when the transport is torn down.
func (self *StreamTransport) Events() <-chan *StreamEvent {
	return self.events
}

func (self *StreamTransport) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *StreamTransport) IsOpen() bool {
	return self.State() == ConnectionStateOpen
}

// queues a frame for delivery. queued frames survive reconnects and are
// replayed in order after the handshake. returns false if the transport is
// closed. on overflow the oldest queued frame is dropped.
func (self *StreamTransport) Send(payload []byte) bool {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return false
	}
	if self.settings.SendBufferSize <= len(self.sendBuffer) {
		glog.Infof("[ts]%s drop oldest queued send\n", self.kind)
		self.sendBuffer = self.sendBuffer[1:]
	}
	self.sendBuffer = append(self.sendBuffer, payload)
	self.stateLock.Unlock()

	select {
	case self.sendNotify <- struct{}{}:
	default:
	}
	return true
}

// terminal. cancels any pending reconnect and releases the socket.
func (self *StreamTransport) Close() {
	self.stateLock.Lock()
	self.closed = true
	self.state = ConnectionStateClosing
	self.stateLock.Unlock()

	self.cancel()
}

func (self *StreamTransport) setState(state ConnectionState) {
	self.stateLock.Lock()
	if self.closed && state != ConnectionStateDisconnected {
		self.stateLock.Unlock()
		return
	}
	self.state = state
	self.stateLock.Unlock()
}

func (self *StreamTransport) emit(event *StreamEvent) {
	select {
	case <-self.ctx.Done():
		// emit one final event after cancel so the fatal reason is not lost.
		// the channel is buffered; do not block teardown on a gone consumer.
		select {
		case self.events <- event:
		default:
			glog.V(2).Infof("[tr]%s drop event after close\n", self.kind)
		}
	case self.events <- event:
	case <-time.After(self.settings.ReadTimeout):
		glog.Infof("[tr]%s drop event, slow consumer\n", self.kind)
	}
}

func (self *StreamTransport) run() {
	defer func() {
		self.setState(ConnectionStateDisconnected)
		self.emit(newStateEvent(ConnectionStateDisconnected, nil))
		close(self.events)
	}()

	userId := self.auth.StreamUserId()

	reconnect := NewReconnect(self.settings.ReconnectMinTimeout, self.settings.ReconnectMaxTimeout)
	for {
		ws, err := self.connect()
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				// fatal for this handle. surface and stop, no retry.
				glog.Infof("[t]%s %s handshake rejected = %s\n", self.kind, userId, err)
				self.emit(newStateEvent(ConnectionStateDisconnected, authErr))
				return
			}
			glog.Infof("[t]%s %s connect error = %s\n", self.kind, userId, err)
			self.setState(ConnectionStateReconnecting)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		reconnect.Reset()
		self.setState(ConnectionStateOpen)
		self.emit(newStateEvent(ConnectionStateOpen, nil))

		serveErr := self.serve(ws)
		ws.Close()

		select {
		case <-self.ctx.Done():
			return
		default:
		}

		if isPolicyViolation(serveErr) {
			// credential rejected mid-stream, e.g. expired
			glog.Infof("[t]%s %s closed unauthenticated = %s\n", self.kind, userId, serveErr)
			self.emit(newStateEvent(ConnectionStateDisconnected, &AuthError{Message: serveErr.Error()}))
			return
		}

		glog.Infof("[t]%s %s connection lost = %v\n", self.kind, userId, serveErr)
		self.setState(ConnectionStateReconnecting)
		self.emit(newStateEvent(ConnectionStateReconnecting, nil))
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func isPolicyViolation(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation
}

func (self *StreamTransport) connect() (*websocket.Conn, error) {
	self.setState(ConnectionStateConnecting)

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, response, err := dialer.DialContext(self.ctx, self.streamUrl, nil)
	if err != nil {
		if response != nil {
			switch response.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, &AuthError{
					Message: response.Status,
				}
			}
		}
		return nil, NewTransportError(err)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	self.setState(ConnectionStateAuthenticating)

	// credential as the first frame
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	credentialFrame := []byte(fmt.Sprintf("Bearer %s", self.auth.ByJwt))
	if err := ws.WriteMessage(websocket.TextMessage, credentialFrame); err != nil {
		return nil, NewTransportError(err)
	}

	if self.kind == StreamKindChat {
		// wait for the connected-status ack
		ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			if isPolicyViolation(err) {
				return nil, &AuthError{
					Message: err.Error(),
				}
			}
			return nil, NewTransportError(err)
		}
		event, err := DecodeChatFrame(message)
		if err != nil || event.Type != StreamEventTypeStatus {
			return nil, NewTransportError(fmt.Errorf("no handshake ack"))
		}
		glog.V(2).Infof("[t]%s handshake ack status=%s\n", self.kind, event.Status.Status)
	}

	success = true
	return ws, nil
}

// runs one established connection until it breaks. the returned error is the
// reason the connection ended.
func (self *StreamTransport) serve(ws *websocket.Conn) error {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// the server does not ping. keep the read side alive with protocol
	// pings and extend the deadline on each pong.
	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	var errLock sync.Mutex
	var serveErr error
	recordErr := func(err error) {
		errLock.Lock()
		if serveErr == nil {
			serveErr = err
		}
		errLock.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer handleCancel()

		for {
			if !self.drainSends(ws) {
				recordErr(fmt.Errorf("write failed"))
				return
			}
			select {
			case <-handleCtx.Done():
				return
			case <-self.sendNotify:
			case <-time.After(self.settings.PingTimeout):
				deadline := time.Now().Add(self.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					recordErr(err)
					return
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			_, message, err := ws.ReadMessage()
			if err != nil {
				recordErr(err)
				return
			}

			var event *StreamEvent
			switch self.kind {
			case StreamKindChat:
				event, err = DecodeChatFrame(message)
			default:
				event, err = DecodeNotificationFrame(message)
			}
			if err != nil {
				// logged and dropped, never fatal
				glog.Infof("[tr]%s malformed frame = %s\n", self.kind, err)
				continue
			}
			glog.V(2).Infof("[tr]%s<- %s\n", self.kind, event.Type)
			self.emit(event)
		}
	}()

	select {
	case <-handleCtx.Done():
	}

	// unblock the reader before waiting, or it can sit in ReadMessage
	ws.Close()
	wg.Wait()

	errLock.Lock()
	defer errLock.Unlock()
	return serveErr
}

// writes queued frames in order. a frame leaves the buffer only after a
// successful write, so unsent frames replay on the next connection.
func (self *StreamTransport) drainSends(ws *websocket.Conn) bool {
	for {
		self.stateLock.Lock()
		if len(self.sendBuffer) == 0 {
			self.stateLock.Unlock()
			return true
		}
		payload := self.sendBuffer[0]
		self.stateLock.Unlock()

		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			glog.Infof("[ts]%s-> error = %s\n", self.kind, err)
			return false
		}
		glog.V(2).Infof("[ts]%s->\n", self.kind)

		self.stateLock.Lock()
		if 0 < len(self.sendBuffer) {
			self.sendBuffer = self.sendBuffer[1:]
		}
		self.stateLock.Unlock()
	}
}
