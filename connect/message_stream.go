package connect

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// merges locally-originated optimistic entries with server-echoed entries
// arriving over the stream or via backfill into one deduplicated,
// causally-ordered sequence per conversation.
//
// a pending entry is promoted to confirmed or failed. it is never silently
// dropped, and a failed entry is never auto-retried; re-submission is an
// explicit caller action.

type MessageStreamSettings struct {
	// a pending entry with no matching echo within this window fails
	PendingTimeout time.Duration
}

func DefaultMessageStreamSettings() *MessageStreamSettings {
	return &MessageStreamSettings{
		PendingTimeout: 30 * time.Second,
	}
}

type MessageEntry struct {
	// server id, set on confirmation or backfill
	MessageId     string
	CorrelationId string
	SenderId      string
	ReceiverId    string
	Content       string
	CreatedAt     time.Time
	State         DeliveryState

	submittedAt time.Time
	sequence    uint64
}

// effective ordering time: server timestamp when confirmed,
// local submit time otherwise
func (self *MessageEntry) orderTime() time.Time {
	if !self.CreatedAt.IsZero() {
		return self.CreatedAt
	}
	return self.submittedAt
}

type MessageStream struct {
	key    ConversationKey
	userId string

	// optional dispatch paths. nil in pure-state use (tests).
	transport *StreamTransport
	api       *VoxApi

	settings *MessageStreamSettings

	log LogFunction

	stateLock    sync.Mutex
	entries      []*MessageEntry
	nextSequence uint64
}

func NewMessageStreamWithDefaults(userId string, peerId string) *MessageStream {
	return NewMessageStream(userId, peerId, nil, nil, DefaultMessageStreamSettings())
}

func NewMessageStream(
	userId string,
	peerId string,
	transport *StreamTransport,
	api *VoxApi,
	settings *MessageStreamSettings,
) *MessageStream {
	key := NewConversationKey(userId, peerId)
	return &MessageStream{
		key:       key,
		userId:    NormalizeUserId(userId),
		transport: transport,
		api:       api,
		settings:  settings,
		log:       LogFn("[s]" + key.String()),
	}
}

func (self *MessageStream) Key() ConversationKey {
	return self.key
}

// appends an optimistic pending entry and dispatches it: over the live
// stream when open, else via the request gateway. returns the correlation
// id used to match the server echo.
func (self *MessageStream) SubmitLocal(content string) (Id, error) {
	if content == "" {
		return Id{}, &ValidationError{
			Message: "empty message content",
		}
	}
	receiverId := self.key.Other(self.userId)
	if receiverId == "" || receiverId == self.userId {
		return Id{}, &ValidationError{
			Message: "missing receiver",
		}
	}

	correlationId := NewId()
	now := time.Now()

	self.stateLock.Lock()
	entry := &MessageEntry{
		CorrelationId: correlationId.String(),
		SenderId:      self.userId,
		ReceiverId:    receiverId,
		Content:       content,
		State:         DeliveryStatePending,
		submittedAt:   now,
		sequence:      self.nextSequence,
	}
	self.nextSequence += 1
	self.entries = append(self.entries, entry)
	self.stateLock.Unlock()

	self.dispatch(entry)
	return correlationId, nil
}

func (self *MessageStream) dispatch(entry *MessageEntry) {
	message := &ChatMessage{
		SenderId:      entry.SenderId,
		ReceiverId:    entry.ReceiverId,
		Content:       entry.Content,
		CorrelationId: entry.CorrelationId,
	}
	if self.transport != nil && self.transport.IsOpen() {
		if frameBytes, err := EncodeMessageFrame(message); err == nil {
			if self.transport.Send(frameBytes) {
				self.log("submit %s via stream", entry.CorrelationId)
				return
			}
		}
	}
	if self.api != nil {
		self.log("submit %s via gateway", entry.CorrelationId)
		self.api.SendChatMessage(
			&SendChatMessageArgs{
				SenderId:      entry.SenderId,
				ReceiverId:    entry.ReceiverId,
				Content:       entry.Content,
				CorrelationId: entry.CorrelationId,
			},
			// the echo arrives over the stream or via backfill
			NewNoopApiCallback[*SendChatMessageResult](),
		)
	}
}

// receives one entry from the live stream or a poll. an incoming entry
// matches a pending local entry when sender, receiver, content, and the
// correlation id (when present) match; on match the pending entry is
// promoted with the server's authoritative id and timestamp. entries with
// no matching placeholder append directly as confirmed.
func (self *MessageStream) IngestRemote(message *ChatMessage) {
	if !self.key.Includes(message.SenderId) || !self.key.Includes(message.ReceiverId) {
		self.log("ignore message outside conversation")
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// already known by server id
	if message.MessageId != "" {
		for _, entry := range self.entries {
			if entry.MessageId == message.MessageId {
				return
			}
		}
	}

	if entry := self.matchPendingLocked(message); entry != nil {
		self.promoteLocked(entry, message)
		return
	}

	self.appendConfirmedLocked(message)
}

func (self *MessageStream) matchPendingLocked(message *ChatMessage) *MessageEntry {
	senderId := NormalizeUserId(message.SenderId)
	receiverId := NormalizeUserId(message.ReceiverId)
	for _, entry := range self.entries {
		if entry.State != DeliveryStatePending {
			continue
		}
		if entry.SenderId != senderId || entry.ReceiverId != receiverId {
			continue
		}
		if entry.Content != message.Content {
			continue
		}
		if message.CorrelationId != "" && entry.CorrelationId != message.CorrelationId {
			continue
		}
		return entry
	}
	return nil
}

func (self *MessageStream) promoteLocked(entry *MessageEntry, message *ChatMessage) {
	entry.MessageId = message.MessageId
	if !message.CreatedAt.IsZero() {
		entry.CreatedAt = message.CreatedAt.Time
	}
	entry.State = DeliveryStateConfirmed
	self.log("promote %s -> %s", entry.CorrelationId, entry.MessageId)
}

func (self *MessageStream) appendConfirmedLocked(message *ChatMessage) {
	entry := &MessageEntry{
		MessageId:     message.MessageId,
		CorrelationId: message.CorrelationId,
		SenderId:      NormalizeUserId(message.SenderId),
		ReceiverId:    NormalizeUserId(message.ReceiverId),
		Content:       message.Content,
		CreatedAt:     message.CreatedAt.Time,
		State:         DeliveryStateConfirmed,
		submittedAt:   time.Now(),
		sequence:      self.nextSequence,
	}
	self.nextSequence += 1
	self.entries = append(self.entries, entry)
}

// merges a batch of historical entries fetched on reconnect or initial
// load. union by identity (server id when present, else correlation id),
// duplicates collapsed. idempotent.
func (self *MessageStream) Backfill(messages []*ChatMessage) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	byMessageId := map[string]*MessageEntry{}
	byCorrelationId := map[string]*MessageEntry{}
	for _, entry := range self.entries {
		if entry.MessageId != "" {
			byMessageId[entry.MessageId] = entry
		}
		if entry.CorrelationId != "" {
			byCorrelationId[entry.CorrelationId] = entry
		}
	}

	for _, message := range messages {
		if !self.key.Includes(message.SenderId) || !self.key.Includes(message.ReceiverId) {
			continue
		}
		if message.MessageId != "" {
			if _, ok := byMessageId[message.MessageId]; ok {
				continue
			}
		}
		if message.CorrelationId != "" {
			if entry, ok := byCorrelationId[message.CorrelationId]; ok {
				if entry.State == DeliveryStatePending {
					self.promoteLocked(entry, message)
					if entry.MessageId != "" {
						byMessageId[entry.MessageId] = entry
					}
				}
				continue
			}
		}
		if entry := self.matchPendingLocked(message); entry != nil {
			self.promoteLocked(entry, message)
			if entry.MessageId != "" {
				byMessageId[entry.MessageId] = entry
			}
			continue
		}
		self.appendConfirmedLocked(message)
		entry := self.entries[len(self.entries)-1]
		if entry.MessageId != "" {
			byMessageId[entry.MessageId] = entry
		}
		if entry.CorrelationId != "" {
			byCorrelationId[entry.CorrelationId] = entry
		}
	}
}

// the materialized, causally-ordered sequence for display. snapshot copies;
// no side effects.
func (self *MessageStream) Reconcile() []*MessageEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	ordered := make([]*MessageEntry, len(self.entries))
	for i, entry := range self.entries {
		entryCopy := *entry
		ordered[i] = &entryCopy
	}
	sort.SliceStable(ordered, func(i int, j int) bool {
		a := ordered[i].orderTime()
		b := ordered[j].orderTime()
		if a.Equal(b) {
			return ordered[i].sequence < ordered[j].sequence
		}
		return a.Before(b)
	})
	return ordered
}

// pending entries older than the timeout fail. returns the newly failed
// entries.
func (self *MessageStream) FailExpired(now time.Time) []*MessageEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	failed := []*MessageEntry{}
	for _, entry := range self.entries {
		if entry.State != DeliveryStatePending {
			continue
		}
		if self.settings.PendingTimeout <= now.Sub(entry.submittedAt) {
			entry.State = DeliveryStateFailed
			glog.Infof("[s]%s entry %s failed, no echo\n", self.key, entry.CorrelationId)
			entryCopy := *entry
			failed = append(failed, &entryCopy)
		}
	}
	return failed
}
