package connect

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// client-generated id for messages and correlation.
// ulid, so ids sort lexicographically by creation time and keep
// locally-originated entries in submit order.

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	u, err := ulid.ParseStrict(strings.TrimSpace(idStr))
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

func RequireId(idStr string) Id {
	id, err := ParseId(idStr)
	if err != nil {
		panic(err)
	}
	return id
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) Time() time.Time {
	return ulid.Time(ulid.ULID(self).Time())
}

func (self *Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + self.String() + `"`), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("invalid id: %s", string(src))
	}
	id, err := ParseId(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = id
	return nil
}

// the store is not consistent about user id casing across endpoints.
// every relationship lookup and outbound call goes through this.
func NormalizeUserId(userId string) string {
	return strings.ToLower(strings.TrimSpace(userId))
}

// unordered user pair that owns one conversation
// comparable
type ConversationKey struct {
	UserA string
	UserB string
}

func NewConversationKey(userA string, userB string) ConversationKey {
	a := NormalizeUserId(userA)
	b := NormalizeUserId(userB)
	if b < a {
		a, b = b, a
	}
	return ConversationKey{
		UserA: a,
		UserB: b,
	}
}

func (self ConversationKey) Includes(userId string) bool {
	userId = NormalizeUserId(userId)
	return self.UserA == userId || self.UserB == userId
}

func (self ConversationKey) Other(userId string) string {
	if NormalizeUserId(userId) == self.UserA {
		return self.UserB
	}
	return self.UserA
}

func (self ConversationKey) String() string {
	return fmt.Sprintf("%s<->%s", self.UserA, self.UserB)
}

type DeliveryState int

const (
	DeliveryStatePending DeliveryState = iota
	DeliveryStateConfirmed
	DeliveryStateFailed
)

func (self DeliveryState) String() string {
	switch self {
	case DeliveryStatePending:
		return "pending"
	case DeliveryStateConfirmed:
		return "confirmed"
	case DeliveryStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// the store emits timestamps both with and without a zone suffix,
// depending on the endpoint
type Timestamp struct {
	time.Time
}

func (self Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + self.UTC().Format(time.RFC3339Nano) + `"`), nil
}

func (self *Timestamp) UnmarshalJSON(src []byte) error {
	if string(src) == "null" {
		return nil
	}
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("invalid timestamp: %s", string(src))
	}
	s := string(src[1 : len(src)-1])
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			self.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp: %s", s)
}

// `chat-service` message document
type ChatMessage struct {
	MessageId     string    `json:"_id,omitempty"`
	SenderId      string    `json:"sender_id"`
	ReceiverId    string    `json:"receiver_id"`
	Content       string    `json:"content"`
	CreatedAt     Timestamp `json:"created_at,omitempty"`
	CorrelationId string    `json:"correlation_id,omitempty"`
}

func (self *ChatMessage) ConversationKey() ConversationKey {
	return NewConversationKey(self.SenderId, self.ReceiverId)
}

// `notification-service` notification document. append-only for the recipient.
type Notification struct {
	NotificationId string    `json:"_id,omitempty"`
	UserId         string    `json:"user_id"`
	Message        string    `json:"message"`
	Type           string    `json:"type,omitempty"`
	RelatedPostId  string    `json:"related_post_id,omitempty"`
	CreatedAt      Timestamp `json:"created_at,omitempty"`
}

// `user-service` user document
type User struct {
	UserId          string `json:"user_id"`
	Name            string `json:"name"`
	Bio             string `json:"bio,omitempty"`
	Email           string `json:"email,omitempty"`
	ProfileImageUrl string `json:"profile_image_url,omitempty"`
	CoverImageUrl   string `json:"cover_image_url,omitempty"`
}
