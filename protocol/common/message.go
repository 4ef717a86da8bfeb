package common

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-im/palisade-go/protocol/wire"
)

// ErrRecordNotFound returned when a record is not found.
var ErrRecordNotFound = errors.New("record not found")

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// DeliveryStatus tracks the delivery lifecycle of an outgoing message.
type DeliveryStatus string

const (
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
	StatusRead    DeliveryStatus = "read"
	StatusError   DeliveryStatus = "error"
)

// SourceDevice is the device index used by this protocol; it never
// varies.
const SourceDevice = 1

// GroupUpdate describes a membership change rendered as a system
// message inside a group conversation.
type GroupUpdate struct {
	Joined []string `json:"joined,omitempty"`
	Left   []string `json:"left,omitempty"`
	Kicked []string `json:"kicked,omitempty"`
	Name   string   `json:"name,omitempty"`
}

// DataExtractionNotification is shown when a recipient screenshots or
// saves an attachment we sent.
type DataExtractionNotification struct {
	Type                          int32  `json:"type"`
	Source                        string `json:"source"`
	ReferencedAttachmentTimestamp uint64 `json:"referencedAttachmentTimestamp"`
}

// Payload groups the optional structured sub-objects of a message. It
// is stored as a single JSON column, which is also where legacy
// delivery-tracking fields from the previous schema may still linger.
type Payload struct {
	Attachments          []*wire.Attachment          `json:"attachments,omitempty"`
	Preview              []*wire.Preview             `json:"preview,omitempty"`
	Quote                *wire.Quote                 `json:"quote,omitempty"`
	GroupInvitation      *wire.GroupInvitation       `json:"groupInvitation,omitempty"`
	GroupUpdate          *GroupUpdate                `json:"groupUpdate,omitempty"`
	Extraction           *DataExtractionNotification `json:"dataExtractionNotification,omitempty"`
	CallNotificationType string                      `json:"callNotificationType,omitempty"`
}

// Message represents a message record in the database, more
// specifically in the user_messages table.
type Message struct {
	// ID is unique across all conversations; generated when absent.
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Direction      Direction      `json:"direction"`
	Status         DeliveryStatus `json:"status,omitempty"`

	// Source is the author identity. SourceDevice is constant for
	// this protocol.
	Source       string `json:"source"`
	SourceDevice int    `json:"sourceDevice"`

	// SentAt is the sender timestamp, ReceivedAt the local receipt
	// time, both in milliseconds.
	SentAt     uint64 `json:"sentAt"`
	ReceivedAt uint64 `json:"receivedAt"`

	Body  string `json:"body,omitempty"`
	Flags uint32 `json:"flags,omitempty"`

	// Unread is 1 for unread; any other value means read.
	Unread int      `json:"unread"`
	ReadBy []string `json:"readBy,omitempty"`

	ExpireTimer              uint32 `json:"expireTimer"`
	ExpirationStartTimestamp uint64 `json:"expirationStartTimestamp,omitempty"`
	ExpiresAt                uint64 `json:"expiresAt,omitempty"`

	// ServerID and ServerTimestamp are only set for messages that
	// went through a server-ordered conversation; the server
	// timestamp is authoritative for ordering there.
	ServerID        int64  `json:"serverId,omitempty"`
	ServerTimestamp uint64 `json:"serverTimestamp,omitempty"`
	IsPublic        bool   `json:"isPublic"`

	// Sent/SentTo are filled by delivery confirmations. Synced and
	// SentSync track the multi-device mirror of an outgoing send.
	Sent     bool     `json:"sent,omitempty"`
	SentTo   []string `json:"sentTo,omitempty"`
	Synced   bool     `json:"synced,omitempty"`
	SentSync bool     `json:"sentSync,omitempty"`

	// MessageHash is the transport authentication hash, used for
	// unsend requests.
	MessageHash string `json:"messageHash,omitempty"`

	Deleted bool `json:"deleted,omitempty"`

	Payload Payload `json:"payload,omitempty"`
}

// IsUnread reports whether the record counts as unread. Only the exact
// value 1 does.
func (m *Message) IsUnread() bool {
	return m.Unread == 1
}

// ApplyDefaults returns a copy of explicit with the optional fields
// filled in: a generated unique id, expire timer 0 and unread 0.
// Explicit values always win; the argument is never mutated.
func ApplyDefaults(explicit Message) Message {
	m := explicit
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.SourceDevice == 0 {
		m.SourceDevice = SourceDevice
	}
	// Unread and ExpireTimer already default to their zero values;
	// they are part of this contract all the same.
	return m
}

// MigrateLegacyPayload strips delivery-tracking fields written by a
// previous schema version from a serialized payload. It is run once
// whenever a record is loaded, so stored records self-heal on their
// next write.
func MigrateLegacyPayload(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	_, hadDelivered := fields["delivered"]
	_, hadDeliveredTo := fields["delivered_to"]
	if !hadDelivered && !hadDeliveredTo {
		return data
	}
	delete(fields, "delivered")
	delete(fields, "delivered_to")
	migrated, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return migrated
}

// TimeSource abstracts the wall clock so expiration arithmetic can be
// tested deterministically.
type TimeSource interface {
	// GetCurrentTime returns the current time in milliseconds.
	GetCurrentTime() uint64
}

type wallClock struct{}

func (wallClock) GetCurrentTime() uint64 {
	return uint64(time.Now().UnixMilli())
}

// WallClock returns a TimeSource backed by time.Now.
func WallClock() TimeSource {
	return wallClock{}
}
