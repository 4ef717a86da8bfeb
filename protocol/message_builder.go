package protocol

import (
	"github.com/palisade-im/palisade-go/protocol/common"
	"github.com/palisade-im/palisade-go/protocol/wire"
)

// MessageCreationData bundles the delivery metadata needed to turn a
// normalized payload into a message record. It is built once per event
// and passed by value.
type MessageCreationData struct {
	Source       string
	Destination  string
	SourceDevice int

	// Timestamp is the sender send time, ReceivedAt the local
	// receipt time, in milliseconds.
	Timestamp  uint64
	ReceivedAt uint64

	Message     *wire.DataMessage
	MessageHash string

	// IsPublic marks a message from a server-backed public
	// conversation; ServerID and ServerTimestamp come with it.
	IsPublic        bool
	ServerID        int64
	ServerTimestamp uint64

	// ExpirationStartTimestamp only applies to synced outgoing
	// messages.
	ExpirationStartTimestamp uint64
}

func payloadFromDataMessage(message *wire.DataMessage) common.Payload {
	if message == nil {
		return common.Payload{}
	}
	return common.Payload{
		Attachments:     message.Attachments,
		Preview:         message.Preview,
		Quote:           message.Quote,
		GroupInvitation: message.GroupInvitation,
	}
}

func groupID(message *wire.DataMessage) string {
	if message == nil || message.Group == nil {
		return ""
	}
	return stripLegacyGroupPrefix(message.Group.ID)
}

// NewIncomingMessage builds the record for a message received from a
// peer.
func NewIncomingMessage(data MessageCreationData, timesource common.TimeSource) *common.Message {
	conversationID := groupID(data.Message)
	if conversationID == "" {
		conversationID = data.Source
	}

	receivedAt := data.ReceivedAt
	if receivedAt == 0 {
		receivedAt = timesource.GetCurrentTime()
	}

	message := common.Message{
		Direction:       common.DirectionIncoming,
		ConversationID:  conversationID,
		Source:          data.Source,
		SourceDevice:    data.SourceDevice,
		SentAt:          data.Timestamp,
		ReceivedAt:      receivedAt,
		Unread:          1,
		ServerID:        data.ServerID,
		ServerTimestamp: data.ServerTimestamp,
		IsPublic:        data.IsPublic,
		MessageHash:     data.MessageHash,
	}
	if data.Message != nil {
		message.Body = data.Message.Body
		message.Flags = data.Message.Flags
		message.ExpireTimer = data.Message.ExpireTimer
		message.Payload = payloadFromDataMessage(data.Message)
	}
	filled := common.ApplyDefaults(message)
	return &filled
}

// NewOutgoingMessage builds the record for a send mirrored from one of
// our own devices. Delivery confirmations fill the sent-to list later.
func NewOutgoingMessage(data MessageCreationData, localUserID string, timesource common.TimeSource) *common.Message {
	now := timesource.GetCurrentTime()

	conversationID := groupID(data.Message)
	if conversationID == "" {
		conversationID = data.Destination
	}

	// the expiry clock must never start in the future
	expirationStart := data.ExpirationStartTimestamp
	if expirationStart == 0 {
		expirationStart = data.Timestamp
	}
	if expirationStart == 0 || expirationStart > now {
		expirationStart = now
	}

	receivedAt := now
	if data.IsPublic {
		receivedAt = data.ReceivedAt
	}

	message := common.Message{
		Direction:                common.DirectionOutgoing,
		ConversationID:           conversationID,
		Source:                   localUserID,
		SourceDevice:             data.SourceDevice,
		SentAt:                   data.Timestamp,
		ReceivedAt:               receivedAt,
		Sent:                     true,
		SentTo:                   []string{},
		ExpirationStartTimestamp: expirationStart,
		ServerID:                 data.ServerID,
		ServerTimestamp:          data.ServerTimestamp,
		IsPublic:                 data.IsPublic,
		MessageHash:              data.MessageHash,
	}
	if data.Message != nil {
		message.Body = data.Message.Body
		message.Flags = data.Message.Flags
		message.ExpireTimer = data.Message.ExpireTimer
		message.Payload = payloadFromDataMessage(data.Message)
	}
	filled := common.ApplyDefaults(message)
	return &filled
}

// NewMessage dispatches on direction.
func NewMessage(data MessageCreationData, incoming bool, localUserID string, timesource common.TimeSource) *common.Message {
	if incoming {
		return NewIncomingMessage(data, timesource)
	}
	return NewOutgoingMessage(data, localUserID, timesource)
}
