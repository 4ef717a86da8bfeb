// Package wire holds the decrypted transport types consumed by the
// protocol package. Decryption and envelope retrieval happen upstream;
// everything here arrives in cleartext.
package wire

import (
	"encoding/base64"
	"fmt"
)

// Flags bitmask values carried by a DataMessage.
const (
	// FlagExpirationTimerUpdate marks a message whose only purpose is
	// updating the disappearing-messages timer. Any other nonzero flag
	// value is unknown to this client.
	FlagExpirationTimerUpdate uint32 = 2
)

// MaxAttachments is the maximum number of attachments allowed in a
// single data message. A payload exceeding it is rejected whole.
const MaxAttachments = 32

// Envelope is the transport-level wrapper around a decrypted payload.
// It is treated as immutable once received, with one exception: Source
// is overridden in place when a valid sync-target applies.
type Envelope struct {
	// Source is the sender identity, or the group identity for
	// group-relayed deliveries.
	Source string
	// SenderIdentity is the author identity when the message was
	// relayed through a group; empty otherwise.
	SenderIdentity string
	// Timestamp is the sender-supplied send time, in milliseconds.
	Timestamp uint64
	// ReceivedAt is when this device received the envelope, in
	// milliseconds.
	ReceivedAt uint64
	// ServerID and ServerTimestamp are set only for server-ordered
	// transports, where the server assigns an authoritative ordering.
	ServerID        int64
	ServerTimestamp uint64
}

// ID returns a compact identifier used in logs.
func (e *Envelope) ID() string {
	return fmt.Sprintf("%s-%d", e.Source, e.Timestamp)
}

// GroupContextType tags the kind of group context travelling with a
// data message.
type GroupContextType int32

const (
	GroupContextUnknown GroupContextType = iota
	GroupContextUpdate
	GroupContextDeliver
	GroupContextQuit
	GroupContextRequestInfo
)

func (t GroupContextType) String() string {
	switch t {
	case GroupContextUpdate:
		return "update"
	case GroupContextDeliver:
		return "deliver"
	case GroupContextQuit:
		return "quit"
	case GroupContextRequestInfo:
		return "request-info"
	}
	return "unknown"
}

// Attachment is a pointer to an uploaded attachment. Key and Digest
// arrive as raw bytes; normalization converts them to their canonical
// base64 form and clears the binary fields.
type Attachment struct {
	ID            uint64  `json:"id"`
	ContentType   string  `json:"contentType,omitempty"`
	FileName      string  `json:"fileName,omitempty"`
	Size          uint32  `json:"size,omitempty"`
	URL           string  `json:"url,omitempty"`
	Key           []byte  `json:"-"`
	Digest        []byte  `json:"-"`
	EncodedKey    *string `json:"key,omitempty"`
	EncodedDigest *string `json:"digest,omitempty"`
}

// Clean converts the binary key and digest to base64. Absent values
// stay nil rather than becoming empty strings.
func (a *Attachment) Clean() {
	if len(a.Key) > 0 {
		encoded := base64.StdEncoding.EncodeToString(a.Key)
		a.EncodedKey = &encoded
	}
	if len(a.Digest) > 0 {
		encoded := base64.StdEncoding.EncodeToString(a.Digest)
		a.EncodedDigest = &encoded
	}
	a.Key = nil
	a.Digest = nil
}

// Preview is a link preview attached to a message.
type Preview struct {
	URL   string      `json:"url,omitempty"`
	Title string      `json:"title,omitempty"`
	Image *Attachment `json:"image,omitempty"`
}

// QuotedAttachment describes an attachment of the message being
// quoted, carrying at most a thumbnail.
type QuotedAttachment struct {
	ContentType string      `json:"contentType,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	Thumbnail   *Attachment `json:"thumbnail,omitempty"`
}

// Quote references an earlier message by author and send timestamp.
type Quote struct {
	// ID is the sent timestamp of the quoted message.
	ID          uint64              `json:"id"`
	Author      string              `json:"author"`
	Text        string              `json:"text,omitempty"`
	Attachments []*QuotedAttachment `json:"attachments,omitempty"`
}

// GroupContext carries closed-group information inside a data message.
type GroupContext struct {
	ID      string           `json:"id"`
	Type    GroupContextType `json:"type"`
	Name    string           `json:"name,omitempty"`
	Members []string         `json:"members,omitempty"`
	Avatar  *Attachment      `json:"avatar,omitempty"`
}

// Profile is the sender-advertised profile block.
type Profile struct {
	DisplayName   string `json:"displayName,omitempty"`
	AvatarPointer string `json:"avatarPointer,omitempty"`
}

// GroupInvitation is an invite to an open group server.
type GroupInvitation struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// ClosedGroupControlMessage is the closed-group sub-protocol payload
// (key rotation, membership changes). It is opaque to the data-message
// pipeline and is handed whole to the closed-group handler.
type ClosedGroupControlMessage struct {
	Type      int32    `json:"type"`
	PublicKey []byte   `json:"publicKey,omitempty"`
	Name      string   `json:"name,omitempty"`
	Members   [][]byte `json:"members,omitempty"`
	Admins    [][]byte `json:"admins,omitempty"`
	Payload   []byte   `json:"payload,omitempty"`
}

// DataMessage is a decrypted application-level message.
type DataMessage struct {
	Body        string        `json:"body,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	Preview     []*Preview    `json:"preview,omitempty"`
	Quote       *Quote        `json:"quote,omitempty"`
	Group       *GroupContext `json:"group,omitempty"`

	Flags       uint32 `json:"flags,omitempty"`
	ExpireTimer uint32 `json:"expireTimer,omitempty"`
	// Timestamp is the sender send time in milliseconds. Zero means
	// the sender did not set it; normalization copies the envelope
	// timestamp in that case.
	Timestamp uint64 `json:"timestamp,omitempty"`

	Profile    *Profile `json:"profile,omitempty"`
	ProfileKey []byte   `json:"profileKey,omitempty"`

	// SyncTarget is set on messages our own other devices send us to
	// mirror an outgoing send; it names the conversation the send was
	// for.
	SyncTarget string `json:"syncTarget,omitempty"`

	GroupInvitation           *GroupInvitation           `json:"groupInvitation,omitempty"`
	ClosedGroupControlMessage *ClosedGroupControlMessage `json:"closedGroupControlMessage,omitempty"`
}
