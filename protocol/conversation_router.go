package protocol

import (
	"strings"

	"github.com/palisade-im/palisade-go/protocol/wire"
)

// ConversationType distinguishes one-to-one conversations from closed
// groups.
type ConversationType int

const (
	ConversationTypeDirect ConversationType = iota + 1
	ConversationTypeGroup
)

func (t ConversationType) String() string {
	if t == ConversationTypeGroup {
		return "group"
	}
	return "direct"
}

// IdentityProvider supplies the identity of the local user.
type IdentityProvider interface {
	LocalUserID() string
}

// legacyGroupPrefix is the protocol prefix older clients put in front
// of group ids inside a group context.
const legacyGroupPrefix = "__textsecure_group__!"

func stripLegacyGroupPrefix(id string) string {
	return strings.TrimPrefix(id, legacyGroupPrefix)
}

// Route is the result of deriving the target conversation for a data
// message.
type Route struct {
	ConversationID   string
	ConversationType ConversationType

	// Source is the effective author of the message: the group-relay
	// author override when present, the envelope sender otherwise.
	Source string
	// Destination is the conversation the send was for; only set on
	// sync messages mirrored from our own other devices.
	Destination string

	IsSyncMessage bool
	// FromLocalUser is true when the author is one of our own
	// devices.
	FromLocalUser bool
}

// RouteDataMessage derives the target conversation identity and type
// for a normalized payload.
//
// There are a few possible origins:
//   - a private conversation where the peer wrote to us: the
//     conversation is envelope.Source;
//   - a group conversation: envelope.Source is the group id and
//     envelope.SenderIdentity is the author;
//   - a sync message: envelope.Source is our own identity and
//     payload.SyncTarget names the conversation the send was for.
//
// On a valid sync message the envelope source is overridden in place
// with the sync target, so all downstream processing sees the target
// conversation. Group-id extraction has the highest precedence, then
// the sync-target override, then the plain source/destination
// fallback.
func RouteDataMessage(envelope *wire.Envelope, payload *wire.DataMessage, identity IdentityProvider) (*Route, error) {
	route := &Route{
		Source:        envelope.Source,
		IsSyncMessage: payload.SyncTarget != "",
	}
	if envelope.SenderIdentity != "" {
		route.Source = envelope.SenderIdentity
	}
	localUser := identity.LocalUserID()
	route.FromLocalUser = route.Source == localUser

	if route.IsSyncMessage {
		if !route.FromLocalUser {
			// a sync message impersonating someone else
			return nil, discard(ErrSpoofedSyncMessage)
		}
		envelope.Source = payload.SyncTarget
	}

	// Group messages relayed for us carry the author separately; the
	// envelope source is then the group itself.
	if envelope.SenderIdentity != "" && payload.Group == nil {
		payload.Group = &wire.GroupContext{
			ID:   envelope.Source,
			Type: wire.GroupContextDeliver,
		}
	}

	if route.FromLocalUser {
		route.Destination = envelope.Source
	}

	route.ConversationType = ConversationTypeDirect
	switch {
	case payload.Group != nil && payload.Group.ID != "":
		payload.Group.ID = stripLegacyGroupPrefix(payload.Group.ID)
		route.ConversationID = payload.Group.ID
		route.ConversationType = ConversationTypeGroup
	case route.FromLocalUser:
		// destination framing for synced sends; plain sends fall
		// back to the author
		route.ConversationID = route.Destination
		if route.ConversationID == "" {
			route.ConversationID = route.Source
		}
	default:
		// own-device echoes must not overwrite the destination
		// framing; everything else lands on the author
		route.ConversationID = route.Source
	}

	if route.ConversationID == "" {
		return nil, discard(ErrMissingConversationID)
	}
	return route, nil
}
