package protocol

import (
	"github.com/pkg/errors"

	"github.com/palisade-im/palisade-go/protocol/wire"
)

// NormalizeDataMessage validates a decrypted data message and cleans
// it up for downstream processing. A message may (generally) only
// perform one action; remaining fields after the first action are
// ignored. The payload is normalized in place and returned.
//
// Errors for which DiscardEnvelope reports true are fatal for this
// envelope: the caller must acknowledge and drop it, not retry.
func NormalizeDataMessage(envelope *wire.Envelope, payload *wire.DataMessage) (*wire.DataMessage, error) {
	if payload.Flags == wire.FlagExpirationTimerUpdate {
		payload.Body = ""
		payload.Attachments = nil
	} else if payload.Flags != 0 {
		return nil, discard(ErrUnknownFlags)
	}

	if payload.Group != nil {
		switch payload.Group.Type {
		case wire.GroupContextUpdate, wire.GroupContextQuit, wire.GroupContextRequestInfo:
			payload.Body = ""
			payload.Attachments = nil
		case wire.GroupContextDeliver:
			// Name, members and avatar travel via the dedicated
			// control channels, never in a plain delivery.
			payload.Group.Name = ""
			payload.Group.Members = nil
			payload.Group.Avatar = nil
		default:
			return nil, discard(ErrUnknownGroupType)
		}
	}

	if len(payload.Attachments) > wire.MaxAttachments {
		return nil, discard(errors.Wrapf(ErrTooManyAttachments, "%d attachments, max is %d", len(payload.Attachments), wire.MaxAttachments))
	}

	cleanAttachments(payload)

	// the payload never ships without a definite timestamp downstream
	if payload.Timestamp == 0 {
		payload.Timestamp = envelope.Timestamp
	}

	return payload, nil
}

// cleanAttachments converts every attachment, preview image, quote
// thumbnail and group avatar digest/key from wire bytes to their
// canonical base64 form.
func cleanAttachments(payload *wire.DataMessage) {
	if payload.Group != nil && payload.Group.Type == wire.GroupContextUpdate && payload.Group.Avatar != nil {
		payload.Group.Avatar.Clean()
	}

	for _, attachment := range payload.Attachments {
		attachment.Clean()
	}

	for _, preview := range payload.Preview {
		if preview.Image != nil {
			preview.Image.Clean()
		}
	}

	if payload.Quote != nil {
		for _, quoted := range payload.Quote.Attachments {
			if quoted.Thumbnail != nil {
				quoted.Thumbnail.Clean()
			}
		}
	}
}

// IsDataMessageEmpty reports whether a normalized payload carries
// nothing worth a message record. Empty messages are acknowledged and
// dropped without user-visible effect.
func IsDataMessageEmpty(payload *wire.DataMessage) bool {
	return payload.Flags == 0 &&
		payload.Body == "" &&
		len(payload.Attachments) == 0 &&
		payload.Group == nil &&
		payload.Quote == nil &&
		len(payload.Preview) == 0 &&
		payload.GroupInvitation == nil
}
