package protocol

import "github.com/pkg/errors"

var (
	// ErrUnknownFlags returned when a payload carries a flag
	// combination this client does not understand.
	ErrUnknownFlags = errors.New("unknown flags in message")
	// ErrUnknownGroupType returned when a group context carries an
	// unrecognized type tag.
	ErrUnknownGroupType = errors.New("unknown group message type")
	// ErrTooManyAttachments returned when a payload exceeds the
	// attachment cap.
	ErrTooManyAttachments = errors.New("too many attachments in message")
	// ErrSpoofedSyncMessage returned when a sync target is present
	// but the sender is not us.
	ErrSpoofedSyncMessage = errors.New("sync message from someone else than us")
	// ErrMissingConversationID returned when no conversation can be
	// derived for a message.
	ErrMissingConversationID = errors.New("no conversation id for message")
)

// discardError wraps a fatal per-envelope error and instructs the
// caller to evict the envelope from its retry cache instead of
// retrying it.
type discardError struct {
	err error
}

func (e discardError) Error() string { return e.err.Error() }

func (e discardError) Unwrap() error { return e.err }

func discard(err error) error {
	return discardError{err: err}
}

// DiscardEnvelope reports whether err is fatal for its envelope: the
// envelope must be acknowledged and dropped, never retried.
func DiscardEnvelope(err error) bool {
	var d discardError
	return errors.As(err, &d)
}
