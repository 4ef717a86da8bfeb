package protocol

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/palisade-im/palisade-go/protocol/common"
	"github.com/palisade-im/palisade-go/protocol/wire"
)

// ClosedGroupHandler receives the closed-group sub-protocol messages
// travelling inside data messages (key rotations, membership changes).
// The handler takes over the envelope, including calling confirm once
// the control message has been processed.
type ClosedGroupHandler interface {
	HandleClosedGroupControlMessage(ctx context.Context, envelope *wire.Envelope, message *wire.ClosedGroupControlMessage, confirm func()) error
}

// Messenger drives the incoming data-message pipeline: payload
// normalization, conversation routing, record building, duplicate
// detection and per-conversation commit scheduling.
type Messenger struct {
	identity IdentityProvider

	persistence  *sqlitePersistence
	directory    *conversationDirectory
	scheduler    *Scheduler
	deduplicator *deduplicator
	profiles     *profileUpdater

	closedGroupHandler ClosedGroupHandler

	timesource common.TimeSource
	logger     *zap.Logger

	shutdownTasks []func() error
}

func NewMessenger(db *sql.DB, identity IdentityProvider, opts ...Option) (*Messenger, error) {
	c := config{
		timesource: common.WallClock(),
	}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, err
		}
	}

	logger := c.logger
	if logger == nil {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, errors.Wrap(err, "failed to create a logger")
		}
	}

	persistence, err := newSQLitePersistence(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize the message store")
	}

	directory := newConversationDirectory(persistence, c.timesource, logger)
	scheduler := NewScheduler(logger)
	dedup := newDeduplicator(persistence, logger, c.recentMessagesTTL)
	profiles := newProfileUpdater(directory, c.attachmentDownloader, logger)

	messenger := &Messenger{
		identity:           identity,
		persistence:        persistence,
		directory:          directory,
		scheduler:          scheduler,
		deduplicator:       dedup,
		profiles:           profiles,
		closedGroupHandler: c.closedGroupHandler,
		timesource:         c.timesource,
		logger:             logger.With(zap.String("site", "messenger")),
	}
	messenger.shutdownTasks = []func() error{
		func() error { scheduler.Stop(); return nil },
		func() error { profiles.Wait(); return nil },
		func() error { dedup.stop(); return nil },
	}
	return messenger, nil
}

// Conversations exposes the conversation directory.
func (m *Messenger) Conversations() ConversationDirectory {
	return m.directory
}

// MessagesByConversationID returns the newest messages of a
// conversation, most recent first.
func (m *Messenger) MessagesByConversationID(conversationID string, limit int) ([]*common.Message, error) {
	return m.persistence.MessagesByConversationID(conversationID, limit)
}

// MarkAllRead marks every unread message of a conversation as read and
// returns how many were affected.
func (m *Messenger) MarkAllRead(conversationID string) (int64, error) {
	return m.persistence.MarkAllRead(conversationID)
}

// HandleDataMessage runs one decrypted data message through the
// pipeline. confirm acknowledges the envelope to the transport retry
// cache; it is called exactly once for every envelope that must not be
// redelivered, including payloads this client rejects outright. A
// transient failure leaves the envelope unconfirmed so the transport
// delivers it again.
func (m *Messenger) HandleDataMessage(ctx context.Context, envelope *wire.Envelope, payload *wire.DataMessage, messageHash string, confirm func()) error {
	var once sync.Once
	confirmOnce := func() {
		once.Do(confirm)
	}

	logger := m.logger.With(zap.String("envelopeID", envelope.ID()))

	if payload.ClosedGroupControlMessage != nil {
		if m.closedGroupHandler == nil {
			logger.Warn("dropping closed group control message, no handler configured")
			confirmOnce()
			return nil
		}
		return m.closedGroupHandler.HandleClosedGroupControlMessage(ctx, envelope, payload.ClosedGroupControlMessage, confirmOnce)
	}

	normalized, err := NormalizeDataMessage(envelope, payload)
	if err != nil {
		if DiscardEnvelope(err) {
			logger.Warn("discarding malformed data message", zap.Error(err))
			confirmOnce()
		}
		return err
	}

	// Emptiness is a property of the payload as the sender shipped it;
	// it must be decided before routing, which injects a group context
	// for relayed envelopes.
	empty := IsDataMessageEmpty(normalized)

	route, err := RouteDataMessage(envelope, normalized, m.identity)
	if err != nil {
		if DiscardEnvelope(err) {
			logger.Warn("discarding unroutable data message", zap.Error(err))
			confirmOnce()
		}
		return err
	}

	// The author's one-to-one conversation must exist before anything
	// else; it anchors the profile and profile key. A directory
	// failure is fatal for the envelope, never for the pipeline.
	if _, err := m.directory.GetOrCreateAndWait(ctx, route.Source, ConversationTypeDirect); err != nil {
		logger.Warn("failed to get or create the sender conversation", zap.Error(err))
		confirmOnce()
		return errors.Wrap(err, "failed to get or create the sender conversation")
	}

	if !route.FromLocalUser && normalized.Profile != nil {
		m.profiles.UpdateAsync(route.Source, normalized.Profile, normalized.ProfileKey)
	}

	if empty {
		logger.Debug("dropping empty data message")
		confirmOnce()
		return nil
	}

	m.applyProfileKey(ctx, route, normalized.ProfileKey, logger)

	data := MessageCreationData{
		Source:          route.Source,
		Destination:     route.Destination,
		SourceDevice:    common.SourceDevice,
		Timestamp:       normalized.Timestamp,
		ReceivedAt:      envelope.ReceivedAt,
		Message:         normalized,
		MessageHash:     messageHash,
		ServerID:        envelope.ServerID,
		ServerTimestamp: envelope.ServerTimestamp,
	}
	record := NewMessage(data, !route.FromLocalUser, m.identity.LocalUserID(), m.timesource)

	if _, err := m.directory.GetOrCreateAndWait(ctx, route.ConversationID, route.ConversationType); err != nil {
		logger.Warn("failed to get or create the target conversation", zap.Error(err))
		confirmOnce()
		return errors.Wrap(err, "failed to get or create the target conversation")
	}

	return m.scheduler.Enqueue(route.ConversationID, func() {
		m.commitMessage(data, record, logger, confirmOnce)
	})
}

// commitMessage runs on the conversation queue, so commits for one
// conversation are strictly serialized.
func (m *Messenger) commitMessage(data MessageCreationData, record *common.Message, logger *zap.Logger, confirm func()) {
	if m.deduplicator.IsMessageDuplicate(data) {
		logger.Debug("skipping duplicate message",
			zap.String("conversationID", record.ConversationID))
		confirm()
		return
	}

	if err := m.persistence.SaveMessage(record); err != nil {
		// leave unconfirmed so the transport redelivers
		logger.Error("failed to save message", zap.Error(err))
		return
	}
	m.deduplicator.MessageSeen(data)
	confirm()
}

// applyProfileKey stores a sender-advertised profile key on the right
// conversation: our own when the message came from one of our devices,
// the author's otherwise. Failures are logged, not fatal; a later
// message carries the key again.
func (m *Messenger) applyProfileKey(ctx context.Context, route *Route, profileKey []byte, logger *zap.Logger) {
	if len(profileKey) == 0 {
		return
	}
	target := route.Source
	if route.FromLocalUser {
		target = m.identity.LocalUserID()
		if _, err := m.directory.GetOrCreateAndWait(ctx, target, ConversationTypeDirect); err != nil {
			logger.Warn("failed to get or create own conversation", zap.Error(err))
			return
		}
	}
	if err := m.directory.SetProfileKey(target, profileKey); err != nil {
		logger.Warn("failed to store profile key",
			zap.String("conversationID", target), zap.Error(err))
	}
}

// Stop shuts the pipeline down, waiting for queued commits and
// in-flight profile refreshes.
func (m *Messenger) Stop() error {
	var err error
	for _, task := range m.shutdownTasks {
		err = multierr.Append(err, task())
	}
	return err
}
