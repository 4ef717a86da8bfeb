package protocol

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/palisade-im/palisade-go/protocol/common"
)

// maxTimeBetweenDuplicates bounds how far apart two peer-to-peer sends
// may be and still count as the same message. A record retimestamped
// further away than this is a genuinely new message even when body and
// sender match.
const maxTimeBetweenDuplicates = 10 * time.Second

// MessageLookup is the message-history collaborator used for duplicate
// detection.
type MessageLookup interface {
	MessageBySenderAndSentAt(source string, sentAt uint64) (*common.Message, error)
	MessageBySenderAndServerTimestamp(source string, serverTimestamp uint64) (*common.Message, error)
}

type deduplicator struct {
	lookup MessageLookup
	logger *zap.Logger

	// recent short-circuits the store lookup for messages delivered
	// again within the duplicate window, keyed by sender and send
	// timestamp.
	recent *ttlcache.Cache[string, string]
}

func newDeduplicator(lookup MessageLookup, logger *zap.Logger, ttl time.Duration) *deduplicator {
	if ttl == 0 {
		ttl = maxTimeBetweenDuplicates
	}
	cache := ttlcache.New[string, string](ttlcache.WithTTL[string, string](ttl))
	go cache.Start()
	return &deduplicator{
		lookup: lookup,
		logger: logger.With(zap.String("site", "deduplicator")),
		recent: cache,
	}
}

func (d *deduplicator) stop() {
	d.recent.Stop()
}

func recentKey(source string, sentAt uint64) string {
	return fmt.Sprintf("%s|%d", source, sentAt)
}

// MessageSeen records a committed message so redeliveries inside the
// duplicate window skip the store lookup.
func (d *deduplicator) MessageSeen(data MessageCreationData) {
	if data.ServerTimestamp != 0 || data.Message == nil {
		return
	}
	d.recent.Set(recentKey(data.Source, data.Timestamp), data.Message.Body, ttlcache.DefaultTTL)
}

// IsMessageDuplicate decides whether an equivalent message already
// exists. It never fails: on a lookup error it logs and returns false,
// preferring a possible duplicate delivery over a lost message.
func (d *deduplicator) IsMessageDuplicate(data MessageCreationData) bool {
	// Server-ordered transport: any record from the same sender with
	// the same server timestamp is the same event by construction;
	// the body is not compared.
	if data.ServerTimestamp != 0 {
		record, err := d.lookup.MessageBySenderAndServerTimestamp(data.Source, data.ServerTimestamp)
		if err != nil && err != common.ErrRecordNotFound {
			d.logger.Error("failed to look up message by server timestamp", zap.Error(err))
			return false
		}
		return record != nil
	}

	var body string
	if data.Message != nil {
		body = data.Message.Body
	}

	if item := d.recent.Get(recentKey(data.Source, data.Timestamp)); item != nil {
		if item.Value() == body {
			return true
		}
	}

	record, err := d.lookup.MessageBySenderAndSentAt(data.Source, data.Timestamp)
	if err != nil && err != common.ErrRecordNotFound {
		d.logger.Error("failed to look up message by sent timestamp", zap.Error(err))
		return false
	}
	if record == nil {
		return false
	}
	return isDuplicateOf(record, body, data.Source, data.Timestamp)
}

// isDuplicateOf applies the peer-to-peer duplicate rule: same sender,
// same body, and send timestamps no further apart than the duplicate
// window.
func isDuplicateOf(record *common.Message, body, source string, sentAt uint64) bool {
	sameSender := record.Source == source
	sameBody := record.Body == body

	var distance uint64
	if record.SentAt > sentAt {
		distance = record.SentAt - sentAt
	} else {
		distance = sentAt - record.SentAt
	}
	similarTimestamps := distance <= uint64(maxTimeBetweenDuplicates.Milliseconds())

	return sameSender && sameBody && similarTimestamps
}
