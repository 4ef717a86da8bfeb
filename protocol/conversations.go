package protocol

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/palisade-im/palisade-go/protocol/common"
)

// Conversation is the directory's handle for a single counterparty or
// group.
type Conversation struct {
	ID   string
	Type ConversationType

	// Sender-advertised profile of the counterparty.
	DisplayName   string
	AvatarPointer string
	ProfileKey    []byte
	// Avatar is the decrypted, downscaled profile picture.
	Avatar []byte

	CreatedAt uint64
}

// ConversationDirectory looks up or creates conversation handles. It
// is shared across all conversation queues; get-or-create never
// duplicates a conversation for the same id.
type ConversationDirectory interface {
	// GetOrCreate returns the handle immediately; a newly created
	// conversation is persisted in the background.
	GetOrCreate(id string, conversationType ConversationType) (*Conversation, error)
	// GetOrCreateAndWait suspends until a newly created conversation
	// has settled in the store.
	GetOrCreateAndWait(ctx context.Context, id string, conversationType ConversationType) (*Conversation, error)
}

type conversationDirectory struct {
	mu            sync.Mutex
	conversations map[string]*Conversation

	persistence *sqlitePersistence
	timesource  common.TimeSource
	logger      *zap.Logger
}

func newConversationDirectory(persistence *sqlitePersistence, timesource common.TimeSource, logger *zap.Logger) *conversationDirectory {
	return &conversationDirectory{
		conversations: make(map[string]*Conversation),
		persistence:   persistence,
		timesource:    timesource,
		logger:        logger.With(zap.String("site", "conversations")),
	}
}

// getOrCreate returns the handle and whether it was newly created. The
// caller decides how the creation is persisted.
func (d *conversationDirectory) getOrCreate(id string, conversationType ConversationType) (*Conversation, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conversation, ok := d.conversations[id]; ok {
		return conversation, false, nil
	}

	conversation, err := d.persistence.ConversationByID(id)
	switch err {
	case nil:
		d.conversations[id] = conversation
		return conversation, false, nil
	case common.ErrRecordNotFound:
	default:
		return nil, false, err
	}

	conversation = &Conversation{
		ID:        id,
		Type:      conversationType,
		CreatedAt: d.timesource.GetCurrentTime(),
	}
	d.conversations[id] = conversation
	return conversation, true, nil
}

func (d *conversationDirectory) GetOrCreate(id string, conversationType ConversationType) (*Conversation, error) {
	conversation, created, err := d.getOrCreate(id, conversationType)
	if err != nil {
		return nil, err
	}
	if created {
		go func() {
			if err := d.persistence.SaveConversation(conversation); err != nil {
				d.logger.Error("failed to persist conversation",
					zap.String("conversationID", id), zap.Error(err))
			}
		}()
	}
	return conversation, nil
}

func (d *conversationDirectory) GetOrCreateAndWait(ctx context.Context, id string, conversationType ConversationType) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversation, created, err := d.getOrCreate(id, conversationType)
	if err != nil {
		return nil, err
	}
	if created {
		if err := d.persistence.SaveConversation(conversation); err != nil {
			return nil, err
		}
	}
	return conversation, nil
}

// ProfileUpdate is the outcome of a profile refresh applied to a
// conversation.
type ProfileUpdate struct {
	DisplayName   string
	AvatarPointer string
	ProfileKey    []byte
	Avatar        []byte
	// ClearAvatar removes the stored picture; set when the sender's
	// profile no longer carries one.
	ClearAvatar bool
}

// SetProfile updates the counterparty profile of a conversation and
// commits it. A nil avatar leaves the stored avatar untouched unless
// ClearAvatar is set.
func (d *conversationDirectory) SetProfile(id string, update ProfileUpdate) error {
	d.mu.Lock()
	conversation, ok := d.conversations[id]
	if !ok {
		d.mu.Unlock()
		return common.ErrRecordNotFound
	}
	conversation.DisplayName = update.DisplayName
	if update.AvatarPointer != "" {
		conversation.AvatarPointer = update.AvatarPointer
	}
	if len(update.ProfileKey) > 0 {
		conversation.ProfileKey = update.ProfileKey
	}
	if update.Avatar != nil {
		conversation.Avatar = update.Avatar
	}
	if update.ClearAvatar {
		conversation.Avatar = nil
		conversation.AvatarPointer = ""
	}
	snapshot := *conversation
	d.mu.Unlock()

	return d.persistence.SaveConversation(&snapshot)
}

// SetProfileKey stores the sender's profile key on its conversation.
func (d *conversationDirectory) SetProfileKey(id string, profileKey []byte) error {
	d.mu.Lock()
	conversation, ok := d.conversations[id]
	if !ok {
		d.mu.Unlock()
		return common.ErrRecordNotFound
	}
	conversation.ProfileKey = profileKey
	snapshot := *conversation
	d.mu.Unlock()

	return d.persistence.SaveConversation(&snapshot)
}
