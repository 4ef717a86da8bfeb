package protocol

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/palisade-im/palisade-go/images"
	"github.com/palisade-im/palisade-go/protocol/wire"
)

// AttachmentDownloader fetches raw attachment bytes from a pointer
// (URL). Used here only for profile pictures.
type AttachmentDownloader interface {
	Download(ctx context.Context, pointer string) ([]byte, error)
}

// avatarNonceLength is the GCM nonce prepended to an encrypted
// profile picture.
const avatarNonceLength = 12

// DecryptProfileAvatar decrypts a downloaded profile picture with the
// sender-advertised profile key.
func DecryptProfileAvatar(data, profileKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(profileKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < avatarNonceLength {
		return nil, errors.New("encrypted avatar too short")
	}
	nonce, ciphertext := data[:avatarNonceLength], data[avatarNonceLength:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// profileUpdater refreshes the profile of a sender conversation in the
// background. Refreshes are keyed by conversation id with at most one
// in flight per key; a concurrent request joins the running one
// instead of racing it.
type profileUpdater struct {
	directory  *conversationDirectory
	downloader AttachmentDownloader
	logger     *zap.Logger

	// downloadTimeout bounds the retried avatar download.
	downloadTimeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup
}

func newProfileUpdater(directory *conversationDirectory, downloader AttachmentDownloader, logger *zap.Logger) *profileUpdater {
	return &profileUpdater{
		directory:       directory,
		downloader:      downloader,
		downloadTimeout: 30 * time.Second,
		logger:          logger.With(zap.String("site", "profileUpdater")),
	}
}

// UpdateAsync schedules a refresh of the conversation's profile and
// returns immediately. Failures are isolated and logged; they never
// affect message delivery.
func (u *profileUpdater) UpdateAsync(conversationID string, profile *wire.Profile, profileKey []byte) {
	if conversationID == "" {
		u.logger.Warn("cannot update profile with empty conversation id")
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		_, err, _ := u.group.Do(conversationID, func() (interface{}, error) {
			return nil, u.update(context.Background(), conversationID, profile, profileKey)
		})
		if err != nil {
			u.logger.Error("profile update failed",
				zap.String("conversationID", conversationID), zap.Error(err))
		}
	}()
}

// Wait blocks until all scheduled refreshes have finished.
func (u *profileUpdater) Wait() {
	u.wg.Wait()
}

func (u *profileUpdater) update(ctx context.Context, conversationID string, profile *wire.Profile, profileKey []byte) error {
	conversation, err := u.directory.GetOrCreateAndWait(ctx, conversationID, ConversationTypeDirect)
	if err != nil {
		return err
	}

	update := ProfileUpdate{
		DisplayName: profile.DisplayName,
		ProfileKey:  profileKey,
	}
	switch {
	case profile.AvatarPointer != "" && len(profileKey) > 0:
		if profile.AvatarPointer != conversation.AvatarPointer {
			if avatar := u.fetchAvatar(ctx, profile.AvatarPointer, profileKey); avatar != nil {
				// only commit the pointer when download and decrypt
				// succeeded
				update.Avatar = avatar
				update.AvatarPointer = profile.AvatarPointer
			}
		}
	case len(profileKey) > 0:
		// the profile no longer carries a picture
		update.ClearAvatar = true
	}

	// the display name updates even when the avatar could not be
	// fetched or decrypted
	return u.directory.SetProfile(conversationID, update)
}

func (u *profileUpdater) fetchAvatar(ctx context.Context, pointer string, profileKey []byte) []byte {
	if u.downloader == nil {
		u.logger.Debug("no attachment downloader configured, skipping avatar",
			zap.String("pointer", pointer))
		return nil
	}
	var downloaded []byte
	operation := func() error {
		var err error
		downloaded, err = u.downloader.Download(ctx, pointer)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = u.downloadTimeout
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		u.logger.Warn("failed to download avatar, it may have expired",
			zap.String("pointer", pointer), zap.Error(err))
		return nil
	}

	decrypted, err := DecryptProfileAvatar(downloaded, profileKey)
	if err != nil {
		u.logger.Error("could not decrypt profile image", zap.Error(err))
		return nil
	}

	scaled, err := images.ScaleDownAvatar(decrypted)
	if err != nil {
		u.logger.Error("could not scale down avatar", zap.Error(err))
		return nil
	}
	return scaled
}
