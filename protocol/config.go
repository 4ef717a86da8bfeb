package protocol

import (
	"time"

	"go.uber.org/zap"

	"github.com/palisade-im/palisade-go/protocol/common"
)

type config struct {
	logger     *zap.Logger
	timesource common.TimeSource

	attachmentDownloader AttachmentDownloader
	closedGroupHandler   ClosedGroupHandler

	// recentMessagesTTL bounds the in-memory fast path of the
	// duplicate detector.
	recentMessagesTTL time.Duration
}

type Option func(*config) error

func WithCustomLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

func WithTimeSource(timesource common.TimeSource) Option {
	return func(c *config) error {
		c.timesource = timesource
		return nil
	}
}

func WithAttachmentDownloader(downloader AttachmentDownloader) Option {
	return func(c *config) error {
		c.attachmentDownloader = downloader
		return nil
	}
}

func WithClosedGroupHandler(handler ClosedGroupHandler) Option {
	return func(c *config) error {
		c.closedGroupHandler = handler
		return nil
	}
}

func WithRecentMessagesTTL(ttl time.Duration) Option {
	return func(c *config) error {
		c.recentMessagesTTL = ttl
		return nil
	}
}
