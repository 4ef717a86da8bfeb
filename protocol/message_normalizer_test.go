package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/palisade-im/palisade-go/protocol/wire"
)

type MessageNormalizerSuite struct {
	suite.Suite
}

func TestMessageNormalizerSuite(t *testing.T) {
	suite.Run(t, new(MessageNormalizerSuite))
}

func testEnvelope() *wire.Envelope {
	return &wire.Envelope{
		Source:     "051111111111111111111111111111111111111111111111111111111111111111",
		Timestamp:  1000,
		ReceivedAt: 2000,
	}
}

func (s *MessageNormalizerSuite) TestExpirationTimerUpdateClearsContent() {
	payload := &wire.DataMessage{
		Flags:       wire.FlagExpirationTimerUpdate,
		Body:        "ignored",
		Attachments: []*wire.Attachment{{ID: 1}},
		ExpireTimer: 3600,
	}

	normalized, err := NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)
	s.Require().Empty(normalized.Body)
	s.Require().Empty(normalized.Attachments)
	s.Require().Equal(uint32(3600), normalized.ExpireTimer)
}

func (s *MessageNormalizerSuite) TestUnknownFlags() {
	for _, flags := range []uint32{1, 3, 4, 8, wire.FlagExpirationTimerUpdate | 4} {
		payload := &wire.DataMessage{Flags: flags, Body: "hi"}
		_, err := NormalizeDataMessage(testEnvelope(), payload)
		s.Require().ErrorIs(err, ErrUnknownFlags)
		s.Require().True(DiscardEnvelope(err))
	}
}

func (s *MessageNormalizerSuite) TestGroupContextDispatch() {
	testCases := []struct {
		Name          string
		Type          wire.GroupContextType
		WantErr       error
		ClearsContent bool
		StripsGroup   bool
	}{
		{Name: "update clears content", Type: wire.GroupContextUpdate, ClearsContent: true},
		{Name: "quit clears content", Type: wire.GroupContextQuit, ClearsContent: true},
		{Name: "request info clears content", Type: wire.GroupContextRequestInfo, ClearsContent: true},
		{Name: "deliver strips group metadata", Type: wire.GroupContextDeliver, StripsGroup: true},
		{Name: "unknown type rejected", Type: wire.GroupContextUnknown, WantErr: ErrUnknownGroupType},
		{Name: "out of range type rejected", Type: wire.GroupContextType(42), WantErr: ErrUnknownGroupType},
	}

	for _, tc := range testCases {
		s.Run(tc.Name, func() {
			payload := &wire.DataMessage{
				Body:        "body",
				Attachments: []*wire.Attachment{{ID: 1}},
				Group: &wire.GroupContext{
					ID:      "group-id",
					Type:    tc.Type,
					Name:    "name",
					Members: []string{"member"},
					Avatar:  &wire.Attachment{ID: 2},
				},
			}

			normalized, err := NormalizeDataMessage(testEnvelope(), payload)
			if tc.WantErr != nil {
				s.Require().ErrorIs(err, tc.WantErr)
				s.Require().True(DiscardEnvelope(err))
				return
			}
			s.Require().NoError(err)
			if tc.ClearsContent {
				s.Require().Empty(normalized.Body)
				s.Require().Empty(normalized.Attachments)
			}
			if tc.StripsGroup {
				s.Require().Empty(normalized.Group.Name)
				s.Require().Empty(normalized.Group.Members)
				s.Require().Nil(normalized.Group.Avatar)
				s.Require().Equal("body", normalized.Body)
			}
		})
	}
}

func (s *MessageNormalizerSuite) TestTooManyAttachments() {
	payload := &wire.DataMessage{}
	for i := 0; i < wire.MaxAttachments+1; i++ {
		payload.Attachments = append(payload.Attachments, &wire.Attachment{ID: uint64(i)})
	}

	_, err := NormalizeDataMessage(testEnvelope(), payload)
	s.Require().ErrorIs(err, ErrTooManyAttachments)
	s.Require().True(DiscardEnvelope(err))

	payload.Attachments = payload.Attachments[:wire.MaxAttachments]
	_, err = NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)
}

func (s *MessageNormalizerSuite) TestCleansAttachmentKeys() {
	key := []byte{0x01, 0x02, 0x03}
	digest := []byte{0x04, 0x05}
	payload := &wire.DataMessage{
		Attachments: []*wire.Attachment{
			{ID: 1, Key: key, Digest: digest},
			{ID: 2},
		},
		Preview: []*wire.Preview{
			{URL: "https://example.org", Image: &wire.Attachment{ID: 3, Key: key}},
			{URL: "https://example.org/no-image"},
		},
		Quote: &wire.Quote{
			ID:     999,
			Author: "author",
			Attachments: []*wire.QuotedAttachment{
				{Thumbnail: &wire.Attachment{ID: 4, Digest: digest}},
				{ContentType: "image/jpeg"},
			},
		},
	}

	normalized, err := NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)

	first := normalized.Attachments[0]
	s.Require().NotNil(first.EncodedKey)
	s.Require().Equal("AQID", *first.EncodedKey)
	s.Require().NotNil(first.EncodedDigest)
	s.Require().Equal("BAU=", *first.EncodedDigest)
	s.Require().Nil(first.Key)
	s.Require().Nil(first.Digest)

	// absent key/digest stay nil rather than becoming empty strings
	second := normalized.Attachments[1]
	s.Require().Nil(second.EncodedKey)
	s.Require().Nil(second.EncodedDigest)

	s.Require().NotNil(normalized.Preview[0].Image.EncodedKey)
	s.Require().NotNil(normalized.Quote.Attachments[0].Thumbnail.EncodedDigest)
}

func (s *MessageNormalizerSuite) TestGroupUpdateAvatarCleaned() {
	payload := &wire.DataMessage{
		Group: &wire.GroupContext{
			Type:   wire.GroupContextUpdate,
			Avatar: &wire.Attachment{ID: 1, Key: []byte{0xff}},
		},
	}

	normalized, err := NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)
	s.Require().NotNil(normalized.Group.Avatar.EncodedKey)
	s.Require().Nil(normalized.Group.Avatar.Key)
}

func (s *MessageNormalizerSuite) TestTimestampFallsBackToEnvelope() {
	payload := &wire.DataMessage{Body: "hi"}
	normalized, err := NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)
	s.Require().Equal(uint64(1000), normalized.Timestamp)

	payload = &wire.DataMessage{Body: "hi", Timestamp: 555}
	normalized, err = NormalizeDataMessage(testEnvelope(), payload)
	s.Require().NoError(err)
	s.Require().Equal(uint64(555), normalized.Timestamp)
}

func TestIsDataMessageEmpty(t *testing.T) {
	require.True(t, IsDataMessageEmpty(&wire.DataMessage{}))
	require.True(t, IsDataMessageEmpty(&wire.DataMessage{Profile: &wire.Profile{DisplayName: "name"}}))

	notEmpty := []*wire.DataMessage{
		{Body: "hi"},
		{Flags: wire.FlagExpirationTimerUpdate},
		{Attachments: []*wire.Attachment{{ID: 1}}},
		{Group: &wire.GroupContext{ID: "g"}},
		{Quote: &wire.Quote{ID: 1}},
		{Preview: []*wire.Preview{{URL: "u"}}},
		{GroupInvitation: &wire.GroupInvitation{URL: "u"}},
	}
	for _, payload := range notEmpty {
		require.False(t, IsDataMessageEmpty(payload))
	}
}
