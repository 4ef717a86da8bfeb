package protocol

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/palisade-im/palisade-go/protocol/wire"
)

const (
	testLocalUser = "05aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testPeer      = "05bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testGroup     = "05cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

type staticIdentity string

func (s staticIdentity) LocalUserID() string { return string(s) }

type ConversationRouterSuite struct {
	suite.Suite
}

func TestConversationRouterSuite(t *testing.T) {
	suite.Run(t, new(ConversationRouterSuite))
}

func (s *ConversationRouterSuite) identity() IdentityProvider {
	return staticIdentity(testLocalUser)
}

func (s *ConversationRouterSuite) TestDirectMessageFromPeer() {
	envelope := &wire.Envelope{Source: testPeer, Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi"}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().Equal(testPeer, route.ConversationID)
	s.Require().Equal(ConversationTypeDirect, route.ConversationType)
	s.Require().Equal(testPeer, route.Source)
	s.Require().False(route.IsSyncMessage)
	s.Require().False(route.FromLocalUser)
}

func (s *ConversationRouterSuite) TestGroupRelayedMessage() {
	envelope := &wire.Envelope{Source: testGroup, SenderIdentity: testPeer, Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi"}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().Equal(testGroup, route.ConversationID)
	s.Require().Equal(ConversationTypeGroup, route.ConversationType)
	s.Require().Equal(testPeer, route.Source)
	s.Require().NotNil(payload.Group)
	s.Require().Equal(testGroup, payload.Group.ID)
}

func (s *ConversationRouterSuite) TestGroupIDLegacyPrefixStripped() {
	envelope := &wire.Envelope{Source: testPeer, Timestamp: 1000}
	payload := &wire.DataMessage{
		Body:  "hi",
		Group: &wire.GroupContext{ID: "__textsecure_group__!" + testGroup, Type: wire.GroupContextDeliver},
	}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().Equal(testGroup, route.ConversationID)
	s.Require().Equal(ConversationTypeGroup, route.ConversationType)
}

func (s *ConversationRouterSuite) TestSpoofedSyncMessageRejected() {
	envelope := &wire.Envelope{Source: testPeer, Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi", SyncTarget: testGroup}

	_, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().ErrorIs(err, ErrSpoofedSyncMessage)
	s.Require().True(DiscardEnvelope(err))
	// the envelope must be left untouched
	s.Require().Equal(testPeer, envelope.Source)
}

func (s *ConversationRouterSuite) TestSyncMessageOverridesSource() {
	envelope := &wire.Envelope{Source: testLocalUser, Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi", SyncTarget: testPeer}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().True(route.IsSyncMessage)
	s.Require().True(route.FromLocalUser)
	s.Require().Equal(testPeer, envelope.Source)
	s.Require().Equal(testPeer, route.Destination)
	s.Require().Equal(testPeer, route.ConversationID)
	s.Require().Equal(ConversationTypeDirect, route.ConversationType)
}

func (s *ConversationRouterSuite) TestSyncMessageForGroupUsesGroupID() {
	// group-id extraction has precedence over the sync-target
	// override
	envelope := &wire.Envelope{Source: testLocalUser, Timestamp: 1000}
	payload := &wire.DataMessage{
		Body:       "hi",
		SyncTarget: testGroup,
		Group:      &wire.GroupContext{ID: testGroup, Type: wire.GroupContextDeliver},
	}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().Equal(testGroup, route.ConversationID)
	s.Require().Equal(ConversationTypeGroup, route.ConversationType)
}

func (s *ConversationRouterSuite) TestOwnDeviceEchoKeepsDestination() {
	envelope := &wire.Envelope{Source: testLocalUser, Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi"}

	route, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().NoError(err)
	s.Require().True(route.FromLocalUser)
	s.Require().Equal(testLocalUser, route.ConversationID)
}

func (s *ConversationRouterSuite) TestMissingConversationID() {
	envelope := &wire.Envelope{Timestamp: 1000}
	payload := &wire.DataMessage{Body: "hi"}

	_, err := RouteDataMessage(envelope, payload, s.identity())
	s.Require().ErrorIs(err, ErrMissingConversationID)
	s.Require().True(DiscardEnvelope(err))
}
