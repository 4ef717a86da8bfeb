package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	explicit := Message{Source: "a", Direction: DirectionIncoming}

	filled := ApplyDefaults(explicit)
	require.NotEmpty(t, filled.ID)
	require.Equal(t, 0, filled.Unread)
	require.Equal(t, uint32(0), filled.ExpireTimer)
	require.Equal(t, SourceDevice, filled.SourceDevice)

	// the argument must not be mutated
	require.Empty(t, explicit.ID)

	other := ApplyDefaults(Message{})
	require.NotEqual(t, filled.ID, other.ID)
}

func TestApplyDefaultsExplicitWins(t *testing.T) {
	filled := ApplyDefaults(Message{
		ID:          "fixed-id",
		Unread:      1,
		ExpireTimer: 60,
	})
	require.Equal(t, "fixed-id", filled.ID)
	require.Equal(t, 1, filled.Unread)
	require.Equal(t, uint32(60), filled.ExpireTimer)
}

func TestIsUnread(t *testing.T) {
	require.True(t, (&Message{Unread: 1}).IsUnread())
	require.False(t, (&Message{Unread: 0}).IsUnread())
	require.False(t, (&Message{Unread: 2}).IsUnread())
}

func TestMigrateLegacyPayload(t *testing.T) {
	legacy := []byte(`{"attachments":[{"id":1}],"delivered":2,"delivered_to":["x"]}`)

	migrated := MigrateLegacyPayload(legacy)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(migrated, &fields))
	require.Contains(t, fields, "attachments")
	require.NotContains(t, fields, "delivered")
	require.NotContains(t, fields, "delivered_to")
}

func TestMigrateLegacyPayloadNoLegacyFields(t *testing.T) {
	current := []byte(`{"quote":{"id":123,"author":"a"}}`)
	require.Equal(t, current, MigrateLegacyPayload(current))

	require.Empty(t, MigrateLegacyPayload(nil))

	// malformed payloads pass through untouched
	malformed := []byte(`not-json`)
	require.Equal(t, malformed, MigrateLegacyPayload(malformed))
}
