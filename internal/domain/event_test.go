package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalUpdated(t *testing.T) {
	ev := Event{
		Type:     EventDisasterUpdated,
		Seq:      7,
		ID:       "d-1",
		Disaster: &Disaster{ID: "d-1", Title: "NYC Flood", Tags: []string{}, AuditTrail: []AuditEntry{}},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "disaster_updated", wire["type"])
	assert.EqualValues(t, 7, wire["seq"])
	assert.Equal(t, "d-1", wire["id"])
	assert.Equal(t, "NYC Flood", wire["data"].(map[string]any)["title"])
}

func TestEvent_MarshalDeletedIsTombstone(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventDisasterDeleted, Seq: 3, ID: "d-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"disaster_deleted","seq":3,"id":"d-1","data":{"id":"d-1","deleted":true}}`, string(data))
}

func TestEvent_MarshalMissingRecord(t *testing.T) {
	_, err := json.Marshal(Event{Type: EventDisasterCreated, ID: "d-1"})
	require.Error(t, err)
}

func TestEvent_MarshalLookupEventHasNoSeq(t *testing.T) {
	ev := Event{Type: EventSocialMediaUpdated, ID: "d-1", Payload: []SocialPost{{User: "citizen1", Text: "help"}}}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	_, hasSeq := wire["seq"]
	assert.False(t, hasSeq)
	assert.Equal(t, "d-1", wire["data"].(map[string]any)["id"])
}

func TestEvent_UnmarshalRecordEvents(t *testing.T) {
	in := Event{
		Type:     EventDisasterCreated,
		Seq:      1,
		ID:       "d-1",
		Disaster: &Disaster{ID: "d-1", Title: "NYC Flood", Location: &Point{Lng: -74.006, Lat: 40.7128}, Tags: []string{"flood"}, AuditTrail: []AuditEntry{}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Event
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.ID, out.ID)
	require.NotNil(t, out.Disaster)
	assert.Equal(t, *in.Disaster.Location, *out.Disaster.Location)
	assert.Equal(t, in.Disaster.Tags, out.Disaster.Tags)
}

func TestEvent_UnmarshalTombstoneWithoutTopLevelID(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"disaster_deleted","data":{"id":"d-9","deleted":true}}`), &ev))
	assert.Equal(t, "d-9", ev.ID)
	assert.Nil(t, ev.Disaster)
}

func TestEventType_IsMutation(t *testing.T) {
	assert.True(t, EventDisasterCreated.IsMutation())
	assert.True(t, EventDisasterUpdated.IsMutation())
	assert.True(t, EventDisasterDeleted.IsMutation())
	assert.False(t, EventResourcesUpdated.IsMutation())
	assert.False(t, EventType("unknown").IsMutation())
}
