package domain

import (
	"encoding/json"
	"fmt"
)

// EventType names a message on the real-time channel.
type EventType string

const (
	EventDisasterCreated EventType = "disaster_created"
	EventDisasterUpdated EventType = "disaster_updated"
	EventDisasterDeleted EventType = "disaster_deleted"

	EventSocialMediaUpdated EventType = "social_media_updated"
	EventResourcesUpdated   EventType = "resources_updated"
)

// IsMutation reports whether the event describes a committed record change.
func (t EventType) IsMutation() bool {
	switch t {
	case EventDisasterCreated, EventDisasterUpdated, EventDisasterDeleted:
		return true
	}
	return false
}

// Event is published after a mutation commits, or after a lookup refreshes
// auxiliary data for a record.
type Event struct {
	Type EventType
	Seq  uint64
	ID   string

	// Disaster is set for created and updated events.
	Disaster *Disaster
	// Payload is set for lookup events.
	Payload any
}

// Tombstone is the payload of a delete event.
type Tombstone struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type lookupPayload struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventDisasterCreated, EventDisasterUpdated:
		if e.Disaster == nil {
			return nil, fmt.Errorf("encode %s event %q: missing record", e.Type, e.ID)
		}
		data = e.Disaster
	case EventDisasterDeleted:
		data = Tombstone{ID: e.ID, Deleted: true}
	default:
		data = lookupPayload{ID: e.ID, Data: e.Payload}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return json.Marshal(wireEvent{Type: e.Type, Seq: e.Seq, ID: e.ID, Data: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	*e = Event{Type: w.Type, Seq: w.Seq, ID: w.ID}

	switch w.Type {
	case EventDisasterCreated, EventDisasterUpdated:
		var d Disaster
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return fmt.Errorf("decode %s record: %w", w.Type, err)
		}
		if e.ID == "" {
			e.ID = d.ID
		}
		e.Disaster = &d
	case EventDisasterDeleted:
		if e.ID == "" {
			var t Tombstone
			if err := json.Unmarshal(w.Data, &t); err != nil {
				return fmt.Errorf("decode tombstone: %w", err)
			}
			e.ID = t.ID
		}
	default:
		var p struct {
			Data json.RawMessage `json:"data"`
		}
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &p); err != nil {
				return fmt.Errorf("decode %s payload: %w", w.Type, err)
			}
		}
		e.Payload = p.Data
	}
	return nil
}
