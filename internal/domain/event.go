package domain

import (
	"time"
)

// Field names of the input event table. Optional fields may be absent
// from a source; extractors degrade to zero-filled features when a field
// they need is missing.
const (
	FieldTimestamp        = "timestamp"
	FieldSessionID        = "session_id"
	FieldUserID           = "user_id"
	FieldSourceIP         = "source_ip"
	FieldDestinationIP    = "destination_ip"
	FieldAction           = "action"
	FieldResource         = "resource"
	FieldStatusCode       = "status_code"
	FieldBytesTransferred = "bytes_transferred"
	FieldIsMalicious      = "is_malicious"
)

// Event is one observed action from a security log. Immutable once
// ingested.
type Event struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	SourceIP         string    `json:"source_ip"`
	DestinationIP    string    `json:"destination_ip,omitempty"`
	Action           string    `json:"action"`
	Resource         string    `json:"resource"`
	StatusCode       int       `json:"status_code"`
	BytesTransferred float64   `json:"bytes_transferred"`

	// Labels carried by synthetic or replayed data. Not consumed by the
	// detection pipeline itself, only by evaluation.
	AttackType  string `json:"attack_type,omitempty"`
	IsMalicious bool   `json:"is_malicious,omitempty"`
}

// EventTable holds ingested events together with the set of fields the
// source actually provided. Field presence drives the soft-degradation
// policy: a feature whose inputs are absent becomes a zero column
// instead of failing the extraction.
type EventTable struct {
	Events []Event

	fields map[string]bool
}

// NewEventTable builds a table from events and the field names present
// in the source.
func NewEventTable(events []Event, fields ...string) *EventTable {
	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return &EventTable{Events: events, fields: m}
}

// AllFields lists every event field a fully populated source provides.
func AllFields() []string {
	return []string{
		FieldTimestamp, FieldSessionID, FieldUserID, FieldSourceIP,
		FieldDestinationIP, FieldAction, FieldResource, FieldStatusCode,
		FieldBytesTransferred,
	}
}

// Has reports whether the source provided the named field.
func (t *EventTable) Has(field string) bool {
	return t.fields[field]
}

// Len returns the number of events.
func (t *EventTable) Len() int {
	return len(t.Events)
}

// Labels returns the is_malicious flags row-aligned to the events, or
// nil when the source carried no labels.
func (t *EventTable) Labels() []bool {
	if !t.Has(FieldIsMalicious) {
		return nil
	}
	labels := make([]bool, len(t.Events))
	for i, e := range t.Events {
		labels[i] = e.IsMalicious
	}
	return labels
}
