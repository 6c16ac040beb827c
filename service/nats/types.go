package nats

import (
	"fmt"
	"regexp"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
)

// LedgerEvent is a program event from a committed transaction. It is published
// to the subject "events.{type}", e.g. "events.escrow.resolved".
type LedgerEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Program    string            `json:"program"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// Transaction identifiers
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	Timestamp time.Time `json:"timestamp"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject is the JetStream subject the event is published to.
func (e *LedgerEvent) Subject() string {
	return SubjectPrefix + e.Type
}

var validEventTypeRegex = regexp.MustCompile(`^[a-z_]+(\.[a-z_]+)*$`)

// FilterSubjects are the subject filters for a consumer of eventType. An empty
// type matches every event; "escrow" matches "escrow" and every "escrow.*" event.
func FilterSubjects(eventType string) ([]string, error) {
	if eventType == "" {
		return []string{StreamSubjects}, nil
	}
	if !validEventTypeRegex.MatchString(eventType) {
		return nil, fmt.Errorf("invalid event type %q", eventType)
	}
	subject := SubjectPrefix + eventType
	return []string{subject, subject + ".>"}, nil
}

// FromReceipt converts the events of a committed receipt for publishing.
func FromReceipt(r *ledger.Receipt) []*LedgerEvent {
	if !r.Succeeded() {
		return nil
	}
	now := time.Now().UTC()
	events := make([]*LedgerEvent, 0, len(r.Events))
	for _, e := range r.Events {
		events = append(events, &LedgerEvent{
			ID:          e.ID,
			Type:        e.Type,
			Program:     e.Program.String(),
			Attributes:  e.Attributes,
			Signature:   r.Signature.String(),
			Slot:        r.Slot,
			Timestamp:   r.Time,
			PublishedAt: now,
		})
	}
	return events
}
