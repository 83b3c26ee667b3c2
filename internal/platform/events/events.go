// Package events publishes claim lifecycle events for downstream consumers
// (notification, reporting). Publishing is best-effort: the claim workflow
// never fails because an event could not be delivered.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	ClaimCreated          = "claim.created"
	ClaimUpdated          = "claim.updated"
	ClaimDocumentUploaded = "claim.document_uploaded"
	ClaimAnalyzed         = "claim.analyzed"
	ClaimSubmitted        = "claim.submitted"
	ClaimDecided          = "claim.decided"
	ClaimDeleted          = "claim.deleted"
)

// Event is one claim state change.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       string                 `json:"type"`
	ClaimID    uuid.UUID              `json:"claim_id"`
	HospitalID uuid.UUID              `json:"hospital_id"`
	PolicyID   *uuid.UUID             `json:"policy_id,omitempty"`
	ActorID    string                 `json:"actor_id"`
	Status     string                 `json:"status,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// New stamps an event with an ID and the current time.
func New(eventType string, claimID, hospitalID uuid.UUID, actorID string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		ClaimID:    claimID,
		HospitalID: hospitalID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID.String()).
		Str("type", e.Type).
		Str("claim_id", e.ClaimID.String()).
		Str("status", e.Status).
		Str("actor_id", e.ActorID).
		Msg("claim event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
