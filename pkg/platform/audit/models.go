package audit

import (
	"context"
	"time"

	id "pipscreen/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// The relay routes each category to its own Kafka topic suffix so
// retention can differ per category.
type EventCategory string

const (
	// CategoryCompliance covers screening activity and registry changes that
	// regulators may ask an organisation to evidence.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denials: quota exhaustion and access violations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine maintenance with short retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category       EventCategory
	Timestamp      time.Time
	UserID         id.UserID
	OrganisationID id.OrganisationID
	Subject        string
	Action         string
	Decision       string
	Reason         string
	RequestID      string
	// ActorID is set when an elevated user acts on behalf of another
	// organisation.
	ActorID string
	// Device is the client's browser and OS, empty outside HTTP requests.
	Device string
}

type AuditEvent string

const (
	// Screening events
	EventPIPSearchPerformed     AuditEvent = "pip_search_performed"
	EventBulkScreeningPerformed AuditEvent = "bulk_screening_performed"

	// Quota events
	EventQuotaExceeded          AuditEvent = "quota_exceeded"
	EventBatchQuotaInsufficient AuditEvent = "batch_quota_insufficient"

	// Registry events
	EventPIPCreated       AuditEvent = "pip_created"
	EventPIPUpdated       AuditEvent = "pip_updated"
	EventPIPStatusChanged AuditEvent = "pip_status_changed"
	EventPIPsImported     AuditEvent = "pips_imported"

	// Maintenance events
	EventTokenIndexRefreshed AuditEvent = "token_index_refreshed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventPIPSearchPerformed:     CategoryCompliance,
	EventBulkScreeningPerformed: CategoryCompliance,
	EventPIPCreated:             CategoryCompliance,
	EventPIPUpdated:             CategoryCompliance,
	EventPIPStatusChanged:       CategoryCompliance,
	EventPIPsImported:           CategoryCompliance,

	EventQuotaExceeded:          CategorySecurity,
	EventBatchQuotaInsufficient: CategorySecurity,

	EventTokenIndexRefreshed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. The Postgres implementation writes to the
// outbox table and joins any transaction carried on ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what services depend on to publish events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
