package audit

import (
	"context"
	"log/slog"

	"pipscreen/pkg/attrs"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/requestcontext"
)

// LogAudit writes an audit-flavoured log line and, when an emitter is
// configured, publishes the matching Event. Emission failures are logged and
// never returned: audit is a side channel of the operation that triggered it.
//
// Recognised attribute keys: pip_id, organisation_id, user_id (subject,
// first match wins), reason, decision, actor_id.
func LogAudit(ctx context.Context, logger *slog.Logger, emitter Emitter, event AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if logger != nil {
		args := append(attrList, "event", string(event), "log_type", "audit")
		logger.InfoContext(ctx, string(event), args...)
	}

	if emitter == nil {
		return
	}

	e := Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    requestcontext.UserID(ctx),
		Subject:   attrs.FirstString(attrList, "pip_id", "organisation_id", "user_id"),
		Action:    string(event),
		Decision:  attrs.ExtractString(attrList, "decision"),
		Reason:    attrs.ExtractString(attrList, "reason"),
		RequestID: requestID,
		ActorID:   attrs.ExtractString(attrList, "actor_id"),
		Device:    requestcontext.Device(ctx),
	}
	if raw := attrs.ExtractString(attrList, "organisation_id"); raw != "" {
		if orgID, err := id.ParseOrganisationID(raw); err == nil {
			e.OrganisationID = orgID
		}
	}
	if err := emitter.Emit(ctx, e); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event",
			"event", string(event),
			"error", err,
		)
	}
}
