// audit.go
package calendar

import "context"

// RecordReplicationEvent logs one replication-visible action (the callers
// record create, cancel and booking_conflict) at info level, tagged with
// the request id carried on ctx.
//
// Adapted from the teacher's audit.go RecordAudit: the original persisted
// structured entries to a per-user-facing SQL audit table via
// AuditRepository; this spec has no multi-user audit-trail requirement,
// so the persistence side is dropped and only the structured-logging half
// survives.
func RecordReplicationEvent(ctx context.Context, selfID int, action, apptID string, fields map[string]any) {
	_, reqID := WithRequestID(ctx)
	args := []any{"node", selfID, "action", action, "appt_id", apptID, "request_id", reqID}
	for k, v := range fields {
		args = append(args, k, v)
	}
	Logger().Info("replication_event", args...)
}
