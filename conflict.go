// conflict.go
package calendar

import "context"

// dispatchConflict routes a detected booking conflict to the inserting
// event's originator (§4.4): "the non-originator that detected the
// conflict sends it exactly to the originator." If this replica is itself
// the originator of the conflicting Insert, the DeleteConflict is applied
// directly rather than round-tripped over the network.
func (r *Replica) dispatchConflict(ctx context.Context, originator int, appt Appointment) {
	RecordReplicationEvent(ctx, r.selfID, "booking_conflict", appt.ID, map[string]any{"originator": originator})
	if originator == r.selfID {
		r.HandleDeleteConflict(ctx, r.selfID, appt)
		return
	}
	if r.delivery == nil {
		return
	}
	r.delivery.SendDeleteConflict(ctx, originator, appt)
}
