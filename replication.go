// replication.go
package calendar

import "context"

// HandleSendLog executes the seven-substep receive path of §4.3 atomically
// under the replica mutex, then performs any triggered fan-out (conflict
// notifications, GC-driven nothing) outside the lock.
//
// Grounded on ppriyankuu-godkv's internal/store/store.go ApplyRemote
// (apply-under-lock, then merge clock), adapted to the spec's required
// delete-before-insert / merge-after-apply / GC-after-merge ordering.
func (r *Replica) HandleSendLog(ctx context.Context, senderID int, npk []EventRecord, tk TimeTable) {
	r.mu.Lock()

	// Step 1: extract novelty against our own clock knowledge of each origin.
	ne := make([]EventRecord, 0, len(npk))
	for _, fR := range npk {
		if !hasRec(r.t, fR, r.selfID) {
			ne = append(ne, fR)
		}
	}

	// Step 2: append to L (idempotent).
	for _, eR := range ne {
		r.l.Add(eR)
	}

	// A create-cancel pair that arrived together in the same NE batch is
	// observably a no-op (§4.3 step 4).
	deletedIDs := make(map[string]bool, len(ne))
	for _, eR := range ne {
		if eR.Op == OpDelete {
			deletedIDs[eR.Appt.ID] = true
		}
	}

	// Step 3: apply deletes first.
	var deltas []string
	for _, eR := range ne {
		if eR.Op != OpDelete {
			continue
		}
		if _, ok := r.v[eR.Appt.ID]; ok {
			delete(r.v, eR.Appt.ID)
			vacateGrid(r.c, eR.Appt)
			deltas = append(deltas, eR.Appt.ID)
		}
	}

	// Step 4: apply inserts, skipping ids that also carry a Delete in this
	// batch, and routing booking conflicts to DeleteConflict.
	type pendingConflict struct {
		originator int
		appt       Appointment
	}
	var conflicts []pendingConflict

	for _, eR := range ne {
		if eR.Op != OpInsert || deletedIDs[eR.Appt.ID] {
			continue
		}
		appt := eR.Appt
		selfIsParticipant := false
		for _, p := range appt.Participants {
			if p == r.selfID {
				selfIsParticipant = true
				break
			}
		}
		if !selfIsParticipant {
			r.v[appt.ID] = appt
			occupyGrid(r.c, appt)
			deltas = append(deltas, appt.ID)
			continue
		}
		conflictID := conflictingAppt(r.c, r.selfID, appt.Day, appt.StartSlot, appt.EndSlot, appt.ID)
		if conflictID != "" {
			conflicts = append(conflicts, pendingConflict{originator: appt.OriginNode, appt: appt})
			continue
		}
		r.v[appt.ID] = appt
		occupyGrid(r.c, appt)
		deltas = append(deltas, appt.ID)
	}

	// Step 5: merge time tables.
	mergeSelfRow(r.t, r.selfID, senderID, tk)
	mergeAll(r.t, tk)

	// Step 6: GC PL.
	r.pl.gc(r.t, r.n, ne)

	// Step 7: snapshot.
	r.persistLocked()

	r.mu.Unlock()

	for _, id := range deltas {
		r.notifyWS("applied", id)
	}
	for _, pc := range conflicts {
		r.dispatchConflict(ctx, pc.originator, pc.appt)
	}
}

// HandleDeleteConflict implements §4.4: on receipt, behave as if the local
// user had issued cancel(appt.appt_id). Reusing Cancel means a conflict
// cancellation propagates through the same replication path and is
// observed by every participant exactly once.
func (r *Replica) HandleDeleteConflict(ctx context.Context, senderID int, appt Appointment) {
	if err := r.Cancel(ctx, appt.ID); err != nil {
		Logger().Warn("delete_conflict_cancel_failed", "appt", appt.ID, "err", err)
		return
	}
	if r.OnRemoteCancel != nil {
		r.OnRemoteCancel(appt.ID)
	}
}
