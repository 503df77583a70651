// dictionary.go
package calendar

// Dictionary (V) is the current set of live appointments, keyed by id.
type Dictionary map[string]Appointment

// gridKey identifies one (participant, day, slot) cell of the Calendar
// Grid (C).
type gridKey struct {
	participant int
	day         int
	slot        int
}

// Grid (C) is a pure projection of V (§3): participant x day x slot ->
// appt_id. It is cached only so conflict checks are O(slots) instead of
// O(|V|).
type Grid map[gridKey]string

// rebuildGrid recomputes C from scratch from V. Used when restoring from a
// snapshot.
func rebuildGrid(v Dictionary) Grid {
	g := make(Grid)
	for _, a := range v {
		occupyGrid(g, a)
	}
	return g
}

func occupyGrid(g Grid, a Appointment) {
	for _, p := range a.Participants {
		for s := a.StartSlot; s < a.EndSlot; s++ {
			g[gridKey{p, a.Day, s}] = a.ID
		}
	}
}

func vacateGrid(g Grid, a Appointment) {
	for _, p := range a.Participants {
		for s := a.StartSlot; s < a.EndSlot; s++ {
			if g[gridKey{p, a.Day, s}] == a.ID {
				delete(g, gridKey{p, a.Day, s})
			}
		}
	}
}

// conflictingAppt reports the id of a different appointment already
// occupying any slot in [start,end) for participant p on day, or "" if
// none. Used both by local Create (§4.1) and by remote Insert application
// (§4.3 step 4).
func conflictingAppt(g Grid, p, day, start, end int, selfApptID string) string {
	for s := start; s < end; s++ {
		if id, ok := g[gridKey{p, day, s}]; ok && id != selfApptID {
			return id
		}
	}
	return ""
}
