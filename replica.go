// replica.go
package calendar

import (
	"context"
	"sync"
)

// Replica bundles every component of §2 under one mutex, exactly as §5
// mandates: "all mutations ... are serialised by a single replica-wide
// mutex." Grounded on the teacher's consensus.go (one big struct, one
// mutex, synchronous entry points) and services.go (service wraps
// collaborators passed in at construction).
type Replica struct {
	mu sync.Mutex

	selfID int
	n      int

	clock uint64
	t     TimeTable
	l     *Log
	pl    *PartialLog
	v     Dictionary
	c     Grid
	idGen *idGenerator

	delivery *Delivery
	snap     *SnapshotStore
	ws       *WSManager
	failStop chan error

	// OnRemoteCancel is an optional hook invoked (outside the lock) after
	// every DeleteConflict this replica handles, i.e. cancellation by
	// conflict resolution rather than by direct user action (§7
	// RemoteConflict). It is also invoked when the appointment was already
	// gone and the Cancel was a no-op.
	OnRemoteCancel func(apptID string)
}

// NewReplica constructs a replica for a cluster of size n, restoring from
// snap if a prior snapshot exists.
func NewReplica(selfID, n int, snap *SnapshotStore) (*Replica, error) {
	r := &Replica{
		selfID: selfID,
		n:      n,
		t:      NewTimeTable(n),
		l:      newLog(),
		pl:     newPartialLog(),
		v:      make(Dictionary),
		c:      make(Grid),
		snap:   snap,
	}
	if snap == nil {
		r.idGen = newIDGenerator(selfID, 0)
		return r, nil
	}
	st, ok, err := snap.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		r.restoreFrom(st)
	} else {
		r.idGen = newIDGenerator(selfID, 0)
	}
	return r, nil
}

// SetDelivery wires the delivery loop in after both have been constructed
// (Delivery needs a *Replica to compute NP under lock).
func (r *Replica) SetDelivery(d *Delivery) { r.delivery = d }

// SetWSManager wires the live-notification fan-out; calendar deltas from
// either local commands or applied gossip broadcast through it.
func (r *Replica) SetWSManager(ws *WSManager) { r.ws = ws }

// SetFailStop wires the channel a snapshot-write failure reports on. §7
// requires fail-stop on a durable-write error; the replica cannot call
// os.Exit itself (it is reached from arbitrary goroutines, some wrapped by
// net/http's per-connection recover()), so it only ever signals on this
// channel and trusts the embedding process — cmd/calendard/main.go — to
// act on it.
func (r *Replica) SetFailStop(ch chan error) { r.failStop = ch }

func (r *Replica) notifyWS(event string, apptID string) {
	if r.ws == nil {
		return
	}
	r.ws.Broadcast(map[string]string{"event": event, "appt_id": apptID})
}

// Create implements §4.1's create operation.
func (r *Replica) Create(ctx context.Context, name string, day, start, end int, participants []int) (string, error) {
	if err := validateCreateInput(day, start, end, participants, r.n); err != nil {
		return "", err
	}

	r.mu.Lock()
	for _, p := range participants {
		if conflictingAppt(r.c, p, day, start, end, "") != "" {
			r.mu.Unlock()
			return "", ErrLocalConflict
		}
	}
	id := r.idGen.next()
	appt := Appointment{
		ID: id, Name: name, Day: day, StartSlot: start, EndSlot: end,
		Participants: append([]int(nil), participants...), OriginNode: r.selfID,
	}
	r.clock++
	r.t[r.selfID][r.selfID] = r.clock
	eR := EventRecord{Op: OpInsert, Clock: r.clock, OriginNode: r.selfID, Appt: appt}
	r.l.Add(eR)
	r.pl.Add(eR)
	r.v[id] = appt
	occupyGrid(r.c, appt)
	r.persistLocked()
	r.mu.Unlock()

	r.notifyWS("created", id)
	RecordReplicationEvent(ctx, r.selfID, "create", id, map[string]any{"day": day, "start": start, "end": end})
	r.fanOut(ctx, participants)
	return id, nil
}

// Cancel implements §4.1's cancel operation; a no-op if appt_id is not
// currently live.
func (r *Replica) Cancel(ctx context.Context, apptID string) error {
	r.mu.Lock()
	appt, ok := r.v[apptID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	r.clock++
	r.t[r.selfID][r.selfID] = r.clock
	eR := EventRecord{Op: OpDelete, Clock: r.clock, OriginNode: r.selfID, Appt: appt}
	r.l.Add(eR)
	r.pl.Add(eR)
	delete(r.v, apptID)
	vacateGrid(r.c, appt)
	r.persistLocked()
	r.mu.Unlock()

	r.notifyWS("cancelled", apptID)
	RecordReplicationEvent(ctx, r.selfID, "cancel", apptID, nil)
	r.fanOut(ctx, appt.Participants)
	return nil
}

// ReadCalendar returns a snapshot copy of C.
func (r *Replica) ReadCalendar(ctx context.Context) Grid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Grid, len(r.c))
	for k, v := range r.c {
		out[k] = v
	}
	return out
}

// fanOut gossips to every distinct peer participant after a locally
// originated mutation (§4.1: "fans out to all peer participants").
func (r *Replica) fanOut(ctx context.Context, participants []int) {
	if r.delivery == nil {
		return
	}
	seen := make(map[int]bool, len(participants))
	for _, p := range participants {
		if p == r.selfID || seen[p] {
			continue
		}
		seen[p] = true
		r.delivery.GossipTo(ctx, p)
	}
}

// projectForPeer computes <NP, T> for peer k under the replica mutex
// (§4.2). Called by Delivery; returns ephemeral, unpersisted values.
func (r *Replica) projectForPeer(k int) ([]EventRecord, TimeTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	np := r.pl.projectNP(r.t, k)
	return np, r.t.Clone()
}

// persistLocked writes a full snapshot of the replica state. Must be
// called with r.mu held (§4.8, §5: the snapshot write is deliberately
// serialised under the mutex).
//
// A write failure is fail-stop per §7, but it must not panic: this is
// reached from HTTP handler goroutines (net/http recovers panics per
// connection, which would leave r.mu wedged forever instead of crashing
// the process) as well as from inbound.go's bare goroutines. Instead it
// reports the error on failStop and returns normally so the caller's
// already-scheduled unlock still runs; cmd/calendard/main.go owns turning
// that signal into a real process exit.
func (r *Replica) persistLocked() {
	if r.snap == nil {
		return
	}
	st := replicaState{
		SelfID: r.selfID,
		N:      r.n,
		Clock:  r.clock,
		T:      r.t,
		PL:     r.pl.All(),
		V:      r.v,
		ApptNo: r.idGen.apptNo,
	}
	if err := r.snap.Save(st); err != nil {
		Logger().Error("snapshot_write_failed", "err", err)
		r.signalFailStop(err)
	}
}

func (r *Replica) signalFailStop(err error) {
	if r.failStop == nil {
		return
	}
	select {
	case r.failStop <- err:
	default:
	}
}

// restoreFrom rebuilds in-memory state from a loaded snapshot. Per §4.8, L
// is not snapshotted: it is initialised to PL and rebuilt as new events
// arrive, which is safe because anything absent from PL is already known
// to every peer.
func (r *Replica) restoreFrom(st replicaState) {
	r.selfID = st.SelfID
	r.n = st.N
	r.clock = st.Clock
	r.t = st.T
	r.v = st.V
	r.c = rebuildGrid(st.V)
	r.idGen = newIDGenerator(st.SelfID, st.ApptNo)
	for _, eR := range st.PL {
		r.l.Add(eR)
		r.pl.Add(eR)
	}
}
