package calendar

import (
	"context"
	"os"
	"testing"
)

func TestSnapshotLoadMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshotStore(dir, 7)
	if err != nil {
		t.Fatalf("new snapshot store: %v", err)
	}
	defer snap.Close()

	_, ok, err := snap.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot present on a fresh directory")
	}
}

// TestSnapshotSaveLoadRoundTrip checks that re-saving an unchanged replica
// yields a byte-identical snapshot file, and that a replica restored from
// that file computes the same NP/T for a peer as the original did.
func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshotStore(dir, 0)
	if err != nil {
		t.Fatalf("new snapshot store: %v", err)
	}
	defer snap.Close()

	r, err := NewReplica(0, 2, snap)
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	id, err := r.Create(context.Background(), "sync", 0, 10, 12, []int{0, 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before, err := os.ReadFile(snap.path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	r.mu.Lock()
	r.persistLocked()
	r.mu.Unlock()

	after, err := os.ReadFile(snap.path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("expected byte-identical snapshot from re-saving unchanged state")
	}

	snap2, err := NewSnapshotStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen snapshot store: %v", err)
	}
	defer snap2.Close()

	r2, err := NewReplica(0, 2, snap2)
	if err != nil {
		t.Fatalf("restore replica: %v", err)
	}
	if _, ok := r2.v[id]; !ok {
		t.Fatalf("restored replica missing appointment %s", id)
	}
	if r2.clock != r.clock {
		t.Fatalf("restored clock mismatch: got %d want %d", r2.clock, r.clock)
	}

	np1, t1 := r.projectForPeer(1)
	np2, t2 := r2.projectForPeer(1)
	if len(np1) != len(np2) {
		t.Fatalf("NP for peer 1 differs after restore: %d vs %d", len(np1), len(np2))
	}
	for i := range t1 {
		for j := range t1[i] {
			if t1[i][j] != t2[i][j] {
				t.Fatalf("T mismatch at [%d][%d] after restore: %d vs %d", i, j, t1[i][j], t2[i][j])
			}
		}
	}
}

// TestS5CrashAndRecover covers spec.md's S5: a node crashes right after an
// Insert is applied and snapshotted but before its outbound message
// leaves. On restart, PL still has the Insert, and the delivery loop
// recomputes the same NP and reaches a peer that never saw it live.
func TestS5CrashAndRecover(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshotStore(dir, 0)
	if err != nil {
		t.Fatalf("new snapshot store: %v", err)
	}

	r, err := NewReplica(0, 2, snap)
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	// No delivery wired up yet: this models the create being applied and
	// persisted, then the process crashing before any outbound gossip.
	id, err := r.Create(context.Background(), "sync", 0, 10, 12, []int{0, 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.pl.Len() != 1 {
		t.Fatalf("expected PL to hold the unsent Insert, got %d", r.pl.Len())
	}
	npBefore, _ := r.projectForPeer(1)
	snap.Close()

	snap2, err := NewSnapshotStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen snapshot store after crash: %v", err)
	}
	defer snap2.Close()

	r2, err := NewReplica(0, 2, snap2)
	if err != nil {
		t.Fatalf("restart replica: %v", err)
	}
	if r2.pl.Len() != 1 {
		t.Fatalf("expected PL to survive restart with the unsent Insert, got %d", r2.pl.Len())
	}
	npAfter, _ := r2.projectForPeer(1)
	if len(npBefore) != len(npAfter) || len(npAfter) != 1 || npAfter[0].Appt.ID != id {
		t.Fatalf("expected the restarted delivery loop to recompute the same NP, got %+v", npAfter)
	}

	peer1, err := NewReplica(1, 2, nil)
	if err != nil {
		t.Fatalf("new peer replica: %v", err)
	}
	tr := newFakeTransport()
	tr.byID[0] = r2
	tr.byID[1] = peer1
	d := NewDelivery(r2, tr, DefaultRetryInterval)
	r2.SetDelivery(d)

	r2.delivery.GossipTo(context.Background(), 1)
	tr.drain(t)

	if _, ok := peer1.v[id]; !ok {
		t.Fatalf("peer 1 never received the appointment after restart resent it")
	}

	// Return gossip 1->0 so node 0 learns peer 1 now has the Insert.
	peer1.SetDelivery(NewDelivery(peer1, tr, DefaultRetryInterval))
	peer1.delivery.GossipTo(context.Background(), 0)
	tr.drain(t)
	if r2.pl.Len() != 0 {
		t.Fatalf("expected PL_0 to empty out after convergence, got %d", r2.pl.Len())
	}
}
