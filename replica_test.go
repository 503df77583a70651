package calendar

import (
	"bytes"
	"context"
	"testing"
)

// fakeTransport queues Send calls into a FIFO and drains them on demand,
// so nested fan-out triggered by applying a message (e.g. a conflict
// cancellation that itself re-gossips) never recurses into the call that
// produced it. This models the spec's "messages are not assumed to be
// FIFO... tolerates reorder" network without needing real sockets.
type fakeTransport struct {
	byID        map[int]*Replica
	unreachable map[int]bool
	downLink    map[[2]int]bool // [sender][peer] -> directional link down
	queue       []queuedMsg
}

type queuedMsg struct {
	peer     int
	kind     int32
	body     []byte
	senderID int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		byID:        map[int]*Replica{},
		unreachable: map[int]bool{},
		downLink:    map[[2]int]bool{},
	}
}

func (f *fakeTransport) Send(peer int, kind int32, body []byte, senderID int) error {
	if f.unreachable[peer] {
		return ErrTransportUnreachable
	}
	if f.downLink[[2]int{senderID, peer}] {
		return ErrTransportUnreachable
	}
	if _, ok := f.byID[peer]; !ok {
		return ErrTransportUnreachable
	}
	f.queue = append(f.queue, queuedMsg{peer: peer, kind: kind, body: body, senderID: senderID})
	return nil
}

// drain processes every queued message, including ones enqueued by the
// processing of earlier messages, until the queue is empty.
func (f *fakeTransport) drain(t *testing.T) {
	for len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		target := f.byID[msg.peer]
		switch msg.kind {
		case MsgSendLog:
			b, err := decodeSendLog(bytes.NewReader(msg.body))
			if err != nil {
				t.Fatalf("decode send_log: %v", err)
			}
			target.HandleSendLog(context.Background(), msg.senderID, b.NP, b.T)
		case MsgDeleteConflict:
			b, err := decodeDeleteConflict(bytes.NewReader(msg.body))
			if err != nil {
				t.Fatalf("decode delete_conflict: %v", err)
			}
			target.HandleDeleteConflict(context.Background(), msg.senderID, b.Appt)
		}
	}
}

func newTestCluster(n int) ([]*Replica, *fakeTransport) {
	tr := newFakeTransport()
	replicas := make([]*Replica, n)
	for i := 0; i < n; i++ {
		r, err := NewReplica(i, n, nil)
		if err != nil {
			panic(err)
		}
		d := NewDelivery(r, tr, DefaultRetryInterval)
		r.SetDelivery(d)
		replicas[i] = r
		tr.byID[i] = r
	}
	return replicas, tr
}

// gossipRound enqueues one gossip send from every node to every other node
// (all computed against the pre-round state, since nothing is drained
// yet), then drains the queue to quiescence.
func gossipRound(t *testing.T, replicas []*Replica, tr *fakeTransport) {
	for i, r := range replicas {
		for j := range replicas {
			if i == j {
				continue
			}
			r.delivery.GossipTo(context.Background(), j)
		}
	}
	tr.drain(t)
}

func TestS1SimpleTwoPartySchedule(t *testing.T) {
	replicas, tr := newTestCluster(2)
	ctx := context.Background()

	id, err := replicas[0].Create(ctx, "sync", 0, 10, 12, []int{0, 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tr.drain(t) // Create's own fan-out already enqueued a send

	gossipRound(t, replicas, tr)

	for i, r := range replicas {
		if _, ok := r.v[id]; !ok {
			t.Fatalf("node %d missing appointment after gossip", i)
		}
		if r.c[gridKey{0, 0, 10}] != id || r.c[gridKey{1, 0, 10}] != id {
			t.Fatalf("node %d grid not occupied as expected", i)
		}
	}
	if replicas[0].pl.Len() != 0 {
		t.Fatalf("expected PL_0 empty after round trip, got %d", replicas[0].pl.Len())
	}
}

func TestS2CancelPropagation(t *testing.T) {
	replicas, tr := newTestCluster(2)
	ctx := context.Background()

	id, _ := replicas[0].Create(ctx, "sync", 0, 10, 12, []int{0, 1})
	tr.drain(t)
	gossipRound(t, replicas, tr)

	if err := replicas[1].Cancel(ctx, id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	tr.drain(t)
	gossipRound(t, replicas, tr)

	for i, r := range replicas {
		if _, ok := r.v[id]; ok {
			t.Fatalf("node %d still has cancelled appointment", i)
		}
		if len(r.c) != 0 {
			t.Fatalf("node %d grid not fully vacant: %v", i, r.c)
		}
		insertSeen, deleteSeen := false, false
		for _, eR := range r.l.All() {
			if eR.Appt.ID != id {
				continue
			}
			if eR.Op == OpInsert {
				insertSeen = true
			}
			if eR.Op == OpDelete {
				deleteSeen = true
			}
		}
		if !insertSeen || !deleteSeen {
			t.Fatalf("node %d missing insert/delete in L", i)
		}
	}
}

func TestS3BookingConflictMutualVeto(t *testing.T) {
	replicas, tr := newTestCluster(2)
	ctx := context.Background()

	idA, err := replicas[0].Create(ctx, "a", 0, 10, 12, []int{0, 1})
	if err != nil {
		t.Fatalf("create a failed: %v", err)
	}
	idB, err := replicas[1].Create(ctx, "b", 0, 11, 13, []int{0, 1})
	if err != nil {
		t.Fatalf("create b failed: %v", err)
	}
	tr.drain(t) // drain each Create's own immediate fan-out first

	gossipRound(t, replicas, tr)
	gossipRound(t, replicas, tr)

	for i, r := range replicas {
		if _, ok := r.v[idA]; ok {
			t.Fatalf("node %d still has conflicted appt a", i)
		}
		if _, ok := r.v[idB]; ok {
			t.Fatalf("node %d still has conflicted appt b", i)
		}
		if len(r.c) != 0 {
			t.Fatalf("node %d grid not vacant after mutual veto: %v", i, r.c)
		}
	}
}

func TestS6PassiveReplica(t *testing.T) {
	replicas, tr := newTestCluster(3)
	ctx := context.Background()

	id, _ := replicas[0].Create(ctx, "sync", 0, 10, 12, []int{0, 1})
	tr.drain(t)

	for round := 0; round < 3; round++ {
		gossipRound(t, replicas, tr)
	}

	if _, ok := replicas[2].v[id]; !ok {
		t.Fatalf("passive replica never learned the appointment")
	}
	if _, ok := replicas[2].c[gridKey{2, 0, 10}]; ok {
		t.Fatalf("passive replica should have no grid entry for itself")
	}
	if replicas[2].c[gridKey{0, 0, 10}] != id {
		t.Fatalf("passive replica missing grid entry for participant 0")
	}
}

func TestInvalidInputRejectedWithoutMutation(t *testing.T) {
	replicas, _ := newTestCluster(1)
	ctx := context.Background()

	if _, err := replicas[0].Create(ctx, "bad-day", 7, 10, 12, []int{0}); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := replicas[0].Create(ctx, "bad-range", 0, 12, 10, []int{0}); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := replicas[0].Create(ctx, "no-participants", 0, 10, 12, nil); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(replicas[0].v) != 0 {
		t.Fatalf("invalid input must not mutate state")
	}
}

func TestLocalConflictRejected(t *testing.T) {
	replicas, _ := newTestCluster(1)
	ctx := context.Background()

	if _, err := replicas[0].Create(ctx, "first", 0, 10, 12, []int{0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := replicas[0].Create(ctx, "second", 0, 11, 13, []int{0}); err != ErrLocalConflict {
		t.Fatalf("expected ErrLocalConflict, got %v", err)
	}
}

func TestCancelUnknownIsNoop(t *testing.T) {
	replicas, _ := newTestCluster(1)
	if err := replicas[0].Cancel(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

// TestS4LossyLinkThenRecovery covers spec.md's S4: with the direct 0->2
// link down, node 2 still learns "x" transitively via node 1, and once
// the link recovers node 0 sends nothing new because T_0[2][0] was
// already advanced by gossip that did not traverse the broken link.
func TestS4LossyLinkThenRecovery(t *testing.T) {
	replicas, tr := newTestCluster(3)
	ctx := context.Background()

	tr.downLink[[2]int{0, 2}] = true

	id, err := replicas[0].Create(ctx, "x", 0, 10, 12, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tr.drain(t) // node 0's own fan-out: 0->1 succeeds, 0->2 fails and is never queued

	if !replicas[0].delivery.SendFail(2) {
		t.Fatalf("expected sendFail[2] set after the direct link failed")
	}

	gossipRound(t, replicas, tr) // node 1 relays "x" to node 2 despite the broken 0->2 link
	if _, ok := replicas[2].v[id]; !ok {
		t.Fatalf("node 2 should have learned %q transitively via node 1", id)
	}

	gossipRound(t, replicas, tr) // node 2 reports back (2->0 is not blocked) so node 0 learns node 2 has it
	if replicas[0].pl.Len() != 0 {
		t.Fatalf("expected PL_0 empty once node 0 learns node 2 has the record, got %d", replicas[0].pl.Len())
	}

	np, _ := replicas[0].projectForPeer(2)
	for _, eR := range np {
		if eR.Appt.ID == id {
			t.Fatalf("expected no duplicate Insert of %s once T_0[2][0] already covers it", id)
		}
	}

	tr.downLink[[2]int{0, 2}] = false
	replicas[0].delivery.GossipTo(ctx, 2)
	tr.drain(t)

	if replicas[0].delivery.SendFail(2) {
		t.Fatalf("expected sendFail[2] cleared once the link recovered and a send succeeded")
	}
	if replicas[0].pl.Len() != 0 {
		t.Fatalf("expected PL_0 still empty after the recovered send, got %d", replicas[0].pl.Len())
	}
}
