// delivery.go
package calendar

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRetryInterval is the fixed retry interval recommended by §4.5.
const DefaultRetryInterval = 10 * time.Second

// Delivery is the per-peer delivery loop of §4.5. It never blocks the
// replica mutex: NP/T are computed under the lock, then I/O happens
// outside it. At most one retry task per peer exists at any time.
//
// Grounded on the per-peer failure bookkeeping in
// other_examples/.../TickTockBent-REPRAM internal/gossip/protocol.go, and
// on the teacher's heartbeat.go background-ticker shape for the retry
// task itself.
type Delivery struct {
	replica  *Replica
	tr       Transport
	retryInt time.Duration

	mu        sync.Mutex
	sendFail  map[int]bool
	retrying  map[int]bool
}

func NewDelivery(replica *Replica, tr Transport, retryInterval time.Duration) *Delivery {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Delivery{
		replica:  replica,
		tr:       tr,
		retryInt: retryInterval,
		sendFail: make(map[int]bool),
		retrying: make(map[int]bool),
	}
}

// SendFail reports the current liveness flag for peer k.
func (d *Delivery) SendFail(k int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendFail[k]
}

// GossipTo computes <NP, T> for peer k under the replica mutex (§4.2) and
// attempts delivery. Call for every peer after any locally-originated
// mutation, and by the retry task.
func (d *Delivery) GossipTo(ctx context.Context, k int) {
	np, t := d.replica.projectForPeer(k)
	body, err := encodeSendLog(np, t)
	if err != nil {
		Logger().Warn("gossip_encode_failed", "peer", k, "err", err)
		return
	}
	err = d.tr.Send(k, MsgSendLog, body, d.replica.selfID)
	d.observe(ctx, k, err)
}

// SendDeleteConflict delivers a targeted DeleteConflict to the event's
// originator (§4.4). Failure is handled by the same liveness/retry
// machinery, re-driven as a plain conflict resend rather than a full
// gossip round (the conflict is a point-to-point notification, not a log
// projection).
func (d *Delivery) SendDeleteConflict(ctx context.Context, originator int, appt Appointment) {
	body, err := encodeDeleteConflict(appt)
	if err != nil {
		Logger().Warn("conflict_encode_failed", "peer", originator, "err", err)
		return
	}
	err = d.tr.Send(originator, MsgDeleteConflict, body, d.replica.selfID)
	d.observe(ctx, originator, err)
}

// observe applies the §4.5 contract: clear sendFail on success; on
// unreachable, set the flag and ensure exactly one retry task is running;
// on other I/O errors, just log.
func (d *Delivery) observe(ctx context.Context, k int, err error) {
	if err == nil {
		d.mu.Lock()
		d.sendFail[k] = false
		d.mu.Unlock()
		return
	}
	if errors.Is(err, ErrTransportUnreachable) {
		d.mu.Lock()
		d.sendFail[k] = true
		alreadyRetrying := d.retrying[k]
		if !alreadyRetrying {
			d.retrying[k] = true
		}
		d.mu.Unlock()
		if !alreadyRetrying {
			go d.retryLoop(context.WithoutCancel(ctx), k)
		}
		return
	}
	Logger().Warn("delivery_io_error", "peer", k, "err", err)
}

// retryLoop waits the fixed interval, then reruns the full compute-NP/send
// path (not a resend of the stale buffer, since state may have advanced).
// It continues until sendFail[k] clears.
func (d *Delivery) retryLoop(ctx context.Context, k int) {
	defer func() {
		d.mu.Lock()
		d.retrying[k] = false
		d.mu.Unlock()
	}()
	ticker := time.NewTicker(d.retryInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.GossipTo(ctx, k)
			d.mu.Lock()
			stillFailing := d.sendFail[k]
			d.mu.Unlock()
			if !stillFailing {
				return
			}
		}
	}
}
