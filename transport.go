// transport.go
package calendar

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"time"
)

// Message kinds per §6.
const (
	MsgSendLog        int32 = 0
	MsgDeleteConflict int32 = 1
)

// sendLogBody is the body of a MsgSendLog frame: NP plus a T snapshot.
type sendLogBody struct {
	NP []EventRecord
	T  TimeTable
}

// deleteConflictBody is the body of a MsgDeleteConflict frame.
type deleteConflictBody struct {
	Appt Appointment
}

// Transport is the single collaborator the replication engine consumes
// from the outside world (§1: "a transport that delivers opaque messages
// to a peer"). One Send call is one blocking attempt to deliver one framed
// message, matching §4.5's "single blocking operation" contract.
//
// Grounded on the Transport interface shape in
// other_examples/.../TickTockBent-REPRAM internal/gossip/protocol.go.
type Transport interface {
	Send(peer int, kind int32, body []byte, senderID int) error
}

// TCPTransport dials a fresh connection per send and frames the message as
// int32 kind, gob body, int32 sender_id (§6). Decoding the reverse of this
// framing lives in inbound.go.
type TCPTransport struct {
	peers   *PeerStore
	dialTO  time.Duration
}

func NewTCPTransport(peers *PeerStore) *TCPTransport {
	return &TCPTransport{peers: peers, dialTO: 5 * time.Second}
}

func (t *TCPTransport) Send(peer int, kind int32, body []byte, senderID int) error {
	addr, ok := t.peers.ResolveAddr(peer)
	if !ok {
		return fmt.Errorf("%w: no address for peer %d", ErrTransportUnreachable, peer)
	}
	conn, err := net.DialTimeout("tcp", addr, t.dialTO)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnreachable, err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, kind); err != nil {
		return err
	}
	buf.Write(body)
	if err := binary.Write(&buf, binary.BigEndian, int32(senderID)); err != nil {
		return err
	}
	_, err = conn.Write(buf.Bytes())
	return err
}

// encodeSendLog/encodeDeleteConflict produce the gob-encoded body for each
// message kind. gob is chosen over a hand-rolled TLV because every replica
// in this deployment is a homogeneous Go binary built from the same
// source; see SPEC_FULL.md §6 for the heterogeneous-deployment caveat.
func encodeSendLog(np []EventRecord, t TimeTable) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sendLogBody{NP: np, T: t}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSendLog(r io.Reader) (sendLogBody, error) {
	var body sendLogBody
	err := gob.NewDecoder(r).Decode(&body)
	return body, err
}

func encodeDeleteConflict(a Appointment) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(deleteConflictBody{Appt: a}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDeleteConflict(r io.Reader) (deleteConflictBody, error) {
	var body deleteConflictBody
	err := gob.NewDecoder(r).Decode(&body)
	return body, err
}
