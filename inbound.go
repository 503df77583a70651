// inbound.go
package calendar

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
)

// InboundListener accepts one message per connection and dispatches it to
// the replica under its mutex (§4.6). Grounded on the teacher's
// cluster_http.go accept-and-dispatch loop, adapted from HTTP handlers to
// a raw framed-TCP listener per SPEC_FULL §6.
type InboundListener struct {
	replica *Replica
	ln      net.Listener
}

func NewInboundListener(replica *Replica, addr string) (*InboundListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &InboundListener{replica: replica, ln: ln}, nil
}

func (l *InboundListener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Decoding is liberal: invalid kinds or malformed bodies are
// logged and the connection dropped, per §4.6 and the TransportMalformed
// entry of §7.
func (l *InboundListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				Logger().Warn("inbound_accept_error", "err", err)
				return err
			}
		}
		go l.handleConn(conn)
	}
}

func (l *InboundListener) handleConn(conn net.Conn) {
	defer conn.Close()

	// One buffered reader for the whole frame: gob wraps any reader that is
	// not an io.ByteReader in its own bufio.Reader, which would read ahead
	// and swallow the trailing sender_id.
	br := bufio.NewReader(conn)

	var kind int32
	if err := binary.Read(br, binary.BigEndian, &kind); err != nil {
		Logger().Warn("inbound_decode_kind_failed", "err", err)
		return
	}

	switch kind {
	case MsgSendLog:
		body, err := decodeSendLog(br)
		if err != nil {
			Logger().Warn("inbound_decode_sendlog_failed", "err", err)
			return
		}
		senderID, err := readSenderID(br)
		if err != nil {
			Logger().Warn("inbound_decode_sender_failed", "err", err)
			return
		}
		l.replica.HandleSendLog(context.Background(), senderID, body.NP, body.T)
	case MsgDeleteConflict:
		body, err := decodeDeleteConflict(br)
		if err != nil {
			Logger().Warn("inbound_decode_deleteconflict_failed", "err", err)
			return
		}
		senderID, err := readSenderID(br)
		if err != nil {
			Logger().Warn("inbound_decode_sender_failed", "err", err)
			return
		}
		l.replica.HandleDeleteConflict(context.Background(), senderID, body.Appt)
	default:
		Logger().Warn("inbound_unknown_kind", "kind", kind)
	}
}

func readSenderID(r io.Reader) (int, error) {
	var senderID int32
	if err := binary.Read(r, binary.BigEndian, &senderID); err != nil {
		return 0, err
	}
	return int(senderID), nil
}
