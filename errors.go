// errors.go
package calendar

import "errors"

// ErrInvalidInput is returned by the command API when a request violates
// the input constraints of §4.1 (day/slot range, start<end, empty participants).
var ErrInvalidInput = errors.New("invalid input")

// ErrLocalConflict is returned by Create when the local grid already shows
// a requested participant busy in the requested range.
var ErrLocalConflict = errors.New("local booking conflict")

// ErrUnknownAppointment names a Cancel/DeleteConflict against an id not
// currently present in the dictionary. Nothing in this package returns it:
// cancel of an unknown id is a no-op that returns nil.
var ErrUnknownAppointment = errors.New("unknown appointment")

// ErrSnapshotWrite indicates a durable snapshot could not be written.
// Per §7 this is fatal: the replica reports it on its fail-stop channel
// rather than returning it across an API boundary.
var ErrSnapshotWrite = errors.New("snapshot write failed")

// ErrTransportUnreachable wraps a dial/send failure the delivery loop
// absorbs and retries; it is never returned across the command API.
var ErrTransportUnreachable = errors.New("peer unreachable")
