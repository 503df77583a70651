// identity.go
package calendar

import "fmt"

// idGenerator formats the monotonic, origin-tagged appointment id
// required by §4.7: ids are assigned only by the originating node's
// create path and never reused once a counter value is issued.
//
// Grounded on utils.go's stableID/AppointmentIDFromSignature pattern in
// the teacher repo, simplified here to the spec's plain counter scheme:
// the spec requires id derivation from (origin node, local counter), not
// a content hash of the appointment fields.
type idGenerator struct {
	nodeID int
	apptNo uint64
}

func newIDGenerator(nodeID int, startAt uint64) *idGenerator {
	return &idGenerator{nodeID: nodeID, apptNo: startAt}
}

// next returns the next id and advances the counter. Callers must hold the
// replica mutex.
func (g *idGenerator) next() string {
	id := fmt.Sprintf("%d-%d", g.nodeID, g.apptNo)
	g.apptNo++
	return id
}
