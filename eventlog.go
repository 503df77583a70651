// eventlog.go
package calendar

import "sort"

// Log (L) is the set of all EventRecords this node has ever seen.
// Grows monotonically; deduplicated by record equality (§3).
type Log struct {
	byKey map[eventKey]EventRecord
}

func newLog() *Log {
	return &Log{byKey: make(map[eventKey]EventRecord)}
}

// Add is idempotent: re-adding an already-known record is a no-op.
// Returns true if the record was new.
func (l *Log) Add(eR EventRecord) bool {
	k := eR.key()
	if _, ok := l.byKey[k]; ok {
		return false
	}
	l.byKey[k] = eR
	return true
}

func (l *Log) Contains(eR EventRecord) bool {
	_, ok := l.byKey[eR.key()]
	return ok
}

func (l *Log) Len() int { return len(l.byKey) }

func (l *Log) All() []EventRecord {
	out := make([]EventRecord, 0, len(l.byKey))
	for _, eR := range l.byKey {
		out = append(out, eR)
	}
	return out
}

// PartialLog (PL) is the subset of L still "interesting" to at least one
// peer: the send buffer (§3).
type PartialLog struct {
	byKey map[eventKey]EventRecord
}

func newPartialLog() *PartialLog {
	return &PartialLog{byKey: make(map[eventKey]EventRecord)}
}

func (p *PartialLog) Add(eR EventRecord)      { p.byKey[eR.key()] = eR }
func (p *PartialLog) Remove(eR EventRecord)   { delete(p.byKey, eR.key()) }
func (p *PartialLog) Len() int                { return len(p.byKey) }
func (p *PartialLog) Contains(eR EventRecord) bool {
	_, ok := p.byKey[eR.key()]
	return ok
}

// All returns every record in a deterministic order, so that two saves of
// an unchanged PartialLog serialize identically (§4.8's atomic-rename
// snapshot is only as good as producing the same bytes for the same
// state).
func (p *PartialLog) All() []EventRecord {
	out := make([]EventRecord, 0, len(p.byKey))
	for _, eR := range p.byKey {
		out = append(out, eR)
	}
	sortEventRecords(out)
	return out
}

func sortEventRecords(recs []EventRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.OriginNode != b.OriginNode {
			return a.OriginNode < b.OriginNode
		}
		if a.Clock != b.Clock {
			return a.Clock < b.Clock
		}
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		return a.Appt.ID < b.Appt.ID
	})
}

// projectNP computes { eR in PL : !hasRec(T, eR, k) } per §4.2 step 1.
func (p *PartialLog) projectNP(t TimeTable, k int) []EventRecord {
	out := make([]EventRecord, 0, len(p.byKey))
	for _, eR := range p.byKey {
		if !hasRec(t, eR, k) {
			out = append(out, eR)
		}
	}
	return out
}

// gc implements §4.3 step 6: drop records every peer already has, then
// re-admit the freshly-applied NE records that some peer still lacks.
func (p *PartialLog) gc(t TimeTable, n int, ne []EventRecord) {
	for k, eR := range p.byKey {
		if allHaveRec(t, eR, n) {
			delete(p.byKey, k)
		}
	}
	for _, eR := range ne {
		if !allHaveRec(t, eR, n) {
			p.byKey[eR.key()] = eR
		}
	}
}

func allHaveRec(t TimeTable, eR EventRecord, n int) bool {
	for s := 0; s < n; s++ {
		if !hasRec(t, eR, s) {
			return false
		}
	}
	return true
}
