// clock.go
package calendar

// TimeTable is the dense N×N matrix of non-negative integers described in
// §3: T[i][i] is node i's own clock; T[i][j] is i's lower bound on j's
// clock; T[j][k] is i's best estimate of what j knows about k.
//
// Grounded on the 1-D vector-clock Compare/Merge shape used by
// ppriyankuu-godkv's internal/store/vector_clock.go, generalized here to
// two dimensions per the Wuu-Bernstein construction.
type TimeTable [][]uint64

// NewTimeTable allocates an N×N table of zeroes.
func NewTimeTable(n int) TimeTable {
	t := make(TimeTable, n)
	for i := range t {
		t[i] = make([]uint64, n)
	}
	return t
}

// Clone returns a deep copy, used to hand an ephemeral snapshot to the
// delivery loop without holding the replica mutex during I/O (§4.2 step 2).
func (t TimeTable) Clone() TimeTable {
	out := make(TimeTable, len(t))
	for i, row := range t {
		out[i] = append([]uint64(nil), row...)
	}
	return out
}

// hasRec implements the predicate of §3: node k is known to have observed eR.
func hasRec(t TimeTable, eR EventRecord, k int) bool {
	return t[k][eR.OriginNode] >= eR.Clock
}

// mergeSelfRow applies the first line of §4.3 step 5: "I now know what k
// knows about r," for every r.
func mergeSelfRow(t TimeTable, self, k int, tk TimeTable) {
	for r := range t[self] {
		if tk[k][r] > t[self][r] {
			t[self][r] = tk[k][r]
		}
	}
}

// mergeAll applies the second line of §4.3 step 5: the element-wise maximum
// across every pair, generalising the self-row update to all (r,s).
func mergeAll(t TimeTable, tk TimeTable) {
	for r := range t {
		for s := range t[r] {
			if tk[r][s] > t[r][s] {
				t[r][s] = tk[r][s]
			}
		}
	}
}
