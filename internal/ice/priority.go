package ice

import "sync"

// PriorityTable assigns a stable [RFC8445 §5.1.2.1] local-preference value to
// each network interface a session gathers candidates from, so that
// candidates bound to whichever interface was seen first are preferred over
// later ones, and the same interface always gets the same preference across
// every candidate gathered for it.
type PriorityTable struct {
	mu    sync.Mutex
	order []int
	prefs map[int]int
}

func newPriorityTable() *PriorityTable {
	return &PriorityTable{prefs: make(map[int]int)}
}

// localPreference returns the local-preference value for the given
// interface index, assigning the next available rank the first time an
// index is seen.
func (pt *PriorityTable) localPreference(ifaceIndex int) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pref, ok := pt.prefs[ifaceIndex]; ok {
		return pref
	}
	rank := len(pt.order)
	pt.order = append(pt.order, ifaceIndex)
	pref := 65535 - rank
	pt.prefs[ifaceIndex] = pref
	return pref
}
