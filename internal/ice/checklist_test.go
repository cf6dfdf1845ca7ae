package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairOf builds a minimally populated candidate pair for list-manipulation
// tests. base is optional and only needed when pruning compares bases.
func pairOf(t *testing.T, seq int, localPriority uint32, localAddr string, remoteAddr string, base *Base) *CandidatePair {
	t.Helper()
	local := Candidate{
		priority: localPriority,
		address:  parseTransportAddress("udp", localAddr, 1000+seq),
		base:     base,
	}
	remote := Candidate{
		priority: localPriority,
		address:  parseTransportAddress("udp", remoteAddr, 2000),
	}
	return newCandidatePair(seq, local, remote, false)
}

func TestSortOrdersByPairPriority(t *testing.T) {
	pairs := []*CandidatePair{
		pairOf(t, 1, 100, "10.0.0.1", "192.0.2.1", nil),
		pairOf(t, 2, 99, "10.0.0.2", "192.0.2.2", nil),
		pairOf(t, 3, 101, "10.0.0.3", "192.0.2.3", nil),
	}

	sorted := sortAndPrune(pairs)
	require.Len(t, sorted, 3)
	assert.EqualValues(t, 101, sorted[0].local.priority)
	assert.EqualValues(t, 100, sorted[1].local.priority)
	assert.EqualValues(t, 99, sorted[2].local.priority)
}

func TestPruneDropsRedundantLowerPriorityPair(t *testing.T) {
	// A host pair and a server-reflexive pair sharing one base and one
	// remote candidate are redundant; only the higher-priority one stays.
	base := &Base{address: parseTransportAddress("udp", "10.0.0.1", 1001)}
	host := pairOf(t, 1, 100, "10.0.0.1", "198.51.100.5", base)
	srflx := pairOf(t, 2, 99, "203.0.113.4", "198.51.100.5", base)

	pruned := sortAndPrune([]*CandidatePair{host, srflx})
	require.Len(t, pruned, 1)
	assert.Same(t, host, pruned[0])
}

func TestPruneKeepsPairsWithChecksInFlight(t *testing.T) {
	base := &Base{address: parseTransportAddress("udp", "10.0.0.1", 1001)}
	host := pairOf(t, 1, 100, "10.0.0.1", "198.51.100.5", base)
	srflx := pairOf(t, 2, 99, "203.0.113.4", "198.51.100.5", base)
	srflx.state = InProgress

	pruned := sortAndPrune([]*CandidatePair{host, srflx})
	assert.Len(t, pruned, 2)
}

func TestAddCandidatePairsUnfreezes(t *testing.T) {
	var cl Checklist
	base := &Base{
		address:       parseTransportAddress("udp", "10.0.0.1", 1000),
		component:     1,
		priorityTable: newPriorityTable(),
	}
	local := makeHostCandidate(base)
	remote := Candidate{
		component: 1,
		priority:  200,
		address:   parseTransportAddress("udp", "192.0.2.7", 4000),
	}

	cl.addCandidatePairs([]Candidate{local}, []Candidate{remote})
	require.Len(t, cl.pairs, 1)
	assert.Equal(t, Waiting, cl.pairs[0].state)

	// Incompatible candidates (different component) never pair.
	other := remote
	other.component = 2
	cl.addCandidatePairs([]Candidate{local}, []Candidate{other})
	assert.Len(t, cl.pairs, 1)
}

func TestTakeNextPairPrefersTriggeredQueue(t *testing.T) {
	var cl Checklist
	waiting := pairOf(t, 1, 100, "10.0.0.1", "192.0.2.1", nil)
	waiting.state = Waiting
	urgent := pairOf(t, 2, 50, "10.0.0.2", "192.0.2.2", nil)
	urgent.state = Waiting

	cl.pairs = []*CandidatePair{waiting, urgent}
	cl.scheduleTriggeredCheck(urgent)

	assert.Same(t, urgent, cl.takeNextPair())
	assert.Same(t, waiting, cl.takeNextPair())
	// Both consumed (urgent is no longer Waiting only in real checks; here
	// it is still Waiting, so the scan hands it out again).
	assert.NotNil(t, cl.takeNextPair())
}
