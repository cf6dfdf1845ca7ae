package ice

import "fmt"

// CandidatePairState follows the per-pair state machine of [RFC8445 §6.1.2.6].
type CandidatePairState int

const (
	Frozen CandidatePairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

var pairStateNames = map[CandidatePairState]string{
	Frozen:     "Frozen",
	Waiting:    "Waiting",
	InProgress: "InProgress",
	Succeeded:  "Succeeded",
	Failed:     "Failed",
}

func (s CandidatePairState) String() string {
	if name, ok := pairStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CandidatePairState(%d)", int(s))
}

// CandidatePair couples one local and one remote candidate of the same
// component, with the check state and nomination flag that decide whether
// it becomes the session's 5-tuple.
type CandidatePair struct {
	id         string
	local      Candidate
	remote     Candidate
	foundation string
	component  int

	// Whether the local agent controls this session; decides which side's
	// candidate priority is G in the pair priority formula.
	controlling bool

	state     CandidatePairState
	nominated bool
}

func newCandidatePair(seq int, local, remote Candidate, controlling bool) *CandidatePair {
	if local.component != remote.component {
		panic(fmt.Sprintf("pairing candidates across components: %d vs %d", local.component, remote.component))
	}
	return &CandidatePair{
		id:          fmt.Sprintf("Pair#%d", seq),
		local:       local,
		remote:      remote,
		foundation:  local.foundation + "/" + remote.foundation,
		component:   local.component,
		controlling: controlling,
	}
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("%s: %s -> %s [%s]", p.id, p.local.address, p.remote.address, p.state)
}

// Priority orders pairs per [RFC8445 §6.1.2.3]: G is the controlling
// agent's candidate priority and D the controlled one's, so both agents
// rank a pair identically.
func (p *CandidatePair) Priority() uint64 {
	g := uint64(p.remote.priority)
	d := uint64(p.local.priority)
	if p.controlling {
		g, d = d, g
	}

	lo, hi := g, d
	if d < g {
		lo, hi = d, g
	}
	tiebreak := uint64(0)
	if g > d {
		tiebreak = 1
	}
	return lo<<32 + hi<<1 + tiebreak
}

// sendStun sends a STUN message to this pair's remote candidate from its
// local base, optionally registering a handler for the response.
func (p *CandidatePair) sendStun(msg *stunMessage, onResponse stunHandler) error {
	return p.local.base.sendStun(msg, p.remote.address.netAddr(), onResponse)
}
