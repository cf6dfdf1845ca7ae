package ice

// The connectivity checklist of [RFC8445 §6.1]: candidate pairs ordered by
// priority, periodically probed with STUN binding requests until one pair
// is nominated, with a triggered-check queue fed by inbound requests.

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"
)

type checklistState int

const (
	checklistRunning checklistState = iota
	checklistCompleted
	checklistFailed
)

// Pacing for outbound connectivity checks (Ta of [RFC8445 §14.2]) and for
// keepalives on the selected pair.
const (
	checkInterval     = 50 * time.Millisecond
	keepaliveInterval = 30 * time.Second
)

type Checklist struct {
	state checklistState

	// Whether this agent nominates [RFC8445 §6.1.1]. The controlling side
	// here uses aggressive nomination: every check carries USE-CANDIDATE,
	// and the first success wins.
	controlling bool

	// ICE credentials from negotiation.
	username       string
	localPassword  string
	remotePassword string

	pairs      []*CandidatePair
	nextPairID int

	// Pairs owed an immediate check because the peer just reached us on
	// them [RFC8445 §7.3.1.4].
	triggered []*CandidatePair

	// Pairs whose checks succeeded, and the nominated winner.
	valid    []*CandidatePair
	selected *CandidatePair

	// Round-robin cursor over pairs in the Waiting state.
	cursor int

	// State-change subscribers, keyed by subscription id.
	watchers    map[int]chan checklistState
	nextWatcher int

	mutex sync.Mutex
}

// addCandidatePairs crosses new local and remote candidates into pairs,
// then re-sorts, prunes, and unfreezes the list.
func (cl *Checklist) addCandidatePairs(locals, remotes []Candidate) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	for _, local := range locals {
		for _, remote := range remotes {
			if !compatible(local, remote) {
				continue
			}
			p := newCandidatePair(cl.nextPairID, local, remote, cl.controlling)
			cl.nextPairID++
			log.Debug("new candidate pair %s", p)
			cl.pairs = append(cl.pairs, p)
		}
	}

	cl.pairs = sortAndPrune(cl.pairs)

	for _, p := range cl.pairs {
		if p.state == Frozen {
			p.state = Waiting
		}
	}
}

// compatible candidates share a component and can exchange datagrams.
func compatible(local, remote Candidate) bool {
	return local.component == remote.component &&
		local.address.protocol == remote.address.protocol &&
		local.address.family == remote.address.family &&
		local.address.linkLocal == remote.address.linkLocal
}

// sortAndPrune orders pairs from highest to lowest priority [RFC8445
// §6.1.2.3] and drops redundant ones [§6.1.2.4]: a pair whose local base
// and remote candidate are already covered by a higher-priority pair.
// Pairs with checks in flight survive pruning (trickle keeps adding pairs
// while checks run).
func sortAndPrune(pairs []*CandidatePair) []*CandidatePair {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Priority() > pairs[j].Priority()
	})

	kept := pairs[:0]
	for _, p := range pairs {
		switch p.state {
		case InProgress, Succeeded, Failed:
			kept = append(kept, p)
			continue
		}
		redundant := false
		for _, higher := range kept {
			if isRedundant(p, higher) {
				log.Debug("pruning %s in favor of %s", p.id, higher.id)
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, p)
		}
	}
	return kept
}

func isRedundant(p, other *CandidatePair) bool {
	return p.remote.address == other.remote.address &&
		p.local.base.address == other.local.base.address
}

// run drives periodic checks and keepalives until ctx ends.
func (cl *Checklist) run(ctx context.Context) {
	go func() {
		checks := time.NewTicker(checkInterval)
		defer checks.Stop()
		keepalives := time.NewTicker(keepaliveInterval)
		defer keepalives.Stop()

		id, changes := cl.subscribe()
		defer cl.unsubscribe(id)

		for {
			select {
			case <-ctx.Done():
				return

			case state := <-changes:
				if state != checklistRunning {
					// Selected or failed either way; stop probing but keep
					// servicing keepalives until the agent shuts down.
					checks.Stop()
				}

			case <-checks.C:
				if p := cl.takeNextPair(); p != nil {
					if err := cl.sendCheck(p); err != nil {
						log.Warn("connectivity check on %s: %v", p.id, err)
					}
				}

			case <-keepalives.C:
				cl.mutex.Lock()
				selected := cl.selected
				cl.mutex.Unlock()
				if selected != nil {
					selected.sendStun(newStunBindingIndication(), nil)
				}
			}
		}
	}()
}

// getSelected blocks until a pair is nominated or ctx ends.
func (cl *Checklist) getSelected(ctx context.Context) (*CandidatePair, error) {
	id, changes := cl.subscribe()
	defer cl.unsubscribe(id)

	for {
		cl.mutex.Lock()
		selected := cl.selected
		cl.mutex.Unlock()
		if selected != nil {
			return selected, nil
		}

		select {
		case <-changes:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleStunRequest services a peer's connectivity check: adopt the pair if
// we've never seen it, honor nomination, answer, and schedule our own
// check back.
func (cl *Checklist) handleStunRequest(req *stunMessage, raddr net.Addr, base *Base) {
	p := cl.findPair(base, raddr)
	if p == nil {
		p = cl.adoptPeerReflexive(base, raddr, req.getPriority())
	}
	if req.hasUseCandidate() && !p.nominated {
		log.Debug("peer nominated %s", p.id)
		cl.nominate(p)
	}

	resp := newStunBindingResponse(req.transactionID, raddr, cl.localPassword)
	log.Debug("answering check %s -> %s: %s", base.LocalAddr(), raddr, resp)
	if err := base.sendStun(resp, raddr, nil); err != nil {
		log.Warn("cannot answer connectivity check: %v", err)
	}

	cl.scheduleTriggeredCheck(p)
}

// adoptPeerReflexive pairs a previously unknown remote address that just
// reached us [RFC8445 §7.3.1.3-4].
func (cl *Checklist) adoptPeerReflexive(base *Base, raddr net.Addr, priority uint32) *CandidatePair {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	remote := makePeerReflexiveCandidate(base, raddr, priority)
	log.Debug("adopting peer-reflexive candidate %s", remote)

	p := newCandidatePair(cl.nextPairID, makeHostCandidate(base), remote, cl.controlling)
	cl.nextPairID++
	p.state = Waiting
	cl.pairs = sortAndPrune(append(cl.pairs, p))
	return p
}

// takeNextPair pops the triggered queue, falling back to a round-robin scan
// for a Waiting pair.
func (cl *Checklist) takeNextPair() *CandidatePair {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if len(cl.triggered) > 0 {
		p := cl.triggered[0]
		cl.triggered = cl.triggered[1:]
		return p
	}

	for i := range cl.pairs {
		k := (cl.cursor + i) % len(cl.pairs)
		if p := cl.pairs[k]; p.state == Waiting {
			cl.cursor = (k + 1) % len(cl.pairs)
			return p
		}
	}
	return nil
}

// sendCheck issues one binding request on the pair. No answer within the
// retransmission timeout puts the pair back in Waiting for another round.
func (cl *Checklist) sendCheck(p *CandidatePair) error {
	req := newStunBindingRequest("")
	req.addAttribute(attrUsername, []byte(cl.username))
	if cl.controlling {
		req.addAttribute(attrIceControlling, roleTieBreaker)
		// Aggressive nomination: the first successful check is the one.
		req.addAttribute(attrUseCandidate, nil)
	} else {
		req.addAttribute(attrIceControlled, roleTieBreaker)
	}
	req.addPriority(p.local.peerPriority())
	req.addMessageIntegrity(cl.remotePassword)
	req.addFingerprint()

	p.state = InProgress
	expire := time.AfterFunc(cl.rto(), func() {
		if p.state == InProgress {
			p.state = Waiting
		}
	})

	log.Debug("%s: checking %s -> %s: %s", p.id, p.local.address, p.remote.address, req)
	return p.sendStun(req, func(resp *stunMessage, raddr net.Addr, base *Base) {
		expire.Stop()
		cl.handleCheckResponse(p, resp)
	})
}

// rto scales the retransmission timeout with the number of outstanding
// checks. See https://tools.ietf.org/html/rfc8445#section-14.3
func (cl *Checklist) rto() time.Duration {
	outstanding := 0
	for _, p := range cl.pairs {
		if p.state == Waiting || p.state == InProgress {
			outstanding++
		}
	}
	return time.Duration(outstanding) * checkInterval
}

func (cl *Checklist) handleCheckResponse(p *CandidatePair, resp *stunMessage) {
	if p.state != InProgress {
		log.Debug("stale check response for %s: %s", p.id, resp)
		return
	}

	switch resp.class {
	case stunSuccessResponse:
		log.Debug("%s: check succeeded", p.id)
		p.state = Succeeded
		cl.mutex.Lock()
		cl.valid = append(cl.valid, p)
		if cl.controlling {
			// The check carried USE-CANDIDATE, so success nominates.
			p.nominated = true
		}
		cl.mutex.Unlock()
	case stunErrorResponse:
		p.state = Failed
	default:
		log.Warn("check response with class %d on %s", resp.class, p.id)
		return
	}

	cl.refreshState()
}

func (cl *Checklist) nominate(p *CandidatePair) {
	if p.state == Frozen {
		p.state = Waiting
	}
	p.nominated = true
	cl.refreshState()
}

// refreshState promotes the first nominated valid pair to selected, and
// wakes the watchers.
func (cl *Checklist) refreshState() {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.state != checklistRunning {
		return
	}
	for _, p := range cl.valid {
		if p.nominated {
			log.Info("selected %s", p)
			cl.selected = p
			cl.state = checklistCompleted
			break
		}
	}

	for _, ch := range cl.watchers {
		select {
		case ch <- cl.state:
		default:
		}
	}
}

func (cl *Checklist) subscribe() (int, <-chan checklistState) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.watchers == nil {
		cl.watchers = make(map[int]chan checklistState)
	}
	id := cl.nextWatcher
	cl.nextWatcher++
	ch := make(chan checklistState, 1)
	cl.watchers[id] = ch
	return id, ch
}

func (cl *Checklist) unsubscribe(id int) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	delete(cl.watchers, id)
}

// findPair locates the pair matching an inbound check's base and source
// address.
func (cl *Checklist) findPair(base *Base, raddr net.Addr) *CandidatePair {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	remote := makeTransportAddress(raddr)
	for _, p := range cl.pairs {
		if p.local.address == base.address && p.remote.address == remote {
			return p
		}
	}
	return nil
}

func (cl *Checklist) scheduleTriggeredCheck(p *CandidatePair) {
	if p.state == Frozen || p.state == Waiting {
		cl.mutex.Lock()
		cl.triggered = append(cl.triggered, p)
		cl.mutex.Unlock()
	}
}
