package paxos

import (
	"github.com/kickboxerdb/monitor/message"
)

// phase 1: the freshly elected leader collects promises and any
// accepted but uncommitted values from its quorum, catching
// stragglers (or itself) up on committed state along the way

// leader
func (p *Paxos) collect(oldpn uint64) {
	p.state = STATE_RECOVERING
	assert(p.mon.IsLeader(), "collect called on non-leader")

	gt := p.acceptedPn
	if oldpn > gt {
		gt = oldpn
	}
	p.acceptedPn = p.newProposalNumber(gt)
	p.acceptedPnFrom = p.lastCommitted
	p.numLast = 1
	p.oldAcceptedV = 0
	p.oldAcceptedPn = 0
	p.oldAcceptedValue = nil

	logger.Debug("%v collect with pn %v", p.logPrefix(), p.acceptedPn)
	p.stats.Inc("paxos.collect", 1, 1.0)

	p.broadcast(func() *message.PaxosMessage {
		collect := p.newMessage(message.PAXOS_COLLECT)
		collect.LastCommitted = p.lastCommitted
		collect.Pn = p.acceptedPn
		collect.PnFrom = p.acceptedPnFrom
		return collect
	})
}

// peon
func (p *Paxos) handleCollect(collect *message.PaxosMessage) {
	logger.Debug("%v handle_collect %v", p.logPrefix(), collect)

	// the epoch filter in dispatch should catch strays
	assert(p.mon.IsPeon(), "handle_collect on non-peon")

	p.state = STATE_RECOVERING

	last := p.newMessage(message.PAXOS_LAST)
	last.LastCommitted = p.lastCommitted

	// do we have an accepted but uncommitted value?
	//  (it'll be at lastCommitted+1)
	if p.log.exists(p.lastCommitted + 1) {
		val := p.log.get(p.lastCommitted + 1)
		assert(len(val) > 0, "empty uncommitted value at %v", p.lastCommitted+1)
		logger.Debug("%v sharing our accepted but uncommitted value for %v",
			p.logPrefix(), p.lastCommitted+1)
		last.Values[p.lastCommitted+1] = val
		last.OldAcceptedPn = p.acceptedPn
	}

	// can we accept this pn?
	if collect.Pn > p.acceptedPn {
		p.acceptedPn = collect.Pn
		p.acceptedPnFrom = collect.PnFrom
		logger.Debug("%v accepting pn %v from %v", p.logPrefix(), p.acceptedPn, p.acceptedPnFrom)
	} else {
		// don't accept. Replying with the pn we already
		// promised is the refusal
		logger.Debug("%v NOT accepting pn %v, we already accepted %v",
			p.logPrefix(), collect.Pn, p.acceptedPn)
	}
	last.Pn = p.acceptedPn
	last.PnFrom = p.acceptedPnFrom

	// and share whatever committed data we have
	for v := collect.LastCommitted; v <= p.lastCommitted; v++ {
		if v == 0 {
			continue
		}
		if p.log.exists(v) {
			last.Values[v] = p.log.get(v)
			logger.Debug("%v sharing %v (%v bytes)", p.logPrefix(), v, len(last.Values[v]))
		}
	}

	p.send(collect.From, last)
}

// leader
func (p *Paxos) handleLast(last *message.PaxosMessage) {
	logger.Debug("%v handle_last %v", p.logPrefix(), last)

	if !p.mon.IsLeader() {
		logger.Debug("%v not leader, dropping", p.logPrefix())
		return
	}

	// does the peer need committed values we have?
	if last.LastCommitted < p.lastCommitted {
		logger.Debug("%v sending commit to %v", p.logPrefix(), last.From)
		commit := p.newMessage(message.PAXOS_COMMIT)
		commit.Pn = p.acceptedPn
		commit.LastCommitted = p.lastCommitted
		for v := last.LastCommitted; v <= p.lastCommitted; v++ {
			if v == 0 {
				continue
			}
			commit.Values[v] = p.log.get(v)
		}
		p.send(last.From, commit)
	}

	// did the peer have committed values we're missing?
	if last.LastCommitted > p.lastCommitted {
		for v := p.lastCommitted + 1; v <= last.LastCommitted; v++ {
			val, exists := last.Values[v]
			assert(exists, "catch up reply missing value for %v", v)
			p.log.put(v, val)
			logger.Debug("%v committing %v (%v bytes)", p.logPrefix(), v, len(val))
		}
		p.lastCommitted = last.LastCommitted
		p.log.putLastCommitted(p.lastCommitted)
		logger.Debug("%v last_committed now %v", p.logPrefix(), p.lastCommitted)
	}

	// do they accept our pn?
	if last.OldAcceptedPn > p.acceptedPn {
		// no. try again with a bigger one
		logger.Debug("%v they had a higher pn than us, picking a new one", p.logPrefix())
		p.collect(last.OldAcceptedPn)
		return
	}

	// yes, they accepted our pn
	p.numLast++
	logger.Debug("%v they accepted our pn, we now have %v peons", p.logPrefix(), p.numLast)

	// did this peon send back an accepted but uncommitted value?
	if last.OldAcceptedPn != 0 && last.OldAcceptedPn > p.oldAcceptedPn {
		p.oldAcceptedV = last.LastCommitted + 1
		p.oldAcceptedPn = last.OldAcceptedPn
		p.oldAcceptedValue = last.Values[p.oldAcceptedV]
		logger.Debug("%v learned an old value for %v pn %v (%v bytes)",
			p.logPrefix(), p.oldAcceptedV, p.oldAcceptedPn, len(p.oldAcceptedValue))
	}

	// is that everyone?
	if p.numLast == p.mon.QuorumSize() {
		if p.oldAcceptedV == p.lastCommitted+1 && len(p.oldAcceptedValue) > 0 {
			// an earlier round left an accepted value at the next
			// slot; we're bound to finish that round's work
			logger.Debug("%v that's everyone. begin on old learned value", p.logPrefix())
			p.begin(p.oldAcceptedValue)
		} else {
			logger.Debug("%v that's everyone. active!", p.logPrefix())
			p.state = STATE_ACTIVE
			p.finishWaiters(&p.waitingForActive, nil)
			p.extendLease()
		}
	}
}
