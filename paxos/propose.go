package paxos

import (
	"time"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/timer"
)

// phase 2: the leader asks its quorum to accept a value for the
// next slot, commits once a strict majority of all monitors has
// accepted, and disseminates the committed value

// leader
func (p *Paxos) begin(value []byte) {
	logger.Debug("%v begin for %v (%v bytes)", p.logPrefix(), p.lastCommitted+1, len(value))

	assert(p.mon.IsLeader(), "begin called on non-leader")
	assert(p.state == STATE_ACTIVE || p.state == STATE_RECOVERING,
		"begin in state %v", p.state)

	// we must already have a majority for this to work
	assert(p.mon.QuorumSize() == 1 || p.numLast > p.mon.NumMonitors()/2,
		"begin without a majority of lasts (%v)", p.numLast)

	// and no value, yet
	assert(len(p.newValue) == 0, "begin with a proposal in flight")

	p.state = STATE_UPDATING

	// accept it ourselves
	p.numAccepted = 1
	p.newValue = value
	p.log.put(p.lastCommitted+1, p.newValue)

	p.beginTime = p.clock.Now()
	p.stats.Inc("paxos.begin", 1, 1.0)

	if p.mon.QuorumSize() == 1 {
		// we're alone, take it easy
		p.commit()
		p.state = STATE_ACTIVE
		p.finishWaiters(&p.waitingForCommit, nil)
		p.finishWaiters(&p.waitingForActive, nil)
		return
	}

	// ask others to accept it too
	p.broadcast(func() *message.PaxosMessage {
		begin := p.newMessage(message.PAXOS_BEGIN)
		begin.Values[p.lastCommitted+1] = p.newValue
		begin.LastCommitted = p.lastCommitted
		begin.Pn = p.acceptedPn
		return begin
	})

	// give up and call an election if the full quorum
	// doesn't accept in time
	var event *timer.Event
	event = p.timer.AddEventAfter(p.cfg.AcceptTimeout, func() {
		p.acceptTimeout(event)
	})
	p.acceptTimeoutEvent = event
}

// peon
func (p *Paxos) handleBegin(begin *message.PaxosMessage) {
	logger.Debug("%v handle_begin %v", p.logPrefix(), begin)

	// can we accept this?
	if begin.Pn < p.acceptedPn {
		logger.Debug("%v we accepted a higher pn %v, ignoring", p.logPrefix(), p.acceptedPn)
		return
	}
	assert(begin.Pn == p.acceptedPn, "begin pn %v != accepted pn %v", begin.Pn, p.acceptedPn)
	assert(begin.LastCommitted == p.lastCommitted,
		"begin last_committed %v != ours %v", begin.LastCommitted, p.lastCommitted)

	p.state = STATE_UPDATING
	p.leaseExpire = time.Time{} // cancel lease

	// yes
	v := p.lastCommitted + 1
	logger.Debug("%v accepting value for %v pn %v", p.logPrefix(), v, p.acceptedPn)
	p.log.put(v, begin.Values[v])

	accept := p.newMessage(message.PAXOS_ACCEPT)
	accept.Pn = p.acceptedPn
	accept.LastCommitted = p.lastCommitted
	p.send(begin.From, accept)
}

// leader
func (p *Paxos) handleAccept(accept *message.PaxosMessage) {
	logger.Debug("%v handle_accept %v", p.logPrefix(), accept)

	if accept.Pn != p.acceptedPn {
		// stale reply from a round we've since abandoned
		logger.Debug("%v we accepted a higher pn %v, ignoring", p.logPrefix(), p.acceptedPn)
		return
	}
	if p.lastCommitted > 0 && accept.LastCommitted < p.lastCommitted-1 {
		logger.Debug("%v this is from an old round, ignoring", p.logPrefix())
		return
	}
	assert(accept.LastCommitted == p.lastCommitted || // not yet committed
		accept.LastCommitted == p.lastCommitted-1, // already committed
		"accept last_committed %v vs ours %v", accept.LastCommitted, p.lastCommitted)

	assert(p.state == STATE_UPDATING, "accept outside an update (state %v)", p.state)
	p.numAccepted++
	logger.Debug("%v now %v have accepted", p.logPrefix(), p.numAccepted)

	// new majority? Note the majority is counted against the
	// total monitor count, not the current quorum, so commit
	// can run before every quorum member has replied
	if p.numAccepted == p.mon.NumMonitors()/2+1 {
		logger.Debug("%v we got a majority, committing", p.logPrefix())
		p.commit()
	}

	// done?
	if p.numAccepted == p.mon.QuorumSize() {
		p.state = STATE_ACTIVE
		p.finishWaiters(&p.waitingForCommit, nil)
		p.finishWaiters(&p.waitingForActive, nil)
		p.extendLease()

		p.stats.TimingDuration("paxos.round", p.clock.Now().Sub(p.beginTime), 1.0)

		if p.acceptTimeoutEvent != nil {
			p.timer.CancelEvent(p.acceptTimeoutEvent)
			p.acceptTimeoutEvent = nil
		}
	}
}

func (p *Paxos) acceptTimeout(event *timer.Event) {
	p.enter(func() {
		if p.acceptTimeoutEvent != event {
			// cancelled after it fired
			return
		}
		p.acceptTimeoutEvent = nil
		logger.Warning("%v accept timeout, calling fresh election", p.logPrefix())
		assert(p.mon.IsLeader(), "accept timeout on non-leader")
		assert(p.state == STATE_UPDATING, "accept timeout in state %v", p.state)
		p.stats.Inc("paxos.accept_timeout", 1, 1.0)
		p.mon.CallElection()
	})
}

// leader
func (p *Paxos) commit() {
	logger.Debug("%v commit %v", p.logPrefix(), p.lastCommitted+1)

	// commit locally
	p.lastCommitted++
	p.log.putLastCommitted(p.lastCommitted)

	p.stats.Inc("paxos.commit", 1, 1.0)

	// tell everyone
	p.broadcast(func() *message.PaxosMessage {
		commit := p.newMessage(message.PAXOS_COMMIT)
		commit.Values[p.lastCommitted] = p.newValue
		commit.Pn = p.acceptedPn
		commit.LastCommitted = p.lastCommitted
		return commit
	})

	// get ready for a new round
	p.newValue = nil
}

// peon
func (p *Paxos) handleCommit(commit *message.PaxosMessage) {
	logger.Debug("%v handle_commit on %v", p.logPrefix(), commit.LastCommitted)

	assert(p.mon.IsPeon(), "handle_commit on non-peon")

	// commit locally. Catch up pushes resend slots we already
	// have; those are idempotent and skipped
	for _, v := range commit.VersionsInOrder() {
		if v <= p.lastCommitted {
			continue
		}
		assert(v == p.lastCommitted+1, "commit for %v leaves a gap after %v", v, p.lastCommitted)
		p.log.put(v, commit.Values[v])
		p.lastCommitted = v
	}
	p.log.putLastCommitted(p.lastCommitted)
}
