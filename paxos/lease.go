package paxos

import (
	mapset "github.com/deckarep/golang-set"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/timer"
)

// the leader grants the quorum a time bounded read lease between
// proposals, so any monitor holding a live lease can serve reads
// without a consensus round trip. Peons track expiry only; the
// leader tracks acks and renews ahead of expiry

// leader
func (p *Paxos) extendLease() {
	assert(p.mon.IsLeader(), "extend_lease called on non-leader")
	assert(p.state == STATE_ACTIVE, "extend_lease in state %v", p.state)

	p.leaseExpire = p.clock.Now().Add(p.cfg.Lease)
	p.ackedLease.Clear()
	p.ackedLease.Add(p.mon.GetId())

	logger.Debug("%v extend_lease now+%v (%v)", p.logPrefix(), p.cfg.Lease, p.leaseExpire)

	p.broadcast(func() *message.PaxosMessage {
		lease := p.newMessage(message.PAXOS_LEASE)
		lease.LastCommitted = p.lastCommitted
		lease.LeaseExpire = p.leaseExpire
		return lease
	})

	// wake people up
	p.finishWaiters(&p.waitingForReadable, nil)
	p.finishWaiters(&p.waitingForWriteable, nil)

	// set renew event
	if p.leaseRenewEvent != nil {
		p.timer.CancelEvent(p.leaseRenewEvent)
	}
	var renew *timer.Event
	renew = p.timer.AddEventAfter(p.cfg.LeaseRenewInterval, func() {
		p.leaseRenew(renew)
	})
	p.leaseRenewEvent = renew

	// set timeout event.
	//  if an old timeout is still in place, leave it
	if p.leaseAckTimeoutEvent == nil {
		var ackTimeout *timer.Event
		ackTimeout = p.timer.AddEventAfter(p.cfg.LeaseAckTimeout, func() {
			p.leaseAckTimeout(ackTimeout)
		})
		p.leaseAckTimeoutEvent = ackTimeout
	}
}

func (p *Paxos) leaseRenew(event *timer.Event) {
	p.enter(func() {
		if p.leaseRenewEvent != event {
			return
		}
		p.leaseRenewEvent = nil
		p.extendLease()
	})
}

// peon
func (p *Paxos) handleLease(lease *message.PaxosMessage) {
	// sanity
	if !p.mon.IsPeon() || lease.LastCommitted != p.lastCommitted {
		logger.Debug("%v handle_lease -- not a peon, or stale lease, dropping", p.logPrefix())
		return
	}

	// a lease can only extend
	if p.leaseExpire.Before(lease.LeaseExpire) {
		p.leaseExpire = lease.LeaseExpire
	}

	// the leader wouldn't be granting leases unless it finished
	// recovery, so its word makes us active too
	p.state = STATE_ACTIVE
	p.finishWaiters(&p.waitingForActive, nil)

	logger.Debug("%v handle_lease on %v now %v", p.logPrefix(), lease.LastCommitted, p.leaseExpire)

	// ack
	ack := p.newMessage(message.PAXOS_LEASE_ACK)
	ack.LastCommitted = p.lastCommitted
	ack.LeaseExpire = p.leaseExpire
	p.send(lease.From, ack)

	// kick waiters
	if p.isReadable() {
		p.finishWaiters(&p.waitingForReadable, nil)
	}
}

// leader
func (p *Paxos) handleLeaseAck(ack *message.PaxosMessage) {
	if p.ackedLease.Contains(ack.From) {
		logger.Debug("%v handle_lease_ack from %v dup (lagging!), ignoring", p.logPrefix(), ack.From)
		return
	}

	p.ackedLease.Add(ack.From)

	if p.ackedLease.Equal(p.quorumSet()) {
		logger.Debug("%v handle_lease_ack from %v -- got everyone", p.logPrefix(), ack.From)
		if p.leaseAckTimeoutEvent != nil {
			p.timer.CancelEvent(p.leaseAckTimeoutEvent)
			p.leaseAckTimeoutEvent = nil
		}
	} else {
		logger.Debug("%v handle_lease_ack from %v -- still need %v more",
			p.logPrefix(), ack.From, p.mon.QuorumSize()-p.ackedLease.Cardinality())
	}
}

func (p *Paxos) leaseAckTimeout(event *timer.Event) {
	p.enter(func() {
		if p.leaseAckTimeoutEvent != event {
			return
		}
		p.leaseAckTimeoutEvent = nil
		logger.Warning("%v lease_ack_timeout -- calling new election", p.logPrefix())
		assert(p.mon.IsLeader(), "lease ack timeout on non-leader")
		assert(p.state == STATE_ACTIVE, "lease ack timeout in state %v", p.state)
		p.stats.Inc("paxos.lease_ack_timeout", 1, 1.0)
		p.mon.CallElection()
	})
}

func (p *Paxos) quorumSet() mapset.Set {
	set := mapset.NewSet()
	for _, id := range p.mon.GetQuorum() {
		set.Add(id)
	}
	return set
}
