package paxos

import (
	gocheck "gopkg.in/check.v1"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/node"
)

type ProposeTest struct {
	baseReplicaTest
}

var _ = gocheck.Suite(&ProposeTest{})

// a full proposal round commits the value on every monitor
func (s *ProposeTest) TestCommitRound(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))

	for _, mon := range s.monitors {
		c.Check(mon.paxos.lastCommitted, gocheck.Equals, uint64(1))
		val, err := mon.store.GetVersion("test", 1)
		c.Assert(err, gocheck.IsNil)
		c.Check(val, gocheck.DeepEquals, []byte("A"))
	}

	// the leader is back to ACTIVE with no proposal in flight
	leader := s.monitors[0].paxos
	c.Check(leader.state, gocheck.Equals, STATE_ACTIVE)
	c.Check(len(leader.newValue), gocheck.Equals, 0)
	c.Check(leader.acceptTimeoutEvent, gocheck.IsNil)
	s.assertAgreement(c)
}

// consecutive proposals advance the log one slot at a time
func (s *ProposeTest) TestConsecutiveRounds(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))
	s.propose(c, 0, []byte("B"))
	s.propose(c, 0, []byte("C"))

	for _, mon := range s.monitors {
		c.Check(mon.paxos.lastCommitted, gocheck.Equals, uint64(3))
	}
	s.assertAgreement(c)
}

// a singleton quorum commits synchronously, without messages
// or lease checks
func (s *ProposeTest) TestSingletonQuorum(c *gocheck.C) {
	s.elect(0, s.ids(0))
	solo := s.monitors[0].paxos
	c.Check(solo.state, gocheck.Equals, STATE_ACTIVE)
	c.Check(solo.IsReadable(), gocheck.Equals, true)
	c.Check(solo.IsWriteable(), gocheck.Equals, true)

	committed := false
	solo.ProposeNewValue([]byte("A"), func(err error) {
		c.Assert(err, gocheck.IsNil)
		committed = true
	})

	c.Check(committed, gocheck.Equals, true)
	c.Check(solo.lastCommitted, gocheck.Equals, uint64(1))
	c.Check(solo.state, gocheck.Equals, STATE_ACTIVE)
	c.Check(len(s.network.queue), gocheck.Equals, 0)
}

// a begin carrying a lower pn than the peon promised is dropped
func (s *ProposeTest) TestHandleBeginStalePn(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	peon := s.monitors[1].paxos

	begin := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_BEGIN,
		From:          node.NodeId(0),
		Pn:            peon.acceptedPn - 1,
		LastCommitted: 0,
		Values:        map[uint64][]byte{1: []byte("X")},
	}
	peon.Dispatch(begin)

	c.Check(peon.state, gocheck.Equals, STATE_ACTIVE)
	c.Check(peon.log.exists(1), gocheck.Equals, false)
	c.Check(len(s.network.queue), gocheck.Equals, 0)
}

// an accept from an abandoned round is ignored
func (s *ProposeTest) TestHandleAcceptStalePn(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	leader := s.monitors[0].paxos
	leader.ProposeNewValue([]byte("A"), nil)
	numAccepted := leader.numAccepted

	accept := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_ACCEPT,
		From:          node.NodeId(1),
		Pn:            leader.acceptedPn - 100,
		LastCommitted: leader.lastCommitted,
	}
	leader.Dispatch(accept)
	c.Check(leader.numAccepted, gocheck.Equals, numAccepted)
}

// the peon's accepted value lands in the store before its
// accept goes out, and its lease is cancelled for the round
func (s *ProposeTest) TestHandleBeginAccepts(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.monitors[0].paxos.ProposeNewValue([]byte("A"), nil)

	s.network.deliverN(1)
	peon := s.monitors[1].paxos
	c.Check(peon.state, gocheck.Equals, STATE_UPDATING)
	c.Check(peon.leaseExpire.IsZero(), gocheck.Equals, true)
	val, err := s.monitors[1].store.GetVersion("test", 1)
	c.Assert(err, gocheck.IsNil)
	c.Check(val, gocheck.DeepEquals, []byte("A"))
}

// the leader commits as soon as a strict majority of all
// monitors has accepted, before the full quorum finishes
func (s *ProposeTest) TestCommitOnMajority(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	leader := s.monitors[0].paxos
	leader.ProposeNewValue([]byte("A"), nil)

	// both begins, then exactly one accept
	s.network.deliverN(2)
	s.network.deliverN(1)

	c.Check(leader.lastCommitted, gocheck.Equals, uint64(1))
	c.Check(leader.state, gocheck.Equals, STATE_UPDATING)
	c.Check(leader.acceptTimeoutEvent, gocheck.NotNil)

	// the last accept completes the round
	s.network.deliverAll()
	c.Check(leader.state, gocheck.Equals, STATE_ACTIVE)
	c.Check(leader.acceptTimeoutEvent, gocheck.IsNil)
	s.assertAgreement(c)
}

// a peon that never sees BEGIN stalls the round
// until the accept timeout fires and forces an election
func (s *ProposeTest) TestAcceptTimeout(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1))
	leader := s.monitors[0]

	s.network.partition(node.NodeId(1))
	leader.paxos.ProposeNewValue([]byte("A"), nil)
	s.network.deliverAll()

	c.Check(leader.paxos.state, gocheck.Equals, STATE_UPDATING)
	c.Check(leader.paxos.lastCommitted, gocheck.Equals, uint64(0))
	c.Check(leader.membership.electionCalls, gocheck.Equals, 0)

	leader.timer.Advance(DEFAULT_ACCEPT_TIMEOUT)
	c.Check(leader.membership.electionCalls, gocheck.Equals, 1)
	c.Check(leader.stats.counter("paxos.accept_timeout"), gocheck.Equals, int64(1))
}

// commits are applied in version order, and a commit that would
// leave a gap is a protocol violation
func (s *ProposeTest) TestHandleCommitGapPanics(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	peon := s.monitors[1].paxos

	commit := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_COMMIT,
		From:          node.NodeId(0),
		Pn:            peon.acceptedPn,
		LastCommitted: 5,
		Values:        map[uint64][]byte{5: []byte("X")},
	}
	c.Assert(func() { peon.Dispatch(commit) }, gocheck.PanicMatches, ".*gap.*")
}
