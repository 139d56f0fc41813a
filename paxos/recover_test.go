package paxos

import (
	gocheck "gopkg.in/check.v1"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/node"
)

type RecoverTest struct {
	baseReplicaTest
}

var _ = gocheck.Suite(&RecoverTest{})

// leader_init starts recovery and broadcasts collect to the
// rest of the quorum
func (s *RecoverTest) TestCollectBroadcast(c *gocheck.C) {
	s.elect(0, s.ids(0, 1, 2))

	leader := s.monitors[0].paxos
	c.Check(leader.state, gocheck.Equals, STATE_RECOVERING)
	c.Check(leader.acceptedPn, gocheck.Equals, uint64(100))
	c.Check(leader.numLast, gocheck.Equals, 1)

	// one collect per peon, nothing delivered yet
	c.Assert(len(s.network.queue), gocheck.Equals, 2)
}

// a fresh three monitor quorum recovers to ACTIVE everywhere,
// with the lease making every monitor readable
func (s *RecoverTest) TestFreshQuorumRecovery(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))

	for _, mon := range s.monitors {
		c.Check(mon.paxos.state, gocheck.Equals, STATE_ACTIVE)
		c.Check(mon.paxos.IsReadable(), gocheck.Equals, true)
	}
	c.Check(s.monitors[0].paxos.IsWriteable(), gocheck.Equals, true)

	// every peon acked, so the ack timeout was cancelled
	c.Check(s.monitors[0].paxos.leaseAckTimeoutEvent, gocheck.IsNil)
}

// a peon promises a higher pn and records where it came from
func (s *RecoverTest) TestHandleCollectPromise(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	peon := s.monitors[1].paxos
	pn := peon.acceptedPn

	collect := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_COLLECT,
		From:          node.NodeId(0),
		Pn:            pn + 100,
		PnFrom:        7,
		LastCommitted: 0,
		Values:        map[uint64][]byte{},
	}
	peon.Dispatch(collect)

	c.Check(peon.acceptedPn, gocheck.Equals, pn+100)
	c.Check(peon.acceptedPnFrom, gocheck.Equals, uint64(7))

	// the LAST reply carries the promise
	c.Assert(len(s.network.queue), gocheck.Equals, 1)
	s.network.deliverN(1)
	last := s.network.delivered[len(s.network.delivered)-1]
	c.Check(last.Op, gocheck.Equals, message.PAXOS_LAST)
	c.Check(last.Pn, gocheck.Equals, pn+100)
}

// a peon that already promised a higher pn replies with that pn
// instead of accepting the lower one
func (s *RecoverTest) TestHandleCollectRefusal(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	peon := s.monitors[1].paxos
	pn := peon.acceptedPn
	pnFrom := peon.acceptedPnFrom

	collect := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_COLLECT,
		From:          node.NodeId(0),
		Pn:            pn - 1,
		LastCommitted: 0,
		Values:        map[uint64][]byte{},
	}
	peon.Dispatch(collect)

	c.Check(peon.acceptedPn, gocheck.Equals, pn)
	c.Check(peon.acceptedPnFrom, gocheck.Equals, pnFrom)
}

// a leader that learns of a higher promise restarts collect
// with a number that beats it
func (s *RecoverTest) TestHandleLastRestart(c *gocheck.C) {
	s.elect(0, s.ids(0, 1, 2))
	leader := s.monitors[0].paxos
	pn := leader.acceptedPn
	s.network.dropAll()

	last := &message.PaxosMessage{
		Epoch:         s.epoch,
		MachineId:     1,
		Op:            message.PAXOS_LAST,
		From:          node.NodeId(1),
		Pn:            pn + 100,
		OldAcceptedPn: pn + 100,
		LastCommitted: 0,
		Values:        map[uint64][]byte{},
	}
	leader.Dispatch(last)

	c.Check(leader.acceptedPn > pn+100, gocheck.Equals, true)
	c.Check(leader.numLast, gocheck.Equals, 1)
	c.Check(leader.state, gocheck.Equals, STATE_RECOVERING)
}

// a lagging peon is caught up with a commit push during recovery
func (s *RecoverTest) TestCatchUpPush(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))
	s.propose(c, 0, []byte("B"))

	// knock mon 2 back to a single committed value
	lagging := s.monitors[2]
	lagging.paxos.lastCommitted = 1
	lagging.paxos.log.putLastCommitted(1)

	s.electAndSettle(c, 0, s.ids(0, 1, 2))

	c.Check(lagging.paxos.lastCommitted, gocheck.Equals, uint64(2))
	val, err := lagging.store.GetVersion("test", 2)
	c.Assert(err, gocheck.IsNil)
	c.Check(val, gocheck.DeepEquals, []byte("B"))
	s.assertAgreement(c)
}

// a lagging leader learns committed values from its peons'
// LAST replies
func (s *RecoverTest) TestCatchUpPull(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))
	s.propose(c, 0, []byte("B"))

	// mon 2 missed everything, then wins an election
	lagging := s.monitors[2]
	lagging.paxos.lastCommitted = 0
	lagging.paxos.log.putLastCommitted(0)

	s.electAndSettle(c, 2, s.ids(0, 1, 2))

	c.Check(lagging.paxos.lastCommitted, gocheck.Equals, uint64(2))
	val, err := lagging.store.GetVersion("test", 1)
	c.Assert(err, gocheck.IsNil)
	c.Check(val, gocheck.DeepEquals, []byte("A"))
	s.assertAgreement(c)
}

// a crashed leader's accepted but uncommitted
// value is discarded when the surviving quorum moved on without
// it, and the rejoining monitor converges on the survivors' value
func (s *RecoverTest) TestStaleUncommittedValueOverwritten(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))

	// mon 0 self accepts "B" for slot 2, but dies before
	// anyone hears about it
	s.network.partition(node.NodeId(0))
	s.monitors[0].paxos.ProposeNewValue([]byte("B"), nil)
	s.network.deliverAll()
	c.Check(s.monitors[0].paxos.lastCommitted, gocheck.Equals, uint64(1))
	c.Check(s.monitors[0].store.ExistsVersion("test", 2), gocheck.Equals, true)

	// the survivors elect mon 1 and commit "C" at slot 2
	s.electAndSettle(c, 1, s.ids(1, 2))
	s.propose(c, 1, []byte("C"))

	// mon 0 rejoins; recovery overwrites its dead "B"
	s.network.heal(node.NodeId(0))
	s.electAndSettle(c, 1, s.ids(0, 1, 2))

	for _, mon := range s.monitors {
		val, err := mon.store.GetVersion("test", 2)
		c.Assert(err, gocheck.IsNil)
		c.Check(val, gocheck.DeepEquals, []byte("C"))
	}
	s.assertAgreement(c)
}

// if a peon accepted a value from the dead
// leader, the new leader is bound to propose that value rather
// than a fresh one
func (s *RecoverTest) TestUncommittedValueAdopted(c *gocheck.C) {
	s.electAndSettle(c, 0, s.ids(0, 1, 2))
	s.propose(c, 0, []byte("A"))

	// leader 0 gets "B" accepted by mon 1 only, then dies.
	// mon 2 is unreachable for the round, and mon 1's ACCEPT
	// dies with the leader
	s.network.partition(node.NodeId(2))
	s.monitors[0].paxos.ProposeNewValue([]byte("B"), nil)
	s.network.deliverN(1)
	c.Check(s.monitors[1].store.ExistsVersion("test", 2), gocheck.Equals, true)
	s.network.partition(node.NodeId(0))
	s.network.deliverAll()
	c.Check(s.monitors[1].paxos.lastCommitted, gocheck.Equals, uint64(1))

	// mon 2 comes back and wins the election; recovery must
	// finish the dead leader's round with "B"
	s.network.heal(node.NodeId(2))
	s.electAndSettle(c, 2, s.ids(1, 2))

	for _, idx := range []int{1, 2} {
		mon := s.monitors[idx]
		c.Check(mon.paxos.lastCommitted, gocheck.Equals, uint64(2))
		val, err := mon.store.GetVersion("test", 2)
		c.Assert(err, gocheck.IsNil)
		c.Check(val, gocheck.DeepEquals, []byte("B"))
	}
	s.assertAgreement(c)
}
