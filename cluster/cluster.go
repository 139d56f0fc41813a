/*
Cluster membership view consumed by the paxos machines.

Leader election itself happens elsewhere; the elector pushes role
changes into the Monitor, and the paxos machines query it for the
current role, leader, and quorum set.
 */
package cluster

import (
	"sync"
)

import (
	logging "github.com/op/go-logging"
)

import (
	"github.com/kickboxerdb/monitor/node"
	"github.com/kickboxerdb/monitor/paxos"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("cluster")
}

type Role string

const (
	// an election is in progress
	ROLE_STARTING = Role("STARTING")
	ROLE_LEADER   = Role("LEADER")
	ROLE_PEON     = Role("PEON")
)

// tracks this monitor's view of the cluster: election epoch,
// role, leader, the current quorum, and the total monitor count
type Monitor struct {
	id      node.NodeId
	numMons int

	lock   sync.RWMutex
	epoch  uint32
	role   Role
	leader node.NodeId
	quorum []node.NodeId

	// invoked when the paxos layer needs a fresh election
	electionRequested func()
}

var _ = paxos.Membership(&Monitor{})

func NewMonitor(id node.NodeId, numMons int, electionRequested func()) *Monitor {
	return &Monitor{
		id:                id,
		numMons:           numMons,
		role:              ROLE_STARTING,
		quorum:            []node.NodeId{},
		electionRequested: electionRequested,
	}
}

func (m *Monitor) GetId() node.NodeId { return m.id }

func (m *Monitor) NumMonitors() int { return m.numMons }

func (m *Monitor) GetEpoch() uint32 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.epoch
}

func (m *Monitor) IsStarting() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.role == ROLE_STARTING
}

func (m *Monitor) IsLeader() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.role == ROLE_LEADER
}

func (m *Monitor) IsPeon() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.role == ROLE_PEON
}

func (m *Monitor) GetLeader() node.NodeId {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.leader
}

// returns the current quorum. The returned slice is shared;
// callers must not modify it
func (m *Monitor) GetQuorum() []node.NodeId {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.quorum
}

func (m *Monitor) QuorumSize() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.quorum)
}

// installs the result of an election. Called by the elector
// before it announces the role change to the paxos machines
func (m *Monitor) SetElectionResult(epoch uint32, role Role, leader node.NodeId, quorum []node.NodeId) {
	m.lock.Lock()
	defer m.lock.Unlock()
	logger.Info("%v epoch %v: %v, leader %v, quorum %v", m.id, epoch, role, leader, quorum)
	m.epoch = epoch
	m.role = role
	m.leader = leader
	m.quorum = quorum
}

// marks an election as in progress
func (m *Monitor) StartElection() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.role = ROLE_STARTING
}

// requests a fresh election from the elector. Called by the
// paxos layer on accept / lease ack timeouts
func (m *Monitor) CallElection() {
	if m.electionRequested != nil {
		m.electionRequested()
	}
}
