package paxos

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

import (
	"github.com/cactus/go-statsd-client/statsd"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/node"
	"github.com/kickboxerdb/monitor/store"
	"github.com/kickboxerdb/monitor/timer"
)

// test clock under manual control
type mockClock struct {
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Unix(1000, 0)}
}

func (c *mockClock) Now() time.Time { return c.now }

func (c *mockClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// membership view under direct test control
type mockMembership struct {
	id      node.NodeId
	epoch   uint32
	role    string // "starting", "leader", "peon"
	leader  node.NodeId
	quorum  []node.NodeId
	numMons int

	electionCalls int
}

var _ = Membership(&mockMembership{})

func newMockMembership(id node.NodeId, numMons int) *mockMembership {
	return &mockMembership{
		id:      id,
		role:    "starting",
		numMons: numMons,
		quorum:  []node.NodeId{},
	}
}

func (m *mockMembership) GetId() node.NodeId     { return m.id }
func (m *mockMembership) GetEpoch() uint32       { return m.epoch }
func (m *mockMembership) IsStarting() bool       { return m.role == "starting" }
func (m *mockMembership) IsLeader() bool         { return m.role == "leader" }
func (m *mockMembership) IsPeon() bool           { return m.role == "peon" }
func (m *mockMembership) GetLeader() node.NodeId { return m.leader }
func (m *mockMembership) GetQuorum() []node.NodeId {
	return m.quorum
}
func (m *mockMembership) QuorumSize() int  { return len(m.quorum) }
func (m *mockMembership) NumMonitors() int { return m.numMons }
func (m *mockMembership) CallElection()    { m.electionCalls++ }

// in process network. Sends serialize the message into a queue;
// nothing is delivered until the test pumps the queue, so a
// handler never re-enters a peer mid-handler
type mockNetwork struct {
	monitors    map[node.NodeId]*mockMonitor
	queue       []queuedMessage
	partitioned map[node.NodeId]bool

	// every message delivered, for assertions
	delivered []*message.PaxosMessage
}

type queuedMessage struct {
	from node.NodeId
	to   node.NodeId
	data []byte
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{
		monitors:    make(map[node.NodeId]*mockMonitor),
		partitioned: make(map[node.NodeId]bool),
	}
}

func (n *mockNetwork) partition(id node.NodeId) { n.partitioned[id] = true }

func (n *mockNetwork) heal(id node.NodeId) { delete(n.partitioned, id) }

// delivers queued messages, including any queued by the
// handlers it runs, until the network is quiet
func (n *mockNetwork) deliverAll() {
	for len(n.queue) > 0 {
		qm := n.queue[0]
		n.queue = n.queue[1:]
		target, exists := n.monitors[qm.to]
		if !exists || n.partitioned[qm.to] || n.partitioned[qm.from] {
			continue
		}
		msg, err := message.ReadMessage(bytes.NewReader(qm.data))
		if err != nil {
			panic(fmt.Sprintf("bad message on mock network: %v", err))
		}
		n.delivered = append(n.delivered, msg.(*message.PaxosMessage))
		target.paxos.Dispatch(msg)
	}
}

// delivers at most count messages, for tests that need to stop
// the world mid round
func (n *mockNetwork) deliverN(count int) {
	for i := 0; i < count && len(n.queue) > 0; i++ {
		qm := n.queue[0]
		n.queue = n.queue[1:]
		target, exists := n.monitors[qm.to]
		if !exists || n.partitioned[qm.to] || n.partitioned[qm.from] {
			continue
		}
		msg, err := message.ReadMessage(bytes.NewReader(qm.data))
		if err != nil {
			panic(fmt.Sprintf("bad message on mock network: %v", err))
		}
		n.delivered = append(n.delivered, msg.(*message.PaxosMessage))
		target.paxos.Dispatch(msg)
	}
}

// drops everything currently queued
func (n *mockNetwork) dropAll() {
	n.queue = nil
}

// messenger endpoint for one monitor
type mockMessenger struct {
	network *mockNetwork
	id      node.NodeId
}

var _ = Messenger(&mockMessenger{})

func (m *mockMessenger) SendTo(to node.NodeId, msg message.Message) error {
	if m.network.partitioned[m.id] || m.network.partitioned[to] {
		return fmt.Errorf("partition")
	}
	buf := &bytes.Buffer{}
	if err := message.WriteMessage(buf, msg); err != nil {
		return err
	}
	m.network.queue = append(m.network.queue, queuedMessage{from: m.id, to: to, data: buf.Bytes()})
	return nil
}

// one simulated monitor process
type mockMonitor struct {
	id         node.NodeId
	membership *mockMembership
	store      *store.MemoryStore
	timer      *timer.ManualTimer
	stats      *mockStatter
	paxos      *Paxos
}

func newMockMonitor(id node.NodeId, numMons int, network *mockNetwork, clock *mockClock, cfg Config) *mockMonitor {
	m := &mockMonitor{
		id:         id,
		membership: newMockMembership(id, numMons),
		store:      store.NewMemoryStore(),
		timer:      timer.NewManualTimer(),
		stats:      newMockStatter(),
	}
	cfg.Stats = m.stats
	m.paxos = NewPaxos("test", 1, m.membership, &mockMessenger{network: network, id: id}, m.store, m.timer, clock, cfg)
	network.monitors[id] = m
	return m
}

// implements the statter interface
// used for testing things were called internally
// guages and timers only keep the most recent value
type mockStatter struct {
	mutex    sync.RWMutex
	counters map[string]int64
	timers   map[string]int64
	guages   map[string]int64
}

var _ = statsd.Statter(&mockStatter{})

func newMockStatter() *mockStatter {
	return &mockStatter{
		counters: make(map[string]int64),
		timers:   make(map[string]int64),
		guages:   make(map[string]int64),
	}
}

func (s *mockStatter) counter(stat string) int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.counters[stat]
}

func (s *mockStatter) Inc(stat string, value int64, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.counters[stat] += value
	return nil
}

func (s *mockStatter) Dec(stat string, value int64, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.counters[stat] -= value
	return nil
}

func (s *mockStatter) Gauge(stat string, value int64, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.guages[stat] = value
	return nil
}

func (s *mockStatter) GaugeDelta(stat string, value int64, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.guages[stat] += value
	return nil
}

func (s *mockStatter) Timing(stat string, delta int64, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.timers[stat] = delta
	return nil
}

func (s *mockStatter) TimingDuration(stat string, delta time.Duration, rate float32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.timers[stat] = int64(delta / time.Millisecond)
	return nil
}

func (s *mockStatter) Set(stat string, value string, rate float32) error { return nil }

func (s *mockStatter) SetInt(stat string, value int64, rate float32) error { return nil }

func (s *mockStatter) Raw(stat string, value string, rate float32) error { return nil }

func (s *mockStatter) SetPrefix(prefix string) {}

func (s *mockStatter) NewSubStatter(sub string) statsd.SubStatter { return nil }

func (s *mockStatter) Close() error { return nil }
