/*
Replicated state machine coordination for the monitor cluster.

Each Paxos instance drives agreement on a totally ordered sequence
of opaque values, scoped in the store by machine name. The external
election module announces roles (LeaderInit / PeonInit), the leader
runs phase 1 recovery (collect / last) until it has a quorum, then
serves proposals (begin / accept / commit) on demand, maintaining a
read lease between rounds.
 */
package paxos

import (
	"fmt"
	"sync"
	"time"
)

import (
	"github.com/cactus/go-statsd-client/statsd"
	mapset "github.com/deckarep/golang-set"
	logging "github.com/op/go-logging"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/node"
	"github.com/kickboxerdb/monitor/store"
	"github.com/kickboxerdb/monitor/timer"
)

var logger *logging.Logger

func init() {
	logger = logging.MustGetLogger("paxos")
}

var (
	// how long a read lease is valid for
	DEFAULT_LEASE = 5 * time.Second

	// how long after granting a lease the leader renews it
	DEFAULT_LEASE_RENEW_INTERVAL = 3 * time.Second

	// how long the leader waits for the full quorum to
	// ack a lease before calling an election
	DEFAULT_LEASE_ACK_TIMEOUT = 10 * time.Second

	// how long the leader waits for the full quorum to
	// accept a proposal before calling an election
	DEFAULT_ACCEPT_TIMEOUT = 10 * time.Second
)

type Config struct {
	Lease              time.Duration
	LeaseRenewInterval time.Duration
	LeaseAckTimeout    time.Duration
	AcceptTimeout      time.Duration

	// optional statter, a noop client is used if nil
	Stats statsd.Statter
}

func DefaultConfig() Config {
	return Config{
		Lease:              DEFAULT_LEASE,
		LeaseRenewInterval: DEFAULT_LEASE_RENEW_INTERVAL,
		LeaseAckTimeout:    DEFAULT_LEASE_ACK_TIMEOUT,
		AcceptTimeout:      DEFAULT_ACCEPT_TIMEOUT,
	}
}

type State string

const (
	STATE_RECOVERING = State("RECOVERING")
	STATE_ACTIVE     = State("ACTIVE")
	STATE_UPDATING   = State("UPDATING")
)

// the cluster membership capabilities the state machine consumes.
// Satisfied by cluster.Monitor
type Membership interface {
	GetId() node.NodeId
	GetEpoch() uint32
	IsStarting() bool
	IsLeader() bool
	IsPeon() bool
	GetLeader() node.NodeId
	GetQuorum() []node.NodeId
	QuorumSize() int
	NumMonitors() int

	// triggers a new election. The elector will come back
	// around with LeaderInit / PeonInit
	CallElection()
}

// best effort, in order, point to point delivery.
// Satisfied by cluster.TCPMessenger
type Messenger interface {
	SendTo(to node.NodeId, m message.Message) error
}

// injected time source, so lease tests are deterministic
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

type Paxos struct {
	machineName string
	machineId   uint32

	mon   Membership
	msgr  Messenger
	timer timer.Timer
	clock Clock
	log   *durableLog
	store store.Store
	cfg   Config
	stats statsd.Statter

	// serializes message handlers, timer callbacks, and
	// service calls. Invariants hold between handler
	// invocations, never within
	lock sync.Mutex

	state State

	// highest slot known committed
	lastCommitted uint64

	// ------------- phase 1 -------------

	// the proposal number currently accepted / promised
	acceptedPn uint64

	// the last_committed witnessed when acceptedPn was accepted
	acceptedPnFrom uint64

	// LAST replies received during the current recovery,
	// the leader counts itself
	numLast int

	// highest numbered accepted but uncommitted value
	// learned from peers during the current recovery
	oldAcceptedV     uint64
	oldAcceptedPn    uint64
	oldAcceptedValue []byte

	// ------------- phase 2 -------------

	// the value currently being proposed, empty outside UPDATING
	newValue []byte

	// ACCEPT replies received during the current proposal,
	// the leader counts itself
	numAccepted int

	// when the current proposal round started, for stats
	beginTime time.Time

	// ------------- lease -------------

	// lease valid strictly before this time, zero means no lease
	leaseExpire time.Time

	// peers (including self) that acked the current lease
	ackedLease mapset.Set

	// ------------- pending timer events -------------

	acceptTimeoutEvent   *timer.Event
	leaseRenewEvent      *timer.Event
	leaseAckTimeoutEvent *timer.Event

	// ------------- waiters -------------

	waitingForReadable  []Completion
	waitingForWriteable []Completion
	waitingForActive    []Completion
	waitingForCommit    []Completion

	// completions signalled by the current handler, invoked
	// once the lock is released
	finished []finishedCompletion
}

func NewPaxos(machineName string, machineId uint32, mon Membership, msgr Messenger,
	st store.Store, tmr timer.Timer, clock Clock, cfg Config) *Paxos {

	if !node.ValidId(mon.GetId()) {
		panic(fmt.Sprintf("invalid monitor id: %v", mon.GetId()))
	}
	stats := cfg.Stats
	if stats == nil {
		stats, _ = statsd.NewNoopClient()
	}
	p := &Paxos{
		machineName: machineName,
		machineId:   machineId,
		mon:         mon,
		msgr:        msgr,
		timer:       tmr,
		clock:       clock,
		store:       st,
		log:         newDurableLog(st, machineName),
		cfg:         cfg,
		stats:       stats,
		state:       STATE_RECOVERING,
		ackedLease:  mapset.NewSet(),
	}
	// recover the committed position from the store
	p.lastCommitted = p.log.getLastCommitted()
	return p
}

func (p *Paxos) GetMachineName() string { return p.machineName }

func (p *Paxos) GetMachineId() uint32 { return p.machineId }

// runs fn while holding the handler lock, then invokes any
// completions fn signalled. Completions run outside the lock,
// so they may call back into the instance
func (p *Paxos) enter(fn func()) {
	p.lock.Lock()
	fn()
	finished := p.finished
	p.finished = nil
	p.lock.Unlock()
	for _, fc := range finished {
		fc.cb(fc.err)
	}
}

// protocol invariant check. A violation means a peer (or this
// monitor) is off the rails; halt rather than limp on
func assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func fatalIfErr(err error, what string) {
	if err != nil {
		panic(fmt.Sprintf("%v: %v", what, err))
	}
}

// ------------- init -------------

// called by the elector when this monitor wins an election
func (p *Paxos) LeaderInit() {
	p.enter(func() {
		if p.mon.QuorumSize() == 1 {
			p.state = STATE_ACTIVE
			return
		}
		p.cancelEvents()
		p.state = STATE_RECOVERING
		p.leaseExpire = time.Time{}
		p.newValue = nil
		p.numAccepted = 0
		logger.Debug("%v leader_init -- starting paxos recovery", p.logPrefix())
		p.collect(0)
	})
}

// called by the elector when another monitor wins
func (p *Paxos) PeonInit() {
	p.enter(func() {
		p.cancelEvents()
		p.state = STATE_RECOVERING
		p.leaseExpire = time.Time{}
		p.newValue = nil
		p.numAccepted = 0
		logger.Debug("%v peon_init -- i am a peon", p.logPrefix())

		// no chance to write now
		p.finishWaiters(&p.waitingForWriteable, NewRoleError("lost leader role"))
		p.finishWaiters(&p.waitingForCommit, NewRoleError("lost leader role"))
	})
}

func (p *Paxos) cancelEvents() {
	if p.acceptTimeoutEvent != nil {
		p.timer.CancelEvent(p.acceptTimeoutEvent)
		p.acceptTimeoutEvent = nil
	}
	if p.leaseRenewEvent != nil {
		p.timer.CancelEvent(p.leaseRenewEvent)
		p.leaseRenewEvent = nil
	}
	if p.leaseAckTimeoutEvent != nil {
		p.timer.CancelEvent(p.leaseAckTimeoutEvent)
		p.leaseAckTimeoutEvent = nil
	}
}

// ------------- dispatch -------------

// routes an incoming message to its handler
func (p *Paxos) Dispatch(m message.Message) {
	p.enter(func() {
		p.dispatch(m)
	})
}

func (p *Paxos) dispatch(m message.Message) {
	// election in progress?
	if p.mon.IsStarting() {
		logger.Debug("%v election in progress, dropping %v", p.logPrefix(), m)
		return
	}

	pm, ok := m.(*message.PaxosMessage)
	assert(ok, "unexpected message type: %T", m)
	assert(pm.MachineId == p.machineId, "message for machine %v routed to machine %v",
		pm.MachineId, p.machineId)

	// stray from an older election cycle?
	if pm.Epoch != p.mon.GetEpoch() {
		logger.Debug("%v dropping %v from epoch %v (ours %v)", p.logPrefix(), pm, pm.Epoch, p.mon.GetEpoch())
		return
	}

	// peons only take orders from the current leader
	assert(p.mon.IsLeader() || (p.mon.IsPeon() && pm.From == p.mon.GetLeader()),
		"unexpected sender %v", pm.From)

	switch pm.Op {
	case message.PAXOS_COLLECT:
		p.handleCollect(pm)
	case message.PAXOS_LAST:
		p.handleLast(pm)
	case message.PAXOS_BEGIN:
		p.handleBegin(pm)
	case message.PAXOS_ACCEPT:
		p.handleAccept(pm)
	case message.PAXOS_COMMIT:
		p.handleCommit(pm)
	case message.PAXOS_LEASE:
		p.handleLease(pm)
	case message.PAXOS_LEASE_ACK:
		p.handleLeaseAck(pm)
	default:
		assert(false, "unknown paxos op: %v", pm.Op)
	}
}

// ------------- outbound helpers -------------

func (p *Paxos) newMessage(op message.PaxosOp) *message.PaxosMessage {
	return &message.PaxosMessage{
		Epoch:     p.mon.GetEpoch(),
		MachineId: p.machineId,
		Op:        op,
		From:      p.mon.GetId(),
		Values:    make(map[uint64][]byte),
	}
}

// best effort send, failures are left to the next
// recovery round to repair
func (p *Paxos) send(to node.NodeId, m *message.PaxosMessage) {
	if err := p.msgr.SendTo(to, m); err != nil {
		logger.Warning("%v failed sending %v to %v: %v", p.logPrefix(), m, to, err)
	}
}

// sends the message built by mk to every quorum member except self
func (p *Paxos) broadcast(mk func() *message.PaxosMessage) {
	for _, peer := range p.mon.GetQuorum() {
		if peer == p.mon.GetId() {
			continue
		}
		p.send(peer, mk())
	}
}

func (p *Paxos) logPrefix() string {
	return fmt.Sprintf("%v.paxos(%v %v lc %v)", p.mon.GetId(), p.machineName, p.state, p.lastCommitted)
}
