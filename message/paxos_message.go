package message

import (
	"bufio"
	"fmt"
	"sort"
	"time"
)

import (
	"github.com/kickboxerdb/monitor/node"
	"github.com/kickboxerdb/monitor/serializer"
)

type PaxosOp uint32

const (
	PAXOS_COLLECT = PaxosOp(iota + 1)
	PAXOS_LAST
	PAXOS_BEGIN
	PAXOS_ACCEPT
	PAXOS_COMMIT
	PAXOS_LEASE
	PAXOS_LEASE_ACK
)

func (op PaxosOp) String() string {
	switch op {
	case PAXOS_COLLECT:
		return "COLLECT"
	case PAXOS_LAST:
		return "LAST"
	case PAXOS_BEGIN:
		return "BEGIN"
	case PAXOS_ACCEPT:
		return "ACCEPT"
	case PAXOS_COMMIT:
		return "COMMIT"
	case PAXOS_LEASE:
		return "LEASE"
	case PAXOS_LEASE_ACK:
		return "LEASE_ACK"
	}
	return fmt.Sprintf("PaxosOp(%d)", uint32(op))
}

// a single message type carries all seven paxos operations. The
// op determines which fields are meaningful; unused fields are
// left at their zero values and serialize as such
type PaxosMessage struct {
	// election epoch of the sender, for transport demux
	Epoch uint32

	// tag of the paxos instance this message belongs to
	MachineId uint32

	Op PaxosOp

	// sending monitor
	From node.NodeId

	// proposal number (COLLECT, LAST, BEGIN, ACCEPT, COMMIT)
	Pn uint64

	// last_committed witnessed when Pn was issued (COLLECT, LAST)
	PnFrom uint64

	// pn under which a peon's uncommitted value was accepted (LAST)
	OldAcceptedPn uint64

	LastCommitted uint64

	// lease expiry timestamp (LEASE, LEASE_ACK)
	LeaseExpire time.Time

	// slot values keyed by version (LAST, BEGIN, COMMIT)
	Values map[uint64][]byte
}

var _ = Message(&PaxosMessage{})

func (m *PaxosMessage) GetType() MessageType { return MESSAGE_PAXOS }

func (m *PaxosMessage) String() string {
	return fmt.Sprintf("paxos(%v pn %v lc %v from %v)", m.Op, m.Pn, m.LastCommitted, m.From)
}

// returns the message's versions in ascending order. Map iteration
// order is random, and handle_commit needs to apply values in
// version order
func (m *PaxosMessage) VersionsInOrder() []uint64 {
	versions := make([]uint64, 0, len(m.Values))
	for v := range m.Values {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

func (m *PaxosMessage) Serialize(buf *bufio.Writer) error {
	if err := serializer.WriteUint32(buf, m.Epoch); err != nil {
		return err
	}
	if err := serializer.WriteUint32(buf, m.MachineId); err != nil {
		return err
	}
	if err := serializer.WriteUint32(buf, uint32(m.Op)); err != nil {
		return err
	}
	if err := serializer.WriteUint32(buf, uint32(m.From)); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.Pn); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.PnFrom); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.OldAcceptedPn); err != nil {
		return err
	}
	if err := serializer.WriteUint64(buf, m.LastCommitted); err != nil {
		return err
	}
	if err := serializer.WriteTime(buf, m.LeaseExpire); err != nil {
		return err
	}

	if err := serializer.WriteUint32(buf, uint32(len(m.Values))); err != nil {
		return err
	}
	for _, v := range m.VersionsInOrder() {
		if err := serializer.WriteUint64(buf, v); err != nil {
			return err
		}
		if err := serializer.WriteFieldBytes(buf, m.Values[v]); err != nil {
			return err
		}
	}
	return nil
}

func (m *PaxosMessage) Deserialize(buf *bufio.Reader) error {
	var err error
	if m.Epoch, err = serializer.ReadUint32(buf); err != nil {
		return err
	}
	if m.MachineId, err = serializer.ReadUint32(buf); err != nil {
		return err
	}
	var op uint32
	if op, err = serializer.ReadUint32(buf); err != nil {
		return err
	}
	m.Op = PaxosOp(op)
	var from uint32
	if from, err = serializer.ReadUint32(buf); err != nil {
		return err
	}
	m.From = node.NodeId(from)
	if m.Pn, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.PnFrom, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.OldAcceptedPn, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.LastCommitted, err = serializer.ReadUint64(buf); err != nil {
		return err
	}
	if m.LeaseExpire, err = serializer.ReadTime(buf); err != nil {
		return err
	}

	numValues, err := serializer.ReadUint32(buf)
	if err != nil {
		return err
	}
	m.Values = make(map[uint64][]byte, numValues)
	for i := uint32(0); i < numValues; i++ {
		v, err := serializer.ReadUint64(buf)
		if err != nil {
			return err
		}
		val, err := serializer.ReadFieldBytes(buf)
		if err != nil {
			return err
		}
		m.Values[v] = val
	}
	return nil
}
