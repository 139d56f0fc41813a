package cluster

import (
	"net"
	"sync"
)

import (
	"github.com/pkg/errors"
)

import (
	"github.com/kickboxerdb/monitor/message"
	"github.com/kickboxerdb/monitor/node"
	"github.com/kickboxerdb/monitor/paxos"
)

// best effort one way delivery to named peers over tcp. One
// connection is kept per peer; any send error drops the
// connection, and the next send redials. Per peer ordering
// holds as long as the connection does
type TCPMessenger struct {
	lock  sync.Mutex
	addrs map[node.NodeId]string
	conns map[node.NodeId]net.Conn
}

var _ = paxos.Messenger(&TCPMessenger{})

func NewTCPMessenger(addrs map[node.NodeId]string) *TCPMessenger {
	return &TCPMessenger{
		addrs: addrs,
		conns: make(map[node.NodeId]net.Conn),
	}
}

// returns an established connection to the peer, dialing
// if necessary
func (m *TCPMessenger) getConnection(to node.NodeId) (net.Conn, error) {
	if conn, exists := m.conns[to]; exists {
		return conn, nil
	}
	addr, exists := m.addrs[to]
	if !exists {
		return nil, errors.Errorf("unknown peer: %v", to)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %v", to)
	}
	m.conns[to] = conn
	return conn, nil
}

func (m *TCPMessenger) SendTo(to node.NodeId, msg message.Message) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	conn, err := m.getConnection(to)
	if err != nil {
		logger.Warning("send to %v failed: %v", to, err)
		return err
	}

	if err := message.WriteMessage(conn, msg); err != nil {
		// drop the connection, the peer will get the
		// rest of this round from recovery
		conn.Close()
		delete(m.conns, to)
		logger.Warning("send to %v failed: %v", to, err)
		return errors.Wrapf(err, "sending to %v", to)
	}
	return nil
}

func (m *TCPMessenger) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()
	for id, conn := range m.conns {
		conn.Close()
		delete(m.conns, id)
	}
}
