package cluster

import (
	"bufio"
	"net"
	"sync"
)

import (
	"github.com/kickboxerdb/monitor/message"
)

// accepts peer connections and feeds incoming messages to the
// registered handler, one goroutine per peer connection. Peer
// connections are long lived; a read error ends the connection
type PeerServer struct {
	addr     string
	handler  func(message.Message)
	listener net.Listener

	lock     sync.Mutex
	stopping bool
}

func NewPeerServer(addr string, handler func(message.Message)) *PeerServer {
	return &PeerServer{
		addr:    addr,
		handler: handler,
	}
}

func (s *PeerServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	go s.acceptLoop()
	logger.Info("peer server listening on %v", s.addr)
	return nil
}

// the address the server is actually listening on, useful when
// started with port 0
func (s *PeerServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *PeerServer) Stop() error {
	s.lock.Lock()
	s.stopping = true
	s.lock.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *PeerServer) isStopping() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stopping
}

func (s *PeerServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.isStopping() {
				logger.Error("accept error: %v", err)
			}
			return
		}
		go s.readLoop(conn)
	}
}

func (s *PeerServer) readLoop(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		msg, err := message.ReadMessage(reader)
		if err != nil {
			if !s.isStopping() {
				logger.Debug("peer connection closed: %v", err)
			}
			return
		}
		s.handler(msg)
	}
}
