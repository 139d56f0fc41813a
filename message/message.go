/*
Wire messages passed between monitors
 */
package message

import (
	"bufio"
	"fmt"
	"io"
)

import (
	"github.com/kickboxerdb/monitor/serializer"
)

type MessageType uint32

const (
	MESSAGE_PAXOS = MessageType(1001)
)

type Message interface {
	// serializes everything after the type code
	Serialize(*bufio.Writer) error

	// deserializes everything after the type code
	Deserialize(*bufio.Reader) error

	// returns the message type enum
	GetType() MessageType
}

// writes the message type, then the message itself
func WriteMessage(buf io.Writer, m Message) error {
	writer := bufio.NewWriter(buf)

	if err := serializer.WriteUint32(writer, uint32(m.GetType())); err != nil {
		return err
	}
	if err := m.Serialize(writer); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return nil
}

// reads a message of unknown type from the reader. Callers
// reading a stream of messages should pass the same
// *bufio.Reader for every read, or buffered readahead from
// one message would swallow the start of the next
func ReadMessage(buf io.Reader) (Message, error) {
	reader, ok := buf.(*bufio.Reader)
	if !ok {
		reader = bufio.NewReader(buf)
	}

	mtype, err := serializer.ReadUint32(reader)
	if err != nil {
		return nil, err
	}

	var m Message
	switch MessageType(mtype) {
	case MESSAGE_PAXOS:
		m = &PaxosMessage{}
	default:
		return nil, fmt.Errorf("Unexpected message type: %v", mtype)
	}

	if err := m.Deserialize(reader); err != nil {
		return nil, err
	}
	return m, nil
}
