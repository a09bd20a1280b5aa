package multicast

import (
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-multicast/pb"
)

// Message is the engine-level view of spec.md section 3's Message: the
// wire record plus which peer it arrived from (the local host's own ID for
// locally published messages), mirrored from the teacher's Message{*pb.Message, ReceivedFrom}
// wrapper.
type Message struct {
	*pb.Message
	ReceivedFrom peer.ID
}

// GetFrom returns the originating peer identifier as a peer.ID, decoded
// from the opaque From bytes.
func (m *Message) GetFrom() peer.ID {
	return peer.ID(m.Message.GetFrom())
}

// msgID derives the message identifier from spec.md section 3:
// concatenation of from and the seqno's raw bytes.
func msgID(from []byte, seqno []byte) string {
	return string(from) + string(seqno)
}

// ID returns this message's dedup cache key.
func (m *Message) ID() string {
	return msgID(m.Message.GetFrom(), m.Message.GetSeqno())
}
