// Hand-written in the shape protoc-gen-gogo emits; there is no rpc.proto
// source in this module and protoc is not run to produce this file.

package pb

import (
	fmt "fmt"
	io "io"
	math "math"

	proto "github.com/gogo/protobuf/proto"
)

// Reference imports to suppress errors if they are not otherwise used.
var _ = proto.Marshal
var _ = fmt.Errorf
var _ = math.Inf

// RPC is the single framed record exchanged between two connected peers. It
// carries any combination of subscription deltas and messages; either or
// both fields may be empty (the engine ignores a record with neither).
type RPC struct {
	Subscriptions []*RPC_SubOpts `protobuf:"bytes,1,rep,name=subscriptions" json:"subscriptions,omitempty"`
	Msgs          []*Message     `protobuf:"bytes,2,rep,name=msgs" json:"msgs,omitempty"`
}

func (m *RPC) Reset()         { *m = RPC{} }
func (m *RPC) String() string { return proto.CompactTextString(m) }
func (*RPC) ProtoMessage()    {}

func (m *RPC) GetSubscriptions() []*RPC_SubOpts {
	if m != nil {
		return m.Subscriptions
	}
	return nil
}

func (m *RPC) GetMsgs() []*Message {
	if m != nil {
		return m.Msgs
	}
	return nil
}

// RPC_SubOpts is a single subscription delta: subscribe=true adds a topic
// to the sender's announced interest, subscribe=false removes it.
type RPC_SubOpts struct {
	Subscribe *bool   `protobuf:"varint,1,opt,name=subscribe" json:"subscribe,omitempty"`
	TopicCID  *string `protobuf:"bytes,2,opt,name=topicCID" json:"topicCID,omitempty"`
}

func (m *RPC_SubOpts) Reset()         { *m = RPC_SubOpts{} }
func (m *RPC_SubOpts) String() string { return proto.CompactTextString(m) }
func (*RPC_SubOpts) ProtoMessage()    {}

func (m *RPC_SubOpts) GetSubscribe() bool {
	if m != nil && m.Subscribe != nil {
		return *m.Subscribe
	}
	return false
}

func (m *RPC_SubOpts) GetTopicCID() string {
	if m != nil && m.TopicCID != nil {
		return *m.TopicCID
	}
	return ""
}

// Message is a single application payload addressed to one or more topics.
// The core never interprets Data; it is an opaque byte string (spec.md
// section 1).
type Message struct {
	From     []byte   `protobuf:"bytes,1,opt,name=from" json:"from,omitempty"`
	Data     []byte   `protobuf:"bytes,2,opt,name=data" json:"data,omitempty"`
	Seqno    []byte   `protobuf:"bytes,3,opt,name=seqno" json:"seqno,omitempty"`
	Hops     *int32   `protobuf:"varint,4,opt,name=hops" json:"hops,omitempty"`
	TopicIDs []string `protobuf:"bytes,5,rep,name=topicIDs" json:"topicIDs,omitempty"`
}

func (m *Message) Reset()         { *m = Message{} }
func (m *Message) String() string { return proto.CompactTextString(m) }
func (*Message) ProtoMessage()    {}

func (m *Message) GetFrom() []byte {
	if m != nil {
		return m.From
	}
	return nil
}

func (m *Message) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *Message) GetSeqno() []byte {
	if m != nil {
		return m.Seqno
	}
	return nil
}

func (m *Message) GetHops() int32 {
	if m != nil && m.Hops != nil {
		return *m.Hops
	}
	return 0
}

func (m *Message) GetTopicIDs() []string {
	if m != nil {
		return m.TopicIDs
	}
	return nil
}

func init() {
	proto.RegisterType((*RPC)(nil), "multicast.pb.RPC")
	proto.RegisterType((*RPC_SubOpts)(nil), "multicast.pb.RPC.SubOpts")
	proto.RegisterType((*Message)(nil), "multicast.pb.Message")
}

// Marshal/Unmarshal are hand-rolled rather than reflection-driven
// (proto.Marshal still works via the struct tags above, but the explicit
// form is what protoc-gen-gogo would emit and is what ggio's delimited
// reader/writer prefer for the fast path).

func (m *RPC) Marshal() ([]byte, error) {
	size := m.Size()
	buf := make([]byte, 0, size)
	for _, s := range m.Subscriptions {
		sb, err := s.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendTag(buf, 1, wireBytes)
		buf = appendVarint(buf, uint64(len(sb)))
		buf = append(buf, sb...)
	}
	for _, msg := range m.Msgs {
		mb, err := msg.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendTag(buf, 2, wireBytes)
		buf = appendVarint(buf, uint64(len(mb)))
		buf = append(buf, mb...)
	}
	return buf, nil
}

func (m *RPC) Size() (n int) {
	for _, s := range m.Subscriptions {
		l := s.Size()
		n += 1 + sovRPC(uint64(l)) + l
	}
	for _, msg := range m.Msgs {
		l := msg.Size()
		n += 1 + sovRPC(uint64(l)) + l
	}
	return n
}

func (m *RPC) Unmarshal(data []byte) error {
	return unmarshalFields(data, func(fieldNum int, wire int, b []byte, rest []byte) ([]byte, error) {
		switch fieldNum {
		case 1:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			s := &RPC_SubOpts{}
			if err := s.Unmarshal(v); err != nil {
				return nil, err
			}
			m.Subscriptions = append(m.Subscriptions, s)
			return n, nil
		case 2:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			msg := &Message{}
			if err := msg.Unmarshal(v); err != nil {
				return nil, err
			}
			m.Msgs = append(m.Msgs, msg)
			return n, nil
		default:
			return skipField(wire, b)
		}
	})
}

func (m *RPC_SubOpts) Marshal() ([]byte, error) {
	size := m.Size()
	buf := make([]byte, 0, size)
	if m.Subscribe != nil {
		buf = appendTag(buf, 1, wireVarint)
		if *m.Subscribe {
			buf = appendVarint(buf, 1)
		} else {
			buf = appendVarint(buf, 0)
		}
	}
	if m.TopicCID != nil {
		buf = appendTag(buf, 2, wireBytes)
		buf = appendVarint(buf, uint64(len(*m.TopicCID)))
		buf = append(buf, *m.TopicCID...)
	}
	return buf, nil
}

func (m *RPC_SubOpts) Size() (n int) {
	if m.Subscribe != nil {
		n += 2
	}
	if m.TopicCID != nil {
		l := len(*m.TopicCID)
		n += 1 + sovRPC(uint64(l)) + l
	}
	return n
}

func (m *RPC_SubOpts) Unmarshal(data []byte) error {
	return unmarshalFields(data, func(fieldNum int, wire int, b []byte, rest []byte) ([]byte, error) {
		switch fieldNum {
		case 1:
			v, n, err := readVarintField(wire, b)
			if err != nil {
				return nil, err
			}
			sub := v != 0
			m.Subscribe = &sub
			return n, nil
		case 2:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			s := string(v)
			m.TopicCID = &s
			return n, nil
		default:
			return skipField(wire, b)
		}
	})
}

func (m *Message) Marshal() ([]byte, error) {
	size := m.Size()
	buf := make([]byte, 0, size)
	if m.From != nil {
		buf = appendTag(buf, 1, wireBytes)
		buf = appendVarint(buf, uint64(len(m.From)))
		buf = append(buf, m.From...)
	}
	if m.Data != nil {
		buf = appendTag(buf, 2, wireBytes)
		buf = appendVarint(buf, uint64(len(m.Data)))
		buf = append(buf, m.Data...)
	}
	if m.Seqno != nil {
		buf = appendTag(buf, 3, wireBytes)
		buf = appendVarint(buf, uint64(len(m.Seqno)))
		buf = append(buf, m.Seqno...)
	}
	if m.Hops != nil {
		buf = appendTag(buf, 4, wireVarint)
		buf = appendVarint(buf, uint64(uint32(*m.Hops)))
	}
	for _, t := range m.TopicIDs {
		buf = appendTag(buf, 5, wireBytes)
		buf = appendVarint(buf, uint64(len(t)))
		buf = append(buf, t...)
	}
	return buf, nil
}

func (m *Message) Size() (n int) {
	if m.From != nil {
		l := len(m.From)
		n += 1 + sovRPC(uint64(l)) + l
	}
	if m.Data != nil {
		l := len(m.Data)
		n += 1 + sovRPC(uint64(l)) + l
	}
	if m.Seqno != nil {
		l := len(m.Seqno)
		n += 1 + sovRPC(uint64(l)) + l
	}
	if m.Hops != nil {
		n += 1 + sovRPC(uint64(uint32(*m.Hops)))
	}
	for _, t := range m.TopicIDs {
		l := len(t)
		n += 1 + sovRPC(uint64(l)) + l
	}
	return n
}

func (m *Message) Unmarshal(data []byte) error {
	return unmarshalFields(data, func(fieldNum int, wire int, b []byte, rest []byte) ([]byte, error) {
		switch fieldNum {
		case 1:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			m.From = append([]byte(nil), v...)
			return n, nil
		case 2:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			m.Data = append([]byte(nil), v...)
			return n, nil
		case 3:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			m.Seqno = append([]byte(nil), v...)
			return n, nil
		case 4:
			v, n, err := readVarintField(wire, b)
			if err != nil {
				return nil, err
			}
			hops := int32(v)
			m.Hops = &hops
			return n, nil
		case 5:
			v, n, err := readBytesField(wire, b)
			if err != nil {
				return nil, err
			}
			m.TopicIDs = append(m.TopicIDs, string(v))
			return n, nil
		default:
			return skipField(wire, b)
		}
	})
}

var (
	errInvalidLength = fmt.Errorf("pb: invalid length")
	errShortBuffer   = io.ErrUnexpectedEOF
)
