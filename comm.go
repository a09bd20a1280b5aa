package multicast

import (
	"bufio"
	"io"

	ggio "github.com/gogo/protobuf/io"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-multicast/pb"
	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxMessageSize bounds a single decoded RPC record, mirrored from
// the teacher's DefaultMaxMessageSize (1 MiB).
const DefaultMaxMessageSize = 1 << 20

// taggedRPC pairs a decoded record with the peer it arrived from, the unit
// the inbound framing adapter hands to the engine's _onRpc dispatch.
type taggedRPC struct {
	rpc  *pb.RPC
	from peer.ID
}

// runInbound is the decode half of the framing & codec adapter (spec.md
// section 4.1): it reads varint-length-prefixed records off s via a
// gogo-protobuf delimited reader and dispatches each to incoming. It
// returns nil on a clean end-of-stream and a *CodecError on any decode
// failure; either way the caller tears down the peer record's stream
// state (comm.go never does that itself -- that is the engine's job, kept
// separate so the adapter stays a pure translation layer).
func runInbound(s network.Stream, incoming chan<- *taggedRPC, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	pid := s.Conn().RemotePeer()
	r := ggio.NewDelimitedReader(s, maxSize)
	for {
		rpc := new(pb.RPC)
		if err := r.ReadMsg(rpc); err != nil {
			if err == io.EOF {
				return nil
			}
			return &CodecError{Peer: pid.String(), Err: err}
		}
		incoming <- &taggedRPC{rpc: rpc, from: pid}
	}
}

// runOutbound is the encode half: it drains queue, serializing and
// writing each record until the queue is closed (the peer record's
// Close/OnStreamEnd path) or a write fails (the remote end went away).
func runOutbound(s network.Stream, queue <-chan *pb.RPC) {
	w := ggio.NewDelimitedWriter(s)
	for rpc := range queue {
		if err := w.WriteMsg(rpc); err != nil {
			log.Debugf("write to %s failed: %s", s.Conn().RemotePeer(), err)
			return
		}
	}
}

// WriteRecord and ReadRecord implement the same length-prefixed framing
// directly against an io.Writer/io.Reader, independent of network.Stream
// or ggio. This is the standalone form of the adapter spec.md section 4.1
// describes ("read a varint length, then exactly that many bytes"),
// usable when the substrate hands back a bare byte stream rather than a
// libp2p network.Stream.
func WriteRecord(w io.Writer, rpc *pb.RPC) error {
	body, err := rpc.Marshal()
	if err != nil {
		return err
	}
	var lenBuf []byte
	lenBuf = protowire.AppendVarint(lenBuf, uint64(len(body)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadRecord reads one length-prefixed record from r.
func ReadRecord(r *bufio.Reader, maxSize int) (*pb.RPC, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if int(length) > maxSize {
		return nil, io.ErrShortBuffer
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	rpc := new(pb.RPC)
	if err := rpc.Unmarshal(body); err != nil {
		return nil, err
	}
	return rpc, nil
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf = append(buf, b)
		if b < 0x80 {
			break
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}
