package multicast

import (
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-multicast/pb"
)

// EventTracer is a pluggable sink for dissemination events, mirrored from
// the teacher's WithEventTracer/pubsubTracer collaborator. The engine never
// blocks on it and never lets it influence the forwarding decision; it is
// strictly an observer.
type EventTracer interface {
	// DeliverMessage is called once an inbound message clears the dedup
	// check (before its hop count is examined), and for every locally
	// published message, immediately before local emission.
	DeliverMessage(msg *Message)
	// DuplicateMessage is called when an inbound message is discarded
	// because its id is already in the dedup cache.
	DuplicateMessage(msg *Message)
	// RejectMessage is called when an inbound message is dropped before
	// dedup is even consulted (e.g. blacklisted source).
	RejectMessage(msg *Message, reason string)
	// SendRPC is called after an RPC record is successfully queued for a
	// peer's outbound stream.
	SendRPC(rpc *pb.RPC, to peer.ID)
	// DropRPC is called when an RPC record could not be queued (peer not
	// writable, queue full).
	DropRPC(rpc *pb.RPC, to peer.ID)
	// RecvRPC is called for every RPC record decoded off an inbound
	// stream, before it is dispatched.
	RecvRPC(rpc *pb.RPC, from peer.ID)
}

// nullTracer discards every event. It is the default when no tracer option
// is supplied, matching the teacher's nil-safe *pubsubTracer methods.
type nullTracer struct{}

func (nullTracer) DeliverMessage(*Message)                {}
func (nullTracer) DuplicateMessage(*Message)               {}
func (nullTracer) RejectMessage(*Message, string)           {}
func (nullTracer) SendRPC(*pb.RPC, peer.ID)                {}
func (nullTracer) DropRPC(*pb.RPC, peer.ID)                {}
func (nullTracer) RecvRPC(*pb.RPC, peer.ID)                {}

const (
	rejectBlacklistedPeer   = "blacklisted peer"
	rejectBlacklistedSource = "blacklisted source"
)
