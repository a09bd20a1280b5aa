package multicast

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/libp2p/go-libp2p-multicast/pb"
	"github.com/stretchr/testify/require"
)

// fakeNetwork and fakeHost embed their real go-libp2p-core interfaces so
// that the zero value already satisfies every method Start/Stop could in
// principle call; only the handful actually exercised by Start/Stop below
// are overridden, and none of the others are ever invoked by this suite.
type fakeNetwork struct {
	network.Network
}

func (fakeNetwork) Notify(network.Notifiee)     {}
func (fakeNetwork) StopNotify(network.Notifiee) {}

type fakeHost struct {
	host.Host
	id peer.ID
}

func (h *fakeHost) ID() peer.ID                           { return h.id }
func (h *fakeHost) Network() network.Network              { return fakeNetwork{} }
func (h *fakeHost) SetStreamHandler(protocol.ID, network.StreamHandler) {}
func (h *fakeHost) RemoveStreamHandler(protocol.ID)                     {}

// newRunningEngine returns an Engine with its event loop already running,
// bypassing Start (and therefore the host.Host dependency Start needs for
// SetStreamHandler/Network().Notify) so the receive/forward pipeline can be
// driven directly through the engine's own control channels. This is the
// level at which the dissemination logic is grounded and tested; the
// substrate wiring itself (notify.go, comm.go's network.Stream path) has no
// meaningful behavior beyond what go-libp2p-core's interfaces already
// guarantee.
func newRunningEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(nil)
	atomic.StoreInt32(&e.started, 1)
	go e.loop()
	t.Cleanup(e.cancel)
	return e
}

// addPeer installs pr into the engine's peer map via the eval channel, the
// same race-free mechanism Stop uses to reach into loop-owned state.
func addPeer(t *testing.T, e *Engine, pid peer.ID, pr *PeerRecord) {
	t.Helper()
	done := make(chan struct{})
	e.eval <- func() {
		e.peers[pid] = pr
		close(done)
	}
	<-done
}

func writablePeer(t *testing.T, topics ...string) (*PeerRecord, chan *pb.RPC) {
	t.Helper()
	pr := NewPeerRecord(peer.AddrInfo{})
	ch := pr.CreateStream()
	if len(topics) > 0 {
		deltas := make([]SubscriptionDelta, len(topics))
		for i, top := range topics {
			deltas[i] = SubscriptionDelta{Subscribe: true, Topic: top}
		}
		pr.UpdateSubscriptions(deltas)
	}
	return pr, ch
}

func recvOrTimeout(t *testing.T, ch <-chan *pb.RPC) *pb.RPC {
	t.Helper()
	select {
	case rpc := <-ch:
		return rpc
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded RPC")
		return nil
	}
}

func requireNoForward(t *testing.T, ch <-chan *pb.RPC) {
	t.Helper()
	select {
	case rpc := <-ch:
		t.Fatalf("unexpected forwarded RPC: %+v", rpc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnginePublishBeforeStartFails(t *testing.T) {
	e := NewEngine(nil)
	err := e.Publish([]string{"weather"}, []byte("x"), 1)
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestEngineSubscribeBeforeStartFails(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Subscribe("weather")
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestEngineStopWhenNeverStartedIsNoOp(t *testing.T) {
	e := NewEngine(nil)
	e.Stop() // must return without touching e.host
}

func TestEngineTwoNodeHopOneDelivery(t *testing.T) {
	e := newRunningEngine(t)

	sub, err := e.Subscribe("weather")
	require.NoError(t, err)

	from := []byte("publisher")
	hops := int32(1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: from, Seqno: []byte{1}, Data: []byte("sunny"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	select {
	case msg := <-sub.Messages():
		require.Equal(t, []byte("sunny"), msg.GetData())
	case <-time.After(time.Second):
		t.Fatal("message was not delivered to the local subscriber")
	}
}

func TestEngineHopZeroTerminatesForwarding(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	hops := int32(0)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	requireNoForward(t, ch)
}

func TestEngineHopDecrementsOnForward(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	hops := int32(3)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	fwd := recvOrTimeout(t, ch)
	require.Len(t, fwd.Msgs, 1)
	require.EqualValues(t, 2, fwd.Msgs[0].GetHops())
}

func TestEngineNegativeHopsForwardedUnbounded(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	hops := int32(-1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	fwd := recvOrTimeout(t, ch)
	require.EqualValues(t, -1, fwd.Msgs[0].GetHops())
}

func TestEngineForwardExcludesSendingPeer(t *testing.T) {
	e := newRunningEngine(t)
	sender, senderCh := writablePeer(t, "weather")
	other, otherCh := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("sender"), sender)
	addPeer(t, e, peer.ID("other"), other)

	hops := int32(5)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("sender")}

	recvOrTimeout(t, otherCh)
	requireNoForward(t, senderCh)
}

func TestEngineSkipsPeerWithDisjointInterest(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "sports") // not subscribed to "weather"
	addPeer(t, e, peer.ID("downstream"), pr)

	hops := int32(1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	requireNoForward(t, ch)
}

func TestEngineDuplicateSeqnoSuppressed(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	hops := int32(2)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("a")}
	recvOrTimeout(t, ch)

	// same (from, seqno) arriving from a different neighbor must be dropped.
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("b")}
	requireNoForward(t, ch)
}

func TestEngineForwardingValidatorRejectsMessage(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	e.AddFrwdHooks("weather", []ValidatorFunc{
		BoolValidator(func(_ *PeerRecord, m *Message) bool {
			return len(m.GetData()) == 0 || m.GetData()[0] != 0x00
		}),
	}, WithValidatorInline())

	hops := int32(1)
	rejected := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte{0x00, 0x01}, Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rejected, from: peer.ID("neighbor")}
	requireNoForward(t, ch)

	accepted := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{2}, Data: []byte{0x01}, Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: accepted, from: peer.ID("neighbor")}
	recvOrTimeout(t, ch)
}

func TestEngineValidatorOrAcrossTopicsPasses(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather", "news")
	addPeer(t, e, peer.ID("downstream"), pr)

	e.AddFrwdHooks("news", []ValidatorFunc{
		BoolValidator(func(*PeerRecord, *Message) bool { return false }),
	}, WithValidatorInline())
	// "weather" has no validator and trivially passes, so the message
	// addressed to both topics still survives for this peer.

	hops := int32(1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather", "news"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}
	recvOrTimeout(t, ch)
}

func TestEngineBlacklistedSourceRejected(t *testing.T) {
	e := newRunningEngine(t)
	sub, err := e.Subscribe("weather")
	require.NoError(t, err)

	e.BlacklistPeer(peer.ID("publisher"))

	hops := int32(1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}

	select {
	case <-sub.Messages():
		t.Fatal("message from a blacklisted source must not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineSubscriptionAnnouncedOnSubscribeAndUnsubscribe(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t)
	addPeer(t, e, peer.ID("downstream"), pr)

	sub, err := e.Subscribe("weather")
	require.NoError(t, err)

	announce := recvOrTimeout(t, ch)
	require.Len(t, announce.Subscriptions, 1)
	require.True(t, announce.Subscriptions[0].GetSubscribe())
	require.Equal(t, "weather", announce.Subscriptions[0].GetTopicCID())

	sub.Cancel()
	withdraw := recvOrTimeout(t, ch)
	require.False(t, withdraw.Subscriptions[0].GetSubscribe())
}

func TestEngineSubscriptionDeferredUntilPeerWritable(t *testing.T) {
	e := newRunningEngine(t)
	pr := NewPeerRecord(peer.AddrInfo{}) // not yet writable
	addPeer(t, e, peer.ID("downstream"), pr)

	_, err := e.Subscribe("weather")
	require.NoError(t, err)

	ch := pr.CreateStream() // peer becomes writable after the subscribe call
	announce := recvOrTimeout(t, ch)
	require.True(t, announce.Subscriptions[0].GetSubscribe())
}

func TestEngineForwardToDisconnectedPeerIsSilent(t *testing.T) {
	e := newRunningEngine(t)
	pr, ch := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)
	pr.OnStreamEnd() // disconnect before the message arrives

	hops := int32(1)
	rpc := &pb.RPC{Msgs: []*pb.Message{{
		From: []byte("publisher"), Seqno: []byte{1}, Data: []byte("x"), Hops: &hops, TopicIDs: []string{"weather"},
	}}}
	require.NotPanics(t, func() {
		e.incoming <- &taggedRPC{rpc: rpc, from: peer.ID("neighbor")}
	})
	requireNoForward(t, ch)
}

func TestEngineStartStopStartYieldsLiveLoop(t *testing.T) {
	e := NewEngine(&fakeHost{id: peer.ID("self")})

	e.Start()
	require.True(t, e.isStarted())
	sub, err := e.Subscribe("weather")
	require.NoError(t, err)
	sub.Cancel()

	e.Stop()
	require.False(t, e.isStarted())

	e.Start()
	defer e.Stop()
	require.True(t, e.isStarted())

	// A loop bound to the context Stop already cancelled would hit its
	// <-e.ctx.Done() branch and fail every call despite isStarted() being
	// true; Subscribe succeeding proves Start built a fresh context.
	_, err = e.Subscribe("weather")
	require.NoError(t, err)

	resp := make(chan []string, 1)
	select {
	case e.getTopics <- &topicReq{resp: resp}:
		require.Equal(t, []string{"weather"}, <-resp)
	case <-time.After(time.Second):
		t.Fatal("engine loop did not respond after Start->Stop->Start")
	}
}

func TestEnginePeerDeadRemovesPeer(t *testing.T) {
	e := newRunningEngine(t)
	pr, _ := writablePeer(t, "weather")
	addPeer(t, e, peer.ID("downstream"), pr)

	resp := make(chan []peer.ID, 1)
	e.getPeers <- &listPeerReq{resp: resp}
	require.Len(t, <-resp, 1)

	e.peerDead <- peer.ID("downstream")

	require.Eventually(t, func() bool {
		resp := make(chan []peer.ID, 1)
		e.getPeers <- &listPeerReq{resp: resp}
		return len(<-resp) == 0
	}, time.Second, 10*time.Millisecond)
}
