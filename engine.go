package multicast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p-core/discovery"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/libp2p/go-libp2p-multicast/pb"
)

// ProtocolID is the protocol identifier this core registers on the
// substrate, from spec.md section 6.
const ProtocolID = protocol.ID("/multicast/0.0.1")

// Engine is the multicast engine of spec.md section 2 component 4: it
// owns the peer map, the local subscription set, the forwarding-validator
// registry, and the duplicate-suppression cache, and runs the receive/
// forward pipeline. The peer map, the local subscription set and the topic
// event handlers are mutated exclusively by the single goroutine running
// loop(), exactly as the teacher's PubSub funnels every mutation through
// its processLoop select statement (spec.md section 5: single logical lock
// / actor boundary). The cache and the validator registry carry their own
// locks and are also written from API callers (Publish, AddFrwdHooks,
// RemoveFrwdHooks).
type Engine struct {
	host           host.Host
	protocolID     protocol.ID
	maxMessageSize int

	ctx    context.Context
	cancel context.CancelFunc

	started int32

	// control channels, mirrored from the teacher's processLoop channel
	// set (pubsub.go): every one of engine-owned peers/mySubs/topics is
	// mutated only from cases of loop()'s select.
	incoming          chan *taggedRPC
	publishCh         chan *publishReq
	addSub            chan *addSubReq
	cancelSub         chan *Subscription
	addTopicHandler   chan *addTopicHandlerReq
	getTopics         chan *topicReq
	getPeers          chan *listPeerReq
	newPeers          chan peer.ID
	newPeerStream     chan network.Stream
	newOutboundStream chan *outboundStreamEvent
	streamEnded       chan peer.ID
	peerDead          chan peer.ID
	blacklistPeerCh   chan peer.ID
	eval              chan func()

	peers  map[peer.ID]*PeerRecord
	mySubs map[string]map[*Subscription]struct{}

	topicHandlers map[string]map[*TopicEventHandler]struct{}

	cache      *seenCache
	validators *validatorRegistry
	blacklist  Blacklist
	tracer     EventTracer
	discovery  discovery.Discovery
}

type publishReq struct {
	msg *Message
}

type addSubReq struct {
	topic string
	resp  chan *Subscription
}

type addTopicHandlerReq struct {
	topic string
	resp  chan *TopicEventHandler
}

type topicReq struct {
	resp chan []string
}

type listPeerReq struct {
	topic string
	resp  chan []peer.ID
}

type outboundStreamEvent struct {
	pid    peer.ID
	stream network.Stream
}

// NewEngine constructs an Engine bound to h. It does not start accepting
// connections until Start is called (spec.md section 4.8).
func NewEngine(h host.Host, opts ...engineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		host:              h,
		protocolID:        ProtocolID,
		maxMessageSize:    DefaultMaxMessageSize,
		ctx:               ctx,
		cancel:            cancel,
		incoming:          make(chan *taggedRPC, 32),
		publishCh:         make(chan *publishReq),
		addSub:            make(chan *addSubReq),
		cancelSub:         make(chan *Subscription),
		addTopicHandler:   make(chan *addTopicHandlerReq),
		getTopics:         make(chan *topicReq),
		getPeers:          make(chan *listPeerReq),
		newPeers:          make(chan peer.ID),
		newPeerStream:     make(chan network.Stream),
		newOutboundStream: make(chan *outboundStreamEvent),
		streamEnded:       make(chan peer.ID),
		peerDead:          make(chan peer.ID),
		blacklistPeerCh:   make(chan peer.ID),
		eval:              make(chan func()),
		peers:             make(map[peer.ID]*PeerRecord),
		mySubs:            make(map[string]map[*Subscription]struct{}),
		topicHandlers:     make(map[string]map[*TopicEventHandler]struct{}),
		cache:             newSeenCache(DefaultCacheDuration),
		validators:        newValidatorRegistry(),
		blacklist:         NewMapBlacklist(),
		tracer:            nullTracer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) isStarted() bool { return atomic.LoadInt32(&e.started) == 1 }

// Start installs the protocol handler for incoming streams and launches
// the event loop (spec.md section 4.8). It builds a fresh cancellation
// context each time so that a Start following a prior Stop gets a live
// loop rather than one bound to the context Stop already cancelled.
func (e *Engine) Start() {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.host.SetStreamHandler(e.protocolID, e.handleIncomingStream)
	e.host.Network().Notify((*multicastNotifee)(e))
	go e.loop()
}

// Stop tears down all peer streams and resets the local subscription set
// to empty (spec.md section 4.8). The validator registry and cache are
// left intact so a subsequent Start can resume using them.
func (e *Engine) Stop() {
	if !atomic.CompareAndSwapInt32(&e.started, 1, 0) {
		return
	}
	e.host.RemoveStreamHandler(e.protocolID)
	e.host.Network().StopNotify((*multicastNotifee)(e))

	done := make(chan struct{})
	select {
	case e.eval <- func() {
		for pid, pr := range e.peers {
			pr.Close(nil)
			delete(e.peers, pid)
		}
		for topic, subs := range e.mySubs {
			for sub := range subs {
				sub.close()
			}
			delete(e.mySubs, topic)
		}
		close(done)
	}:
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Warning("timed out waiting for shutdown cleanup")
		}
	case <-time.After(5 * time.Second):
		log.Warning("timed out scheduling shutdown cleanup")
	}

	e.cancel()
}

func (e *Engine) handleIncomingStream(s network.Stream) {
	if s.Protocol() != e.protocolID {
		s.Reset()
		return
	}
	select {
	case e.newPeerStream <- s:
	case <-e.ctx.Done():
		s.Reset()
	}
}

// loop is the single goroutine that owns every mutation of peers, mySubs,
// and topicHandlers, mirrored from the teacher's processLoop.
func (e *Engine) loop() {
	defer func() {
		for _, pr := range e.peers {
			pr.Close(nil)
		}
	}()

	for {
		select {
		case pid := <-e.newPeers:
			e.handleNewPeer(pid)

		case ev := <-e.newOutboundStream:
			e.handleNewOutboundStream(ev)

		case s := <-e.newPeerStream:
			e.handleNewInboundStream(s)

		case pid := <-e.streamEnded:
			e.handleStreamEnded(pid)

		case pid := <-e.peerDead:
			e.handlePeerDead(pid)

		case pid := <-e.blacklistPeerCh:
			e.blacklist.Add(pid)
			if pr, ok := e.peers[pid]; ok {
				e.handlePeerDead(pid)
				_ = pr
			}

		case t := <-e.incoming:
			e.tracer.RecvRPC(t.rpc, t.from)
			e.handleRPC(t.rpc, t.from)

		case req := <-e.publishCh:
			e.tracer.DeliverMessage(req.msg)
			e.localEmit(req.msg)
			e.forward(req.msg.GetTopicIDs(), []*pb.Message{req.msg.Message}, "")

		case req := <-e.addSub:
			e.handleAddSubscription(req)

		case sub := <-e.cancelSub:
			e.handleCancelSubscription(sub)

		case req := <-e.addTopicHandler:
			e.handleAddTopicHandler(req)

		case req := <-e.getTopics:
			out := make([]string, 0, len(e.mySubs))
			for t := range e.mySubs {
				out = append(out, t)
			}
			req.resp <- out

		case req := <-e.getPeers:
			var out []peer.ID
			for pid, pr := range e.peers {
				if req.topic != "" && !pr.HasTopic(req.topic) {
					continue
				}
				out = append(out, pid)
			}
			req.resp <- out

		case thunk := <-e.eval:
			thunk()

		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleNewPeer(pid peer.ID) {
	if e.blacklist.Contains(pid) {
		log.Warningf("ignoring connection from blacklisted peer %s", pid)
		return
	}
	pr, ok := e.peers[pid]
	if ok {
		pr.Retain()
	} else {
		pr = NewPeerRecord(peer.AddrInfo{ID: pid})
		e.peers[pid] = pr
	}
	if !pr.IsWritable() {
		e.dialPeer(pid)
	}
}

func (e *Engine) dialPeer(pid peer.ID) {
	go func() {
		s, err := e.host.NewStream(e.ctx, pid, e.protocolID)
		if err != nil {
			log.Debugf("failed to open multicast stream to %s: %s", pid, err)
			return
		}
		select {
		case e.newOutboundStream <- &outboundStreamEvent{pid: pid, stream: s}:
		case <-e.ctx.Done():
			s.Reset()
		}
	}()
}

func (e *Engine) handleNewOutboundStream(ev *outboundStreamEvent) {
	pr, ok := e.peers[ev.pid]
	if !ok {
		pr = NewPeerRecord(peer.AddrInfo{ID: ev.pid})
		e.peers[ev.pid] = pr
	}
	ch := pr.CreateStream()
	go func() {
		runOutbound(ev.stream, ch)
		pr.OnStreamEnd()
		ev.stream.Reset()
	}()

	// Dial hook (spec.md section 4.7): push the full local subscription
	// set the instant the peer becomes writable.
	topics := e.localSubscriptionList()
	if len(topics) > 0 {
		if err := pr.SendSubscriptions(topics); err != nil {
			e.tracer.DropRPC(&pb.RPC{}, ev.pid)
		} else {
			e.tracer.SendRPC(&pb.RPC{}, ev.pid)
		}
	}
}

func (e *Engine) handleNewInboundStream(s network.Stream) {
	pid := s.Conn().RemotePeer()
	if e.blacklist.Contains(pid) {
		log.Warningf("closing inbound stream from blacklisted peer %s", pid)
		s.Reset()
		return
	}
	if _, ok := e.peers[pid]; !ok {
		e.peers[pid] = NewPeerRecord(peer.AddrInfo{ID: pid})
	}
	go func() {
		if err := runInbound(s, e.incoming, e.maxMessageSize); err != nil {
			log.Debugf("inbound stream from %s ended: %s", pid, err)
		}
		s.Reset()
		select {
		case e.streamEnded <- pid:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) handleStreamEnded(pid peer.ID) {
	pr, ok := e.peers[pid]
	if !ok {
		return
	}
	if pr.Release() <= 0 {
		e.removePeer(pid, pr)
	}
}

func (e *Engine) handlePeerDead(pid peer.ID) {
	pr, ok := e.peers[pid]
	if !ok {
		return
	}
	e.removePeer(pid, pr)
}

func (e *Engine) removePeer(pid peer.ID, pr *PeerRecord) {
	delete(e.peers, pid)
	for t := range pr.Topics() {
		e.notifyPeerEvent(t, PeerEvent{Type: PeerLeave, Peer: pid})
	}
	pr.Close(nil)
}

// handleRPC implements spec.md section 4.3 steps 1-3.
func (e *Engine) handleRPC(rpc *pb.RPC, from peer.ID) {
	if rpc == nil || (len(rpc.GetMsgs()) == 0 && len(rpc.GetSubscriptions()) == 0) {
		return
	}
	if e.blacklist.Contains(from) {
		log.Warningf("dropping RPC from blacklisted peer %s", from)
		return
	}

	for _, pm := range rpc.GetMsgs() {
		e.handleIncomingMessage(pm, from)
	}

	if len(rpc.GetSubscriptions()) == 0 {
		return
	}
	pr, ok := e.peers[from]
	if !ok {
		return
	}
	deltas := make([]SubscriptionDelta, 0, len(rpc.GetSubscriptions()))
	for _, s := range rpc.GetSubscriptions() {
		deltas = append(deltas, SubscriptionDelta{Subscribe: s.GetSubscribe(), Topic: s.GetTopicCID()})
	}
	pr.UpdateSubscriptions(deltas)
	for _, d := range deltas {
		if d.Subscribe {
			e.notifyPeerEvent(d.Topic, PeerEvent{Type: PeerJoin, Peer: from})
		} else {
			e.notifyPeerEvent(d.Topic, PeerEvent{Type: PeerLeave, Peer: from})
		}
	}
}

// handleIncomingMessage implements spec.md section 4.3's per-message loop.
func (e *Engine) handleIncomingMessage(pm *pb.Message, from peer.ID) {
	msg := &Message{Message: pm, ReceivedFrom: from}

	if e.blacklist.Contains(msg.GetFrom()) {
		e.tracer.RejectMessage(msg, rejectBlacklistedSource)
		return
	}

	id := msg.ID()
	if !e.cache.markSeen(id) {
		e.tracer.DuplicateMessage(msg)
		return
	}

	e.tracer.DeliverMessage(msg)
	e.localEmit(msg)

	hops := pm.GetHops()
	if hops == 0 {
		return
	}
	if hops > 0 {
		decremented := hops - 1
		pm.Hops = &decremented
	}
	// hops < 0: left untouched, forwarded as unbounded (spec.md section 9).

	e.forward(pm.GetTopicIDs(), []*pb.Message{pm}, from)
}

// localEmit delivers msg once per locally-subscribed topic it addresses
// (spec.md section 4.3 step 3).
func (e *Engine) localEmit(msg *Message) {
	for _, t := range msg.GetTopicIDs() {
		subs, ok := e.mySubs[t]
		if !ok {
			continue
		}
		for sub := range subs {
			if !sub.deliver(msg) {
				log.Infof("subscriber too slow for topic %s; dropping message", t)
			}
		}
	}
}

// forward implements spec.md section 4.4. excludeFrom is the peer the
// message arrived from (empty for a locally published message); it is
// skipped as a forwarding candidate since it already has the message,
// following the flooding convention in other_examples' floodsub.go.
func (e *Engine) forward(topics []string, msgs []*pb.Message, excludeFrom peer.ID) {
	if len(topics) == 0 || len(msgs) == 0 {
		return
	}
	for pid, pr := range e.peers {
		if pid == excludeFrom {
			continue
		}
		if !pr.IsWritable() {
			continue
		}
		if !pr.IntersectsTopics(topics) {
			continue
		}
		go e.forwardToPeer(pr, msgs)
	}
}

func (e *Engine) forwardToPeer(pr *PeerRecord, msgs []*pb.Message) {
	if !pr.IsWritable() {
		return
	}
	qTopics := pr.Topics()

	surviving := make([]*pb.Message, 0, len(msgs))
	for _, m := range msgs {
		if e.messagePassesFor(pr, qTopics, m) {
			surviving = append(surviving, m)
		}
	}
	if len(surviving) == 0 {
		return
	}
	if !pr.IsWritable() {
		// peer disconnected mid-evaluation: drop silently (spec.md
		// section 4.4 tie-breaks).
		return
	}
	if err := pr.SendMessages(surviving); err != nil {
		e.tracer.DropRPC(&pb.RPC{Msgs: surviving}, pr.ID())
		return
	}
	e.tracer.SendRPC(&pb.RPC{Msgs: surviving}, pr.ID())
}

// messagePassesFor implements spec.md section 4.4 step 3: a message
// survives for peer q if it passes validation on at least one topic in
// q.topics ∩ m.topicIDs, where a topic with no registered validators
// trivially passes.
func (e *Engine) messagePassesFor(pr *PeerRecord, qTopics map[string]struct{}, m *pb.Message) bool {
	wrapped := &Message{Message: m}
	for _, t := range m.GetTopicIDs() {
		if _, ok := qTopics[t]; !ok {
			continue
		}
		if e.validators.evaluate(e.ctx, t, pr, wrapped) {
			return true
		}
	}
	return false
}

func (e *Engine) notifyPeerEvent(topic string, ev PeerEvent) {
	handlers, ok := e.topicHandlers[topic]
	if !ok {
		return
	}
	for h := range handlers {
		h.deliver(ev)
	}
}

// advertiseTopic announces topic as a rendezvous namespace if a Discovery
// was installed via WithDiscovery. Fire-and-forget: a failed advertisement
// does not block or fail the subscription itself.
func (e *Engine) advertiseTopic(topic string) {
	if e.discovery == nil {
		return
	}
	go func() {
		if _, err := e.discovery.Advertise(e.ctx, topic); err != nil {
			log.Debugf("failed to advertise topic %s: %s", topic, err)
		}
	}()
}

func (e *Engine) localSubscriptionList() []string {
	out := make([]string, 0, len(e.mySubs))
	for t := range e.mySubs {
		out = append(out, t)
	}
	return out
}

// handleAddSubscription implements spec.md section 4.6's subscribe path.
func (e *Engine) handleAddSubscription(req *addSubReq) {
	subs := e.mySubs[req.topic]
	if len(subs) == 0 {
		e.mySubs[req.topic] = make(map[*Subscription]struct{})
		e.announceDelta(req.topic, true)
		e.advertiseTopic(req.topic)
	}
	sub := &Subscription{
		topic:    req.topic,
		ch:       make(chan *Message, subscriptionQueueSize),
		cancelCh: e.cancelSub,
		done:     e.ctx.Done(),
	}
	e.mySubs[req.topic][sub] = struct{}{}
	req.resp <- sub
}

// handleCancelSubscription implements spec.md section 4.6's unsubscribe
// path for a single listener handle; on the last listener for a topic it
// announces topic removal.
func (e *Engine) handleCancelSubscription(sub *Subscription) {
	subs := e.mySubs[sub.topic]
	if subs == nil {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	sub.close()
	if len(subs) == 0 {
		delete(e.mySubs, sub.topic)
		e.announceDelta(sub.topic, false)
	}
}

func (e *Engine) handleAddTopicHandler(req *addTopicHandlerReq) {
	handlers, ok := e.topicHandlers[req.topic]
	if !ok {
		handlers = make(map[*TopicEventHandler]struct{})
		e.topicHandlers[req.topic] = handlers
	}
	h := &TopicEventHandler{topic: req.topic, ch: make(chan PeerEvent, subscriptionQueueSize), done: e.ctx.Done()}
	handlers[h] = struct{}{}
	req.resp <- h
}

// announceDelta sends (or defers, per spec.md sections 4.6/4.7) a single
// subscribe/unsubscribe delta for topic to every known peer.
func (e *Engine) announceDelta(topic string, subscribe bool) {
	for _, pr := range e.peers {
		e.sendOrDeferDelta(pr, topic, subscribe)
	}
}

func (e *Engine) sendOrDeferDelta(pr *PeerRecord, topic string, subscribe bool) {
	send := func() {
		if subscribe {
			_ = pr.SendSubscriptions([]string{topic})
		} else {
			_ = pr.SendUnsubscriptions([]string{topic})
		}
	}
	if pr.IsWritable() {
		send()
		return
	}
	var cancelClose func()
	cancelConn := pr.OnceConnect(func() {
		send()
		if cancelClose != nil {
			cancelClose()
		}
	})
	cancelClose = pr.OnceClose(cancelConn)
}

// Subscribe registers local interest in topic, returning a handle that
// delivers matching messages. On the first subscription to topic it
// announces the subscription to every known peer (spec.md section 4.6).
func (e *Engine) Subscribe(topic string) (*Subscription, error) {
	if !e.isStarted() {
		return nil, ErrNotStarted
	}
	resp := make(chan *Subscription, 1)
	select {
	case e.addSub <- &addSubReq{topic: topic, resp: resp}:
	case <-e.ctx.Done():
		return nil, ErrNotStarted
	}
	return <-resp, nil
}

// EventHandler registers a listener for PeerJoin/PeerLeave events on
// topic (SPEC_FULL.md section 4 supplement).
func (e *Engine) EventHandler(topic string) (*TopicEventHandler, error) {
	if !e.isStarted() {
		return nil, ErrNotStarted
	}
	resp := make(chan *TopicEventHandler, 1)
	select {
	case e.addTopicHandler <- &addTopicHandlerReq{topic: topic, resp: resp}:
	case <-e.ctx.Done():
		return nil, ErrNotStarted
	}
	return <-resp, nil
}

// Publish implements spec.md section 4.5.
func (e *Engine) Publish(topics []string, data []byte, hops int32) error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	if len(topics) == 0 {
		return ErrTopicRequired
	}
	seqno, err := randomSeqno()
	if err != nil {
		return err
	}
	from := []byte(e.host.ID())
	h := hops
	pm := &pb.Message{
		From:     from,
		Data:     data,
		Seqno:    seqno,
		Hops:     &h,
		TopicIDs: append([]string(nil), topics...),
	}
	msg := &Message{Message: pm, ReceivedFrom: e.host.ID()}

	// Insert before dissemination so that an echo from a peer cannot
	// cause local re-delivery (spec.md section 4.5).
	e.cache.insert(msg.ID())

	select {
	case e.publishCh <- &publishReq{msg: msg}:
	case <-e.ctx.Done():
		return ErrNotStarted
	}
	return nil
}

// Topics returns the topics this node is currently subscribed to.
func (e *Engine) Topics() ([]string, error) {
	if !e.isStarted() {
		return nil, ErrNotStarted
	}
	resp := make(chan []string, 1)
	select {
	case e.getTopics <- &topicReq{resp: resp}:
	case <-e.ctx.Done():
		return nil, ErrNotStarted
	}
	return <-resp, nil
}

// ListPeers returns connected peers, optionally filtered to those that
// have announced topic.
func (e *Engine) ListPeers(topic string) ([]peer.ID, error) {
	if !e.isStarted() {
		return nil, ErrNotStarted
	}
	resp := make(chan []peer.ID, 1)
	select {
	case e.getPeers <- &listPeerReq{topic: topic, resp: resp}:
	case <-e.ctx.Done():
		return nil, ErrNotStarted
	}
	return <-resp, nil
}

// BlacklistPeer unconditionally drops all future streams and messages
// to/from pid.
func (e *Engine) BlacklistPeer(pid peer.ID) {
	if !e.isStarted() {
		e.blacklist.Add(pid)
		return
	}
	select {
	case e.blacklistPeerCh <- pid:
	case <-e.ctx.Done():
	}
}

// AddFrwdHooks registers validators for topic (spec.md section 6).
func (e *Engine) AddFrwdHooks(topic string, hooks []ValidatorFunc, opts ...ValidatorOpt) {
	e.validators.add(topic, hooks, opts...)
}

// RemoveFrwdHooks unregisters every validator for topic.
func (e *Engine) RemoveFrwdHooks(topic string) {
	e.validators.removeAll(topic)
}
