package multicast

import (
	"github.com/libp2p/go-libp2p-core/network"
	ma "github.com/multiformats/go-multiaddr"
)

// multicastNotifee adapts the host's network.Notifiee callbacks into the
// engine's newPeers/peerDead control channels, mirrored from the teacher's
// `(*PubSubNotif)(ps)` pattern of casting the PubSub itself to a Notifiee.
// Connected is also the dial hook of spec.md section 4.7: as soon as the
// base-class dial path completes (the substrate reports a new connection),
// the engine pushes its local subscription set to that peer.
type multicastNotifee Engine

func (n *multicastNotifee) engine() *Engine { return (*Engine)(n) }

func (n *multicastNotifee) Listen(network.Network, ma.Multiaddr)      {}
func (n *multicastNotifee) ListenClose(network.Network, ma.Multiaddr) {}

func (n *multicastNotifee) Connected(net network.Network, c network.Conn) {
	e := n.engine()
	select {
	case e.newPeers <- c.RemotePeer():
	case <-e.ctx.Done():
	}
}

func (n *multicastNotifee) Disconnected(net network.Network, c network.Conn) {
	e := n.engine()
	// Only declare the peer dead once every connection to it is gone;
	// the substrate may hold several connections to the same peer.
	if net.Connectedness(c.RemotePeer()) == network.Connected {
		return
	}
	select {
	case e.peerDead <- c.RemotePeer():
	case <-e.ctx.Done():
	}
}
