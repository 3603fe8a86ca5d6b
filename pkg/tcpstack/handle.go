package tcpstack

import (
	"log/slog"
	"net/netip"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/pkg/errors"

	"trippy-tcp/pkg/ipstack"
)

// HandlePacket demuxes a TCP packet to its connection. A SYN for a listening
// port starts a new connection and queues it for VAccept.
func (ts *TCPStack) HandlePacket(srcAddr, dstAddr netip.Addr, packet []byte) error {
	fields, seg, err := ParseTCPPacket(srcAddr, dstAddr, packet)
	if err != nil {
		ts.metrics.Dropped("malformed")
		return err
	}

	tuple := FourTuple{
		LocalAddress:  dstAddr,
		LocalPort:     fields.DstPort,
		RemoteAddress: srcAddr,
		RemotePort:    fields.SrcPort,
	}

	var listener *ListenSocket
	ts.mutex.Lock()
	socket := ts.sockets[tuple]
	if socket == nil && seg.Has(TCP_SYN) && !seg.Has(TCP_ACK) && !seg.Has(TCP_RST) {
		if listener = ts.listeners[tuple.LocalPort]; listener != nil {
			socket, err = ts.newSocketLocked(tuple)
			if err != nil {
				ts.mutex.Unlock()
				return err
			}
		}
	}
	ts.mutex.Unlock()

	if socket == nil {
		ts.metrics.Dropped("no_socket")
		// Never answer a RST with a RST
		if !seg.Has(TCP_RST) {
			ts.sendSegments(tuple, []Segment{resetFor(&seg)})
		}
		return errors.Wrapf(ErrNoSocket, "%s:%d -> %s:%d", srcAddr, fields.SrcPort, dstAddr, fields.DstPort)
	}

	socket.segmentReceived(&seg)

	if listener != nil && !listener.enqueue(socket) {
		slog.Debug("Accept queue full, dropping connection", "port", tuple.LocalPort, "remote", srcAddr)
		socket.VAbort()
	}
	return nil
}

// resetFor builds the RST for a segment that has no connection (RFC 793 p. 36)
func resetFor(seg *Segment) Segment {
	if seg.Has(TCP_ACK) {
		return Segment{SeqNum: seg.AckNum, Flags: TCP_RST}
	}
	return Segment{
		SeqNum: 0,
		AckNum: seg.SeqNum.Add(seqnum.Size(seg.LogicalLen())),
		Flags:  TCP_RST | TCP_ACK,
	}
}

// IPHandler plugs the stack into the IP layer as the TCP protocol handler
func (ts *TCPStack) IPHandler(packet *ipstack.IPPacket, _ *ipstack.IPStack) {
	if err := ts.HandlePacket(packet.SourceIP, packet.DestinationIP, packet.Payload); err != nil {
		slog.Debug("Dropped TCP packet", "src", packet.SourceIP, "dst", packet.DestinationIP, "error", err)
	}
}
