package relay

import "phonepilot/internal/scrcpy"

// gate tracks one observer's decoder readiness. Data packets arriving
// before the first configuration packet are queued; the configuration packet
// releases them in arrival order and later packets pass straight through.
// The gate belongs to a single session and dies with it.
type gate struct {
	awaitingConfiguration bool
	buffered              []*scrcpy.Packet
}

func newGate() *gate {
	return &gate{awaitingConfiguration: true}
}

// offer returns the packets ready for the observer, in delivery order.
func (g *gate) offer(p *scrcpy.Packet) []*scrcpy.Packet {
	if !g.awaitingConfiguration {
		return []*scrcpy.Packet{p}
	}
	if p.Type == scrcpy.PacketConfiguration {
		g.awaitingConfiguration = false
		out := make([]*scrcpy.Packet, 0, len(g.buffered)+1)
		out = append(out, p)
		out = append(out, g.buffered...)
		g.buffered = nil
		return out
	}
	g.buffered = append(g.buffered, p)
	return nil
}
