package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepilot/internal/scrcpy"
)

func dataPacket(pts uint64) *scrcpy.Packet {
	return &scrcpy.Packet{Type: scrcpy.PacketData, PTS: pts, Data: []byte{byte(pts)}}
}

func configPacket() *scrcpy.Packet {
	return &scrcpy.Packet{Type: scrcpy.PacketConfiguration, Data: []byte{0x67}}
}

func TestGateBuffersUntilConfiguration(t *testing.T) {
	g := newGate()

	// Data before configuration is held back, not delivered.
	assert.Nil(t, g.offer(dataPacket(1)))
	assert.Nil(t, g.offer(dataPacket(2)))

	// The configuration packet releases everything, configuration first,
	// then the buffered data in arrival order.
	out := g.offer(configPacket())
	require.Len(t, out, 3)
	assert.Equal(t, scrcpy.PacketConfiguration, out[0].Type)
	assert.Equal(t, uint64(1), out[1].PTS)
	assert.Equal(t, uint64(2), out[2].PTS)
}

func TestGatePassThroughAfterConfiguration(t *testing.T) {
	g := newGate()
	g.offer(configPacket())

	out := g.offer(dataPacket(7))
	require.Len(t, out, 1)
	assert.Equal(t, uint64(7), out[0].PTS)

	// A later configuration packet (codec reset) also passes through.
	out = g.offer(configPacket())
	require.Len(t, out, 1)
	assert.Equal(t, scrcpy.PacketConfiguration, out[0].Type)
}

func TestGateConfigurationFirst(t *testing.T) {
	g := newGate()

	out := g.offer(configPacket())
	require.Len(t, out, 1)
	assert.Equal(t, scrcpy.PacketConfiguration, out[0].Type)
}

func TestGateNoDropsNoReorders(t *testing.T) {
	g := newGate()

	var delivered []*scrcpy.Packet
	for pts := uint64(1); pts <= 5; pts++ {
		delivered = append(delivered, g.offer(dataPacket(pts))...)
	}
	delivered = append(delivered, g.offer(configPacket())...)
	for pts := uint64(6); pts <= 8; pts++ {
		delivered = append(delivered, g.offer(dataPacket(pts))...)
	}

	require.Len(t, delivered, 9)
	assert.Equal(t, scrcpy.PacketConfiguration, delivered[0].Type)
	for i, want := range []uint64{1, 2, 3, 4, 5, 6, 7, 8} {
		assert.Equal(t, want, delivered[i+1].PTS)
	}
}
