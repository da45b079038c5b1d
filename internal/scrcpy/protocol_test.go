package scrcpy

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildHeader assembles the wire bytes the server sends before any frames.
func buildHeader(deviceName string, codec, width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0) // dummy byte

	name := make([]byte, 64)
	copy(name, deviceName)
	buf.Write(name)

	binary.Write(&buf, binary.BigEndian, codec)
	binary.Write(&buf, binary.BigEndian, width)
	binary.Write(&buf, binary.BigEndian, height)
	return buf.Bytes()
}

func appendPacket(stream []byte, pts uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(stream)
	binary.Write(&buf, binary.BigEndian, pts)
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func TestReadMetadata(t *testing.T) {
	stream := buildHeader("Pixel 7", CodecH264, 1080, 2400)
	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())

	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, "Pixel 7", meta.DeviceName)
	assert.Equal(t, CodecH264, meta.Codec)
	assert.Equal(t, uint32(1080), meta.Width)
	assert.Equal(t, uint32(2400), meta.Height)
}

func TestReadMetadataIdempotent(t *testing.T) {
	stream := buildHeader("dev", CodecH265, 720, 1280)
	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())

	first, err := r.ReadMetadata()
	require.NoError(t, err)
	second, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestReadMetadataLegacyPackedSize(t *testing.T) {
	// Old servers send width<<16|height where the codec id would be.
	var buf bytes.Buffer
	buf.WriteByte(0)
	name := make([]byte, 64)
	copy(name, "legacy")
	buf.Write(name)
	binary.Write(&buf, binary.BigEndian, uint32(1080)<<16|uint32(1920))

	r := NewReader(&buf, DefaultStreamOptions())
	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, uint32(1080), meta.Width)
	assert.Equal(t, uint32(1920), meta.Height)
	// Falls back to the requested codec.
	assert.Equal(t, CodecH264, meta.Codec)
}

func TestReadMetadataNoDummyByte(t *testing.T) {
	stream := buildHeader("dev", CodecAV1, 720, 1280)[1:]
	opts := DefaultStreamOptions()
	opts.SendDummyByte = false

	r := NewReader(bytes.NewReader(stream), opts)
	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, CodecAV1, meta.Codec)
}

func TestReadMetadataDeviceMetaOnly(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0)
	name := make([]byte, 64)
	copy(name, "old-device")
	buf.Write(name)
	binary.Write(&buf, binary.BigEndian, uint16(720))
	binary.Write(&buf, binary.BigEndian, uint16(1280))

	opts := DefaultStreamOptions()
	opts.SendCodecMeta = false

	r := NewReader(&buf, opts)
	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, "old-device", meta.DeviceName)
	assert.Equal(t, uint32(720), meta.Width)
	assert.Equal(t, uint32(1280), meta.Height)
}

func TestReadMetadataTruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0, 1, 2}), DefaultStreamOptions())
	_, err := r.ReadMetadata()
	assert.Error(t, err)
}

func TestReadPacketConfiguration(t *testing.T) {
	stream := buildHeader("dev", CodecH264, 720, 1280)
	sps := []byte{0x00, 0x00, 0x00, 0x01, 0x67}
	stream = appendPacket(stream, PTSConfig, sps)

	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())
	pkt, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketConfiguration, pkt.Type)
	assert.Equal(t, sps, pkt.Data)
	assert.False(t, pkt.Keyframe)
}

func TestReadPacketKeyframe(t *testing.T) {
	stream := buildHeader("dev", CodecH264, 720, 1280)
	stream = appendPacket(stream, PTSKeyframe|12345, []byte{0xAA, 0xBB})

	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())
	pkt, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketData, pkt.Type)
	assert.True(t, pkt.Keyframe)
	assert.Equal(t, uint64(12345), pkt.PTS, "keyframe flag must be cleared from the pts")
}

func TestReadPacketPlainData(t *testing.T) {
	stream := buildHeader("dev", CodecH264, 720, 1280)
	stream = appendPacket(stream, 67890, []byte{0x01})

	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())
	pkt, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketData, pkt.Type)
	assert.False(t, pkt.Keyframe)
	assert.Equal(t, uint64(67890), pkt.PTS)
}

func TestReadPacketSequence(t *testing.T) {
	stream := buildHeader("dev", CodecH264, 720, 1280)
	stream = appendPacket(stream, PTSConfig, []byte{0x67})
	stream = appendPacket(stream, PTSKeyframe|1, []byte{0x65})
	stream = appendPacket(stream, 2, []byte{0x41})

	r := NewReader(bytes.NewReader(stream), DefaultStreamOptions())

	// ReadPacket consumes the header implicitly.
	pkt, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketConfiguration, pkt.Type)

	pkt, err = r.ReadPacket()
	require.NoError(t, err)
	assert.True(t, pkt.Keyframe)

	pkt, err = r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketData, pkt.Type)
	assert.False(t, pkt.Keyframe)

	_, err = r.ReadPacket()
	assert.Error(t, err, "stream exhausted")
}

func TestReadPacketWithoutFrameMeta(t *testing.T) {
	opts := DefaultStreamOptions()
	opts.SendFrameMeta = false

	r := NewReader(bytes.NewReader(nil), opts)
	_, err := r.ReadPacket()
	assert.Error(t, err)
}
