// Package scrcpy runs the scrcpy server on a device and parses its video
// stream. The wire format follows the scrcpy protocol: an optional dummy
// byte, device and codec metadata, then frame packets framed by a PTS header.
package scrcpy

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Codec IDs as sent on the wire.
const (
	CodecH264 uint32 = 0x68323634
	CodecH265 uint32 = 0x68323635
	CodecAV1  uint32 = 0x00617631
)

var codecNameToID = map[string]uint32{
	"h264": CodecH264,
	"h265": CodecH265,
	"av1":  CodecAV1,
}

// PTS flag bits.
const (
	PTSConfig   uint64 = 1 << 63
	PTSKeyframe uint64 = 1 << 62
)

// Packet types.
const (
	PacketConfiguration = "configuration"
	PacketData          = "data"
)

// Metadata is the stream header the server sends before any frames.
type Metadata struct {
	DeviceName string `json:"deviceName,omitempty"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	Codec      uint32 `json:"codec"`
}

// Packet is one framed unit of the video stream: either codec
// configuration (SPS/PPS) or frame data.
type Packet struct {
	Type     string
	Data     []byte
	Keyframe bool
	PTS      uint64
}

// StreamOptions mirror the server flags that shape the wire format.
type StreamOptions struct {
	SendDeviceMeta bool
	SendCodecMeta  bool
	SendFrameMeta  bool
	SendDummyByte  bool
	VideoCodec     string
}

// DefaultStreamOptions matches the server defaults.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		SendDeviceMeta: true,
		SendCodecMeta:  true,
		SendFrameMeta:  true,
		SendDummyByte:  true,
		VideoCodec:     "h264",
	}
}

// Reader parses the scrcpy video stream from a raw connection.
type Reader struct {
	r    io.Reader
	opts StreamOptions
	meta *Metadata
}

func NewReader(r io.Reader, opts StreamOptions) *Reader {
	return &Reader{r: r, opts: opts}
}

// ReadMetadata consumes the stream header. Idempotent: subsequent calls
// return the cached value.
func (r *Reader) ReadMetadata() (*Metadata, error) {
	if r.meta != nil {
		return r.meta, nil
	}

	if r.opts.SendDummyByte {
		if _, err := io.ReadFull(r.r, make([]byte, 1)); err != nil {
			return nil, fmt.Errorf("read dummy byte: %w", err)
		}
	}

	meta := &Metadata{}
	if id, ok := codecNameToID[r.opts.VideoCodec]; ok {
		meta.Codec = id
	} else {
		meta.Codec = CodecH264
	}

	if r.opts.SendDeviceMeta {
		name := make([]byte, 64)
		if _, err := io.ReadFull(r.r, name); err != nil {
			return nil, fmt.Errorf("read device name: %w", err)
		}
		if i := strings.IndexByte(string(name), 0); i >= 0 {
			name = name[:i]
		}
		meta.DeviceName = string(name)
	}

	switch {
	case r.opts.SendCodecMeta:
		value, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read codec id: %w", err)
		}
		if value == CodecH264 || value == CodecH265 || value == CodecAV1 {
			meta.Codec = value
			if meta.Width, err = r.readU32(); err != nil {
				return nil, fmt.Errorf("read width: %w", err)
			}
			if meta.Height, err = r.readU32(); err != nil {
				return nil, fmt.Errorf("read height: %w", err)
			}
		} else {
			// Old servers pack width and height into one u32.
			meta.Width = (value >> 16) & 0xFFFF
			meta.Height = value & 0xFFFF
		}
	case r.opts.SendDeviceMeta:
		w, err := r.readU16()
		if err != nil {
			return nil, fmt.Errorf("read width: %w", err)
		}
		h, err := r.readU16()
		if err != nil {
			return nil, fmt.Errorf("read height: %w", err)
		}
		meta.Width, meta.Height = uint32(w), uint32(h)
	}

	r.meta = meta
	return meta, nil
}

// ReadPacket returns the next framed packet. Requires SendFrameMeta; without
// frame headers the stream has no packet boundaries.
func (r *Reader) ReadPacket() (*Packet, error) {
	if !r.opts.SendFrameMeta {
		return nil, fmt.Errorf("stream has no frame meta, packets cannot be framed")
	}
	if r.meta == nil {
		if _, err := r.ReadMetadata(); err != nil {
			return nil, err
		}
	}

	pts, err := r.readU64()
	if err != nil {
		return nil, fmt.Errorf("read pts: %w", err)
	}
	length, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("read packet length: %w", err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("read packet payload: %w", err)
	}

	if pts == PTSConfig {
		return &Packet{Type: PacketConfiguration, Data: payload}, nil
	}
	if pts&PTSKeyframe != 0 {
		return &Packet{Type: PacketData, Data: payload, Keyframe: true, PTS: pts &^ PTSKeyframe}, nil
	}
	return &Packet{Type: PacketData, Data: payload, PTS: pts}, nil
}

func (r *Reader) readU16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (r *Reader) readU32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (r *Reader) readU64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
