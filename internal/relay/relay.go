// Package relay mirrors device screens to observers. Each observer gets its
// own scrcpy session keyed by device serial, independent of any execution on
// that device.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"phonepilot/internal/adb"
	"phonepilot/internal/scrcpy"
)

// ErrNoVideoData signals the watchdog fired: the stream connected but no
// video arrived in time. Callers degrade to polled screenshots.
var ErrNoVideoData = errors.New("no video data before timeout")

// Sink receives the relayed stream. Implemented by the transport handler.
type Sink interface {
	SendMetadata(meta *scrcpy.Metadata) error
	SendPacket(p *scrcpy.Packet) error
}

// Options shape a relay session.
type Options struct {
	MaxSize int
	BitRate int
}

// Manager opens relay sessions and hands out forward ports.
type Manager struct {
	runner     *adb.Runner
	serverPath string
	portBase   int
	// DataTimeout is the watchdog window after connect.
	dataTimeout time.Duration
	// defaults fill session options the observer did not set.
	defaults Options
	logger   *slog.Logger

	portSeq atomic.Int64
}

func NewManager(runner *adb.Runner, serverPath string, portBase int, dataTimeout time.Duration, defaults Options, logger *slog.Logger) *Manager {
	if portBase <= 0 {
		portBase = 27183
	}
	if dataTimeout <= 0 {
		dataTimeout = 10 * time.Second
	}
	return &Manager{
		runner:      runner,
		serverPath:  serverPath,
		portBase:    portBase,
		dataTimeout: dataTimeout,
		defaults:    defaults,
		logger:      logger,
	}
}

// sessionOptions applies the configured defaults to per-session overrides.
func (m *Manager) sessionOptions(opts Options) Options {
	if opts.MaxSize <= 0 {
		opts.MaxSize = m.defaults.MaxSize
	}
	if opts.BitRate <= 0 {
		opts.BitRate = m.defaults.BitRate
	}
	return opts
}

// Serve relays the device screen to sink until ctx is cancelled or the
// stream breaks. Returns ErrNoVideoData when the watchdog fired before the
// first data packet.
func (m *Manager) Serve(ctx context.Context, deviceSerial string, sink Sink, opts Options) error {
	opts = m.sessionOptions(opts)
	port := m.portBase + int(m.portSeq.Add(1)%1000)
	streamer, err := scrcpy.NewStreamer(m.runner, deviceSerial, m.serverPath, scrcpy.ServerOptions{
		MaxSize: opts.MaxSize,
		BitRate: opts.BitRate,
		Port:    port,
	}, m.logger)
	if err != nil {
		return err
	}

	if err := streamer.Start(ctx); err != nil {
		return fmt.Errorf("start relay for %s: %w", deviceSerial, err)
	}
	defer streamer.Stop()

	meta, err := streamer.Metadata()
	if err != nil {
		return fmt.Errorf("read relay metadata: %w", err)
	}
	if err := sink.SendMetadata(meta); err != nil {
		return err
	}
	m.logger.Info("relay started", "device", deviceSerial,
		"size", fmt.Sprintf("%dx%d", meta.Width, meta.Height), "codec", meta.Codec)

	packets := make(chan *scrcpy.Packet, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			p, err := streamer.ReadPacket(time.Time{})
			if err != nil {
				readErr <- err
				return
			}
			select {
			case packets <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	g := newGate()
	watchdog := time.NewTimer(m.dataTimeout)
	defer watchdog.Stop()
	gotData := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watchdog.C:
			if !gotData {
				return ErrNoVideoData
			}
		case err := <-readErr:
			if !gotData {
				return ErrNoVideoData
			}
			return fmt.Errorf("read relay packet: %w", err)
		case p := <-packets:
			gotData = true
			for _, ready := range g.offer(p) {
				if err := sink.SendPacket(ready); err != nil {
					// Observer went away; the session dies with it.
					return nil
				}
			}
		}
	}
}
