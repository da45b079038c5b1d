package scrcpy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"phonepilot/internal/adb"
)

const (
	remoteServerPath = "/data/local/tmp/scrcpy-server"
	serverClass      = "com.genymobile.scrcpy.Server"
	defaultVersion   = "3.3.4"
	maxFPS           = 20
)

// ServerOptions configure the on-device server launch.
type ServerOptions struct {
	MaxSize int
	BitRate int
	// Port is the local TCP port the device socket is forwarded to.
	Port int
	// IDRIntervalSeconds forces periodic keyframes so late observers can
	// start decoding quickly.
	IDRIntervalSeconds int
}

// Streamer owns the scrcpy server lifecycle on one device: push, port
// forward, launch, connect, parse.
type Streamer struct {
	runner     *adb.Runner
	serial     string
	serverPath string
	version    string
	opts       ServerOptions
	stream     StreamOptions
	logger     *slog.Logger

	cmd           *exec.Cmd
	conn          net.Conn
	reader        *Reader
	forwardActive bool
}

func NewStreamer(runner *adb.Runner, serial, serverPath string, opts ServerOptions, logger *slog.Logger) (*Streamer, error) {
	path, version, err := findServer(serverPath)
	if err != nil {
		return nil, err
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1280
	}
	if opts.BitRate <= 0 {
		opts.BitRate = 4_000_000
	}
	if opts.IDRIntervalSeconds <= 0 {
		opts.IDRIntervalSeconds = 1
	}
	return &Streamer{
		runner:     runner,
		serial:     serial,
		serverPath: path,
		version:    version,
		opts:       opts,
		stream:     DefaultStreamOptions(),
		logger:     logger.With("device", serial, "port", opts.Port),
	}, nil
}

var serverVersionRe = regexp.MustCompile(`scrcpy-server-v?([\d.]+)`)

// findServer locates the scrcpy-server jar and extracts its version from the
// file name.
func findServer(configured string) (string, string, error) {
	candidates := []string{configured, os.Getenv("PHONEPILOT_SCRCPY_SERVER")}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		matches, _ := filepath.Glob(c)
		if len(matches) == 0 {
			matches = []string{c}
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				version := defaultVersion
				if sub := serverVersionRe.FindStringSubmatch(filepath.Base(m)); sub != nil {
					version = sub[1]
				}
				return m, version, nil
			}
		}
	}
	return "", "", fmt.Errorf("scrcpy-server not found, set PHONEPILOT_SCRCPY_SERVER")
}

// Start brings the on-device server up and connects to its video socket.
func (s *Streamer) Start(ctx context.Context) error {
	s.cleanup(ctx)

	if _, err := s.runner.Run(ctx, s.serial, "push", s.serverPath, remoteServerPath); err != nil {
		return fmt.Errorf("push scrcpy server: %w", err)
	}
	if _, err := s.runner.Run(ctx, s.serial, "forward",
		fmt.Sprintf("tcp:%d", s.opts.Port), "localabstract:scrcpy"); err != nil {
		return fmt.Errorf("forward scrcpy port: %w", err)
	}
	s.forwardActive = true

	if err := s.launchServer(); err != nil {
		s.Stop()
		return err
	}
	if err := s.connect(ctx); err != nil {
		s.Stop()
		return err
	}
	s.reader = NewReader(s.conn, s.stream)
	return nil
}

// Metadata reads the stream header.
func (s *Streamer) Metadata() (*Metadata, error) {
	return s.reader.ReadMetadata()
}

// ReadPacket returns the next video packet. deadline bounds the read so a
// stalled device does not block forever.
func (s *Streamer) ReadPacket(deadline time.Time) (*Packet, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return s.reader.ReadPacket()
}

// cleanup kills leftover server processes and stale forwards from earlier
// sessions.
func (s *Streamer) cleanup(ctx context.Context) {
	s.runner.Shell(ctx, s.serial, "pkill -9 app_process 2>/dev/null; exit 0")
	s.runner.Run(ctx, s.serial, "forward", "--remove", fmt.Sprintf("tcp:%d", s.opts.Port))
}

func (s *Streamer) launchServer() error {
	args := s.runnerBaseArgs()
	args = append(args,
		"shell",
		"CLASSPATH="+remoteServerPath,
		"app_process", "/", serverClass, s.version,
		fmt.Sprintf("max_size=%d", s.opts.MaxSize),
		fmt.Sprintf("video_bit_rate=%d", s.opts.BitRate),
		fmt.Sprintf("max_fps=%d", maxFPS),
		"tunnel_forward=true",
		"audio=false",
		"control=false",
		"cleanup=false",
		"video_codec="+s.stream.VideoCodec,
		"send_frame_meta=true",
		"send_device_meta=true",
		"send_codec_meta=true",
		"send_dummy_byte=true",
		fmt.Sprintf("video_codec_options=i-frame-interval=%d", s.opts.IDRIntervalSeconds),
	)

	// The server stays alive for the whole relay session; Stop terminates
	// it.
	cmd := exec.Command("adb", args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch scrcpy server: %w", err)
	}
	s.cmd = cmd
	return nil
}

func (s *Streamer) runnerBaseArgs() []string {
	var args []string
	if s.runner.ServerSocket != "" {
		if host, port, err := net.SplitHostPort(s.runner.ServerSocket); err == nil {
			args = append(args, "-H", host, "-P", port)
		}
	}
	return append(args, "-s", s.serial)
}

// connect dials the forwarded socket, retrying while the server boots.
func (s *Streamer) connect(ctx context.Context) error {
	host := "127.0.0.1"
	if s.runner.ServerSocket != "" {
		if h, _, err := net.SplitHostPort(s.runner.ServerSocket); err == nil {
			host = h
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.opts.Port))

	var lastErr error
	for i := 0; i < 10; i++ {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			s.conn = conn
			return nil
		}
		lastErr = err
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("connect scrcpy socket %s: %w", addr, lastErr)
}

// Stop tears the session down: socket, server process, port forward.
func (s *Streamer) Stop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.cmd = nil
	}
	if s.forwardActive {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.runner.Run(ctx, s.serial, "forward", "--remove", fmt.Sprintf("tcp:%d", s.opts.Port))
		cancel()
		s.forwardActive = false
	}
}
