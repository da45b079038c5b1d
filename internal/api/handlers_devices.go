package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"phonepilot/internal/relay"
	"phonepilot/internal/scrcpy"
	"phonepilot/internal/store"
)

type deviceResponse struct {
	Serial      string `json:"serial"`
	State       string `json:"state"`
	Model       string `json:"model,omitempty"`
	Selected    bool   `json:"selected"`
	ExecutionID string `json:"execution_id,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.runner.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("list devices", "err", err)
		writeError(w, http.StatusInternalServerError, "adb_error", err.Error())
		return
	}
	selected, err := s.store.GetSetting(r.Context(), store.SettingSelectedDevice)
	if err != nil {
		s.logger.Warn("load selected device", "err", err)
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp := deviceResponse{
			Serial:   d.Serial,
			State:    d.State,
			Model:    d.Model,
			Selected: d.Serial == selected,
		}
		if id, ok := s.engine.ActiveExecution(d.Serial); ok {
			resp.ExecutionID = id
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleScreenshot is the polled fallback when the video relay is not
// available.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	shot, err := s.runner.Run(r.Context(), serial, "exec-out", "screencap", "-p")
	if err != nil || len(shot) == 0 {
		writeError(w, http.StatusBadGateway, "adb_error", "screenshot failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(shot)
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var videoUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSink relays the video stream over one websocket connection. Implements
// relay.Sink. Writes are serialized; the reader goroutine only services
// control frames.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type videoMessage struct {
	Type     string `json:"type"`
	Data     []byte `json:"data,omitempty"`
	Keyframe bool   `json:"keyframe,omitempty"`
	PTS      uint64 `json:"pts,omitempty"`

	*scrcpy.Metadata
}

func (ws *wsSink) SendMetadata(meta *scrcpy.Metadata) error {
	return ws.send(videoMessage{Type: "video-metadata", Metadata: meta})
}

func (ws *wsSink) SendPacket(p *scrcpy.Packet) error {
	return ws.send(videoMessage{
		Type:     "video-" + p.Type,
		Data:     p.Data,
		Keyframe: p.Keyframe,
		PTS:      p.PTS,
	})
}

func (ws *wsSink) send(msg videoMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(websocket.TextMessage, payload)
}

func (ws *wsSink) sendError(message string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "message": message})
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	ws.conn.WriteMessage(websocket.TextMessage, payload)
}

func (ws *wsSink) ping() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleVideo serves the live screen relay over a websocket. The observer
// receives one video-metadata message, then video-configuration and
// video-data messages. When the relay watchdog fires the observer gets a
// fallback message and should poll screenshots instead.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	conn, err := videoUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade video websocket", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancelRelay := context.WithCancel(r.Context())
	defer cancelRelay()

	// Reader goroutine: keeps pong handling alive and detects disconnect.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancelRelay()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				if err := sink.ping(); err != nil {
					cancelRelay()
					return
				}
			}
		}
	}()

	opts := relay.Options{
		MaxSize: parseIntDefault(r.URL.Query().Get("max_size"), 0),
		BitRate: parseIntDefault(r.URL.Query().Get("bit_rate"), 0),
	}
	err = s.relay.Serve(ctx, serial, sink, opts)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrNoVideoData):
		s.logger.Warn("relay watchdog fired, signaling fallback", "device", serial)
		sink.send(videoMessage{Type: "fallback"})
	default:
		s.logger.Error("relay session", "device", serial, "err", err)
		sink.sendError(err.Error())
	}
}
