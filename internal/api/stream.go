package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/events"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
	closeGrace          = time.Second
)

// errClientGone marks a failed write to the stream client.
var errClientGone = errors.New("stream client gone")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

func (s *Server) streamTimings() (ping, pong time.Duration) {
	ping = time.Duration(s.wsCfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong = time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return ping, pong
}

// handleEventStream upgrades to a WebSocket and writes the events of the
// requested consumer group until the client leaves or the server closes.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event streaming is not configured")
		return
	}
	group := r.URL.Query().Get("group")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	pingInterval, pongWait := s.streamTimings()
	go s.streamReadPump(conn, cancel, pingInterval+pongWait)
	go streamPinger(ctx, conn, pingInterval, pongWait)

	s.logger.Info("event stream opened", "group", group, "remote", r.RemoteAddr)

	err = s.events.Subscribe(ctx, group, func(_ context.Context, ev events.Event) error {
		//nolint:errcheck // Best-effort deadline; write error caught below
		conn.SetWriteDeadline(time.Now().Add(pongWait))
		if err := conn.WriteJSON(ev); err != nil {
			return fmt.Errorf("%w: %w", errClientGone, err)
		}
		return nil
	})

	switch {
	case errors.Is(err, errClientGone):
		s.logger.Debug("event stream client write failed", "group", group, "error", err)
	case err != nil:
		s.logger.Error("event stream backend failed", "group", group, "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "event backend unavailable")
	case s.base.Err() != nil:
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
	default:
		s.logger.Info("event stream closed", "group", group)
	}
}

// streamReadPump discards client frames and cancels the stream once the
// connection fails or the peer stops answering pings.
func (s *Server) streamReadPump(conn *websocket.Conn, cancel context.CancelFunc, idle time.Duration) {
	defer cancel()

	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event stream read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(idle))
	}
}

func streamPinger(ctx context.Context, conn *websocket.Conn, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	//nolint:errcheck // Peer may already be gone
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}
