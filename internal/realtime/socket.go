package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"truckcheck-backend/internal/metrics"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/store"
	"truckcheck-backend/internal/tenant"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// StationChecker confirms a station exists before a socket may join its room.
type StationChecker interface {
	GetStation(ctx context.Context, stationID string) (*model.Station, error)
}

// SocketHandler upgrades GET /api/ws and runs the join protocol.
type SocketHandler struct {
	bus          *Bus
	resolver     *tenant.Resolver
	stations     StationChecker
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *log.Logger
}

// NewSocketHandler creates the websocket endpoint. stations may be nil, in
// which case any resolvable station may be joined.
func NewSocketHandler(bus *Bus, resolver *tenant.Resolver, stations StationChecker, writeTimeout time.Duration, logger *log.Logger) *SocketHandler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SocketHandler{
		bus:      bus,
		resolver: resolver,
		stations: stations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// kiosks and the web client are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.resolver.FromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"invalid kiosk token"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("realtime: upgrade: %v", err)
		return
	}
	metrics.SocketConnected(1)

	client := h.bus.NewClient()
	done := make(chan struct{})
	go h.writePump(ws, client, done)
	h.readPump(r.Context(), ws, client, conn)

	h.bus.Leave(client)
	<-done
	metrics.SocketConnected(-1)
}

func (h *SocketHandler) readPump(ctx context.Context, ws *websocket.Conn, client *Client, conn tenant.Resolution) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("realtime: read: %v", err)
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			h.bus.reply(client, FrameJoinError, JoinError{Reason: "malformed frame"})
			continue
		}
		switch frame.Event {
		case FrameJoinStation:
			h.join(ctx, client, conn, frame.Data)
		default:
			// other client frames are not part of the protocol
		}
	}
}

func (h *SocketHandler) join(ctx context.Context, client *Client, conn tenant.Resolution, data json.RawMessage) {
	var req JoinStationRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			h.bus.reply(client, FrameJoinError, JoinError{Reason: "malformed join-station payload"})
			return
		}
	}

	res := h.resolver.ForJoin(conn, req.StationID)
	if res.StationID == "" {
		h.bus.reply(client, FrameJoinError, JoinError{Reason: "station could not be resolved"})
		return
	}
	if h.stations != nil {
		if _, err := h.stations.GetStation(ctx, res.StationID); err != nil {
			reason := "station lookup failed"
			if errors.Is(err, store.ErrNotFound) {
				reason = "unknown station"
			}
			h.bus.reply(client, FrameJoinError, JoinError{Reason: reason})
			return
		}
	}

	h.bus.Join(client, res.StationID)
	h.bus.reply(client, FrameJoinedStation, JoinedStation{StationID: res.StationID})
}

func (h *SocketHandler) writePump(ws *websocket.Conn, client *Client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
		close(done)
	}()

	for {
		select {
		case frame, ok := <-client.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Printf("realtime: write: %v", err)
				_ = ws.Close()
				drain(client)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				drain(client)
				return
			}
		}
	}
}

// drain discards frames until Leave closes the queue.
func drain(client *Client) {
	for range client.Send() {
	}
}
