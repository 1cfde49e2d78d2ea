// Package realtime fans check-run events out to sockets grouped in station rooms.
package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"

	"truckcheck-backend/internal/metrics"
)

// Relay forwards locally published frames to other backend instances.
type Relay interface {
	Forward(ctx context.Context, stationID string, frame []byte) error
}

// Client is one connected socket's outbound queue and room membership.
type Client struct {
	send    chan []byte
	station string
}

// Send exposes the outbound queue to the connection's write pump.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Station is the room the client is in, or "" before its first join.
func (c *Client) Station() string {
	return c.station
}

// Bus owns room membership. It is constructed once at startup and injected.
type Bus struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	buffer int
	relay  Relay
	logger *log.Logger
}

// NewBus creates a bus whose clients queue up to buffer frames each.
func NewBus(buffer int, logger *log.Logger) *Bus {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		rooms:  make(map[string]map[*Client]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// SetRelay attaches a cross-instance relay. Must be called before serving.
func (b *Bus) SetRelay(r Relay) {
	b.relay = r
}

// NewClient registers a client that is not yet in any room.
func (b *Bus) NewClient() *Client {
	return &Client{send: make(chan []byte, b.buffer)}
}

// Join moves c into stationID's room, leaving any previous room.
func (b *Bus) Join(c *Client, stationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
	room, ok := b.rooms[stationID]
	if !ok {
		room = make(map[*Client]struct{})
		b.rooms[stationID] = room
	}
	room[c] = struct{}{}
	c.station = stationID
}

// Leave removes c from its room and closes its queue. c must not be used afterwards.
func (b *Bus) Leave(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
	close(c.send)
}

func (b *Bus) removeLocked(c *Client) {
	if c.station == "" {
		return
	}
	if room, ok := b.rooms[c.station]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(b.rooms, c.station)
		}
	}
	c.station = ""
}

// Publish sends event to every socket in stationID's room and hands the frame
// to the relay if one is attached. Slow clients lose the frame.
func (b *Bus) Publish(ctx context.Context, stationID string, event Event) error {
	frame, err := encodeFrame(FrameTruckCheckUpdate, event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	b.Deliver(stationID, frame)
	metrics.EventPublished(string(event.Type))

	if b.relay != nil {
		if err := b.relay.Forward(ctx, stationID, frame); err != nil {
			return fmt.Errorf("relay %s: %w", event.Type, err)
		}
	}
	return nil
}

// Deliver pushes an encoded frame to the local room only.
func (b *Bus) Deliver(stationID string, frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.rooms[stationID] {
		select {
		case c.send <- frame:
		default:
			metrics.EventDropped()
			b.logger.Printf("realtime: dropped frame for slow client in %s", RoomName(stationID))
		}
	}
}

// reply queues a frame for a single client. Only the client's own read loop calls it.
func (b *Bus) reply(c *Client, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		b.logger.Printf("realtime: encode %s: %v", event, err)
		return
	}
	select {
	case c.send <- frame:
	default:
		metrics.EventDropped()
	}
}

// RoomSize is the number of sockets currently in stationID's room.
func (b *Bus) RoomSize(stationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[stationID])
}
