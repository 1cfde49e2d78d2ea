package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// envelope is what travels between instances. Origin lets an instance skip
// its own frames, which it has already delivered locally.
type envelope struct {
	Origin    string          `json:"origin"`
	StationID string          `json:"stationId"`
	Frame     json.RawMessage `json:"frame"`
}

// NATSRelay shares station rooms between backend instances over NATS core
// pub/sub. Delivery stays at-most-once.
type NATSRelay struct {
	nc     *nats.Conn
	bus    *Bus
	prefix string
	origin string
	sub    *nats.Subscription
	logger *log.Logger
}

// NewNATSRelay subscribes to prefix.* and attaches itself to bus.
func NewNATSRelay(nc *nats.Conn, bus *Bus, prefix string, logger *log.Logger) (*NATSRelay, error) {
	if prefix == "" {
		prefix = "truckcheck.station"
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &NATSRelay{
		nc:     nc,
		bus:    bus,
		prefix: prefix,
		origin: uuid.NewString(),
		logger: logger,
	}

	sub, err := nc.Subscribe(prefix+".*", r.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.*: %w", prefix, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	r.sub = sub
	bus.SetRelay(r)
	return r, nil
}

// Subject is the NATS subject frames for stationID are published on.
func (r *NATSRelay) Subject(stationID string) string {
	return r.prefix + "." + subjectToken(stationID)
}

// Forward implements Relay.
func (r *NATSRelay) Forward(_ context.Context, stationID string, frame []byte) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, StationID: stationID, Frame: frame})
	if err != nil {
		return err
	}
	return r.nc.Publish(r.Subject(stationID), payload)
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Printf("realtime: bad relay message on %s: %v", msg.Subject, err)
		return
	}
	if env.Origin == r.origin || env.StationID == "" {
		return
	}
	r.bus.Deliver(env.StationID, env.Frame)
}

// Close drops the subscription. The connection belongs to the caller.
func (r *NATSRelay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

// subjectToken makes a station id safe as a single subject token. Collisions
// are harmless because the envelope carries the real id.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
