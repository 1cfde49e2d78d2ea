package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truckcheck-backend/internal/model"
)

var quietLogger = log.New(io.Discard, "", 0)

func decodeUpdate(t *testing.T, raw []byte) Event {
	t.Helper()
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Equal(t, FrameTruckCheckUpdate, f.Event)
	var ev Event
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	return ev
}

func TestPublish_ScopedToStation(t *testing.T) {
	bus := NewBus(4, quietLogger)
	a := bus.NewClient()
	b := bus.NewClient()
	bus.Join(a, "A")
	bus.Join(b, "B")

	run := &model.CheckRun{ID: "r1", StationID: "B", ApplianceID: "truck-1", Status: model.RunStatusInProgress}
	require.NoError(t, bus.Publish(context.Background(), "B", Event{Type: EventCheckStarted, RunID: "r1", CheckRun: run, Timestamp: time.Now()}))

	select {
	case raw := <-b.Send():
		ev := decodeUpdate(t, raw)
		assert.Equal(t, EventCheckStarted, ev.Type)
		assert.Equal(t, "r1", ev.RunID)
		require.NotNil(t, ev.CheckRun)
		assert.Equal(t, "truck-1", ev.CheckRun.ApplianceID)
	default:
		t.Fatal("station B client received nothing")
	}

	assert.Len(t, a.Send(), 0, "station A must not see station B events")
}

func TestPublish_DropsForFullQueue(t *testing.T) {
	bus := NewBus(1, quietLogger)
	slow := bus.NewClient()
	bus.Join(slow, "A")

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "A", Event{Type: EventResultCreated, RunID: "r1"}))
	// the queue is full; this one is dropped without blocking
	require.NoError(t, bus.Publish(ctx, "A", Event{Type: EventResultUpdated, RunID: "r1"}))

	assert.Len(t, slow.Send(), 1)
	ev := decodeUpdate(t, <-slow.Send())
	assert.Equal(t, EventResultCreated, ev.Type)
}

func TestJoin_MovesBetweenRooms(t *testing.T) {
	bus := NewBus(4, quietLogger)
	c := bus.NewClient()
	assert.Equal(t, "", c.Station())

	bus.Join(c, "A")
	assert.Equal(t, 1, bus.RoomSize("A"))

	bus.Join(c, "B")
	assert.Equal(t, 0, bus.RoomSize("A"))
	assert.Equal(t, 1, bus.RoomSize("B"))
	assert.Equal(t, "B", c.Station())

	require.NoError(t, bus.Publish(context.Background(), "A", Event{Type: EventCheckCompleted, RunID: "r1"}))
	assert.Len(t, c.Send(), 0)

	bus.Leave(c)
	assert.Equal(t, 0, bus.RoomSize("B"))
	_, open := <-c.Send()
	assert.False(t, open)
}

type failingRelay struct{ calls int }

func (f *failingRelay) Forward(context.Context, string, []byte) error {
	f.calls++
	return assert.AnError
}

func TestPublish_LocalDeliveryIgnoresRelayFailure(t *testing.T) {
	bus := NewBus(4, quietLogger)
	relay := &failingRelay{}
	bus.SetRelay(relay)
	c := bus.NewClient()
	bus.Join(c, "A")

	err := bus.Publish(context.Background(), "A", Event{Type: EventCheckStarted, RunID: "r1"})
	assert.Error(t, err)
	assert.Equal(t, 1, relay.calls)
	assert.Len(t, c.Send(), 1)
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "station-S1", RoomName("S1"))
}
