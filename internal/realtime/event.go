package realtime

import (
	"encoding/json"
	"time"

	"truckcheck-backend/internal/model"
)

// EventType names a check-run change broadcast to a station room.
type EventType string

const (
	EventCheckStarted      EventType = "check-started"
	EventContributorJoined EventType = "contributor-joined"
	EventResultCreated     EventType = "result-created"
	EventResultUpdated     EventType = "result-updated"
	EventResultDeleted     EventType = "result-deleted"
	EventCheckCompleted    EventType = "check-completed"
)

// Socket frame names.
const (
	FrameJoinStation      = "join-station"
	FrameJoinedStation    = "joined-station"
	FrameJoinError        = "join-error"
	FrameTruckCheckUpdate = "truck-check-update"
)

// Event is the payload of a truck-check-update frame. It always carries the
// full current run or result so a client that missed earlier events can
// resynchronise from the next one.
type Event struct {
	Type      EventType          `json:"type"`
	RunID     string             `json:"runId"`
	CheckRun  *model.CheckRun    `json:"checkRun,omitempty"`
	Result    *model.CheckResult `json:"result,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinStationRequest is the data of a join-station frame.
type JoinStationRequest struct {
	StationID string `json:"stationId"`
	BrigadeID string `json:"brigadeId"`
}

// JoinedStation is the data of a joined-station frame.
type JoinedStation struct {
	StationID string `json:"stationId"`
}

// JoinError is the data of a join-error frame.
type JoinError struct {
	Reason string `json:"reason"`
}

// encodeFrame marshals data and wraps it in a Frame.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// RoomName is the logical room identifier for a station.
func RoomName(stationID string) string {
	return "station-" + stationID
}
