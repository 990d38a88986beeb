package schema

import "time"

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event flowing through the decision loop.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventMarketSample
	EventOrderUpdate
	EventBalance
	EventParams
	EventTimer
	EventConnectivity
	EventActiveState
	EventResync
)

func (t EventType) String() string {
	switch t {
	case EventMarketSample:
		return "market_sample"
	case EventOrderUpdate:
		return "order_update"
	case EventBalance:
		return "balance"
	case EventParams:
		return "params"
	case EventTimer:
		return "timer"
	case EventConnectivity:
		return "connectivity"
	case EventActiveState:
		return "active_state"
	case EventResync:
		return "resync"
	default:
		return "unknown"
	}
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}

// EventTime returns the event timestamp, falling back to the receive timestamp.
func (h EventHeader) EventTime() time.Time {
	ts := h.TsEvent
	if ts == 0 {
		ts = h.TsRecv
	}
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts).UTC()
}
