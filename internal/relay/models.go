package relay

import "camera-relay/internal/media"

// TransportID is the engine-assigned identifier of a viewer transport.
type TransportID string

// ViewerID identifies one connected viewer.
type ViewerID string

// State is the producer lifecycle state.
type State int

const (
	// StateAwaitingSource means no producer exists and the next inbound
	// stream will create one.
	StateAwaitingSource State = iota
	// StateActive means a producer is open and monitored.
	StateActive
	// StateClosed is transient: the producer is being torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingSource:
		return "awaiting_source"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ProducerSnapshot is an immutable view of the lifecycle state. Producer is
// non-nil exactly when State is StateActive.
type ProducerSnapshot struct {
	State      State
	Producer   media.Producer
	Generation uint64
}

// ExpectingProducer reports whether the next inbound stream may create a producer.
func (s ProducerSnapshot) ExpectingProducer() bool {
	return s.State == StateAwaitingSource
}

// TransportEntry is one registered viewer transport.
type TransportEntry struct {
	ID        TransportID
	Owner     ViewerID
	Transport media.WebRTCTransport
	Connected bool
}

// Status is the operational summary served on /status.
type Status struct {
	ProducerState     string `json:"producer_state"`
	ProducerID        string `json:"producer_id,omitempty"`
	ExpectingProducer bool   `json:"expecting_producer"`
	Viewers           int    `json:"viewers"`
	Transports        int    `json:"transports"`
	Ready             bool   `json:"ready"`
}
