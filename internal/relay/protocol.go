package relay

import (
	"encoding/json"
	"errors"

	"camera-relay/internal/media"
)

// Signaling events. Requests carry an optional id; the response to a request
// is a message whose ack field echoes it.
const (
	EventGetCapabilities  = "get-capabilities"
	EventRtpCapabilities  = "rtp-capabilities"
	EventCreateTransport  = "create-transport"
	EventConnectTransport = "connect-transport"
	EventConsume          = "consume"
	EventConsumerReady    = "consumer-ready-ack"
	EventMediaStopped     = "media-stopped"
)

// Older clients use camelCase event names.
var eventAliases = map[string]string{
	"getRtpCapabilities": EventGetCapabilities,
	"createTransport":    EventCreateTransport,
	"connectTransport":   EventConnectTransport,
	"consumerCreated":    EventConsumerReady,
}

func canonicalEvent(name string) string {
	if e, ok := eventAliases[name]; ok {
		return e
	}
	return name
}

// Request is a viewer-to-relay message.
type Request struct {
	ID    uint64          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a relay-to-viewer message: an ack for a request or an event.
type Message struct {
	Ack   uint64 `json:"ack,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ErrorPayload is the data of a failed ack.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ConnectTransportRequest carries the viewer's negotiated parameters.
type ConnectTransportRequest struct {
	TransportID    TransportID         `json:"transportId"`
	DtlsParameters media.ConnectParams `json:"dtlsParameters"`
}

// ConsumeRequest asks for a consumer of the current producer.
type ConsumeRequest struct {
	TransportID     TransportID           `json:"transportId"`
	RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
}

// ConsumeResponse describes the paused consumer handed to the viewer.
type ConsumeResponse struct {
	ID            string              `json:"id"`
	Kind          media.Kind          `json:"kind"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
	Type          string              `json:"type"`
	ProducerID    string              `json:"producerId"`
}

// ErrBadRequest is returned for payloads that do not decode.
var ErrBadRequest = errors.New("malformed request")

// errorMessage maps an error to the string shown to the viewer; fallback
// covers engine failures whose detail stays in the log.
func errorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrNoProducer):
		return "No producer yet"
	case errors.Is(err, ErrInvalidTransport):
		return "Invalid transport"
	case errors.Is(err, ErrTransportNotConnected):
		return "Transport not connected"
	case errors.Is(err, ErrCannotConsume):
		return "Cannot consume"
	case errors.Is(err, ErrNotReady):
		return "Router not ready"
	case errors.Is(err, ErrBadRequest):
		return "Invalid request"
	}
	return fallback
}
