package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestCanonicalEvent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"getRtpCapabilities", EventGetCapabilities},
		{"createTransport", EventCreateTransport},
		{"connectTransport", EventConnectTransport},
		{"consumerCreated", EventConsumerReady},
		{EventConsume, EventConsume},
		{"something-else", "something-else"},
	}
	for _, tt := range tests {
		if got := canonicalEvent(tt.in); got != tt.want {
			t.Errorf("canonicalEvent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoProducer, "No producer yet"},
		{fmt.Errorf("wrapped: %w", ErrInvalidTransport), "Invalid transport"},
		{ErrTransportNotConnected, "Transport not connected"},
		{ErrCannotConsume, "Cannot consume"},
		{fmt.Errorf("%w: boom", ErrEngineCall), "fallback"},
		{errors.New("other"), "fallback"},
	}
	for _, tt := range tests {
		if got := errorMessage(tt.err, "fallback"); got != tt.want {
			t.Errorf("errorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMessage_ack_encoding(t *testing.T) {
	b, err := json.Marshal(Message{Ack: 7})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"ack":7}` {
		t.Errorf("bare ack encoded as %s", b)
	}

	b, _ = json.Marshal(Message{Event: EventMediaStopped})
	if string(b) != `{"event":"media-stopped"}` {
		t.Errorf("event encoded as %s", b)
	}
}
